// Package ivf tracks fertility treatment cycles from planning through
// outcome, and aggregates the clinic's success statistics.
package ivf

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Stimulation protocols.
const (
	ProtocolLongAgonist = "LONG_AGONIST"
	ProtocolAntagonist  = "ANTAGONIST"
	ProtocolNatural     = "NATURAL"
	ProtocolMild        = "MILD"
)

var validProtocols = map[string]bool{
	ProtocolLongAgonist: true,
	ProtocolAntagonist:  true,
	ProtocolNatural:     true,
	ProtocolMild:        true,
}

// Cycle statuses. The treatment sequence is strictly forward; CANCELLED is
// reachable from any non-terminal stage.
const (
	StatusPlanned     = "PLANNED"
	StatusStimulation = "STIMULATION"
	StatusRetrieval   = "RETRIEVAL"
	StatusTransfer    = "TRANSFER"
	StatusLuteal      = "LUTEAL"
	StatusCompleted   = "COMPLETED"
	StatusCancelled   = "CANCELLED"
)

// stageSequence orders the treatment stages. Advancing moves one step right.
var stageSequence = []string{
	StatusPlanned, StatusStimulation, StatusRetrieval,
	StatusTransfer, StatusLuteal, StatusCompleted,
}

// NextStage returns the stage after from, or "" when from is the last stage
// or not part of the sequence.
func NextStage(from string) string {
	for i, s := range stageSequence[:len(stageSequence)-1] {
		if s == from {
			return stageSequence[i+1]
		}
	}
	return ""
}

// IsTerminal reports whether a cycle can no longer move.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// Cycle outcomes, recorded once treatment completes.
const (
	OutcomeOngoing     = "ONGOING"
	OutcomePregnant    = "PREGNANT"
	OutcomeNotPregnant = "NOT_PREGNANT"
	OutcomeMiscarried  = "MISCARRIED"
)

var validOutcomes = map[string]bool{
	OutcomeOngoing:     true,
	OutcomePregnant:    true,
	OutcomeNotPregnant: true,
	OutcomeMiscarried:  true,
}

type Cycle struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	PatientID          uuid.UUID `db:"patient_id" json:"patient_id"`
	PatientName        string    `db:"patient_name" json:"patient_name"`
	Protocol           string    `db:"protocol" json:"protocol"`
	Status             string    `db:"status" json:"status"`
	Outcome            string    `db:"outcome" json:"outcome"`
	StartDate          time.Time `db:"start_date" json:"start_date"`
	OocytesRetrieved   int       `db:"oocytes_retrieved" json:"oocytes_retrieved"`
	OocytesFertilized  int       `db:"oocytes_fertilized" json:"oocytes_fertilized"`
	EmbryosTransferred int       `db:"embryos_transferred" json:"embryos_transferred"`
	Notes              string    `db:"notes" json:"notes,omitempty"`
	CreatedBy          uuid.UUID `db:"created_by" json:"created_by"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Statistics is the clinic-wide success summary. PregnancyRate is a percent
// with one decimal, pregnancies over completed cycles.
type Statistics struct {
	TotalCycles     int     `json:"total_cycles"`
	CompletedCycles int     `json:"completed_cycles"`
	CancelledCycles int     `json:"cancelled_cycles"`
	Pregnancies     int     `json:"pregnancies"`
	PregnancyRate   float64 `json:"pregnancy_rate"`
}

var (
	ErrCycleNotFound   = errors.New("ivf cycle not found")
	ErrPatientNotFound = errors.New("patient not found")
	ErrInvalidProtocol = errors.New("unknown protocol")
	ErrInvalidOutcome  = errors.New("unknown outcome")
	ErrCycleTerminal   = errors.New("cycle already completed or cancelled")
	ErrOutcomePending  = errors.New("outcome can only be recorded on a completed cycle")
)
