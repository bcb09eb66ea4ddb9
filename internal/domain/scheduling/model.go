// Package scheduling books patients into doctor slots and walks each
// appointment through its status machine. The legal transitions live here;
// clients only reflect them.
package scheduling

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Appointment statuses.
const (
	StatusScheduled = "SCHEDULED"
	StatusConfirmed = "CONFIRMED"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
	StatusNoShow    = "NO_SHOW"
)

// transitions is the full legal-transition table. Absent keys are terminal.
var transitions = map[string]map[string]bool{
	StatusScheduled: {StatusConfirmed: true, StatusCancelled: true, StatusNoShow: true},
	StatusConfirmed: {StatusCompleted: true, StatusCancelled: true, StatusNoShow: true},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to string) bool {
	return transitions[from][to]
}

// IsTerminal reports whether no further transitions exist.
func IsTerminal(status string) bool {
	return len(transitions[status]) == 0
}

var validStatuses = map[string]bool{
	StatusScheduled: true,
	StatusConfirmed: true,
	StatusCompleted: true,
	StatusCancelled: true,
	StatusNoShow:    true,
}

// DefaultDurationMinutes is assumed when a booking carries no duration.
const DefaultDurationMinutes = 30

type Appointment struct {
	ID              uuid.UUID `db:"id" json:"id"`
	PatientID       uuid.UUID `db:"patient_id" json:"patient_id"`
	PatientName     string    `db:"patient_name" json:"patient_name"`
	DoctorID        uuid.UUID `db:"doctor_id" json:"doctor_id"`
	DoctorName      string    `db:"doctor_name" json:"doctor_name"`
	ScheduledAt     time.Time `db:"scheduled_at" json:"scheduled_at"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	Reason          string    `db:"reason" json:"reason,omitempty"`
	Notes           string    `db:"notes" json:"notes,omitempty"`
	Status          string    `db:"status" json:"status"`
	CreatedBy       uuid.UUID `db:"created_by" json:"created_by"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// End is the slot's exclusive upper bound.
func (a *Appointment) End() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrPatientNotFound   = errors.New("patient not found")
	ErrDoctorNotFound    = errors.New("doctor not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrOverlap           = errors.New("doctor already booked for this slot")
)
