package visit

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Visit lifecycle. A visit opens at the front desk and closes when the
// patient leaves; only OPEN visits accept clinical or billing writes.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Payment standing of the visit as a whole, derived from its invoices.
// The three insurance states form their own track: the patient may leave
// while the claim is still working its way through the insurer.
const (
	PaymentUnpaid           = "UNPAID"
	PaymentPartiallyPaid    = "PARTIALLY_PAID"
	PaymentPaid             = "PAID"
	PaymentInsurancePending = "INSURANCE_PENDING"
	PaymentInsuranceClaimed = "INSURANCE_CLAIMED"
	PaymentSettled          = "SETTLED"
)

var validPaymentStatuses = map[string]bool{
	PaymentUnpaid:           true,
	PaymentPartiallyPaid:    true,
	PaymentPaid:             true,
	PaymentInsurancePending: true,
	PaymentInsuranceClaimed: true,
	PaymentSettled:          true,
}

// InsuranceCovered reports whether the status means an insurer, not the
// patient, owes the balance. Such visits may close with money outstanding.
func InsuranceCovered(status string) bool {
	switch status {
	case PaymentInsurancePending, PaymentInsuranceClaimed, PaymentSettled:
		return true
	}
	return false
}

// Visit maps to the visit table. The visit number is assigned by the
// database on insert.
type Visit struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	VisitNumber   string     `db:"visit_number" json:"visit_number"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	PatientName   string     `db:"patient_name" json:"patient_name,omitempty"`
	Status        string     `db:"status" json:"status"`
	PaymentStatus string     `db:"payment_status" json:"payment_status"`
	Reason        *string    `db:"reason" json:"reason,omitempty"`
	DoctorID      *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	OpenedBy      uuid.UUID  `db:"opened_by" json:"opened_by"`
	ClosedAt      *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`

	// Gates is attached on single-visit reads, never persisted.
	Gates *Gates `db:"-" json:"payment_gates,omitempty"`
}

// Gates are the two payment checkpoints clinical work hangs on. The chart
// unlocks once registration is paid; the encounter itself may only start
// once the consultation fee is also settled.
type Gates struct {
	RegistrationPaid bool `json:"registration_paid"`
	ConsultationPaid bool `json:"consultation_paid"`
}

// Consultation is the doctor's note for a visit, at most one per visit.
// Version increments on every successful save; writers must present the
// version they read or the save is refused.
type Consultation struct {
	ID          uuid.UUID `db:"id" json:"id"`
	VisitID     uuid.UUID `db:"visit_id" json:"visit_id"`
	Complaint   string    `db:"complaint" json:"complaint"`
	History     string    `db:"history" json:"history"`
	Examination string    `db:"examination" json:"examination"`
	Diagnosis   string    `db:"diagnosis" json:"diagnosis"`
	Plan        string    `db:"plan" json:"treatment_plan"`
	Notes       string    `db:"notes" json:"notes"`
	Version     int       `db:"version" json:"version"`
	CreatedBy   uuid.UUID `db:"created_by" json:"created_by"`
	UpdatedBy   uuid.UUID `db:"updated_by" json:"updated_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

var (
	ErrNotFound             = errors.New("visit not found")
	ErrConsultationNotFound = errors.New("no consultation has been recorded for this visit")
	ErrConsultationExists   = errors.New("a consultation already exists for this visit")
	ErrVisitClosed          = errors.New("visit is closed")
	ErrVisitNotClosed       = errors.New("visit is not closed")
	ErrOpenVisitExists      = errors.New("patient already has an open visit")
	ErrRegistrationUnpaid   = errors.New("registration fee has not been paid for this visit")
	ErrConsultationUnpaid   = errors.New("consultation fee has not been paid for this visit")
	ErrStaleVersion         = errors.New("consultation was changed by someone else, reload and retry")
	ErrOutstandingBalance   = errors.New("visit has an outstanding balance")
)
