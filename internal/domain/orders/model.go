// Package orders manages lab and radiology test orders on a visit. Result
// entry runs under an action lock so two techs never type over each other;
// the lock lives in Redis and the statuses here only move through it.
package orders

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Modalities.
const (
	ModalityLab       = "LAB"
	ModalityRadiology = "RADIOLOGY"
)

var validModalities = map[string]bool{
	ModalityLab:       true,
	ModalityRadiology: true,
}

// Order statuses. Acquiring the action lock on an ORDERED test marks it
// IN_PROGRESS; posting the result moves it to RESULTED and frees the lock.
const (
	StatusOrdered    = "ORDERED"
	StatusInProgress = "IN_PROGRESS"
	StatusResulted   = "RESULTED"
	StatusVerified   = "VERIFIED"
	StatusCancelled  = "CANCELLED"
)

type Order struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	VisitID     uuid.UUID       `db:"visit_id" json:"visit_id"`
	VisitNumber string          `db:"visit_number" json:"visit_number"`
	PatientName string          `db:"patient_name" json:"patient_name"`
	Modality    string          `db:"modality" json:"modality"`
	TestCode    string          `db:"test_code" json:"test_code"`
	TestName    string          `db:"test_name" json:"test_name"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Status      string          `db:"status" json:"status"`
	OrderedBy   uuid.UUID       `db:"ordered_by" json:"ordered_by"`
	VerifiedBy  *uuid.UUID      `db:"verified_by" json:"verified_by,omitempty"`
	VerifiedAt  *time.Time      `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`

	// Result is attached on single-order reads once posted.
	Result *Result `db:"-" json:"result,omitempty"`
}

// Result is the posted finding. Value carries the measured value or
// impression line; ReportText the full narrative; Flags markers like
// "HIGH" or "CRITICAL".
type Result struct {
	ID         uuid.UUID `db:"id" json:"id"`
	OrderID    uuid.UUID `db:"order_id" json:"order_id"`
	Value      string    `db:"value" json:"value"`
	ReportText string    `db:"report_text" json:"report_text,omitempty"`
	Flags      string    `db:"flags" json:"flags,omitempty"`
	PostedBy   uuid.UUID `db:"posted_by" json:"posted_by"`
	PostedAt   time.Time `db:"posted_at" json:"posted_at"`
}

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrVisitNotFound      = errors.New("visit not found")
	ErrVisitClosed        = errors.New("visit is closed")
	ErrRegistrationUnpaid = errors.New("registration fee must be paid before ordering tests")
	ErrInvalidModality    = errors.New("unknown modality")
	ErrOrderState         = errors.New("order is not in a state that allows this")
	ErrLockRequired       = errors.New("result entry requires holding the order lock")
)
