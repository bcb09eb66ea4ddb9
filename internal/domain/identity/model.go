package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. MRN is assigned by the database on
// insert and never changes afterwards.
type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	MRN         string     `db:"mrn" json:"mrn"`
	FirstName   string     `db:"first_name" json:"first_name"`
	LastName    string     `db:"last_name" json:"last_name"`
	OtherNames  *string    `db:"other_names" json:"other_names,omitempty"`
	Phone       *string    `db:"phone" json:"phone,omitempty"`
	Email       *string    `db:"email" json:"email,omitempty"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Sex         string     `db:"sex" json:"sex"`
	Address     *string    `db:"address" json:"address,omitempty"`
	UserID      *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName renders the display name used on queues and receipts.
func (p *Patient) FullName() string {
	if p.OtherNames != nil && *p.OtherNames != "" {
		return p.FirstName + " " + *p.OtherNames + " " + p.LastName
	}
	return p.FirstName + " " + p.LastName
}

// Practitioner maps to the practitioner table, the staff record behind a
// non-patient user.
type Practitioner struct {
	ID            uuid.UUID `db:"id" json:"id"`
	UserID        uuid.UUID `db:"user_id" json:"user_id"`
	Role          string    `db:"role" json:"role"`
	Specialty     *string   `db:"specialty" json:"specialty,omitempty"`
	LicenseNumber *string   `db:"license_number" json:"license_number,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

var validSexes = map[string]bool{
	"male":    true,
	"female":  true,
	"other":   true,
	"unknown": true,
}

var (
	ErrNotFound         = errors.New("patient not found")
	ErrDuplicatePatient = errors.New("a patient with that phone or email already exists")
)
