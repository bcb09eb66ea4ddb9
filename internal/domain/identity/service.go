package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/medcore/hms/internal/platform/auth"
)

type Service struct {
	repo   Repository
	region string
}

func NewService(repo Repository, region string) *Service {
	return &Service{repo: repo, region: region}
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if err := s.normalize(p); err != nil {
		return err
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetPatientByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return s.repo.GetByMRN(ctx, mrn)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	existing, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	p.MRN = existing.MRN
	if err := s.normalize(p); err != nil {
		return err
	}
	return s.repo.Update(ctx, p)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// SearchPatients matches q against names, MRN and phone. Short queries are
// allowed; an empty one returns nothing rather than the whole register.
func (s *Service) SearchPatients(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []*Patient{}, 0, nil
	}
	return s.repo.Search(ctx, q, limit, offset)
}

func (s *Service) normalize(p *Patient) error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	if p.Sex == "" {
		p.Sex = "unknown"
	}
	if !validSexes[p.Sex] {
		return fmt.Errorf("sex must be male, female, other or unknown")
	}
	if p.Phone != nil && *p.Phone != "" {
		e164, err := auth.NormalizePhone(*p.Phone, s.region)
		if err != nil {
			return fmt.Errorf("invalid phone number")
		}
		p.Phone = &e164
	}
	if p.Email != nil {
		lower := strings.ToLower(strings.TrimSpace(*p.Email))
		p.Email = &lower
	}
	return nil
}

// PatientExists is the existence probe other services depend on.
func (s *Service) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := s.repo.GetByID(ctx, id)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PatientName returns the display name, or an error when the id is unknown.
func (s *Service) PatientName(ctx context.Context, id uuid.UUID) (string, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return p.FullName(), nil
}

// PatientEmail returns the patient's email, empty when none is on file.
func (s *Service) PatientEmail(ctx context.Context, id uuid.UUID) (string, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if p.Email == nil {
		return "", nil
	}
	return *p.Email, nil
}

// PatientPhone returns the patient's phone, empty when none is on file.
func (s *Service) PatientPhone(ctx context.Context, id uuid.UUID) (string, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if p.Phone == nil {
		return "", nil
	}
	return *p.Phone, nil
}

func (s *Service) CreatePractitioner(ctx context.Context, pr *Practitioner) error {
	if pr.UserID == uuid.Nil {
		return fmt.Errorf("user_id is required")
	}
	if !auth.ValidRole(pr.Role) || pr.Role == auth.RolePatient {
		return fmt.Errorf("invalid practitioner role: %s", pr.Role)
	}
	return s.repo.CreatePractitioner(ctx, pr)
}

func (s *Service) GetPractitionerByUser(ctx context.Context, userID uuid.UUID) (*Practitioner, error) {
	return s.repo.GetPractitionerByUser(ctx, userID)
}

func (s *Service) ListPractitioners(ctx context.Context, role string) ([]*Practitioner, error) {
	return s.repo.ListPractitioners(ctx, role)
}
