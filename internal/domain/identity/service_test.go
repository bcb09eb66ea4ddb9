package identity

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medcore/hms/internal/platform/auth"
)

// -- Mock Repository --

type mockRepo struct {
	patients      map[uuid.UUID]*Patient
	practitioners map[uuid.UUID]*Practitioner
	mrnSeq        int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		patients:      make(map[uuid.UUID]*Patient),
		practitioners: make(map[uuid.UUID]*Practitioner),
	}
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	m.mrnSeq++
	p.MRN = fmt.Sprintf("HMS-%06d", m.mrnSeq)
	p.CreatedAt = time.Now()
	p.UpdatedAt = time.Now()
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockRepo) GetByMRN(_ context.Context, mrn string) (*Patient, error) {
	for _, p := range m.patients {
		if p.MRN == mrn {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return ErrNotFound
	}
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	var result []*Patient
	for _, p := range m.patients {
		result = append(result, p)
	}
	return result, len(result), nil
}

func (m *mockRepo) Search(_ context.Context, q string, limit, offset int) ([]*Patient, int, error) {
	q = strings.ToLower(q)
	var result []*Patient
	for _, p := range m.patients {
		hay := strings.ToLower(p.FirstName + " " + p.LastName + " " + p.MRN)
		if p.Phone != nil {
			hay += " " + *p.Phone
		}
		if strings.Contains(hay, q) {
			result = append(result, p)
		}
	}
	return result, len(result), nil
}

func (m *mockRepo) CreatePractitioner(_ context.Context, pr *Practitioner) error {
	pr.ID = uuid.New()
	m.practitioners[pr.ID] = pr
	return nil
}

func (m *mockRepo) GetPractitionerByUser(_ context.Context, userID uuid.UUID) (*Practitioner, error) {
	for _, pr := range m.practitioners {
		if pr.UserID == userID {
			return pr, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) ListPractitioners(_ context.Context, role string) ([]*Practitioner, error) {
	var result []*Practitioner
	for _, pr := range m.practitioners {
		if role == "" || pr.Role == role {
			result = append(result, pr)
		}
	}
	return result, nil
}

func strPtr(s string) *string { return &s }

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, "NG"), repo
}

// -- Patients --

func TestCreatePatient_NormalizesContact(t *testing.T) {
	svc, _ := newTestService()

	p := &Patient{
		FirstName: "  Adaeze ",
		LastName:  " Okafor ",
		Phone:     strPtr("0801 234 7890"),
		Email:     strPtr(" Adaeze.Okafor@Example.COM "),
	}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}

	if p.FirstName != "Adaeze" || p.LastName != "Okafor" {
		t.Errorf("expected trimmed names, got %q %q", p.FirstName, p.LastName)
	}
	if *p.Phone != "+2348012347890" {
		t.Errorf("expected E.164 phone, got %s", *p.Phone)
	}
	if *p.Email != "adaeze.okafor@example.com" {
		t.Errorf("expected lowercased email, got %s", *p.Email)
	}
	if p.Sex != "unknown" {
		t.Errorf("expected sex defaulted to unknown, got %s", p.Sex)
	}
	if p.MRN == "" {
		t.Error("expected an MRN to be assigned")
	}
}

func TestCreatePatient_Validation(t *testing.T) {
	svc, _ := newTestService()

	if err := svc.CreatePatient(context.Background(), &Patient{FirstName: "OnlyFirst"}); err == nil {
		t.Error("expected missing last name to be rejected")
	}
	if err := svc.CreatePatient(context.Background(), &Patient{FirstName: "A", LastName: "B", Sex: "robot"}); err == nil {
		t.Error("expected invalid sex to be rejected")
	}
	if err := svc.CreatePatient(context.Background(), &Patient{FirstName: "A", LastName: "B", Phone: strPtr("not-a-phone")}); err == nil {
		t.Error("expected invalid phone to be rejected")
	}
}

func TestUpdatePatient_MRNImmutable(t *testing.T) {
	svc, _ := newTestService()

	p := &Patient{FirstName: "Adaeze", LastName: "Okafor"}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	originalMRN := p.MRN

	update := &Patient{ID: p.ID, FirstName: "Adaeze", LastName: "Eze", MRN: "HMS-999999"}
	if err := svc.UpdatePatient(context.Background(), update); err != nil {
		t.Fatalf("UpdatePatient: %v", err)
	}
	if update.MRN != originalMRN {
		t.Errorf("MRN must not change on update: got %s, want %s", update.MRN, originalMRN)
	}
}

func TestSearchPatients(t *testing.T) {
	svc, _ := newTestService()

	for _, name := range [][2]string{{"Adaeze", "Okafor"}, {"Chinedu", "Okafor"}, {"Bola", "Adeyemi"}} {
		p := &Patient{FirstName: name[0], LastName: name[1]}
		if err := svc.CreatePatient(context.Background(), p); err != nil {
			t.Fatalf("CreatePatient: %v", err)
		}
	}

	results, total, err := svc.SearchPatients(context.Background(), "okafor", 20, 0)
	if err != nil {
		t.Fatalf("SearchPatients: %v", err)
	}
	if total != 2 || len(results) != 2 {
		t.Errorf("expected 2 matches for okafor, got %d", total)
	}

	// Empty queries return nothing, never the whole register.
	results, total, err = svc.SearchPatients(context.Background(), "   ", 20, 0)
	if err != nil {
		t.Fatalf("SearchPatients: %v", err)
	}
	if total != 0 || len(results) != 0 {
		t.Errorf("expected empty result for blank query, got %d", total)
	}
}

func TestPatientProbes(t *testing.T) {
	svc, _ := newTestService()

	p := &Patient{FirstName: "Adaeze", LastName: "Okafor", Phone: strPtr("+2348012347890"), Email: strPtr("ada@example.com")}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}

	if ok, _ := svc.PatientExists(context.Background(), p.ID); !ok {
		t.Error("expected patient to exist")
	}
	if ok, _ := svc.PatientExists(context.Background(), uuid.New()); ok {
		t.Error("unknown id must not exist")
	}

	name, err := svc.PatientName(context.Background(), p.ID)
	if err != nil || name != "Adaeze Okafor" {
		t.Errorf("unexpected name %q err %v", name, err)
	}
	email, _ := svc.PatientEmail(context.Background(), p.ID)
	if email != "ada@example.com" {
		t.Errorf("unexpected email %q", email)
	}
	phone, _ := svc.PatientPhone(context.Background(), p.ID)
	if phone != "+2348012347890" {
		t.Errorf("unexpected phone %q", phone)
	}
}

// -- Practitioners --

func TestCreatePractitioner(t *testing.T) {
	svc, _ := newTestService()

	pr := &Practitioner{UserID: uuid.New(), Role: auth.RoleDoctor, Specialty: strPtr("cardiology")}
	if err := svc.CreatePractitioner(context.Background(), pr); err != nil {
		t.Fatalf("CreatePractitioner: %v", err)
	}

	if err := svc.CreatePractitioner(context.Background(), &Practitioner{UserID: uuid.New(), Role: auth.RolePatient}); err == nil {
		t.Error("patient is not a practitioner role")
	}
	if err := svc.CreatePractitioner(context.Background(), &Practitioner{Role: auth.RoleDoctor}); err == nil {
		t.Error("expected missing user_id to be rejected")
	}
}
