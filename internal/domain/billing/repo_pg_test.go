package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
)

func newMockPool(t *testing.T) (pgxmock.PgxPoolIface, *repoPG) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, &repoPG{pool: mock}
}

func TestRepoPG_GetInvoice(t *testing.T) {
	mock, repo := newMockPool(t)
	id := uuid.New()
	visitID := uuid.New()
	patientID := uuid.New()
	createdBy := uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM invoice WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "visit_id", "patient_id", "category", "description", "amount",
			"amount_paid", "status", "created_by", "created_at", "updated_at",
		}).AddRow(
			id, visitID, patientID, CategoryRegistration, "Registration fee",
			decimal.NewFromInt(2000), decimal.NewFromInt(500), InvoicePartiallyPaid,
			createdBy, now, now,
		))

	inv, err := repo.GetInvoice(context.Background(), id)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if inv.Category != CategoryRegistration || inv.Status != InvoicePartiallyPaid {
		t.Errorf("unexpected invoice: %+v", inv)
	}
	if !inv.Outstanding().Equal(decimal.NewFromInt(1500)) {
		t.Errorf("expected 1500 outstanding, got %s", inv.Outstanding())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRepoPG_GetInvoice_NoRows(t *testing.T) {
	mock, repo := newMockPool(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM invoice WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.GetInvoice(context.Background(), id); err != ErrInvoiceNotFound {
		t.Fatalf("expected ErrInvoiceNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRepoPG_UpdateInvoice_Missing(t *testing.T) {
	mock, repo := newMockPool(t)
	inv := &Invoice{ID: uuid.New(), Amount: decimal.NewFromInt(100), AmountPaid: decimal.Zero, Status: InvoicePending}

	mock.ExpectExec("UPDATE invoice SET").
		WithArgs(inv.ID, inv.Amount, inv.AmountPaid, inv.Status, inv.Description).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.UpdateInvoice(context.Background(), inv); err != ErrInvoiceNotFound {
		t.Fatalf("expected ErrInvoiceNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRepoPG_CreateReconciliation_DuplicateDate(t *testing.T) {
	mock, repo := newMockPool(t)

	mock.ExpectQuery("INSERT INTO reconciliation").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "reconciliation_recon_date_key"})

	rec := &Reconciliation{Date: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), Status: ReconciliationDraft}
	if err := repo.CreateReconciliation(context.Background(), rec); err != ErrDuplicateReconciliation {
		t.Fatalf("expected ErrDuplicateReconciliation, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRepoPG_SumPaymentsByMethod(t *testing.T) {
	mock, repo := newMockPool(t)
	from := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	mock.ExpectQuery("SELECT method, COALESCE").
		WithArgs(from, to).
		WillReturnRows(pgxmock.NewRows([]string{"method", "sum"}).
			AddRow(MethodCash, decimal.NewFromInt(2000)).
			AddRow(MethodCard, decimal.NewFromInt(5000)))

	totals, err := repo.SumPaymentsByMethod(context.Background(), from, to)
	if err != nil {
		t.Fatalf("SumPaymentsByMethod: %v", err)
	}
	if !totals[MethodCash].Equal(decimal.NewFromInt(2000)) {
		t.Errorf("expected cash 2000, got %s", totals[MethodCash])
	}
	if !totals[MethodCard].Equal(decimal.NewFromInt(5000)) {
		t.Errorf("expected card 5000, got %s", totals[MethodCard])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRepoPG_PendingVisits_GroupsByVisit(t *testing.T) {
	mock, repo := newMockPool(t)
	visitA := uuid.New()
	visitB := uuid.New()
	patientA := uuid.New()
	patientB := uuid.New()
	opened := time.Now()

	mock.ExpectQuery("FROM visit v").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "visit_number", "patient_id", "patient_name", "created_at", "category", "owed",
		}).
			AddRow(visitA, "V-2026-0001", patientA, "Ada Obi", opened, CategoryConsultation, decimal.NewFromInt(5000)).
			AddRow(visitA, "V-2026-0001", patientA, "Ada Obi", opened, CategoryRegistration, decimal.NewFromInt(2000)).
			AddRow(visitB, "V-2026-0002", patientB, "Ben Eze", opened, CategoryLaboratory, decimal.NewFromInt(1500)))

	pending, err := repo.PendingVisits(context.Background())
	if err != nil {
		t.Fatalf("PendingVisits: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 visits, got %d", len(pending))
	}
	first := pending[0]
	if first.VisitID != visitA || len(first.Items) != 2 {
		t.Errorf("expected visit A with 2 items, got %+v", first)
	}
	if !first.TotalPending.Equal(decimal.NewFromInt(7000)) {
		t.Errorf("expected 7000 pending, got %s", first.TotalPending)
	}
	if !pending[1].TotalPending.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("expected 1500 pending, got %s", pending[1].TotalPending)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
