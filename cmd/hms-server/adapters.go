package main

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medcore/hms/internal/domain/billing"
	"github.com/medcore/hms/internal/domain/identity"
	"github.com/medcore/hms/internal/domain/ivf"
	"github.com/medcore/hms/internal/domain/orders"
	"github.com/medcore/hms/internal/domain/pharmacy"
	"github.com/medcore/hms/internal/domain/scheduling"
	"github.com/medcore/hms/internal/domain/user"
	"github.com/medcore/hms/internal/domain/visit"
	"github.com/medcore/hms/internal/domain/wallet"
	"github.com/medcore/hms/internal/platform/auth"
)

// Each domain declares the narrow interface it needs from its neighbours;
// the adapters here satisfy those interfaces over the concrete services and
// translate sentinels, so no domain package imports another.

// billingVisits lets billing read and close visits.
type billingVisits struct {
	visits *visit.Service
}

func (a *billingVisits) Info(ctx context.Context, id uuid.UUID) (*billing.VisitInfo, error) {
	v, err := a.visits.Info(ctx, id)
	if err != nil {
		if errors.Is(err, visit.ErrNotFound) {
			return nil, billing.ErrVisitNotFound
		}
		return nil, err
	}
	return &billing.VisitInfo{
		ID:            v.ID,
		PatientID:     v.PatientID,
		Status:        v.Status,
		PaymentStatus: v.PaymentStatus,
	}, nil
}

func (a *billingVisits) SetPaymentStatus(ctx context.Context, id uuid.UUID, status string) error {
	return a.visits.SetPaymentStatus(ctx, id, status)
}

func (a *billingVisits) OpenIDs(ctx context.Context) ([]uuid.UUID, error) {
	return a.visits.OpenIDs(ctx)
}

func (a *billingVisits) Close(ctx context.Context, id, closedBy uuid.UUID) error {
	_, err := a.visits.Close(ctx, id, closedBy)
	return err
}

// visitBilling seeds gate invoices and answers gate queries for visits.
type visitBilling struct {
	billing *billing.Service
}

func (a *visitBilling) OpenVisitInvoices(ctx context.Context, visitID, patientID, createdBy uuid.UUID) error {
	return a.billing.OpenVisitInvoices(ctx, visitID, patientID, createdBy)
}

func (a *visitBilling) Gates(ctx context.Context, visitID uuid.UUID) (visit.Gates, error) {
	gs, err := a.billing.Gates(ctx, visitID)
	if err != nil {
		return visit.Gates{}, err
	}
	return visit.Gates{
		RegistrationPaid: gs.RegistrationPaid,
		ConsultationPaid: gs.ConsultationPaid,
	}, nil
}

func (a *visitBilling) OutstandingBalance(ctx context.Context, visitID uuid.UUID) (decimal.Decimal, error) {
	return a.billing.OutstandingBalance(ctx, visitID)
}

// pharmacyBiller invoices dispense charges.
type pharmacyBiller struct {
	billing *billing.Service
}

func (a *pharmacyBiller) ChargeVisit(ctx context.Context, visitID uuid.UUID, category, description string, amount decimal.Decimal, createdBy uuid.UUID) error {
	err := a.billing.CreateInvoice(ctx, &billing.Invoice{
		VisitID:     visitID,
		Category:    category,
		Description: description,
		Amount:      amount,
		CreatedBy:   createdBy,
	})
	switch {
	case errors.Is(err, billing.ErrVisitNotFound):
		return pharmacy.ErrVisitNotFound
	case errors.Is(err, billing.ErrVisitClosed):
		return pharmacy.ErrVisitClosed
	}
	return err
}

// orderBiller invoices lab and radiology test charges.
type orderBiller struct {
	billing *billing.Service
}

func (a *orderBiller) ChargeVisit(ctx context.Context, visitID uuid.UUID, category, description string, amount decimal.Decimal, createdBy uuid.UUID) error {
	err := a.billing.CreateInvoice(ctx, &billing.Invoice{
		VisitID:     visitID,
		Category:    category,
		Description: description,
		Amount:      amount,
		CreatedBy:   createdBy,
	})
	switch {
	case errors.Is(err, billing.ErrVisitNotFound):
		return orders.ErrVisitNotFound
	case errors.Is(err, billing.ErrVisitClosed):
		return orders.ErrVisitClosed
	}
	return err
}

// orderGate enforces the registration-fee gate on test ordering.
type orderGate struct {
	visits  *visit.Service
	billing *billing.Service
}

func (a *orderGate) EnsureOrderable(ctx context.Context, visitID uuid.UUID) error {
	v, err := a.visits.Info(ctx, visitID)
	if err != nil {
		if errors.Is(err, visit.ErrNotFound) {
			return orders.ErrVisitNotFound
		}
		return err
	}
	if v.Status == visit.StatusClosed {
		return orders.ErrVisitClosed
	}
	gs, err := a.billing.Gates(ctx, visitID)
	if err != nil {
		return err
	}
	if !gs.RegistrationPaid {
		return orders.ErrRegistrationUnpaid
	}
	return nil
}

// walletPatients resolves patient contact details for top-up receipts.
type walletPatients struct {
	patients *identity.Service
}

func (a *walletPatients) Contact(ctx context.Context, patientID uuid.UUID) (*wallet.PatientContact, error) {
	p, err := a.patients.GetPatient(ctx, patientID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, wallet.ErrPatientNotFound
		}
		return nil, err
	}
	contact := &wallet.PatientContact{Name: p.FullName()}
	if p.Email != nil {
		contact.Email = *p.Email
	}
	if p.Phone != nil {
		contact.Phone = *p.Phone
	}
	return contact, nil
}

// billingWallet debits wallets for wallet-method payments.
type billingWallet struct {
	wallet *wallet.Service
}

func (a *billingWallet) Debit(ctx context.Context, patientID uuid.UUID, amount decimal.Decimal, reference string) error {
	err := a.wallet.Debit(ctx, patientID, amount, reference)
	if errors.Is(err, wallet.ErrInsufficientFunds) {
		return billing.ErrInsufficientFunds
	}
	return err
}

// schedulingPatients resolves patient contact details for bookings.
type schedulingPatients struct {
	patients *identity.Service
}

func (a *schedulingPatients) Contact(ctx context.Context, patientID uuid.UUID) (*scheduling.PatientContact, error) {
	p, err := a.patients.GetPatient(ctx, patientID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, scheduling.ErrPatientNotFound
		}
		return nil, err
	}
	contact := &scheduling.PatientContact{Name: p.FullName()}
	if p.Phone != nil {
		contact.Phone = *p.Phone
	}
	return contact, nil
}

// schedulingDoctors resolves bookable doctors from the staff directory.
type schedulingDoctors struct {
	users *user.Service
}

func (a *schedulingDoctors) Name(ctx context.Context, doctorID uuid.UUID) (string, error) {
	u, err := a.users.Get(ctx, doctorID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return "", scheduling.ErrDoctorNotFound
		}
		return "", err
	}
	if !u.Active || u.Role != auth.RoleDoctor {
		return "", scheduling.ErrDoctorNotFound
	}
	return u.FullName, nil
}

// ivfPatients resolves patient names for cycle views.
type ivfPatients struct {
	patients *identity.Service
}

func (a *ivfPatients) Name(ctx context.Context, patientID uuid.UUID) (string, error) {
	name, err := a.patients.PatientName(ctx, patientID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return "", ivf.ErrPatientNotFound
		}
		return "", err
	}
	return name, nil
}
