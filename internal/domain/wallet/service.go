package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medcore/hms/internal/platform/db"
	"github.com/medcore/hms/internal/platform/gateway"
	"github.com/medcore/hms/internal/platform/notify"
	"github.com/medcore/hms/internal/platform/ws"
)

// PatientContact is the slice of the patient record used for checkout and
// receipts.
type PatientContact struct {
	Name  string
	Email string
	Phone string
}

// Patients is implemented by an adapter over the patient directory. Unknown
// patients must come back as ErrPatientNotFound.
type Patients interface {
	Contact(ctx context.Context, patientID uuid.UUID) (*PatientContact, error)
}

type Service struct {
	repo        Repository
	provider    gateway.Provider
	patients    Patients
	runTx       db.TxRunner
	events      ws.Publisher
	notifier    *notify.Dispatcher
	log         zerolog.Logger
	currency    string
	callbackURL string
}

func NewService(repo Repository, provider gateway.Provider, patients Patients, runTx db.TxRunner, events ws.Publisher, log zerolog.Logger) *Service {
	if runTx == nil {
		runTx = func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }
	}
	if events == nil {
		events = ws.NopPublisher{}
	}
	return &Service{
		repo:     repo,
		provider: provider,
		patients: patients,
		runTx:    runTx,
		events:   events,
		log:      log,
		currency: "NGN",
	}
}

// SetNotifier attaches receipt delivery. Safe to skip in tests.
func (s *Service) SetNotifier(n *notify.Dispatcher) { s.notifier = n }

// SetCurrency overrides the checkout currency.
func (s *Service) SetCurrency(c string) {
	if c != "" {
		s.currency = c
	}
}

// SetCallbackURL points the provider's redirect back at the verify endpoint.
func (s *Service) SetCallbackURL(u string) { s.callbackURL = u }

// View is a wallet with its recent statement.
type View struct {
	Wallet       *Wallet        `json:"wallet"`
	Transactions []*Transaction `json:"transactions"`
}

// Get returns the patient's wallet, creating an empty one on first contact.
func (s *Service) Get(ctx context.Context, patientID uuid.UUID) (*View, error) {
	if _, err := s.patients.Contact(ctx, patientID); err != nil {
		return nil, err
	}
	w, err := s.ensure(ctx, patientID)
	if err != nil {
		return nil, err
	}
	txns, err := s.repo.ListTransactions(ctx, w.ID, 50)
	if err != nil {
		return nil, err
	}
	if txns == nil {
		txns = []*Transaction{}
	}
	return &View{Wallet: w, Transactions: txns}, nil
}

// TopupIntent hands the client the provider's hosted payment page.
type TopupIntent struct {
	AuthorizationURL string          `json:"authorization_url"`
	Reference        string          `json:"reference"`
	Amount           decimal.Decimal `json:"amount"`
}

// Topup opens a checkout for the patient. The PENDING transaction is written
// before the provider call so an unverified reference is always traceable.
func (s *Service) Topup(ctx context.Context, patientID uuid.UUID, amount decimal.Decimal) (*TopupIntent, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive")
	}
	contact, err := s.patients.Contact(ctx, patientID)
	if err != nil {
		return nil, err
	}
	w, err := s.ensure(ctx, patientID)
	if err != nil {
		return nil, err
	}

	txn := &Transaction{
		WalletID:    w.ID,
		PatientID:   patientID,
		Type:        TxnTopup,
		Amount:      amount,
		Reference:   "topup-" + uuid.NewString(),
		Status:      TxnPending,
		Description: "Wallet top-up",
	}
	if err := s.repo.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}

	email := contact.Email
	if email == "" {
		// Checkout requires an address; visiting patients often have none.
		email = fmt.Sprintf("patient-%s@medcore.local", patientID)
	}
	init, err := s.provider.InitializeTransaction(ctx, gateway.InitParams{
		Reference:   txn.Reference,
		Email:       email,
		Amount:      amount,
		Currency:    s.currency,
		CallbackURL: s.callbackURL,
	})
	if err != nil {
		if _, mErr := s.repo.SettleTransaction(ctx, txn.ID, TxnFailed, decimal.Zero); mErr != nil {
			s.log.Warn().Err(mErr).Str("reference", txn.Reference).Msg("mark failed top-up")
		}
		return nil, fmt.Errorf("initialize top-up: %w", err)
	}

	s.log.Info().
		Str("patient_id", patientID.String()).
		Str("reference", txn.Reference).
		Str("amount", amount.String()).
		Msg("top-up initialized")
	return &TopupIntent{
		AuthorizationURL: init.AuthorizationURL,
		Reference:        txn.Reference,
		Amount:           amount,
	}, nil
}

var errAlreadySettled = errors.New("transaction settled concurrently")

// Verify confirms a top-up reference with the provider. A successful
// verification credits the balance exactly once; calling it again returns the
// settled transaction unchanged.
func (s *Service) Verify(ctx context.Context, reference string) (*Transaction, error) {
	txn, err := s.repo.GetTransactionByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if txn.Status != TxnPending {
		return txn, nil
	}

	res, err := s.provider.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("verify top-up: %w", err)
	}

	switch res.Status {
	case gateway.StatusSuccess:
		err = s.runTx(ctx, func(ctx context.Context) error {
			balance, err := s.repo.Credit(ctx, txn.WalletID, txn.Amount)
			if err != nil {
				return err
			}
			ok, err := s.repo.SettleTransaction(ctx, txn.ID, TxnSuccess, balance)
			if err != nil {
				return err
			}
			if !ok {
				// A concurrent verify won; roll the credit back.
				return errAlreadySettled
			}
			txn.Status = TxnSuccess
			txn.BalanceAfter = balance
			return nil
		})
		if errors.Is(err, errAlreadySettled) {
			return s.repo.GetTransactionByReference(ctx, reference)
		}
		if err != nil {
			return nil, err
		}
		s.publishCredited(ctx, txn)
		s.receipt(ctx, txn)
	case gateway.StatusFailed:
		if _, err := s.repo.SettleTransaction(ctx, txn.ID, TxnFailed, decimal.Zero); err != nil {
			return nil, err
		}
		txn.Status = TxnFailed
	default:
		// Provider still reports pending; nothing to record yet.
	}
	return txn, nil
}

// Debit charges the wallet for an invoice payment. Callers running inside a
// transaction are joined, so a failed debit rolls the payment back with it.
func (s *Service) Debit(ctx context.Context, patientID uuid.UUID, amount decimal.Decimal, reference string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	w, err := s.repo.GetByPatient(ctx, patientID)
	if err == ErrWalletNotFound {
		return ErrInsufficientFunds
	}
	if err != nil {
		return err
	}
	return s.runTx(ctx, func(ctx context.Context) error {
		balance, err := s.repo.Debit(ctx, w.ID, amount)
		if err != nil {
			return err
		}
		return s.repo.CreateTransaction(ctx, &Transaction{
			WalletID:     w.ID,
			PatientID:    patientID,
			Type:         TxnPayment,
			Amount:       amount,
			BalanceAfter: balance,
			Reference:    reference,
			Status:       TxnSuccess,
			Description:  "Invoice payment",
		})
	})
}

// Refund credits money back onto the wallet. Admin-only at the route layer.
func (s *Service) Refund(ctx context.Context, patientID uuid.UUID, amount decimal.Decimal, reason string, refundedBy uuid.UUID) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive")
	}
	if _, err := s.patients.Contact(ctx, patientID); err != nil {
		return nil, err
	}
	w, err := s.ensure(ctx, patientID)
	if err != nil {
		return nil, err
	}

	txn := &Transaction{
		WalletID:    w.ID,
		PatientID:   patientID,
		Type:        TxnRefund,
		Amount:      amount,
		Reference:   "refund-" + uuid.NewString(),
		Status:      TxnSuccess,
		Description: reason,
	}
	err = s.runTx(ctx, func(ctx context.Context) error {
		balance, err := s.repo.Credit(ctx, w.ID, amount)
		if err != nil {
			return err
		}
		txn.BalanceAfter = balance
		return s.repo.CreateTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("patient_id", patientID.String()).
		Str("amount", amount.String()).
		Str("refunded_by", refundedBy.String()).
		Msg("wallet refunded")
	return txn, nil
}

func (s *Service) ensure(ctx context.Context, patientID uuid.UUID) (*Wallet, error) {
	w, err := s.repo.GetByPatient(ctx, patientID)
	if err == nil {
		return w, nil
	}
	if err != ErrWalletNotFound {
		return nil, err
	}
	w = &Wallet{PatientID: patientID}
	if err := s.repo.Create(ctx, w); err != nil {
		if err == ErrWalletExists {
			return s.repo.GetByPatient(ctx, patientID)
		}
		return nil, err
	}
	return w, nil
}

func (s *Service) publishCredited(ctx context.Context, txn *Transaction) {
	event := ws.NewEvent(ws.EventWalletCredited, ws.TopicPayments, map[string]interface{}{
		"patient_id": txn.PatientID,
		"amount":     txn.Amount,
		"balance":    txn.BalanceAfter,
		"reference":  txn.Reference,
	})
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("event", event.Type).Msg("publish event")
	}
}

func (s *Service) receipt(ctx context.Context, txn *Transaction) {
	if s.notifier == nil {
		return
	}
	contact, err := s.patients.Contact(ctx, txn.PatientID)
	if err != nil || contact.Phone == "" {
		return
	}
	data := map[string]string{
		"patient_name": contact.Name,
		"amount":       txn.Amount.StringFixed(2),
		"balance":      txn.BalanceAfter.StringFixed(2),
	}
	if _, err := s.notifier.SendTemplate(ctx, notify.ChannelSMS, notify.TemplateWalletReceipt, data, contact.Phone); err != nil {
		s.log.Warn().Err(err).Str("patient_id", txn.PatientID.String()).Msg("send top-up receipt")
	}
}
