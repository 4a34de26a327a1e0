package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/baharkarakas/wallet-ledger/internal/errs"
	"github.com/baharkarakas/wallet-ledger/internal/metrics"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
)

// SettlementQueue hands a freshly created transaction to the settlement side.
type SettlementQueue interface {
	EnqueueSettlement(ctx context.Context, evt models.TransactionCreated) error
}

type SubmitInput struct {
	UserID  string
	Type    models.TransactionType
	Amount  int64
	Remarks *string
}

const maxRemarksLen = 255

type TransactionService struct {
	users    repo.Users
	trx      repo.Transactions
	audit    repo.AuditLogs
	queue    SettlementQueue
	precheck bool
	log      *slog.Logger
	now      func() time.Time
}

// NewTransactionService wires intake. With precheck set, a DEBIT larger than
// the current balance is rejected before anything is persisted; the balance
// rule is enforced again at settlement either way.
func NewTransactionService(users repo.Users, trx repo.Transactions, audit repo.AuditLogs, queue SettlementQueue, precheck bool, log *slog.Logger) *TransactionService {
	if log == nil {
		log = slog.Default()
	}
	return &TransactionService{users: users, trx: trx, audit: audit, queue: queue, precheck: precheck, log: log, now: time.Now}
}

func (in SubmitInput) validate() error {
	var fields []errs.FieldError
	if strings.TrimSpace(in.UserID) == "" {
		fields = append(fields, errs.FieldError{Field: "user_id", Msg: "is required"})
	}
	if !in.Type.Valid() {
		fields = append(fields, errs.FieldError{Field: "type", Msg: "must be DEBIT or CREDIT"})
	}
	if in.Amount < 1 {
		fields = append(fields, errs.FieldError{Field: "amount", Msg: "must be >= 1"})
	}
	if in.Remarks != nil && utf8.RuneCountInString(*in.Remarks) > maxRemarksLen {
		fields = append(fields, errs.FieldError{Field: "remarks", Msg: fmt.Sprintf("must be at most %d characters", maxRemarksLen)})
	}
	if len(fields) > 0 {
		return &errs.ValidationError{Fields: fields}
	}
	return nil
}

// Submit validates the request, stores it as PENDING and asks for settlement.
// The balance is not touched here.
func (s *TransactionService) Submit(ctx context.Context, in SubmitInput) (models.Transaction, error) {
	if err := in.validate(); err != nil {
		return models.Transaction{}, err
	}
	user, err := s.users.GetByID(ctx, in.UserID)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("user %s: %w", in.UserID, err)
	}
	if s.precheck && in.Type == models.TxnDebit && user.Balance < in.Amount {
		return models.Transaction{}, errs.ErrInsufficientBalance
	}

	tx, err := s.trx.Create(ctx, models.Transaction{
		UserID:  in.UserID,
		Type:    in.Type,
		Amount:  in.Amount,
		Status:  models.TxnPending,
		Remarks: in.Remarks,
	})
	if err != nil {
		return models.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	metrics.TransactionsSubmitted.WithLabelValues(string(tx.Type)).Inc()
	s.writeAudit(ctx, tx.ID, "created", map[string]any{"type": string(tx.Type), "amount": tx.Amount})
	s.log.Info("transaction submitted", "tx_id", tx.ID, "user_id", tx.UserID, "type", tx.Type, "amount", tx.Amount)

	// The row is durable; a lost enqueue is picked up by reconciliation.
	if err := s.queue.EnqueueSettlement(ctx, models.TransactionCreated{TransactionID: tx.ID, UserID: tx.UserID}); err != nil {
		s.log.Error("enqueue settlement", "tx_id", tx.ID, "err", err)
	}
	return tx, nil
}

// Get returns a transaction owned by requesterID. Admins may read any.
func (s *TransactionService) Get(ctx context.Context, requesterID, role, id string) (models.Transaction, error) {
	tx, err := s.trx.GetByID(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	if role != models.RoleAdmin && tx.UserID != requesterID {
		return models.Transaction{}, errs.ErrForbidden
	}
	return tx, nil
}

func (s *TransactionService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.trx.ListByUser(ctx, userID, limit, offset)
}

// ListPending returns transactions still PENDING after olderThan.
func (s *TransactionService) ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.trx.ListPending(ctx, s.now().Add(-olderThan), limit)
}

// Resettle re-enqueues a PENDING transaction, typically one whose retries
// were exhausted. Terminal transactions yield errs.ErrConflict.
func (s *TransactionService) Resettle(ctx context.Context, id string) (models.Transaction, error) {
	tx, err := s.trx.GetByID(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	if tx.Status != models.TxnPending {
		return tx, fmt.Errorf("transaction is %s: %w", tx.Status, errs.ErrConflict)
	}
	if err := s.queue.EnqueueSettlement(ctx, models.TransactionCreated{TransactionID: tx.ID, UserID: tx.UserID}); err != nil {
		return tx, fmt.Errorf("enqueue settlement: %w", err)
	}
	s.writeAudit(ctx, tx.ID, "resettle_requested", nil)
	s.log.Info("settlement re-enqueued", "tx_id", tx.ID)
	return tx, nil
}

func (s *TransactionService) writeAudit(ctx context.Context, txID, action string, details map[string]any) {
	if s.audit == nil {
		return
	}
	id := txID
	err := s.audit.Create(ctx, models.AuditLog{EntityType: "transaction", EntityID: &id, Action: action, Details: details})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("audit write failed", "tx_id", txID, "action", action, "err", err)
	}
}
