package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/errs"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/baharkarakas/wallet-ledger/internal/repository/memory"
	"github.com/baharkarakas/wallet-ledger/internal/worker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.TransactionCompleted
}

func (p *recordingPublisher) PublishCompleted(_ context.Context, evt models.TransactionCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Events() []models.TransactionCompleted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.TransactionCompleted(nil), p.events...)
}

type fixture struct {
	store  *memory.Store
	users  repo.Users
	trx    repo.Transactions
	audit  repo.AuditLogs
	ledger repo.LedgerStore
	pub    *recordingPublisher
	engine *SettlementEngine
}

func newFixture(t *testing.T, lockTimeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewStore(lockTimeout), pub: &recordingPublisher{}}
	f.users, f.trx, f.audit, f.ledger = f.store.Repositories()
	f.engine = NewSettlementEngine(f.ledger, f.users, f.pub, quiet)
	return f
}

func (f *fixture) user(t *testing.T, balance int64) models.User {
	t.Helper()
	u, err := f.users.Create(context.Background(), models.User{
		Name: "Ada", Email: uuid.NewString() + "@example.com", Role: models.RoleUser, Balance: balance,
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) pending(t *testing.T, userID string, typ models.TransactionType, amount int64) models.Transaction {
	t.Helper()
	tx, err := f.trx.Create(context.Background(), models.Transaction{
		UserID: userID, Type: typ, Amount: amount, Status: models.TxnPending,
	})
	require.NoError(t, err)
	return tx
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	u, err := f.users.GetByID(context.Background(), userID)
	require.NoError(t, err)
	return u.Balance
}

func (f *fixture) status(t *testing.T, id string) models.TransactionStatus {
	t.Helper()
	tx, err := f.trx.GetByID(context.Background(), id)
	require.NoError(t, err)
	return tx.Status
}

func TestSettle_Credit(t *testing.T) {
	f := newFixture(t, time.Second)
	u := f.user(t, 100000)
	tx := f.pending(t, u.ID, models.TxnCredit, 5000)

	res, err := f.engine.Settle(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, models.TxnSuccess, res.Status)
	assert.Equal(t, int64(105000), res.Balance)
	assert.Equal(t, int64(105000), f.balance(t, u.ID))

	events := f.pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, tx.ID, events[0].TransactionID)
	assert.Equal(t, int64(105000), events[0].Balance)
}

func TestSettle_DebitSuccess(t *testing.T) {
	f := newFixture(t, time.Second)
	u := f.user(t, 50000)
	tx := f.pending(t, u.ID, models.TxnDebit, 50000)

	res, err := f.engine.Settle(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxnSuccess, res.Status)
	assert.Equal(t, int64(0), f.balance(t, u.ID))
}

func TestSettle_DebitInsufficientFails(t *testing.T) {
	f := newFixture(t, time.Second)
	u := f.user(t, 1000)
	tx := f.pending(t, u.ID, models.TxnDebit, 1001)

	res, err := f.engine.Settle(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, models.TxnFailed, res.Status)
	assert.Equal(t, int64(1000), f.balance(t, u.ID))
	assert.Equal(t, models.TxnFailed, f.status(t, tx.ID))
	assert.Empty(t, f.pub.Events(), "failed settlements emit no completion")

	logs, err := f.audit.ListByEntity(context.Background(), "transaction", tx.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "FAILED", logs[0].Details["to"])
}

func TestSettle_Idempotent(t *testing.T) {
	f := newFixture(t, time.Second)
	u := f.user(t, 100000)
	tx := f.pending(t, u.ID, models.TxnCredit, 5000)

	first, err := f.engine.Settle(context.Background(), tx.ID)
	require.NoError(t, err)
	second, err := f.engine.Settle(context.Background(), tx.ID)
	require.NoError(t, err)

	assert.False(t, second.Applied)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, int64(105000), second.Balance)
	assert.Equal(t, int64(105000), f.balance(t, u.ID))
	assert.Len(t, f.pub.Events(), 1)
}

func TestSettle_DuplicateDeliveriesApplyOnce(t *testing.T) {
	f := newFixture(t, time.Second)
	u := f.user(t, 0)
	tx := f.pending(t, u.ID, models.TxnCredit, 700)

	var wg sync.WaitGroup
	var applied atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.Settle(context.Background(), tx.ID)
			if assert.NoError(t, err) && res.Applied {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, int64(700), f.balance(t, u.ID))
}

func TestSettle_ConcurrentDebitsNoDoubleSpend(t *testing.T) {
	f := newFixture(t, time.Second)
	u := f.user(t, 50000)
	a := f.pending(t, u.ID, models.TxnDebit, 30000)
	b := f.pending(t, u.ID, models.TxnDebit, 30000)

	var wg sync.WaitGroup
	for _, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.engine.Settle(context.Background(), id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int64(20000), f.balance(t, u.ID))
	statuses := []models.TransactionStatus{f.status(t, a.ID), f.status(t, b.ID)}
	assert.ElementsMatch(t, []models.TransactionStatus{models.TxnSuccess, models.TxnFailed}, statuses)
	assert.Len(t, f.pub.Events(), 1)
}

func TestSettle_NotFound(t *testing.T) {
	f := newFixture(t, time.Second)
	_, err := f.engine.Settle(context.Background(), "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.False(t, errs.IsRetryable(err))
}

func TestSettle_LockTimeoutIsRetryable(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	u := f.user(t, 100)
	tx := f.pending(t, u.ID, models.TxnCredit, 1)

	locked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = f.ledger.WithinTx(context.Background(), func(ctx context.Context, ltx repo.LedgerTx) error {
			if _, err := ltx.LockUser(ctx, u.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	_, err := f.engine.Settle(context.Background(), tx.ID)
	close(release)

	assert.True(t, errs.IsRetryable(err))
	assert.ErrorIs(t, err, errs.ErrLockTimeout)
	assert.Equal(t, models.TxnPending, f.status(t, tx.ID))
	assert.Equal(t, int64(100), f.balance(t, u.ID))
}

// flakyLedger runs the unit of work and then fails it for the first n
// attempts, as a commit-time fault would.
type flakyLedger struct {
	inner repo.LedgerStore
	fails int32
	calls atomic.Int32
}

var errCommit = errors.New("connection reset during commit")

func (l *flakyLedger) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repo.LedgerTx) error) error {
	n := l.calls.Add(1)
	return l.inner.WithinTx(ctx, func(ctx context.Context, tx repo.LedgerTx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if n <= l.fails {
			return errCommit
		}
		return nil
	})
}

func TestSettle_RetryAppliesBalanceOnce(t *testing.T) {
	f := newFixture(t, time.Second)
	u := f.user(t, 100000)
	tx := f.pending(t, u.ID, models.TxnCredit, 5000)

	flaky := &flakyLedger{inner: f.ledger, fails: 2}
	engine := NewSettlementEngine(flaky, f.users, f.pub, quiet)

	var res models.SettlementResult
	err := worker.Retry(context.Background(), worker.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Retryable:   errs.IsRetryable,
	}, func(ctx context.Context, _ int) error {
		var err error
		res, err = engine.Settle(ctx, tx.ID)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, int32(3), flaky.calls.Load())
	assert.True(t, res.Applied)
	assert.Equal(t, int64(105000), f.balance(t, u.ID))
	assert.Equal(t, models.TxnSuccess, f.status(t, tx.ID))
	assert.Len(t, f.pub.Events(), 1)

	logs, err := f.audit.ListByEntity(context.Background(), "transaction", tx.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestSettle_ExhaustedRetriesLeavePending(t *testing.T) {
	f := newFixture(t, time.Second)
	u := f.user(t, 100)
	tx := f.pending(t, u.ID, models.TxnDebit, 50)

	engine := NewSettlementEngine(&flakyLedger{inner: f.ledger, fails: 3}, f.users, f.pub, quiet)
	err := worker.Retry(context.Background(), worker.RetryPolicy{MaxAttempts: 3, Retryable: errs.IsRetryable},
		func(ctx context.Context, _ int) error {
			_, err := engine.Settle(ctx, tx.ID)
			return err
		})

	assert.ErrorIs(t, err, errCommit)
	assert.Equal(t, models.TxnPending, f.status(t, tx.ID))
	assert.Equal(t, int64(100), f.balance(t, u.ID))
	assert.Empty(t, f.pub.Events())
}

func TestApplyRule(t *testing.T) {
	cases := []struct {
		name    string
		typ     models.TransactionType
		amount  int64
		balance int64
		status  models.TransactionStatus
		after   int64
	}{
		{"credit", models.TxnCredit, 5000, 100000, models.TxnSuccess, 105000},
		{"debit exact", models.TxnDebit, 100, 100, models.TxnSuccess, 0},
		{"debit short", models.TxnDebit, 101, 100, models.TxnFailed, 100},
		{"zero amount", models.TxnCredit, 0, 100, models.TxnFailed, 100},
		{"credit overflow", models.TxnCredit, 2, 1<<63 - 2, models.TxnFailed, 1<<63 - 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, after := applyRule(models.Transaction{Type: tc.typ, Amount: tc.amount}, tc.balance)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.after, after)
		})
	}
}
