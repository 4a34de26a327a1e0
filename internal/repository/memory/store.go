// Package memory is a process-local implementation of the repositories.
// It keeps the same locking and atomicity contract as the Postgres store:
// one exclusive lock per user, writes staged until the unit of work commits.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/errs"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/google/uuid"
)

type Store struct {
	mu          sync.RWMutex
	users       map[string]models.User
	emails      map[string]string
	txns        map[string]models.Transaction
	audits      []models.AuditLog
	locks       map[string]chan struct{}
	lockTimeout time.Duration
	now         func() time.Time
}

func NewStore(lockTimeout time.Duration) *Store {
	return &Store{
		users:       map[string]models.User{},
		emails:      map[string]string{},
		txns:        map[string]models.Transaction{},
		locks:       map[string]chan struct{}{},
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() (repo.Users, repo.Transactions, repo.AuditLogs, repo.LedgerStore) {
	return usersView{s}, txnsView{s}, auditView{s}, s
}

func (s *Store) userLock(id string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[id] = l
	}
	return l
}

func (s *Store) acquire(ctx context.Context, id string) (release func(), err error) {
	l := s.userLock(id)
	var timeout <-chan time.Time
	if s.lockTimeout > 0 {
		t := time.NewTimer(s.lockTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-timeout:
		return nil, errs.ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repo.LedgerTx) error) error {
	t := &memTx{
		store: s,
		held:  map[string]func(){},
		users: map[string]models.User{},
		txns:  map[string]models.Transaction{},
	}
	defer t.releaseAll()

	if err := fn(ctx, t); err != nil {
		return err
	}
	t.commit()
	return nil
}

type memTx struct {
	store  *Store
	held   map[string]func()
	users  map[string]models.User
	txns   map[string]models.Transaction
	audits []models.AuditLog
}

func (t *memTx) releaseAll() {
	for _, release := range t.held {
		release()
	}
}

func (t *memTx) LoadTransaction(_ context.Context, id string) (models.Transaction, error) {
	if staged, ok := t.txns[id]; ok {
		return staged, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	tx, ok := t.store.txns[id]
	if !ok {
		return models.Transaction{}, errs.ErrNotFound
	}
	return tx, nil
}

func (t *memTx) LockUser(ctx context.Context, userID string) (models.User, error) {
	if _, ok := t.held[userID]; !ok {
		t.store.mu.RLock()
		_, exists := t.store.users[userID]
		t.store.mu.RUnlock()
		if !exists {
			return models.User{}, errs.ErrNotFound
		}
		release, err := t.store.acquire(ctx, userID)
		if err != nil {
			return models.User{}, err
		}
		t.held[userID] = release
	}
	if staged, ok := t.users[userID]; ok {
		return staged, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.users[userID], nil
}

func (t *memTx) SaveUser(_ context.Context, u models.User) error {
	t.store.mu.RLock()
	_, ok := t.store.users[u.ID]
	t.store.mu.RUnlock()
	if !ok {
		return errs.ErrNotFound
	}
	t.users[u.ID] = u
	return nil
}

func (t *memTx) SaveTransaction(_ context.Context, tx models.Transaction) error {
	current, err := t.LoadTransaction(context.Background(), tx.ID)
	if err != nil {
		return err
	}
	if current.Status != models.TxnPending {
		return errs.ErrAlreadySettled
	}
	current.Status = tx.Status
	t.txns[tx.ID] = current
	return nil
}

func (t *memTx) AppendAudit(_ context.Context, l models.AuditLog) error {
	t.audits = append(t.audits, l)
	return nil
}

func (t *memTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, u := range t.users {
		u.UpdatedAt = now
		s.users[id] = u
	}
	for id, tx := range t.txns {
		tx.UpdatedAt = now
		s.txns[id] = tx
	}
	for _, l := range t.audits {
		s.appendAudit(l)
	}
}

func (s *Store) appendAudit(l models.AuditLog) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt = s.now()
	s.audits = append(s.audits, l)
}

type usersView struct{ s *Store }

func (v usersView) Create(_ context.Context, u models.User) (models.User, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if u.Balance < 0 {
		return models.User{}, errs.Invalid("balance", "must be >= 0")
	}
	key := strings.ToLower(u.Email)
	if _, taken := v.s.emails[key]; taken {
		return models.User{}, errs.ErrConflict
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = v.s.now()
	u.UpdatedAt = u.CreatedAt
	v.s.users[u.ID] = u
	v.s.emails[key] = u.ID
	return u, nil
}

func (v usersView) GetByID(_ context.Context, id string) (models.User, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	u, ok := v.s.users[id]
	if !ok {
		return models.User{}, errs.ErrNotFound
	}
	return u, nil
}

func (v usersView) GetByEmail(_ context.Context, email string) (models.User, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	id, ok := v.s.emails[strings.ToLower(email)]
	if !ok {
		return models.User{}, errs.ErrNotFound
	}
	return v.s.users[id], nil
}

type txnsView struct{ s *Store }

func (v txnsView) Create(_ context.Context, tx models.Transaction) (models.Transaction, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.users[tx.UserID]; !ok {
		return models.Transaction{}, errs.ErrNotFound
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if _, dup := v.s.txns[tx.ID]; dup {
		return models.Transaction{}, errs.ErrConflict
	}
	tx.CreatedAt = v.s.now()
	tx.UpdatedAt = tx.CreatedAt
	v.s.txns[tx.ID] = tx
	return tx, nil
}

func (v txnsView) GetByID(_ context.Context, id string) (models.Transaction, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	tx, ok := v.s.txns[id]
	if !ok {
		return models.Transaction{}, errs.ErrNotFound
	}
	return tx, nil
}

func (v txnsView) ListByUser(_ context.Context, userID string, limit, offset int) ([]models.Transaction, error) {
	out := v.filter(func(tx models.Transaction) bool { return tx.UserID == userID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (v txnsView) ListPending(_ context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	out := v.filter(func(tx models.Transaction) bool {
		return tx.Status == models.TxnPending && tx.CreatedAt.Before(olderThan)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, 0), nil
}

func (v txnsView) filter(keep func(models.Transaction) bool) []models.Transaction {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []models.Transaction
	for _, tx := range v.s.txns {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	return out
}

func page(in []models.Transaction, limit, offset int) []models.Transaction {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

type auditView struct{ s *Store }

func (v auditView) Create(_ context.Context, l models.AuditLog) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.appendAudit(l)
	return nil
}

func (v auditView) ListByEntity(_ context.Context, entityType, entityID string) ([]models.AuditLog, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []models.AuditLog
	for _, l := range v.s.audits {
		if l.EntityType == entityType && l.EntityID != nil && *l.EntityID == entityID {
			out = append(out, l)
		}
	}
	return out, nil
}
