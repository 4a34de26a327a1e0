package memory

import (
	"context"
	"sync"
	"time"

	idem "github.com/baharkarakas/wallet-ledger/internal/repository/redis"
)

// IdempotencyStore keeps Idempotency-Key replays in process memory.
type IdempotencyStore struct {
	mu        sync.Mutex
	responses map[string]entry
	locks     map[string]time.Time
	now       func() time.Time
	nextSweep time.Time
}

const sweepEvery = time.Minute

type entry struct {
	resp    idem.CachedResponse
	expires time.Time
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{responses: map[string]entry{}, locks: map[string]time.Time{}, now: time.Now}
}

func (s *IdempotencyStore) Get(_ context.Context, key string) (*idem.CachedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.responses[key]
	if !ok || s.now().After(e.expires) {
		delete(s.responses, key)
		return nil, nil
	}
	resp := e.resp
	return &resp, nil
}

func (s *IdempotencyStore) Save(_ context.Context, key string, resp idem.CachedResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	resp.Body = append([]byte(nil), resp.Body...)
	s.responses[key] = entry{resp: resp, expires: s.now().Add(ttl)}
	return nil
}

func (s *IdempotencyStore) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	if until, held := s.locks[key]; held && s.now().Before(until) {
		return false, nil
	}
	s.locks[key] = s.now().Add(ttl)
	return true, nil
}

func (s *IdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
	return nil
}

// sweep drops expired responses and locks. Callers hold mu.
func (s *IdempotencyStore) sweep() {
	now := s.now()
	if now.Before(s.nextSweep) {
		return
	}
	s.nextSweep = now.Add(sweepEvery)
	for k, e := range s.responses {
		if now.After(e.expires) {
			delete(s.responses, k)
		}
	}
	for k, until := range s.locks {
		if !now.Before(until) {
			delete(s.locks, k)
		}
	}
}
