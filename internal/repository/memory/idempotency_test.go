package memory

import (
	"context"
	"testing"
	"time"

	idem "github.com/baharkarakas/wallet-ledger/internal/repository/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyStore_ReplayAndExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewIdempotencyStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(ctx, "k", idem.CachedResponse{StatusCode: 201, Body: []byte("ok")}, time.Hour))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 201, got.StatusCode)

	now = now.Add(2 * time.Hour)
	got, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIdempotencyStore_SweepsExpiredEntries(t *testing.T) {
	ctx := context.Background()
	s := NewIdempotencyStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, k, idem.CachedResponse{StatusCode: 200}, time.Minute))
		ok, err := s.Reserve(ctx, k, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Len(t, s.responses, 3)
	assert.Len(t, s.locks, 3)

	now = now.Add(10 * time.Minute)
	ok, err := s.Reserve(ctx, "fresh", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Empty(t, s.responses)
	assert.Equal(t, map[string]time.Time{"fresh": now.Add(time.Second)}, s.locks)
}
