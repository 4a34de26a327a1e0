package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyRepository_Miss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectGet("idempotency:k1").RedisNil()

	got, err := NewIdempotencyRepository(db).Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepository_SaveThenGet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	resp := CachedResponse{StatusCode: 201, Body: []byte(`{"transactionId":"t1"}`)}
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	mock.ExpectSet("idempotency:k1", raw, time.Hour).SetVal("OK")
	mock.ExpectGet("idempotency:k1").SetVal(string(raw))

	r := NewIdempotencyRepository(db)
	require.NoError(t, r.Save(context.Background(), "k1", resp, time.Hour))
	got, err := r.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 201, got.StatusCode)
	assert.JSONEq(t, `{"transactionId":"t1"}`, string(got.Body))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepository_Reserve(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectSetNX("idempotency:k1:lock", "1", time.Minute).SetVal(true)
	mock.ExpectSetNX("idempotency:k1:lock", "1", time.Minute).SetVal(false)
	mock.ExpectDel("idempotency:k1:lock").SetVal(1)

	r := NewIdempotencyRepository(db)
	ok, err := r.Reserve(context.Background(), "k1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.Reserve(context.Background(), "k1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, r.Release(context.Background(), "k1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepository_Error(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectGet("idempotency:k1").SetErr(errors.New("connection refused"))

	_, err := NewIdempotencyRepository(db).Get(context.Background(), "k1")
	assert.Error(t, err)
}
