package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/auth"
	"github.com/baharkarakas/wallet-ledger/internal/repository/memory"
	idem "github.com/baharkarakas/wallet-ledger/internal/repository/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whoami(w http.ResponseWriter, r *http.Request) {
	u, _ := FromCtx(r.Context())
	_, _ = w.Write([]byte(u.UserID + "/" + u.Role))
}

func TestAuth(t *testing.T) {
	tm := auth.NewTokenManager("a", "r", "wallet-ledger", time.Minute, time.Hour)
	h := NewAuthMiddleware(tm, "prod").Auth(http.HandlerFunc(whoami))
	pair, err := tm.GeneratePair("u1", "admin")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"refresh token", "Bearer " + pair.RefreshToken, http.StatusUnauthorized, ""},
		{"dev token outside dev", "Bearer dev-u9", http.StatusUnauthorized, ""},
		{"valid", "Bearer " + pair.AccessToken, http.StatusOK, "u1/admin"},
		{"lowercase scheme", "bearer " + pair.AccessToken, http.StatusOK, "u1/admin"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tc.status, rr.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rr.Body.String())
			}
		})
	}
}

func TestAuth_DevShortcut(t *testing.T) {
	h := NewAuthMiddleware(nil, "dev").Auth(http.HandlerFunc(whoami))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer dev-u9")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "u9/user", rr.Body.String())
}

func TestRequireRole(t *testing.T) {
	h := RequireRole("admin")(http.HandlerFunc(whoami))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req.WithContext(WithUser(req.Context(), UserCtx{UserID: "u1", Role: "user"})))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req.WithContext(WithUser(req.Context(), UserCtx{UserID: "u1", Role: "admin"})))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestIdempotency_ReplaysResponse(t *testing.T) {
	var calls atomic.Int32
	h := Idempotency(memory.NewIdempotencyStore(), IdempotencyOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"n":` + string(rune('0'+n)) + `}`))
	}))

	send := func(key, user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", nil)
		req.Header.Set(HeaderIdempotencyKey, key)
		req = req.WithContext(WithUser(req.Context(), UserCtx{UserID: user}))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	first := send("k1", "u1")
	second := send("k1", "u1")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("X-Idempotency-Hit"))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, int32(1), calls.Load())

	// Same key from another user is a different request.
	send("k1", "u2")
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotency_ServerErrorsAreNotCached(t *testing.T) {
	var calls atomic.Int32
	h := Idempotency(memory.NewIdempotencyStore(), IdempotencyOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set(HeaderIdempotencyKey, "k1")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestIdempotency_InFlightConflict(t *testing.T) {
	store := memory.NewIdempotencyStore()
	entered := make(chan struct{})
	release := make(chan struct{})
	h := Idempotency(store, IdempotencyOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusCreated)
	}))
	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set(HeaderIdempotencyKey, "k1")
		return req
	}

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(httptest.NewRecorder(), newReq())
		close(done)
	}()
	<-entered

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newReq())
	assert.Equal(t, http.StatusConflict, rr.Code)

	close(release)
	<-done
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, newReq())
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "true", rr.Header().Get("X-Idempotency-Hit"))
}

// parkingStore holds the first lookup that misses until resume is closed.
type parkingStore struct {
	*memory.IdempotencyStore
	lookups atomic.Int32
	missed  chan struct{}
	resume  chan struct{}
}

func (p *parkingStore) Get(ctx context.Context, key string) (*idem.CachedResponse, error) {
	resp, err := p.IdempotencyStore.Get(ctx, key)
	if p.lookups.Add(1) == 1 && resp == nil {
		close(p.missed)
		<-p.resume
	}
	return resp, err
}

func TestIdempotency_ReservationAfterFirstRequestFinished(t *testing.T) {
	store := &parkingStore{
		IdempotencyStore: memory.NewIdempotencyStore(),
		missed:           make(chan struct{}),
		resume:           make(chan struct{}),
	}
	var calls atomic.Int32
	h := Idempotency(store, IdempotencyOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"transactionId":"t1"}`))
	}))
	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set(HeaderIdempotencyKey, "k1")
		return req
	}

	late := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.ServeHTTP(late, newReq())
		close(done)
	}()
	<-store.missed

	first := httptest.NewRecorder()
	h.ServeHTTP(first, newReq())
	require.Equal(t, http.StatusCreated, first.Code)

	close(store.resume)
	<-done

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, http.StatusCreated, late.Code)
	assert.Equal(t, "true", late.Header().Get("X-Idempotency-Hit"))
	assert.JSONEq(t, `{"transactionId":"t1"}`, late.Body.String())
}

func TestNewAuthMiddleware_WarnsWhenDevTokensEnabled(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))

	NewAuthMiddleware(nil, "prod")
	assert.Empty(t, buf.String())

	NewAuthMiddleware(nil, "dev")
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "dev bearer tokens enabled")
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seen = RequestIDFrom(r.Context()) }))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rr.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "abc", seen)
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	codes := []int{}
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestRecover(t *testing.T) {
	h := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") }))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
