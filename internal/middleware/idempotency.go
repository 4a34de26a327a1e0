package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/api/httpx"
	idem "github.com/baharkarakas/wallet-ledger/internal/repository/redis"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*idem.CachedResponse, error)
	Save(ctx context.Context, key string, resp idem.CachedResponse, ttl time.Duration) error
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type IdempotencyOptions struct {
	TTL     time.Duration // how long a response is replayed
	LockTTL time.Duration // upper bound on an in-flight reservation
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// Keys are scoped to the caller and route. Responses below 500 are stored;
// a key whose first request is still running gets 409. Store outages fail open.
func Idempotency(store IdempotencyStore, opts IdempotencyOptions) func(http.Handler) http.Handler {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderIdempotencyKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 255 {
				httpx.WriteError(w, http.StatusUnprocessableEntity, "validation_failed", "Idempotency-Key too long", nil)
				return
			}
			ctx := r.Context()
			u, _ := FromCtx(ctx)
			scoped := u.UserID + ":" + r.Method + ":" + r.URL.Path + ":" + key

			cached, err := store.Get(ctx, scoped)
			if err != nil {
				slog.ErrorContext(ctx, "idempotency lookup failed", "err", err)
				next.ServeHTTP(w, r)
				return
			}
			if cached != nil {
				replay(w, cached)
				return
			}

			reserved, err := store.Reserve(ctx, scoped, opts.LockTTL)
			if err != nil {
				slog.ErrorContext(ctx, "idempotency reserve failed", "err", err)
				next.ServeHTTP(w, r)
				return
			}
			if !reserved {
				httpx.WriteError(w, http.StatusConflict, "idempotency_in_progress", "a request with this Idempotency-Key is in progress", nil)
				return
			}
			defer func() {
				if err := store.Release(context.WithoutCancel(ctx), scoped); err != nil {
					slog.WarnContext(ctx, "idempotency release failed", "err", err)
				}
			}()

			// The first request may have finished between the lookup and the reservation.
			if cached, err := store.Get(ctx, scoped); err == nil && cached != nil {
				replay(w, cached)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= 500 {
				return
			}
			resp := idem.CachedResponse{
				StatusCode: rec.statusCode,
				Body:       rec.body.Bytes(),
				Headers:    map[string]string{"Content-Type": rec.Header().Get("Content-Type")},
			}
			if err := store.Save(context.WithoutCancel(ctx), scoped, resp, opts.TTL); err != nil {
				slog.ErrorContext(ctx, "idempotency save failed", "err", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, c *idem.CachedResponse) {
	for k, v := range c.Headers {
		if v != "" {
			w.Header().Set(k, v)
		}
	}
	w.Header().Set("X-Idempotency-Hit", "true")
	w.WriteHeader(c.StatusCode)
	_, _ = w.Write(c.Body)
}
