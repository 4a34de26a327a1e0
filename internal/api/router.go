package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/baharkarakas/wallet-ledger/internal/api/handlers"
	"github.com/baharkarakas/wallet-ledger/internal/auth"
	"github.com/baharkarakas/wallet-ledger/internal/config"
	"github.com/baharkarakas/wallet-ledger/internal/metrics"
	"github.com/baharkarakas/wallet-ledger/internal/middleware"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/services"
)

type RouterDeps struct {
	Cfg         config.Config
	Tokens      *auth.TokenManager
	UserSvc     *services.UserService
	BalanceSvc  *services.BalanceService
	TxnSvc      *services.TransactionService
	Idempotency middleware.IdempotencyStore
	// Ready reports whether backing stores are reachable. Nil means always ready.
	Ready func(r *http.Request) error
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics, middleware.RateLimit(d.Cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", middleware.HeaderIdempotencyKey, middleware.HeaderRequestID},
		ExposedHeaders: []string{middleware.HeaderRequestID, "X-Idempotency-Hit"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r); err != nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	authMW := middleware.NewAuthMiddleware(d.Tokens, d.Cfg.Env)
	authH := handlers.NewAuthHandler(d.UserSvc)
	txnH := handlers.NewTransactionHandler(d.TxnSvc)
	balH := handlers.NewBalanceHandler(d.BalanceSvc)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authH.Register)
		r.Post("/auth/login", authH.Login)
		r.Post("/auth/refresh", authH.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(authMW.Auth)

			r.Get("/auth/me", authH.Me)
			r.Get("/users/{id}/balance", balH.Get)

			r.Route("/transactions", func(r chi.Router) {
				submit := http.Handler(http.HandlerFunc(txnH.Submit))
				if d.Idempotency != nil {
					submit = middleware.Idempotency(d.Idempotency, middleware.IdempotencyOptions{TTL: 24 * time.Hour})(submit)
				}
				r.Method(http.MethodPost, "/", submit)
				r.Get("/", txnH.List)
				r.Get("/{id}", txnH.Get)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleAdmin))
				r.Get("/transactions/pending", txnH.ListPending)
				r.Post("/transactions/{id}/settle", txnH.Resettle)
			})
		})
	})

	return r
}
