package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/baharkarakas/wallet-ledger/internal/api/httpx"
	"github.com/baharkarakas/wallet-ledger/internal/errs"
	"github.com/baharkarakas/wallet-ledger/internal/middleware"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/services"
)

type BalanceHandler struct {
	balances *services.BalanceService
}

func NewBalanceHandler(balances *services.BalanceService) *BalanceHandler {
	return &BalanceHandler{balances: balances}
}

func (h *BalanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.FromCtx(r.Context())
	if !ok {
		httpx.Error(w, r, errs.ErrUnauthorized)
		return
	}
	id := chi.URLParam(r, "id")
	if id != caller.UserID && caller.Role != models.RoleAdmin {
		httpx.Error(w, r, errs.ErrForbidden)
		return
	}
	b, err := h.balances.Current(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}
