package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/baharkarakas/wallet-ledger/internal/api/httpx"
	"github.com/baharkarakas/wallet-ledger/internal/api/validate"
	"github.com/baharkarakas/wallet-ledger/internal/errs"
	"github.com/baharkarakas/wallet-ledger/internal/middleware"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/services"
)

type TransactionHandler struct {
	txns *services.TransactionService
}

func NewTransactionHandler(txns *services.TransactionService) *TransactionHandler {
	return &TransactionHandler{txns: txns}
}

type submitReq struct {
	UserID  string  `json:"userId" validate:"required"`
	Type    string  `json:"type" validate:"required,oneof=DEBIT CREDIT"`
	Amount  int64   `json:"amount" validate:"gte=1"`
	Remarks *string `json:"remarks,omitempty" validate:"omitempty,max=255"`
}

type submitResp struct {
	TransactionID string                   `json:"transactionId"`
	Status        models.TransactionStatus `json:"status"`
}

// Submit accepts a DEBIT or CREDIT and answers before it is settled.
func (h *TransactionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.FromCtx(r.Context())
	if !ok {
		httpx.Error(w, r, errs.ErrUnauthorized)
		return
	}
	var req submitReq
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if req.UserID == "" {
		req.UserID = caller.UserID
	}
	if err := validate.Struct(req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if req.UserID != caller.UserID && caller.Role != models.RoleAdmin {
		httpx.Error(w, r, errs.ErrForbidden)
		return
	}

	tx, err := h.txns.Submit(r.Context(), services.SubmitInput{
		UserID:  req.UserID,
		Type:    models.TransactionType(req.Type),
		Amount:  req.Amount,
		Remarks: req.Remarks,
	})
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, submitResp{TransactionID: tx.ID, Status: tx.Status})
}

func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.FromCtx(r.Context())
	if !ok {
		httpx.Error(w, r, errs.ErrUnauthorized)
		return
	}
	tx, err := h.txns.Get(r.Context(), caller.UserID, caller.Role, chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tx)
}

// List returns the caller's transactions, newest first.
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.FromCtx(r.Context())
	if !ok {
		httpx.Error(w, r, errs.ErrUnauthorized)
		return
	}
	limit, offset := pageParams(r)
	txs, err := h.txns.ListByUser(r.Context(), caller.UserID, limit, offset)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	httpx.WriteJSON(w, http.StatusOK, txs)
}

// ListPending serves reconciliation: transactions still PENDING after older_than.
func (h *TransactionHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	olderThan := time.Minute
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			httpx.Error(w, r, errs.Invalid("older_than", "must be a duration like 5m"))
			return
		}
		olderThan = d
	}
	limit, _ := pageParams(r)
	txs, err := h.txns.ListPending(r.Context(), olderThan, limit)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	httpx.WriteJSON(w, http.StatusOK, txs)
}

func (h *TransactionHandler) Resettle(w http.ResponseWriter, r *http.Request) {
	tx, err := h.txns.Resettle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, submitResp{TransactionID: tx.ID, Status: tx.Status})
}

func pageParams(r *http.Request) (limit, offset int) {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
