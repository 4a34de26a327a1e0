package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/baharkarakas/wallet-ledger/internal/errs"
)

const maxBodyBytes = 1 << 20

type APIError struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, code, msg string, details interface{}) {
	WriteJSON(w, status, APIError{
		Error:   msg,
		Code:    code,
		Details: details,
	})
}

// Error maps a service error onto the HTTP error contract.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var ve *errs.ValidationError
	switch {
	case errors.As(err, &ve):
		WriteError(w, http.StatusUnprocessableEntity, "validation_failed", "validation failed", ve.Fields)
	case errors.Is(err, errs.ErrInsufficientBalance):
		WriteError(w, http.StatusBadRequest, "insufficient_balance", err.Error(), nil)
	case errors.Is(err, errs.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "not found", nil)
	case errors.Is(err, errs.ErrUnauthorized):
		WriteError(w, http.StatusUnauthorized, "unauthorized", "unauthorized", nil)
	case errors.Is(err, errs.ErrForbidden):
		WriteError(w, http.StatusForbidden, "forbidden", "forbidden", nil)
	case errors.Is(err, errs.ErrConflict):
		WriteError(w, http.StatusConflict, "conflict", err.Error(), nil)
	default:
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

// DecodeJSON reads a single JSON object, rejecting unknown fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.Invalid("body", "is required")
		}
		return errs.Invalid("body", "malformed JSON: "+err.Error())
	}
	return nil
}
