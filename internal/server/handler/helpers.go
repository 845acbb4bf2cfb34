// Package handler contains the HTTP handlers for the protocol API. Handlers
// translate between wire JSON (big integers as decimal strings, addresses as
// 0x-hex) and the domain types, and map sentinel errors to HTTP status
// codes.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duration-fi/durationd/internal/domain"
)

// writeJSON marshals v and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps sentinel errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrUnauthorizedCaller),
		errors.Is(err, domain.ErrInvalidSignature):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNonceUsed),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrBadState),
		errors.Is(err, domain.ErrInSettlement),
		errors.Is(err, domain.ErrLockHeld),
		errors.Is(err, domain.ErrNotExpired):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidDuration),
		errors.Is(err, domain.ErrAssetNotAllowed),
		errors.Is(err, domain.ErrCommitmentExpired),
		errors.Is(err, domain.ErrInvalidCommitment),
		errors.Is(err, domain.ErrZeroMinReturn),
		errors.Is(err, domain.ErrDeadlineElapsed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotExercisable),
		errors.Is(err, domain.ErrSettlementFailed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrInvalidPrice):
		writeError(w, http.StatusServiceUnavailable, "price unavailable")
	default:
		logger.ErrorContext(r.Context(), "handler: internal error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseListOpts extracts pagination parameters. Defaults: limit=50, max 500.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{Limit: limit, Offset: offset}
}

// pathParam extracts a named path parameter (Go 1.22 routing).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// parseAddress decodes a 0x-hex address, rejecting malformed input instead
// of silently zero-filling it.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// parseBig decodes a decimal string into a big.Int. Empty means nil.
func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

// bigStr renders a big.Int as a decimal string, empty for nil.
func bigStr(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
