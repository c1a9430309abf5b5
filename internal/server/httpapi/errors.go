package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/llmgate/internal/common"
)

var statusOf = []struct {
	err    error
	status int
}{
	{common.ErrInsufficientCredits, http.StatusPaymentRequired},
	{common.ErrValidation, http.StatusBadRequest},
	{common.ErrorNotFound, http.StatusNotFound},
	{common.ErrRateLimited, http.StatusTooManyRequests},
	{common.ErrProviderUnavailable, http.StatusBadGateway},
	{common.ErrPersistenceUnavailable, http.StatusServiceUnavailable},
	{common.ErrorForbidden, http.StatusForbidden},
	{common.ErrorUnauthorized, http.StatusUnauthorized},
	{common.ErrInvalidToken, http.StatusUnauthorized},
	{common.ErrTokenExpired, http.StatusUnauthorized},
	// 499 is the de facto "client closed request" code.
	{common.ErrCancelled, 499},
}

func httpStatus(err error) int {
	for _, s := range statusOf {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
