package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/msgforge/internal/actions"
	"github.com/kalambet/msgforge/internal/jobs"
	"github.com/kalambet/msgforge/internal/retry"
	"github.com/kalambet/msgforge/internal/storage"
	"github.com/kalambet/msgforge/internal/templates"
	"github.com/kalambet/msgforge/internal/versions"
)

const maxRequestBodySize = 1 << 20 // 1MB

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON reads and validates a request body. It writes the 400 response
// itself and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	if err := v.Struct(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", formatValidationErrors(err))
		return false
	}
	return true
}

func formatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, e := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", e.Namespace(), e.Tag()))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// writeServiceError maps domain errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound) && !retry.IsPermanent(err):
		httpError(w, http.StatusNotFound, "not_found", "%s not found", what)
	case errors.Is(err, jobs.ErrInvalidTransition),
		errors.Is(err, storage.ErrConflict),
		errors.Is(err, actions.ErrNotRunning):
		httpError(w, http.StatusConflict, "conflict", "%s: %v", what, err)
	case retry.IsPermanent(err),
		errors.Is(err, versions.ErrInvalidInput),
		errors.Is(err, templates.ErrUnknownAssetType),
		errors.Is(err, actions.ErrUnknownAction):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, actions.ErrShuttingDown):
		httpError(w, http.StatusServiceUnavailable, "unavailable", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%s: %v", what, err)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
