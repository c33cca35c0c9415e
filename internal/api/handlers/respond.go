// Package handlers provides the HTTP handlers for the platform API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medleaf/pharma-platform/internal/auth"
	"github.com/medleaf/pharma-platform/internal/validation"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeDetail renders a single-message error body: {"detail": "..."}.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeValidationError renders field-attributed failures as
// {"errors":[{"field","code","message"}]}. Uniqueness conflicts get 409,
// everything else 400.
func writeValidationError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if validation.HasCode(err, validation.CodeAlreadyExists) {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]interface{}{"errors": validation.Flatten(err)})
}

// writeDomainError maps a repository error onto the wire: validation
// failures to their field form, the caller's not-found sentinel to 404,
// anything else to a logged 500.
func writeDomainError(w http.ResponseWriter, logger *zap.Logger, err error, notFound error) {
	switch {
	case validation.IsValidation(err):
		writeValidationError(w, err)
	case notFound != nil && errors.Is(err, notFound):
		writeDetail(w, http.StatusNotFound, "Not found.")
	default:
		logger.Error("request failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
	}
}

// decodeJSON decodes the request body into dst, answering 400 itself when
// the body is not valid JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body.")
		return false
	}
	return true
}

// pathID parses the {id} URL parameter, answering 404 itself for
// malformed values. Route ids are positive integers everywhere.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return 0, false
	}
	return id, true
}

// requirePrincipal fetches the authenticated principal, answering 401
// itself when the auth middleware did not run.
func requirePrincipal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
		return nil, false
	}
	return principal, true
}
