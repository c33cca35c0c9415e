package middleware

import (
	"net/http"

	"github.com/medleaf/pharma-platform/internal/auth"
	"github.com/medleaf/pharma-platform/internal/domain/account"
)

// Permission denial messages, matched to the platform's public API.
const (
	msgNoCredentials = "Authentication credentials were not provided."
	msgInvalidToken  = "Given token not valid for any token type"
	msgPatientsOnly  = "Only patients can access this resource."
	msgAdminsOnly    = "Only pharmacy administrators can access this resource."
	msgVerifiedOnly  = "Only verified pharmacy administrators can access this resource."
)

// JWTAuth validates the bearer access token and stores the principal in
// the request context.
func JWTAuth(manager *auth.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeDetail(w, http.StatusUnauthorized, msgNoCredentials)
				return
			}

			principal, err := manager.ParseAccess(token)
			if err != nil {
				writeDetail(w, http.StatusUnauthorized, msgInvalidToken)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequirePatient limits a route to patient accounts.
func RequirePatient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.FromContext(r.Context())
		if !ok {
			writeDetail(w, http.StatusUnauthorized, msgNoCredentials)
			return
		}
		if principal.UserType != account.TypePatient {
			writeDetail(w, http.StatusForbidden, msgPatientsOnly)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePharmacyAdmin limits a route to pharmacy administrator accounts.
func RequirePharmacyAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.FromContext(r.Context())
		if !ok {
			writeDetail(w, http.StatusUnauthorized, msgNoCredentials)
			return
		}
		if principal.UserType != account.TypePharmacyAdmin {
			writeDetail(w, http.StatusForbidden, msgAdminsOnly)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireVerifiedPharmacyAdmin limits a route to pharmacy administrators
// whose accounts passed verification.
func RequireVerifiedPharmacyAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.FromContext(r.Context())
		if !ok {
			writeDetail(w, http.StatusUnauthorized, msgNoCredentials)
			return
		}
		if principal.UserType != account.TypePharmacyAdmin || !principal.IsVerified {
			writeDetail(w, http.StatusForbidden, msgVerifiedOnly)
			return
		}
		next.ServeHTTP(w, r)
	})
}
