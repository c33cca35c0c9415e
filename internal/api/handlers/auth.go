package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medleaf/pharma-platform/internal/api/middleware"
	"github.com/medleaf/pharma-platform/internal/auth"
	"github.com/medleaf/pharma-platform/internal/domain/account"
	"github.com/medleaf/pharma-platform/internal/validation"
)

const msgBadCredentials = "No active account found with the given credentials"

// AccountStore is the account persistence the auth endpoints need.
type AccountStore interface {
	Create(ctx context.Context, u *account.User) error
	GetByEmail(ctx context.Context, email string) (*account.User, error)
	GetByID(ctx context.Context, id int64) (*account.User, error)
	UpdateProfile(ctx context.Context, u *account.User) error
	UpdatePassword(ctx context.Context, id int64, hash string) error
}

// AuthHandler handles registration and token endpoints.
type AuthHandler struct {
	accounts AccountStore
	tokens   *auth.Manager
	logger   *zap.Logger
}

// NewAuthHandler creates a new handler
func NewAuthHandler(accounts AccountStore, tokens *auth.Manager, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, tokens: tokens, logger: logger}
}

// Routes wires the auth endpoints. The token endpoints take their rate
// limit middlewares from the caller; requireAuth guards the /me routes.
func (h *AuthHandler) Routes(loginLimit, refreshLimit, requireAuth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/register", h.Register)
	r.With(loginLimit).Post("/token", h.Token)
	r.With(refreshLimit).Post("/token/refresh", h.Refresh)
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/me", h.Me)
		r.Put("/me", h.UpdateMe)
		r.Post("/me/password", h.ChangePassword)
	})
	return r
}

// RegisterRequest is the request body for creating an account
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phone_number"`
	UserType    string `json:"user_type"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u := account.New(req.Email, req.PhoneNumber, account.UserType(req.UserType))
	u.FirstName = req.FirstName
	u.LastName = req.LastName
	u.Normalize()

	var errs validation.Errors
	if err := u.Validate(); err != nil {
		errs = append(errs, validation.Flatten(err)...)
	}
	if err := account.ValidatePassword(req.Password); err != nil {
		errs = append(errs, validation.Flatten(err)...)
	}
	if err := errs.ErrOrNil(); err != nil {
		writeValidationError(w, err)
		return
	}

	hash, err := account.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("password hash failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	u.PasswordHash = hash

	if err := h.accounts.Create(ctx, u); err != nil {
		writeDomainError(w, h.logger, err, account.ErrNotFound)
		return
	}

	h.logger.Info("account registered",
		zap.Int64("id", u.ID),
		zap.String("user_type", string(u.UserType)),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	writeJSON(w, http.StatusCreated, u)
}

// TokenRequest is the request body for the login endpoint
type TokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Token handles POST /api/auth/token. The response carries an access and
// a refresh token. Unknown emails and wrong passwords answer identically.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.accounts.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			writeDetail(w, http.StatusUnauthorized, msgBadCredentials)
			return
		}
		h.logger.Error("login lookup failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	if !u.IsActive || !account.CheckPassword(u.PasswordHash, req.Password) {
		writeDetail(w, http.StatusUnauthorized, msgBadCredentials)
		return
	}

	pair, err := h.tokens.IssuePair(u)
	if err != nil {
		h.logger.Error("token issue failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// RefreshRequest is the request body for the refresh endpoint
type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

// Refresh handles POST /api/auth/token/refresh. A valid refresh token
// yields a full new pair; claims are rebuilt from the current account row
// so a deactivated user cannot refresh forever.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	principal, err := h.tokens.ParseRefresh(req.Refresh)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Given token not valid for any token type")
		return
	}

	u, err := h.accounts.GetByID(ctx, principal.UserID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			writeDetail(w, http.StatusUnauthorized, msgBadCredentials)
			return
		}
		h.logger.Error("refresh lookup failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	if !u.IsActive {
		writeDetail(w, http.StatusUnauthorized, msgBadCredentials)
		return
	}

	pair, err := h.tokens.IssuePair(u)
	if err != nil {
		h.logger.Error("token issue failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

// Me handles GET /api/auth/me, returning the authenticated account.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	u, err := h.accounts.GetByID(ctx, principal.UserID)
	if err != nil {
		writeDomainError(w, h.logger, err, account.ErrNotFound)
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// ProfileRequest is the request body for updating the mutable profile
// fields. Email and user type are fixed at registration.
type ProfileRequest struct {
	PhoneNumber string `json:"phone_number"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
}

// UpdateMe handles PUT /api/auth/me, replacing the profile fields of the
// authenticated account.
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	u, err := h.accounts.GetByID(ctx, principal.UserID)
	if err != nil {
		writeDomainError(w, h.logger, err, account.ErrNotFound)
		return
	}

	var req ProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u.PhoneNumber = req.PhoneNumber
	u.FirstName = req.FirstName
	u.LastName = req.LastName

	if err := h.accounts.UpdateProfile(ctx, u); err != nil {
		writeDomainError(w, h.logger, err, account.ErrNotFound)
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// PasswordChangeRequest is the request body for changing the password
type PasswordChangeRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword handles POST /api/auth/me/password. The current
// password must be supplied; the new one passes the strength policy.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req PasswordChangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.accounts.GetByID(ctx, principal.UserID)
	if err != nil {
		writeDomainError(w, h.logger, err, account.ErrNotFound)
		return
	}

	if !account.CheckPassword(u.PasswordHash, req.OldPassword) {
		writeValidationError(w, validation.NewError(validation.CodeInvalidValue,
			"old_password", "Old password is not correct."))
		return
	}
	if err := account.ValidatePassword(req.NewPassword); err != nil {
		writeValidationError(w, err)
		return
	}

	hash, err := account.HashPassword(req.NewPassword)
	if err != nil {
		h.logger.Error("password hash failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	if err := h.accounts.UpdatePassword(ctx, principal.UserID, hash); err != nil {
		writeDomainError(w, h.logger, err, account.ErrNotFound)
		return
	}

	h.logger.Info("password changed",
		zap.Int64("user_id", principal.UserID),
		zap.String("request_id", middleware.GetRequestID(ctx)))
	writeDetail(w, http.StatusOK, "Password changed.")
}
