// Package account implements user accounts, credential hashing, and the
// password strength policy. Two roles exist: patients upload prescriptions
// and place orders, pharmacy administrators manage catalogs and fulfill.
package account

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/medleaf/pharma-platform/internal/validation"
)

// UserType distinguishes patients from pharmacy administrators
type UserType string

const (
	TypePatient       UserType = "patient"
	TypePharmacyAdmin UserType = "pharmacy_admin"
)

// Valid reports whether t is a known user type
func (t UserType) Valid() bool {
	return t == TypePatient || t == TypePharmacyAdmin
}

// userTypes lists the accepted values in message order.
var userTypes = []string{string(TypePatient), string(TypePharmacyAdmin)}

// phonePattern accepts Indian numbers only: +91 followed by ten digits.
var phonePattern = regexp.MustCompile(`^\+91\d{10}$`)

// User represents a platform account. Email doubles as the login
// identifier and is stored lowercase so uniqueness is case-insensitive.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	PhoneNumber  string    `json:"phone_number"`
	UserType     UserType  `json:"user_type"`
	IsVerified   bool      `json:"is_verified"`
	IsActive     bool      `json:"is_active"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	DateJoined   time.Time `json:"date_joined"`
}

// New creates an unverified active account.
func New(email, phone string, userType UserType) *User {
	u := &User{
		Email:       email,
		PhoneNumber: phone,
		UserType:    userType,
		IsActive:    true,
		DateJoined:  time.Now().UTC(),
	}
	u.Normalize()
	return u
}

// Normalize trims whitespace and lowercases the email. Validate calls it
// first; repositories rely on the stored email already being lowercase.
func (u *User) Normalize() {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.PhoneNumber = strings.TrimSpace(u.PhoneNumber)
	u.FirstName = strings.TrimSpace(u.FirstName)
	u.LastName = strings.TrimSpace(u.LastName)
}

// Validate normalizes the account and checks field invariants,
// aggregating all failures. Password strength is a separate concern; see
// ValidatePassword.
func (u *User) Validate() error {
	u.Normalize()

	var errs validation.Errors

	if u.Email == "" {
		errs.Add(validation.CodeRequired, "email", "Email address is required.")
	} else if !strings.Contains(u.Email, "@") {
		errs.Add(validation.CodeInvalidFormat, "email", "Enter a valid email address.")
	}

	if u.PhoneNumber == "" {
		errs.Add(validation.CodeRequired, "phone_number", "Phone number is required.")
	} else if !phonePattern.MatchString(u.PhoneNumber) {
		errs.Add(validation.CodeInvalidFormat, "phone_number",
			"Phone number must be in format: '+91XXXXXXXXXX' (Indian numbers only)")
	}

	if u.UserType == "" {
		errs.Add(validation.CodeRequired, "user_type", "User type is required.")
	} else if !u.UserType.Valid() {
		errs.Add(validation.CodeInvalidValue, "user_type",
			fmt.Sprintf("User type must be one of: %s", strings.Join(userTypes, ", ")))
	}

	return errs.ErrOrNil()
}
