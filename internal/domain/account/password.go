package account

import (
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"

	"github.com/medleaf/pharma-platform/internal/validation"
)

const minPasswordLength = 8

var (
	uppercasePattern = regexp.MustCompile(`[A-Z]`)
	digitPattern     = regexp.MustCompile(`[0-9]`)
	specialPattern   = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)
	numericPattern   = regexp.MustCompile(`^[0-9]+$`)
)

// passwordRule reports one strength requirement. A nil message means the
// password satisfies the rule.
type passwordRule func(password string) string

// passwordRules are checked in order; every failing rule is reported, so
// a weak password surfaces all of its problems at once.
var passwordRules = []passwordRule{
	func(p string) string {
		if len(p) < minPasswordLength {
			return fmt.Sprintf("This password is too short. It must contain at least %d characters.", minPasswordLength)
		}
		return ""
	},
	func(p string) string {
		if numericPattern.MatchString(p) {
			return "This password is entirely numeric."
		}
		return ""
	},
	func(p string) string {
		if !uppercasePattern.MatchString(p) {
			return "Password must contain at least one uppercase letter."
		}
		return ""
	},
	func(p string) string {
		if !digitPattern.MatchString(p) {
			return "Password must contain at least one digit."
		}
		return ""
	},
	func(p string) string {
		if !specialPattern.MatchString(p) {
			return `Password must contain at least one special character (!@#$%^&*(),.?":{}|<>).`
		}
		return ""
	},
}

// ValidatePassword checks a candidate password against the strength
// policy, aggregating every failing requirement.
func ValidatePassword(password string) error {
	var errs validation.Errors
	for _, rule := range passwordRules {
		if msg := rule(password); msg != "" {
			errs.Add(validation.CodeWeakPassword, "password", msg)
		}
	}
	return errs.ErrOrNil()
}

// HashPassword derives a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
