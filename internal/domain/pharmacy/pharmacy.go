// Package pharmacy implements the pharmacy and medicine catalog. A
// pharmacy is the fulfilling party for orders; medicines are priced per
// pharmacy and unique by commercial name within one.
package pharmacy

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/medleaf/pharma-platform/internal/validation"
)

const (
	maxNameLength    = 200
	maxLicenseLength = 50
	maxEmailLength   = 254
	maxStreetLength  = 255
	maxCityLength    = 100
	maxStateLength   = 100
	maxPostalLength  = 10
)

// phonePattern accepts Indian numbers only: +91 followed by ten digits.
var phonePattern = regexp.MustCompile(`^\+91\d{10}$`)

// Pharmacy represents a registered pharmacy
type Pharmacy struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	LicenseNumber string    `json:"license_number"`
	ContactEmail  string    `json:"contact_email"`
	PhoneNumber   string    `json:"phone_number"`
	StreetAddress string    `json:"street_address"`
	City          string    `json:"city"`
	State         string    `json:"state"`
	PostalCode    string    `json:"postal_code"`
	IsVerified    bool      `json:"is_verified"`
	RegisteredAt  time.Time `json:"registered_at"`
}

// Normalize trims surrounding whitespace on every text field and
// lowercases the contact email, which keeps email uniqueness
// case-insensitive at the store level. Validate calls it first, so
// callers only need it when persisting without validating.
func (p *Pharmacy) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.LicenseNumber = strings.TrimSpace(p.LicenseNumber)
	p.ContactEmail = strings.ToLower(strings.TrimSpace(p.ContactEmail))
	p.PhoneNumber = strings.TrimSpace(p.PhoneNumber)
	p.StreetAddress = strings.TrimSpace(p.StreetAddress)
	p.City = strings.TrimSpace(p.City)
	p.State = strings.TrimSpace(p.State)
	p.PostalCode = strings.TrimSpace(p.PostalCode)
}

// Validate normalizes the pharmacy and checks field invariants,
// aggregating all failures into one report.
func (p *Pharmacy) Validate() error {
	p.Normalize()

	var errs validation.Errors

	checkText(&errs, "name", p.Name, "Pharmacy name is required.", maxNameLength)
	checkText(&errs, "license_number", p.LicenseNumber, "License number is required.", maxLicenseLength)
	checkText(&errs, "contact_email", p.ContactEmail, "Contact email is required.", maxEmailLength)
	checkText(&errs, "street_address", p.StreetAddress, "Street address is required.", maxStreetLength)
	checkText(&errs, "city", p.City, "City is required.", maxCityLength)
	checkText(&errs, "state", p.State, "State is required.", maxStateLength)
	checkText(&errs, "postal_code", p.PostalCode, "Postal code is required.", maxPostalLength)

	if p.PhoneNumber == "" {
		errs.Add(validation.CodeRequired, "phone_number", "Phone number is required.")
	} else if !phonePattern.MatchString(p.PhoneNumber) {
		errs.Add(validation.CodeInvalidFormat, "phone_number",
			"Phone number must be in format: '+91XXXXXXXXXX' (Indian numbers only)")
	}

	if p.ContactEmail != "" && !strings.Contains(p.ContactEmail, "@") {
		errs.Add(validation.CodeInvalidFormat, "contact_email", "Enter a valid email address.")
	}

	return errs.ErrOrNil()
}

// checkText reports a missing value or one over its character limit.
func checkText(errs *validation.Errors, field, value, requiredMsg string, max int) {
	if value == "" {
		errs.Add(validation.CodeRequired, field, requiredMsg)
		return
	}
	if utf8.RuneCountInString(value) > max {
		errs.Add(validation.CodeTooLong, field,
			fmt.Sprintf("Ensure this field has no more than %d characters.", max))
	}
}
