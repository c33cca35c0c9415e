package pharmacy

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medleaf/pharma-platform/internal/validation"
)

// minPrice is the smallest legal medicine price.
var minPrice = decimal.RequireFromString("0.01")

// Medicine represents a medicine sold by one pharmacy. Commercial names
// are unique per pharmacy; the same name may appear across pharmacies.
type Medicine struct {
	ID             int64           `json:"id"`
	PharmacyID     int64           `json:"pharmacy_id"`
	CommercialName string          `json:"commercial_name"`
	GenericName    string          `json:"generic_name"`
	Manufacturer   string          `json:"manufacturer"`
	Price          decimal.Decimal `json:"price"`
	StockQuantity  int             `json:"stock_quantity"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Validate checks field invariants, aggregating all failures.
func (m *Medicine) Validate() error {
	m.CommercialName = strings.TrimSpace(m.CommercialName)
	m.GenericName = strings.TrimSpace(m.GenericName)
	m.Manufacturer = strings.TrimSpace(m.Manufacturer)

	var errs validation.Errors

	checkText(&errs, "commercial_name", m.CommercialName, "Commercial name is required.", maxNameLength)
	checkText(&errs, "generic_name", m.GenericName, "Generic name is required.", maxNameLength)
	checkText(&errs, "manufacturer", m.Manufacturer, "Manufacturer is required.", maxNameLength)

	if m.Price.LessThan(minPrice) {
		errs.Add(validation.CodeInvalidPrice, "price", "Price must be greater than 0.")
	}
	if m.StockQuantity < 0 {
		errs.Add(validation.CodeInvalidValue, "stock_quantity", "Stock quantity cannot be negative.")
	}
	if m.PharmacyID <= 0 {
		errs.Add(validation.CodeRequired, "pharmacy", "Pharmacy is required.")
	}

	return errs.ErrOrNil()
}

// InStock reports whether at least qty units are available.
func (m *Medicine) InStock(qty int) bool {
	return qty > 0 && m.StockQuantity >= qty
}
