package order

import (
	"github.com/shopspring/decimal"

	"github.com/medleaf/pharma-platform/internal/validation"
)

// Item is one order line: a medicine, a quantity, and the unit price
// captured at order time.
type Item struct {
	ID         int64           `json:"id"`
	OrderID    int64           `json:"order_id"`
	MedicineID int64           `json:"medicine_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

// Subtotal computes quantity times unit price in exact decimal
// arithmetic. Always derived, never stored.
func (i *Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Validate checks the line invariants, aggregating failures
func (i *Item) Validate() error {
	var errs validation.Errors

	if i.MedicineID <= 0 {
		errs.Add(validation.CodeRequired, "medicine", "Medicine is required.")
	}
	if i.Quantity < 1 {
		errs.Add(validation.CodeInvalidQuantity, "quantity", "Quantity must be at least 1.")
	}
	if i.UnitPrice.LessThan(minCharge) {
		errs.Add(validation.CodeInvalidPrice, "unit_price",
			"Ensure this value is greater than or equal to 0.01.")
	}

	return errs.ErrOrNil()
}

// ItemsTotal sums line subtotals into an order total, keeping full
// decimal precision across many lines.
func ItemsTotal(items []*Item) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}
