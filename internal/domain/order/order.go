// Package order implements order placement and the sequential fulfillment
// lifecycle. Money is exact decimal throughout; line subtotals and order
// totals never touch binary floating point.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medleaf/pharma-platform/internal/domain/prescription"
	"github.com/medleaf/pharma-platform/internal/validation"
)

// Status represents order fulfillment status
type Status string

const (
	StatusPlaced    Status = "placed"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPlaced, StatusConfirmed, StatusShipped, StatusDelivered:
		return true
	}
	return false
}

// validTransitions maps each status to its allowed successors. Delivered
// is terminal.
var validTransitions = map[Status][]Status{
	StatusPlaced:    {StatusConfirmed},
	StatusConfirmed: {StatusShipped},
	StatusShipped:   {StatusDelivered},
	StatusDelivered: {},
}

const maxReferenceLength = 100

// minCharge is the smallest legal money value for totals and unit prices.
var minCharge = decimal.RequireFromString("0.01")

// PrescriptionStatus reports the current persisted status of a
// prescription. Order validation depends on this capability instead of
// reaching into the prescription store directly, so the verified rule can
// be tested with an in-memory fake.
type PrescriptionStatus interface {
	StatusOf(ctx context.Context, id int64) (prescription.Status, error)
}

// Order represents a customer order backed by a verified prescription
type Order struct {
	ID                 int64           `json:"id"`
	PatientID          int64           `json:"patient_id"`
	PharmacyID         int64           `json:"pharmacy_id"`
	PrescriptionID     int64           `json:"prescription_id"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Status             Status          `json:"status"`
	PaymentReferenceID string          `json:"payment_reference_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	TrackingNumber     string          `json:"tracking_number,omitempty"`
	Items              []*Item         `json:"items,omitempty"`
}

// New creates an order in placed status
func New(patientID, pharmacyID, prescriptionID int64, total decimal.Decimal) *Order {
	return &Order{
		PatientID:      patientID,
		PharmacyID:     pharmacyID,
		PrescriptionID: prescriptionID,
		TotalAmount:    total,
		Status:         StatusPlaced,
		CreatedAt:      time.Now().UTC(),
	}
}

// Validate checks field invariants and the cross-entity rules on every
// create and update, aggregating failures. The verified prescription rule
// consults the injected lookup so it reflects live persisted state; lookup
// infrastructure failures are returned as-is, not as validation errors.
func (o *Order) Validate(ctx context.Context, prescriptions PrescriptionStatus) error {
	var errs validation.Errors

	if o.PatientID <= 0 {
		errs.Add(validation.CodeRequired, "patient", "Patient is required.")
	}
	if o.PharmacyID <= 0 {
		errs.Add(validation.CodeRequired, "pharmacy", "Pharmacy is required.")
	}

	if o.PrescriptionID <= 0 {
		errs.Add(validation.CodeRequired, "prescription", "Prescription is required.")
	} else if prescriptions != nil {
		status, err := prescriptions.StatusOf(ctx, o.PrescriptionID)
		switch {
		case errors.Is(err, prescription.ErrNotFound):
			errs.Add(validation.CodeInvalidValue, "prescription", "Prescription does not exist.")
		case err != nil:
			return fmt.Errorf("look up prescription status: %w", err)
		case status != prescription.StatusVerified:
			errs.Add(validation.CodePrescriptionNotVerified, "prescription",
				"Prescription must be verified before creating an order.")
		}
	}

	if o.TotalAmount.LessThan(minCharge) {
		errs.Add(validation.CodeInvalidAmount, "total_amount",
			"Ensure this value is greater than or equal to 0.01.")
	}

	if !o.Status.Valid() {
		errs.Add(validation.CodeInvalidValue, "status", fmt.Sprintf("%q is not a valid order status.", string(o.Status)))
	}

	if len(o.PaymentReferenceID) > maxReferenceLength {
		errs.Add(validation.CodeTooLong, "payment_reference_id",
			fmt.Sprintf("Payment reference ID cannot exceed %d characters.", maxReferenceLength))
	}
	if len(o.TrackingNumber) > maxReferenceLength {
		errs.Add(validation.CodeTooLong, "tracking_number",
			fmt.Sprintf("Tracking number cannot exceed %d characters.", maxReferenceLength))
	}

	// Checked independently of the transition rule.
	if o.Status == StatusShipped || o.Status == StatusDelivered {
		if strings.TrimSpace(o.TrackingNumber) == "" {
			errs.Add(validation.CodeMissingTrackingNumber, "tracking_number",
				"Tracking number is required when order is shipped or delivered.")
		}
	}

	return errs.ErrOrNil()
}

// ValidateTransition checks a status change against the previously
// persisted status. Orders progress strictly one step at a time; staying
// in the same status is allowed so other fields can be updated. Fresh
// records have no previous status and skip this check.
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return nil
		}
	}
	return validation.NewError(validation.CodeInvalidTransition, "status",
		fmt.Sprintf("Cannot transition from %s to %s. Orders must progress sequentially.", from, to))
}
