package validation

import (
	"errors"
	"fmt"
	"testing"
)

func TestSingleError(t *testing.T) {
	err := NewError(CodeInvalidQuantity, "quantity", "Quantity must be at least 1.")

	if got := err.Error(); got != "quantity: Quantity must be at least 1." {
		t.Errorf("Error() = %q", got)
	}
	if !HasCode(err, CodeInvalidQuantity) {
		t.Error("HasCode should find the error's own code")
	}
	if HasCode(err, CodeInvalidPrice) {
		t.Error("HasCode matched a different code")
	}
	if !IsValidation(err) {
		t.Error("IsValidation should be true for *Error")
	}
}

func TestErrorsAggregate(t *testing.T) {
	var es Errors
	if es.ErrOrNil() != nil {
		t.Fatal("empty collection should yield nil")
	}

	es.Add(CodeRequired, "image_path", "Image path is required.")
	es.Add(CodeMissingRejectionReason, "rejection_reason", "Rejection reason is required when status is rejected.")

	err := es.ErrOrNil()
	if err == nil {
		t.Fatal("non-empty collection should yield an error")
	}
	flat := Flatten(err)
	if len(flat) != 2 {
		t.Fatalf("Flatten returned %d errors, want 2", len(flat))
	}
	if flat[0].Field != "image_path" || flat[1].Field != "rejection_reason" {
		t.Errorf("fields out of order: %v, %v", flat[0].Field, flat[1].Field)
	}
	if !HasCode(err, CodeMissingRejectionReason) {
		t.Error("HasCode should search the aggregate")
	}
}

func TestFlattenWrapped(t *testing.T) {
	inner := NewError(CodeFileTooLarge, "file", "File size exceeds maximum.")
	wrapped := fmt.Errorf("rejecting upload: %w", inner)

	flat := Flatten(wrapped)
	if len(flat) != 1 || flat[0].Code != CodeFileTooLarge {
		t.Fatalf("Flatten(wrapped) = %v", flat)
	}
}

func TestNonValidationError(t *testing.T) {
	err := errors.New("connection refused")
	if IsValidation(err) {
		t.Error("plain error treated as validation failure")
	}
	if Flatten(err) != nil {
		t.Error("Flatten should return nil for plain errors")
	}
}
