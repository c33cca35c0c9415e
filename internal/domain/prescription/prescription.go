// Package prescription implements the prescription verification workflow:
// upload gatekeeping, storage key generation, and the pending to
// verified/rejected status lifecycle.
package prescription

import (
	"fmt"
	"strings"
	"time"

	"github.com/medleaf/pharma-platform/internal/validation"
)

// Status represents prescription verification status
type Status string

const (
	StatusPending  Status = "pending_verification"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusRejected:
		return true
	}
	return false
}

const maxImagePathLength = 500

// Prescription represents an uploaded prescription image and its
// verification state. ImagePath is the opaque storage key assigned at
// upload time.
type Prescription struct {
	ID              int64      `json:"id"`
	PatientID       int64      `json:"patient_id"`
	ImagePath       string     `json:"image_path"`
	Status          Status     `json:"status"`
	UploadedAt      time.Time  `json:"uploaded_at"`
	VerifierID      *int64     `json:"verifier_id,omitempty"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

// New creates a prescription in pending verification for a fresh upload
func New(patientID int64, imagePath string) *Prescription {
	return &Prescription{
		PatientID:  patientID,
		ImagePath:  imagePath,
		Status:     StatusPending,
		UploadedAt: time.Now().UTC(),
	}
}

// Validate checks field invariants, collecting every violation into one
// report. Transition legality against persisted state is a separate check,
// see ValidateTransition.
func (p *Prescription) Validate() error {
	var errs validation.Errors

	if p.ImagePath == "" {
		errs.Add(validation.CodeRequired, "image_path", "Prescription image path is required.")
	} else if len(p.ImagePath) > maxImagePathLength {
		errs.Add(validation.CodeTooLong, "image_path",
			fmt.Sprintf("Prescription image path cannot exceed %d characters (current: %d).", maxImagePathLength, len(p.ImagePath)))
	}

	if !p.Status.Valid() {
		errs.Add(validation.CodeInvalidValue, "status", fmt.Sprintf("%q is not a valid prescription status.", string(p.Status)))
	}

	if p.Status == StatusRejected {
		if strings.TrimSpace(p.RejectionReason) == "" {
			errs.Add(validation.CodeMissingRejectionReason, "rejection_reason",
				"Rejection reason is required when status is rejected.")
		}
	} else if strings.TrimSpace(p.RejectionReason) != "" {
		errs.Add(validation.CodeUnexpectedRejectionReason, "rejection_reason",
			"Rejection reason should be empty when status is not rejected.")
	}

	return errs.ErrOrNil()
}

// ValidateTransition checks a status change against the previously
// persisted status. Verified and rejected never revert to pending; staying
// in the same status is always allowed so other fields can be updated.
// Fresh records have no previous status and skip this check.
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	if (from == StatusVerified || from == StatusRejected) && to == StatusPending {
		return validation.NewError(validation.CodeInvalidTransition, "status",
			fmt.Sprintf("Cannot transition from %s back to %s.", from, to))
	}
	return nil
}

// Verify marks the prescription verified by a pharmacy admin. Any stale
// rejection reason is cleared so the field invariant holds.
func (p *Prescription) Verify(verifierID int64) error {
	if err := ValidateTransition(p.Status, StatusVerified); err != nil {
		return err
	}
	now := time.Now().UTC()
	p.Status = StatusVerified
	p.VerifierID = &verifierID
	p.VerifiedAt = &now
	p.RejectionReason = ""
	return p.Validate()
}

// Reject marks the prescription rejected with a reason
func (p *Prescription) Reject(verifierID int64, reason string) error {
	if err := ValidateTransition(p.Status, StatusRejected); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return validation.NewError(validation.CodeMissingRejectionReason, "rejection_reason",
			"Rejection reason is required when status is rejected.")
	}
	now := time.Now().UTC()
	p.Status = StatusRejected
	p.VerifierID = &verifierID
	p.VerifiedAt = &now
	p.RejectionReason = reason
	return p.Validate()
}
