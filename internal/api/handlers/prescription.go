package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/medleaf/pharma-platform/internal/api/middleware"
	"github.com/medleaf/pharma-platform/internal/domain/account"
	"github.com/medleaf/pharma-platform/internal/domain/prescription"
	"github.com/medleaf/pharma-platform/internal/observability/metrics"
	"github.com/medleaf/pharma-platform/internal/storage"
	"github.com/medleaf/pharma-platform/internal/validation"
)

// uploadFormOverhead is headroom on top of the file size limit for the
// multipart framing and text fields.
const uploadFormOverhead = 1 << 20

// PrescriptionStore is the prescription persistence the handler needs.
type PrescriptionStore interface {
	Create(ctx context.Context, p *prescription.Prescription) error
	GetByID(ctx context.Context, id int64) (*prescription.Prescription, error)
	GetOwned(ctx context.Context, id, patientID int64) (*prescription.Prescription, error)
	ListByPatient(ctx context.Context, patientID int64) ([]*prescription.Prescription, error)
	ListByStatus(ctx context.Context, status prescription.Status) ([]*prescription.Prescription, error)
	Verify(ctx context.Context, id, verifierID int64) (*prescription.Prescription, error)
	Reject(ctx context.Context, id, verifierID int64, reason string) (*prescription.Prescription, error)
}

// PrescriptionHandler handles prescription upload and verification
// endpoints.
type PrescriptionHandler struct {
	repo      PrescriptionStore
	files     storage.Store
	validator *prescription.FileValidator
	urlExpiry time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewPrescriptionHandler creates a new handler. urlExpiry bounds the
// lifetime of minted download URLs.
func NewPrescriptionHandler(repo PrescriptionStore, files storage.Store, validator *prescription.FileValidator, urlExpiry time.Duration, m *metrics.Metrics, logger *zap.Logger) *PrescriptionHandler {
	return &PrescriptionHandler{
		repo:      repo,
		files:     files,
		validator: validator,
		urlExpiry: urlExpiry,
		metrics:   m,
		logger:    logger,
	}
}

// Routes returns the handler routes. Upload is patient only; verify and
// reject require a verified pharmacy admin.
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(middleware.RequirePatient).Post("/", h.Upload)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.With(middleware.RequireVerifiedPharmacyAdmin).Post("/{id}/verify", h.Verify)
	r.With(middleware.RequireVerifiedPharmacyAdmin).Post("/{id}/reject", h.Reject)
	return r
}

// prescriptionResponse decorates a prescription with the original upload
// filename and, where requested, an expiring download URL.
type prescriptionResponse struct {
	*prescription.Prescription
	OriginalFilename string `json:"original_filename,omitempty"`
	DownloadURL      string `json:"download_url,omitempty"`
}

func (h *PrescriptionHandler) respond(p *prescription.Prescription, withURL bool) prescriptionResponse {
	resp := prescriptionResponse{
		Prescription:     p,
		OriginalFilename: prescription.ExtractOriginalFilename(p.ImagePath),
	}
	if withURL {
		url, err := h.files.SignedURL(p.ImagePath, h.urlExpiry)
		if err != nil {
			h.logger.Error("signed url failed", zap.String("key", p.ImagePath), zap.Error(err))
		} else {
			resp.DownloadURL = url
		}
	}
	return resp
}

// Upload handles POST /api/prescriptions: multipart field "file" runs
// through the validation pipeline, lands in the object store under a
// generated key, and becomes a pending verification row.
func (h *PrescriptionHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("prescription-handler").Start(r.Context(), "upload_prescription")
	defer span.End()

	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.validator.MaxBytes()+uploadFormOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.countUploadFailure(validation.NewError(validation.CodeFileTooLarge, "file", ""))
			writeValidationError(w, validation.NewError(validation.CodeFileTooLarge, "file",
				fmt.Sprintf("File size exceeds maximum allowed size (%d MB).", h.validator.MaxBytes()>>20)))
			return
		}
		writeValidationError(w, validation.NewError(validation.CodeRequired, "file",
			"Prescription file is required."))
		return
	}
	defer file.Close()

	span.SetAttributes(
		attribute.String("filename", header.Filename),
		attribute.Int64("size", header.Size),
	)

	if err := h.validator.ValidateFile(file, header.Filename, header.Size); err != nil {
		h.countUploadFailure(err)
		writeDomainError(w, h.logger, err, nil)
		return
	}

	key, err := prescription.GeneratePath(principal.UserID, header.Filename)
	if err != nil {
		writeDomainError(w, h.logger, err, nil)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := h.files.Put(ctx, key, file, header.Size, contentType); err != nil {
		h.logger.Error("prescription store failed", zap.String("key", key), zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	p := prescription.New(principal.UserID, key)
	if err := h.repo.Create(ctx, p); err != nil {
		// The row never existed; remove the orphaned object.
		if derr := h.files.Delete(ctx, key); derr != nil {
			h.logger.Error("orphaned object cleanup failed", zap.String("key", key), zap.Error(derr))
		}
		writeDomainError(w, h.logger, err, nil)
		return
	}

	if h.metrics != nil {
		h.metrics.PrescriptionsUploaded.Inc()
	}
	h.logger.Info("prescription uploaded",
		zap.Int64("id", p.ID),
		zap.Int64("patient_id", p.PatientID),
		zap.String("key", key),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	writeJSON(w, http.StatusCreated, h.respond(p, true))
}

// countUploadFailure records which pipeline stage rejected the file.
func (h *PrescriptionHandler) countUploadFailure(err error) {
	if h.metrics == nil {
		return
	}
	if fields := validation.Flatten(err); len(fields) > 0 {
		h.metrics.UploadValidationFailures.WithLabelValues(string(fields[0].Code)).Inc()
	}
}

// List handles GET /api/prescriptions. Patients see their own uploads;
// pharmacy admins see the pending verification queue, oldest first.
func (h *PrescriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var (
		list []*prescription.Prescription
		err  error
	)
	switch principal.UserType {
	case account.TypePatient:
		list, err = h.repo.ListByPatient(ctx, principal.UserID)
	case account.TypePharmacyAdmin:
		list, err = h.repo.ListByStatus(ctx, prescription.StatusPending)
	default:
		writeDetail(w, http.StatusForbidden, "You do not have permission to perform this action.")
		return
	}
	if err != nil {
		writeDomainError(w, h.logger, err, prescription.ErrNotFound)
		return
	}

	out := make([]prescriptionResponse, 0, len(list))
	for _, p := range list {
		out = append(out, h.respond(p, false))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get handles GET /api/prescriptions/{id}, including an expiring download
// URL. Patients can only fetch their own prescriptions.
func (h *PrescriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var (
		p   *prescription.Prescription
		err error
	)
	if principal.UserType == account.TypePatient {
		p, err = h.repo.GetOwned(ctx, id, principal.UserID)
	} else {
		p, err = h.repo.GetByID(ctx, id)
	}
	if err != nil {
		writeDomainError(w, h.logger, err, prescription.ErrNotFound)
		return
	}

	writeJSON(w, http.StatusOK, h.respond(p, true))
}

// Verify handles POST /api/prescriptions/{id}/verify.
func (h *PrescriptionHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	p, err := h.repo.Verify(ctx, id, principal.UserID)
	if err != nil {
		writeDomainError(w, h.logger, err, prescription.ErrNotFound)
		return
	}

	if h.metrics != nil {
		h.metrics.PrescriptionsVerified.Inc()
	}
	h.logger.Info("prescription verified",
		zap.Int64("id", p.ID),
		zap.Int64("verifier_id", principal.UserID),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	writeJSON(w, http.StatusOK, h.respond(p, false))
}

// RejectRequest is the request body for rejecting a prescription
type RejectRequest struct {
	RejectionReason string `json:"rejection_reason"`
}

// Reject handles POST /api/prescriptions/{id}/reject. A reason is
// required.
func (h *PrescriptionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req RejectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.repo.Reject(ctx, id, principal.UserID, req.RejectionReason)
	if err != nil {
		writeDomainError(w, h.logger, err, prescription.ErrNotFound)
		return
	}

	if h.metrics != nil {
		h.metrics.PrescriptionsRejected.Inc()
	}
	h.logger.Info("prescription rejected",
		zap.Int64("id", p.ID),
		zap.Int64("verifier_id", principal.UserID),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	writeJSON(w, http.StatusOK, h.respond(p, false))
}
