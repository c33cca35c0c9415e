package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medleaf/pharma-platform/internal/domain/prescription"
	"github.com/medleaf/pharma-platform/internal/storage"
)

// FilesHandler serves stored objects through signed URLs. It backs the
// URLs minted by the local store; deployments on the HTTP media store
// serve downloads from the store itself.
type FilesHandler struct {
	files  storage.Store
	signer *storage.Signer
	logger *zap.Logger
}

// NewFilesHandler creates a new handler
func NewFilesHandler(files storage.Store, signer *storage.Signer, logger *zap.Logger) *FilesHandler {
	return &FilesHandler{files: files, signer: signer, logger: logger}
}

// Routes returns the handler routes
func (h *FilesHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/*", h.Download)
	return r
}

// Download handles GET /api/files/{key}?expires=...&signature=...
// The signature covers the key and expiry, so neither can be altered.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key := chi.URLParam(r, "*")
	expires, err := strconv.ParseInt(r.URL.Query().Get("expires"), 10, 64)
	if err != nil || !h.signer.Verify(key, expires, r.URL.Query().Get("signature")) {
		writeDetail(w, http.StatusForbidden, "Signed URL is invalid or has expired.")
		return
	}

	rc, err := h.files.Open(ctx, key)
	if err != nil {
		writeDomainError(w, h.logger, err, storage.ErrNotFound)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if name := prescription.ExtractOriginalFilename(key); name != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	}

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("download interrupted", zap.String("key", key), zap.Error(err))
	}
}
