package prescription

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/medleaf/pharma-platform/internal/validation"
)

// FileConfig holds the upload gatekeeping limits
type FileConfig struct {
	// MaxBytes is the inclusive upper bound on file size.
	MaxBytes int64
	// AllowedExtensions are lowercase extensions including the dot.
	AllowedExtensions []string
	// AllowedMIMETypes are the content types accepted after sniffing.
	AllowedMIMETypes []string
}

// DefaultFileConfig returns the production limits for prescription uploads
func DefaultFileConfig() FileConfig {
	return FileConfig{
		MaxBytes:          10 << 20,
		AllowedExtensions: []string{".jpg", ".jpeg", ".png", ".pdf"},
		AllowedMIMETypes:  []string{"image/jpeg", "image/png", "application/pdf"},
	}
}

// extensionMIME maps an allowed extension to the content type its bytes
// must sniff as.
var extensionMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".pdf":  "application/pdf",
}

var pdfMagic = []byte("%PDF-")

// FileValidator gatekeeps every prescription upload before a storage key is
// assigned. Checks run in a fixed order and stop at the first failure; the
// input stream is left at offset zero on every exit path so callers can
// read the file again.
type FileValidator struct {
	cfg FileConfig
}

// NewFileValidator creates a validator with the given limits
func NewFileValidator(cfg FileConfig) *FileValidator {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultFileConfig().MaxBytes
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = DefaultFileConfig().AllowedExtensions
	}
	if len(cfg.AllowedMIMETypes) == 0 {
		cfg.AllowedMIMETypes = DefaultFileConfig().AllowedMIMETypes
	}
	return &FileValidator{cfg: cfg}
}

// MaxBytes returns the inclusive size limit.
func (v *FileValidator) MaxBytes() int64 {
	return v.cfg.MaxBytes
}

// ValidateFile runs the full pipeline: size, extension, MIME sniffing,
// integrity. First failure wins.
func (v *FileValidator) ValidateFile(r io.ReadSeeker, filename string, size int64) error {
	defer rewind(r)

	if err := v.ValidateSize(size); err != nil {
		return err
	}
	if err := v.ValidateExtension(filename); err != nil {
		return err
	}
	if err := v.ValidateMIMEType(r, filename); err != nil {
		return err
	}
	return v.ValidateIntegrity(r, filename)
}

// ValidateSize rejects empty and oversized files. The maximum is inclusive.
func (v *FileValidator) ValidateSize(size int64) error {
	if size == 0 {
		return validation.NewError(validation.CodeEmptyFile, "file",
			"File is empty. Please upload a valid prescription file.")
	}
	if size > v.cfg.MaxBytes {
		actualMB := float64(size) / (1 << 20)
		maxMB := float64(v.cfg.MaxBytes) / (1 << 20)
		return validation.NewError(validation.CodeFileTooLarge, "file",
			fmt.Sprintf("File size (%.2f MB) exceeds maximum allowed size (%.0f MB).", actualMB, maxMB))
	}
	return nil
}

// ValidateExtension checks the trailing extension against the allow-list,
// case-insensitively.
func (v *FileValidator) ValidateExtension(filename string) error {
	if filename == "" {
		return validation.NewError(validation.CodeDisallowedExt, "file", "Filename is missing.")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return validation.NewError(validation.CodeDisallowedExt, "file",
			fmt.Sprintf("File must have a valid extension (%s).", strings.Join(v.cfg.AllowedExtensions, ", ")))
	}
	for _, allowed := range v.cfg.AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return validation.NewError(validation.CodeDisallowedExt, "file",
		fmt.Sprintf("File extension '%s' is not allowed. Allowed extensions: %s",
			ext, strings.Join(v.cfg.AllowedExtensions, ", ")))
}

// ValidateMIMEType sniffs the actual content type from the leading bytes
// and rejects types outside the allow-list or disagreeing with the
// extension. The declared type is never consulted.
func (v *FileValidator) ValidateMIMEType(r io.ReadSeeker, filename string) error {
	defer rewind(r)
	rewind(r)

	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return fmt.Errorf("read file header: %w", err)
	}
	detected := sniffContentType(head[:n])

	allowed := false
	for _, m := range v.cfg.AllowedMIMETypes {
		if detected == m {
			allowed = true
			break
		}
	}
	if !allowed {
		return validation.NewError(validation.CodeDisallowedMimeType, "file",
			fmt.Sprintf("File type '%s' is not allowed. Allowed types: %s",
				detected, strings.Join(v.cfg.AllowedMIMETypes, ", ")))
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if expected, ok := extensionMIME[ext]; ok && detected != expected {
		return validation.NewError(validation.CodeMimeTypeSpoofing, "file",
			fmt.Sprintf("File extension '%s' does not match detected file type '%s'. Possible MIME type spoofing detected.",
				ext, detected))
	}
	return nil
}

// ValidateIntegrity rejects corrupt or truncated files. Images must fully
// decode; PDFs must carry the magic header.
func (v *FileValidator) ValidateIntegrity(r io.ReadSeeker, filename string) error {
	defer rewind(r)
	rewind(r)

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		if _, err := jpeg.Decode(r); err != nil {
			return validation.NewError(validation.CodeCorruptFile, "file",
				fmt.Sprintf("Image file is corrupted or invalid: %v", err))
		}
	case ".png":
		if _, err := png.Decode(r); err != nil {
			return validation.NewError(validation.CodeCorruptFile, "file",
				fmt.Sprintf("Image file is corrupted or invalid: %v", err))
		}
	case ".pdf":
		head := make([]byte, len(pdfMagic))
		if _, err := io.ReadFull(r, head); err != nil || !bytes.HasPrefix(head, pdfMagic) {
			return validation.NewError(validation.CodeCorruptFile, "file",
				"PDF file is invalid or corrupted. Missing PDF header.")
		}
	}
	return nil
}

// sniffContentType wraps the stdlib sniffer and drops any charset suffix
// so results compare cleanly against the allow-list.
func sniffContentType(head []byte) string {
	ct := http.DetectContentType(head)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

func rewind(r io.Seeker) {
	_, _ = r.Seek(0, io.SeekStart)
}
