package prescription

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/medleaf/pharma-platform/internal/validation"
)

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")

func TestValidateSizeBoundaries(t *testing.T) {
	v := NewFileValidator(DefaultFileConfig())

	tests := []struct {
		name     string
		size     int64
		wantCode validation.Code
	}{
		{"empty file", 0, validation.CodeEmptyFile},
		{"one byte", 1, ""},
		{"exactly 10 MiB", 10 << 20, ""},
		{"one byte over", 10<<20 + 1, validation.CodeFileTooLarge},
		{"11 MiB", 11 << 20, validation.CodeFileTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateSize(tt.size)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("ValidateSize(%d) = %v, want nil", tt.size, err)
				}
				return
			}
			if !validation.HasCode(err, tt.wantCode) {
				t.Errorf("ValidateSize(%d) = %v, want code %s", tt.size, err, tt.wantCode)
			}
		})
	}
}

func TestFileTooLargeMessage(t *testing.T) {
	v := NewFileValidator(DefaultFileConfig())
	err := v.ValidateSize(11 << 20)
	if err == nil {
		t.Fatal("11 MiB accepted")
	}
	msg := err.Error()
	if !strings.Contains(msg, "11.00 MB") || !strings.Contains(msg, "10 MB") {
		t.Errorf("message should carry actual and maximum size: %q", msg)
	}
}

func TestValidateExtension(t *testing.T) {
	v := NewFileValidator(DefaultFileConfig())

	tests := []struct {
		name     string
		filename string
		wantCode validation.Code
	}{
		{"jpg", "scan.jpg", ""},
		{"jpeg", "scan.jpeg", ""},
		{"png", "scan.png", ""},
		{"pdf", "scan.pdf", ""},
		{"uppercase", "SCAN.JPG", ""},
		{"mixed case", "Scan.Pdf", ""},
		{"missing filename", "", validation.CodeDisallowedExt},
		{"no extension", "scan", validation.CodeDisallowedExt},
		{"gif", "scan.gif", validation.CodeDisallowedExt},
		{"executable", "scan.exe", validation.CodeDisallowedExt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateExtension(tt.filename)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("ValidateExtension(%q) = %v, want nil", tt.filename, err)
				}
				return
			}
			if !validation.HasCode(err, tt.wantCode) {
				t.Errorf("ValidateExtension(%q) = %v, want code %s", tt.filename, err, tt.wantCode)
			}
		})
	}
}

func TestMimeTypeSpoofing(t *testing.T) {
	v := NewFileValidator(DefaultFileConfig())

	// A real JPEG renamed to .pdf must be caught by sniffing.
	r := bytes.NewReader(jpegBytes(t))
	err := v.ValidateMIMEType(r, "scan.pdf")
	if !validation.HasCode(err, validation.CodeMimeTypeSpoofing) {
		t.Fatalf("jpeg-as-pdf = %v, want mime_type_spoofing", err)
	}
}

func TestDisallowedMimeType(t *testing.T) {
	v := NewFileValidator(DefaultFileConfig())

	// GIF content under an allowed extension sniffs to a type outside the
	// allow-list entirely.
	gif := []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;")
	err := v.ValidateMIMEType(bytes.NewReader(gif), "scan.jpg")
	if !validation.HasCode(err, validation.CodeDisallowedMimeType) {
		t.Fatalf("gif content = %v, want disallowed_mime_type", err)
	}
}

func TestMimeTypeMatches(t *testing.T) {
	v := NewFileValidator(DefaultFileConfig())

	tests := []struct {
		name     string
		content  []byte
		filename string
	}{
		{"jpeg", jpegBytes(t), "scan.jpg"},
		{"jpeg alt ext", jpegBytes(t), "scan.jpeg"},
		{"png", pngBytes(t), "scan.png"},
		{"pdf", pdfBytes, "scan.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.ValidateMIMEType(bytes.NewReader(tt.content), tt.filename); err != nil {
				t.Errorf("ValidateMIMEType(%s) = %v, want nil", tt.name, err)
			}
		})
	}
}

func TestValidateIntegrity(t *testing.T) {
	v := NewFileValidator(DefaultFileConfig())

	good := jpegBytes(t)
	if err := v.ValidateIntegrity(bytes.NewReader(good), "scan.jpg"); err != nil {
		t.Fatalf("intact jpeg rejected: %v", err)
	}

	// Truncation keeps the magic bytes but breaks decoding.
	truncated := good[:len(good)/4]
	err := v.ValidateIntegrity(bytes.NewReader(truncated), "scan.jpg")
	if !validation.HasCode(err, validation.CodeCorruptFile) {
		t.Errorf("truncated jpeg = %v, want corrupt_file", err)
	}

	err = v.ValidateIntegrity(bytes.NewReader([]byte("not a pdf at all")), "scan.pdf")
	if !validation.HasCode(err, validation.CodeCorruptFile) {
		t.Errorf("pdf without magic = %v, want corrupt_file", err)
	}

	if err := v.ValidateIntegrity(bytes.NewReader(pdfBytes), "scan.pdf"); err != nil {
		t.Errorf("pdf with magic rejected: %v", err)
	}
}

func TestValidateFilePipeline(t *testing.T) {
	v := NewFileValidator(DefaultFileConfig())

	content := jpegBytes(t)
	r := bytes.NewReader(content)
	if err := v.ValidateFile(r, "prescription scan.jpg", int64(len(content))); err != nil {
		t.Fatalf("valid upload rejected: %v", err)
	}
}

func TestPipelineFailsFast(t *testing.T) {
	v := NewFileValidator(DefaultFileConfig())

	// Empty size must win before the extension check gets a chance.
	r := bytes.NewReader(nil)
	err := v.ValidateFile(r, "scan.exe", 0)
	if !validation.HasCode(err, validation.CodeEmptyFile) {
		t.Fatalf("pipeline returned %v, want empty_file first", err)
	}
	if validation.HasCode(err, validation.CodeDisallowedExt) {
		t.Error("pipeline aggregated across stages")
	}
}

func TestStreamRewoundAfterValidation(t *testing.T) {
	v := NewFileValidator(DefaultFileConfig())
	content := jpegBytes(t)

	// Success path.
	r := bytes.NewReader(content)
	if err := v.ValidateFile(r, "scan.jpg", int64(len(content))); err != nil {
		t.Fatalf("ValidateFile: %v", err)
	}
	if pos, _ := r.Seek(0, io.SeekCurrent); pos != 0 {
		t.Errorf("stream at %d after success, want 0", pos)
	}

	// Failure path.
	r = bytes.NewReader(content)
	if err := v.ValidateFile(r, "scan.pdf", int64(len(content))); err == nil {
		t.Fatal("spoofed upload accepted")
	}
	if pos, _ := r.Seek(0, io.SeekCurrent); pos != 0 {
		t.Errorf("stream at %d after failure, want 0", pos)
	}

	// Callers must be able to read the full content again.
	again, err := io.ReadAll(r)
	if err != nil || !bytes.Equal(again, content) {
		t.Error("stream not re-readable after validation")
	}
}

func TestCustomLimits(t *testing.T) {
	v := NewFileValidator(FileConfig{
		MaxBytes:          1 << 20,
		AllowedExtensions: []string{".png"},
		AllowedMIMETypes:  []string{"image/png"},
	})

	if err := v.ValidateSize(2 << 20); !validation.HasCode(err, validation.CodeFileTooLarge) {
		t.Errorf("custom max ignored: %v", err)
	}
	if err := v.ValidateExtension("scan.jpg"); !validation.HasCode(err, validation.CodeDisallowedExt) {
		t.Errorf("custom extension list ignored: %v", err)
	}
}
