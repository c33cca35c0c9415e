package prescription

import (
	"encoding/hex"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/medleaf/pharma-platform/internal/validation"
)

const (
	maxSanitizedName = 50
	maxSanitizedFile = 100
	maxStorageKey    = 1024
)

var specialChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeFilename makes a raw client filename safe for use inside a
// storage key: path traversal sequences and separators are stripped,
// Unicode is transliterated to ASCII where possible, spaces become
// underscores, and only alphanumerics, underscore and hyphen survive. The
// base name is capped, the extension is kept lowercase, and a fully
// stripped name falls back to "file".
func SanitizeFilename(filename string) string {
	if filename == "" {
		return "file"
	}

	ext := filepath.Ext(filename)
	name := strings.TrimSuffix(filename, ext)

	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")

	ext = strings.ReplaceAll(ext, "..", "")
	ext = strings.ReplaceAll(ext, "/", "")
	ext = strings.ReplaceAll(ext, "\\", "")
	if ext == "." {
		ext = ""
	}

	name = asciiFold(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = specialChars.ReplaceAllString(name, "")

	if name == "" {
		name = "file"
	}
	if len(name) > maxSanitizedName {
		name = name[:maxSanitizedName]
	}

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	ext = strings.ToLower(ext)

	sanitized := name + ext
	if len(sanitized) > maxSanitizedFile {
		name = name[:maxSanitizedFile-len(ext)]
		sanitized = name + ext
	}
	return sanitized
}

// asciiFold decomposes Unicode so accented letters keep their base form
// (NFKD), then drops every non-ASCII rune.
func asciiFold(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// GeneratePath derives the storage key for an uploaded prescription:
//
//	prescriptions/{owner_id}/{timestamp}_{token}_{sanitized_filename}
//
// The second-granularity timestamp plus 8 hex chars of randomness make
// collisions on concurrent uploads astronomically unlikely without any
// coordination. The key is capped at object-store limits, truncating the
// filename portion first.
func GeneratePath(ownerID int64, filename string) (string, error) {
	if ownerID < 0 {
		return "", validation.NewError(validation.CodeInvalidOwnerID, "owner_id", "User ID must be non-negative")
	}

	sanitized := SanitizeFilename(filename)
	timestamp := time.Now().UTC().Format("20060102_150405")
	u := uuid.New()
	token := hex.EncodeToString(u[:])[:8]

	key := fmt.Sprintf("prescriptions/%d/%s_%s_%s", ownerID, timestamp, token, sanitized)
	if len(key) > maxStorageKey {
		prefix := fmt.Sprintf("prescriptions/%d/%s_%s_", ownerID, timestamp, token)
		if avail := maxStorageKey - len(prefix); avail > 0 {
			ext := filepath.Ext(sanitized)
			name := strings.TrimSuffix(sanitized, ext)
			if avail <= len(ext) {
				name = ""
			} else if len(name) > avail-len(ext) {
				name = name[:avail-len(ext)]
			}
			key = prefix + name + ext
		}
	}
	return key, nil
}

// ExtractOriginalFilename recovers the sanitized client filename from a
// generated storage key by stripping the timestamp and token prefix.
// Unrecognized shapes are returned as the bare base name.
func ExtractOriginalFilename(key string) string {
	filename := path.Base(key)
	parts := strings.Split(filename, "_")
	if len(parts) >= 4 {
		return strings.Join(parts[3:], "_")
	}
	return filename
}
