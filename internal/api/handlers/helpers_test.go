package handlers

import (
	"bytes"
	"encoding/json"
	"image"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/medleaf/pharma-platform/internal/auth"
	"github.com/medleaf/pharma-platform/internal/domain/account"
)

// asPrincipal injects an authenticated principal the way the JWT
// middleware would, so handler tests can skip token plumbing.
func asPrincipal(p *auth.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

func patientPrincipal(id int64) *auth.Principal {
	return &auth.Principal{UserID: id, Email: "patient@example.com", UserType: account.TypePatient}
}

func adminPrincipal(id int64, verified bool) *auth.Principal {
	return &auth.Principal{UserID: id, Email: "admin@example.com", UserType: account.TypePharmacyAdmin, IsVerified: verified}
}

// serve routes one request through a handler subtree as the given
// principal and returns the recorded response.
func serve(h http.Handler, p *auth.Principal, req *http.Request) *httptest.ResponseRecorder {
	if p != nil {
		h = asPrincipal(p)(h)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type fieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// decodeErrors unpacks a {"errors":[...]} validation response body.
func decodeErrors(t *testing.T, body *bytes.Buffer) []fieldError {
	t.Helper()
	var resp struct {
		Errors []fieldError `json:"errors"`
	}
	if err := json.Unmarshal(body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", body.String(), err)
	}
	return resp.Errors
}

// decodeDetail unpacks a {"detail":"..."} error body.
func decodeDetail(t *testing.T, body *bytes.Buffer) string {
	t.Helper()
	var resp struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body.Bytes(), &resp); err != nil {
		t.Fatalf("decode detail body %q: %v", body.String(), err)
	}
	return resp.Detail
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	return bytes.NewReader(raw)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// multipartUpload builds a POST request with one file part named "file".
func multipartUpload(t *testing.T, target, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
