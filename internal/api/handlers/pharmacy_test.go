package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/medleaf/pharma-platform/internal/domain/pharmacy"
	"github.com/medleaf/pharma-platform/internal/validation"
)

type fakeCatalog struct {
	nextPharmacyID int64
	nextMedicineID int64
	pharmacies     map[int64]*pharmacy.Pharmacy
	medicines      map[int64]*pharmacy.Medicine
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		pharmacies: map[int64]*pharmacy.Pharmacy{},
		medicines:  map[int64]*pharmacy.Medicine{},
	}
}

func (f *fakeCatalog) CreatePharmacy(_ context.Context, p *pharmacy.Pharmacy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for _, existing := range f.pharmacies {
		if existing.LicenseNumber == p.LicenseNumber {
			return validation.NewError(validation.CodeAlreadyExists, "license_number",
				"Pharmacy with this License number already exists.")
		}
	}
	f.nextPharmacyID++
	p.ID = f.nextPharmacyID
	cp := *p
	f.pharmacies[p.ID] = &cp
	return nil
}

func (f *fakeCatalog) GetPharmacy(_ context.Context, id int64) (*pharmacy.Pharmacy, error) {
	p, ok := f.pharmacies[id]
	if !ok {
		return nil, pharmacy.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeCatalog) ListPharmacies(_ context.Context) ([]*pharmacy.Pharmacy, error) {
	var out []*pharmacy.Pharmacy
	for _, p := range f.pharmacies {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCatalog) CreateMedicine(_ context.Context, m *pharmacy.Medicine) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if _, ok := f.pharmacies[m.PharmacyID]; !ok {
		return fmt.Errorf("insert medicine: %w", pharmacy.ErrInvalidReference)
	}
	for _, existing := range f.medicines {
		if existing.PharmacyID == m.PharmacyID && existing.CommercialName == m.CommercialName {
			return validation.NewError(validation.CodeAlreadyExists, "commercial_name",
				"Medicine with this Commercial name and Pharmacy already exists.")
		}
	}
	f.nextMedicineID++
	m.ID = f.nextMedicineID
	cp := *m
	f.medicines[m.ID] = &cp
	return nil
}

func (f *fakeCatalog) GetMedicine(_ context.Context, id int64) (*pharmacy.Medicine, error) {
	m, ok := f.medicines[id]
	if !ok {
		return nil, pharmacy.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeCatalog) UpdateMedicine(_ context.Context, m *pharmacy.Medicine) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if _, ok := f.medicines[m.ID]; !ok {
		return pharmacy.ErrNotFound
	}
	cp := *m
	f.medicines[m.ID] = &cp
	return nil
}

func (f *fakeCatalog) ListMedicines(_ context.Context, pharmacyID int64) ([]*pharmacy.Medicine, error) {
	var out []*pharmacy.Medicine
	for _, m := range f.medicines {
		if m.PharmacyID == pharmacyID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCatalog) SearchMedicines(_ context.Context, query string) ([]*pharmacy.Medicine, error) {
	q := strings.ToLower(query)
	var out []*pharmacy.Medicine
	for _, m := range f.medicines {
		if q == "" ||
			strings.Contains(strings.ToLower(m.CommercialName), q) ||
			strings.Contains(strings.ToLower(m.GenericName), q) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func newCatalogRig(t *testing.T) (*fakeCatalog, chi.Router) {
	t.Helper()
	catalog := newFakeCatalog()
	h := NewPharmacyHandler(catalog, zap.NewNop())
	r := chi.NewRouter()
	r.Mount("/api/pharmacies", h.Routes())
	r.Mount("/api/medicines", h.MedicineRoutes())
	return catalog, r
}

func pharmacyBody() map[string]string {
	return map[string]string{
		"name":           "MedLeaf Central",
		"license_number": "KA-2024-0042",
		"contact_email":  "central@medleaf.example",
		"phone_number":   "+919812345678",
		"street_address": "14 MG Road",
		"city":           "Bengaluru",
		"state":          "Karnataka",
		"postal_code":    "560001",
	}
}

func seedPharmacy(t *testing.T, catalog *fakeCatalog) *pharmacy.Pharmacy {
	t.Helper()
	p := &pharmacy.Pharmacy{
		Name:          "MedLeaf Central",
		LicenseNumber: "KA-2024-0042",
		ContactEmail:  "central@medleaf.example",
		PhoneNumber:   "+919812345678",
		StreetAddress: "14 MG Road",
		City:          "Bengaluru",
		State:         "Karnataka",
		PostalCode:    "560001",
	}
	if err := catalog.CreatePharmacy(context.Background(), p); err != nil {
		t.Fatalf("seed pharmacy: %v", err)
	}
	return p
}

func seedMedicine(t *testing.T, catalog *fakeCatalog, pharmacyID int64, commercial, generic, price string, stock int) *pharmacy.Medicine {
	t.Helper()
	m := &pharmacy.Medicine{
		PharmacyID:     pharmacyID,
		CommercialName: commercial,
		GenericName:    generic,
		Manufacturer:   "Cipla",
		Price:          decimal.RequireFromString(price),
		StockQuantity:  stock,
	}
	if err := catalog.CreateMedicine(context.Background(), m); err != nil {
		t.Fatalf("seed medicine: %v", err)
	}
	return m
}

func TestCreatePharmacy(t *testing.T) {
	_, router := newCatalogRig(t)

	req := httptest.NewRequest(http.MethodPost, "/api/pharmacies/", jsonBody(t, pharmacyBody()))
	rec := serve(router, adminPrincipal(3, true), req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	var got pharmacy.Pharmacy
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.ID == 0 {
		t.Error("id not assigned")
	}
	if got.IsVerified {
		t.Error("new pharmacies must start unverified")
	}
}

func TestCreatePharmacyAccess(t *testing.T) {
	_, router := newCatalogRig(t)

	req := httptest.NewRequest(http.MethodPost, "/api/pharmacies/", jsonBody(t, pharmacyBody()))
	if rec := serve(router, patientPrincipal(7), req); rec.Code != http.StatusForbidden {
		t.Errorf("patient create = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/pharmacies/", jsonBody(t, pharmacyBody()))
	if rec := serve(router, adminPrincipal(3, false), req); rec.Code != http.StatusForbidden {
		t.Errorf("unverified admin create = %d, want 403", rec.Code)
	}
}

func TestCreatePharmacyValidation(t *testing.T) {
	_, router := newCatalogRig(t)

	body := pharmacyBody()
	body["name"] = ""
	body["phone_number"] = "9812345678"

	req := httptest.NewRequest(http.MethodPost, "/api/pharmacies/", jsonBody(t, body))
	rec := serve(router, adminPrincipal(3, true), req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
	}
	errs := decodeErrors(t, rec.Body)
	byField := map[string]string{}
	for _, e := range errs {
		byField[e.Field] = e.Code
	}
	if byField["name"] != string(validation.CodeRequired) {
		t.Errorf("name error = %q, want required", byField["name"])
	}
	if byField["phone_number"] != string(validation.CodeInvalidFormat) {
		t.Errorf("phone error = %q, want invalid_format", byField["phone_number"])
	}
}

func TestCreatePharmacyDuplicateLicense(t *testing.T) {
	catalog, router := newCatalogRig(t)
	seedPharmacy(t, catalog)

	req := httptest.NewRequest(http.MethodPost, "/api/pharmacies/", jsonBody(t, pharmacyBody()))
	rec := serve(router, adminPrincipal(3, true), req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %s)", rec.Code, rec.Body.String())
	}
	errs := decodeErrors(t, rec.Body)
	if len(errs) != 1 || errs[0].Field != "license_number" {
		t.Errorf("errors = %+v", errs)
	}
}

func TestListPharmacies(t *testing.T) {
	catalog, router := newCatalogRig(t)

	// Empty catalog serializes as [], not null.
	rec := serve(router, patientPrincipal(7), httptest.NewRequest(http.MethodGet, "/api/pharmacies/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("empty list body = %q, want []", got)
	}

	seedPharmacy(t, catalog)
	rec = serve(router, patientPrincipal(7), httptest.NewRequest(http.MethodGet, "/api/pharmacies/", nil))
	var list []*pharmacy.Pharmacy
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("list size = %d, want 1", len(list))
	}
}

func TestCreateMedicine(t *testing.T) {
	catalog, router := newCatalogRig(t)
	p := seedPharmacy(t, catalog)

	body := map[string]interface{}{
		"commercial_name": "Dolo 650",
		"generic_name":    "Paracetamol",
		"manufacturer":    "Micro Labs",
		"price":           "31.50",
		"stock_quantity":  120,
	}
	target := fmt.Sprintf("/api/pharmacies/%d/medicines", p.ID)
	rec := serve(router, adminPrincipal(3, true), httptest.NewRequest(http.MethodPost, target, jsonBody(t, body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	var got pharmacy.Medicine
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.PharmacyID != p.ID {
		t.Errorf("pharmacy_id = %d, want %d", got.PharmacyID, p.ID)
	}
	if !got.Price.Equal(decimal.RequireFromString("31.50")) {
		t.Errorf("price = %s, want 31.50", got.Price)
	}
}

func TestCreateMedicineUnknownPharmacy(t *testing.T) {
	_, router := newCatalogRig(t)

	body := map[string]interface{}{
		"commercial_name": "Dolo 650",
		"generic_name":    "Paracetamol",
		"manufacturer":    "Micro Labs",
		"price":           "31.50",
		"stock_quantity":  120,
	}
	rec := serve(router, adminPrincipal(3, true),
		httptest.NewRequest(http.MethodPost, "/api/pharmacies/99/medicines", jsonBody(t, body)))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestCreateMedicineInvalidPrice(t *testing.T) {
	catalog, router := newCatalogRig(t)
	p := seedPharmacy(t, catalog)

	body := map[string]interface{}{
		"commercial_name": "Dolo 650",
		"generic_name":    "Paracetamol",
		"manufacturer":    "Micro Labs",
		"price":           "0.00",
		"stock_quantity":  120,
	}
	target := fmt.Sprintf("/api/pharmacies/%d/medicines", p.ID)
	rec := serve(router, adminPrincipal(3, true), httptest.NewRequest(http.MethodPost, target, jsonBody(t, body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
	}
	errs := decodeErrors(t, rec.Body)
	if len(errs) != 1 || errs[0].Code != string(validation.CodeInvalidPrice) {
		t.Errorf("errors = %+v", errs)
	}
}

func TestListMedicinesUnknownPharmacy(t *testing.T) {
	_, router := newCatalogRig(t)

	rec := serve(router, patientPrincipal(7),
		httptest.NewRequest(http.MethodGet, "/api/pharmacies/99/medicines", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSearchMedicines(t *testing.T) {
	catalog, router := newCatalogRig(t)
	p := seedPharmacy(t, catalog)
	seedMedicine(t, catalog, p.ID, "Dolo 650", "Paracetamol", "31.50", 120)
	seedMedicine(t, catalog, p.ID, "Azithral 500", "Azithromycin", "72.00", 40)

	tests := []struct {
		name   string
		query  string
		want   int
		expect string
	}{
		{"match on generic name", "?search=paracetamol", 1, "Dolo 650"},
		{"match on commercial name", "?search=azithral", 1, "Azithral 500"},
		{"case insensitive", "?search=DOLO", 1, "Dolo 650"},
		{"empty search returns all", "", 2, ""},
		{"no match", "?search=ibuprofen", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(router, patientPrincipal(7),
				httptest.NewRequest(http.MethodGet, "/api/medicines/"+tt.query, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			var list []*pharmacy.Medicine
			if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
				t.Fatalf("decode list: %v", err)
			}
			if len(list) != tt.want {
				t.Fatalf("results = %d, want %d", len(list), tt.want)
			}
			if tt.expect != "" && list[0].CommercialName != tt.expect {
				t.Errorf("first result = %q, want %q", list[0].CommercialName, tt.expect)
			}
		})
	}
}

func TestUpdateMedicine(t *testing.T) {
	catalog, router := newCatalogRig(t)
	p := seedPharmacy(t, catalog)
	m := seedMedicine(t, catalog, p.ID, "Dolo 650", "Paracetamol", "31.50", 120)

	body := map[string]interface{}{
		"commercial_name": "Dolo 650",
		"generic_name":    "Paracetamol",
		"manufacturer":    "Micro Labs",
		"price":           "33.00",
		"stock_quantity":  80,
	}
	target := fmt.Sprintf("/api/medicines/%d", m.ID)
	rec := serve(router, adminPrincipal(3, true), httptest.NewRequest(http.MethodPut, target, jsonBody(t, body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	stored := catalog.medicines[m.ID]
	if !stored.Price.Equal(decimal.RequireFromString("33.00")) || stored.StockQuantity != 80 {
		t.Errorf("stored = %+v", stored)
	}

	rec = serve(router, adminPrincipal(3, true),
		httptest.NewRequest(http.MethodPut, "/api/medicines/99", jsonBody(t, body)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id = %d, want 404", rec.Code)
	}
}
