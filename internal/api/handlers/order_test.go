package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/medleaf/pharma-platform/internal/domain/order"
	"github.com/medleaf/pharma-platform/internal/domain/pharmacy"
	"github.com/medleaf/pharma-platform/internal/domain/prescription"
	"github.com/medleaf/pharma-platform/internal/validation"
)

// fakeOrders mirrors the repository's discipline: line items and the
// order validate on create, and status changes are checked against the
// stored row.
type fakeOrders struct {
	nextID        int64
	byID          map[int64]*order.Order
	prescriptions order.PrescriptionStatus
}

func newFakeOrders(prescriptions order.PrescriptionStatus) *fakeOrders {
	return &fakeOrders{byID: map[int64]*order.Order{}, prescriptions: prescriptions}
}

func (f *fakeOrders) Create(ctx context.Context, o *order.Order) error {
	for _, item := range o.Items {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	if err := o.Validate(ctx, f.prescriptions); err != nil {
		return err
	}
	f.nextID++
	o.ID = f.nextID
	cp := *o
	f.byID[o.ID] = &cp
	return nil
}

func (f *fakeOrders) GetByID(_ context.Context, id int64) (*order.Order, error) {
	o, ok := f.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) ListByPatient(_ context.Context, patientID int64) ([]*order.Order, error) {
	var out []*order.Order
	for _, o := range f.byID {
		if o.PatientID == patientID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeOrders) ListAll(_ context.Context) ([]*order.Order, error) {
	var out []*order.Order
	for _, o := range f.byID {
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeOrders) UpdateStatus(ctx context.Context, id int64, to order.Status, trackingNumber string) (*order.Order, error) {
	o, ok := f.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if err := order.ValidateTransition(o.Status, to); err != nil {
		return nil, err
	}
	updated := *o
	updated.Status = to
	if trackingNumber != "" {
		updated.TrackingNumber = trackingNumber
	}
	if err := updated.Validate(ctx, f.prescriptions); err != nil {
		return nil, err
	}
	f.byID[id] = &updated
	cp := updated
	return &cp, nil
}

type orderRig struct {
	orders        *fakeOrders
	catalog       *fakeCatalog
	prescriptions *fakePrescriptions
	router        chi.Router
}

func newOrderRig(t *testing.T) *orderRig {
	t.Helper()
	prescriptions := newFakePrescriptions()
	catalog := newFakeCatalog()
	orders := newFakeOrders(prescriptions)

	h := NewOrderHandler(orders, catalog, prescriptions, nil, zap.NewNop())
	r := chi.NewRouter()
	r.Mount("/api/orders", h.Routes())

	return &orderRig{orders: orders, catalog: catalog, prescriptions: prescriptions, router: r}
}

// seedVerifiedPrescription produces a prescription already through
// verification, ready to back an order.
func seedVerifiedPrescription(t *testing.T, rig *orderRig, patientID int64) *prescription.Prescription {
	t.Helper()
	p := seedPrescription(t, rig.prescriptions, patientID)
	if _, err := rig.prescriptions.Verify(context.Background(), p.ID, 3); err != nil {
		t.Fatalf("verify seed: %v", err)
	}
	return p
}

func orderBody(pharmacyID, prescriptionID int64, items ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"pharmacy_id":          pharmacyID,
		"prescription_id":      prescriptionID,
		"payment_reference_id": "pay_9h2k",
		"items":                items,
	}
}

func item(medicineID int64, qty int) map[string]interface{} {
	return map[string]interface{}{"medicine_id": medicineID, "quantity": qty}
}

func TestPlaceOrder(t *testing.T) {
	rig := newOrderRig(t)
	ph := seedPharmacy(t, rig.catalog)
	rx := seedVerifiedPrescription(t, rig, 7)
	dolo := seedMedicine(t, rig.catalog, ph.ID, "Dolo 650", "Paracetamol", "10.33", 120)
	azithral := seedMedicine(t, rig.catalog, ph.ID, "Azithral 500", "Azithromycin", "72.00", 40)

	body := orderBody(ph.ID, rx.ID, item(dolo.ID, 3), item(azithral.ID, 1))
	req := httptest.NewRequest(http.MethodPost, "/api/orders/", jsonBody(t, body))
	rec := serve(rig.router, patientPrincipal(7), req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	var got order.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	// 3 x 10.33 + 1 x 72.00, exact.
	if want := decimal.RequireFromString("102.99"); !got.TotalAmount.Equal(want) {
		t.Errorf("total = %s, want %s", got.TotalAmount, want)
	}
	if got.Status != order.StatusPlaced {
		t.Errorf("status = %q, want placed", got.Status)
	}
	if got.PatientID != 7 {
		t.Errorf("patient_id = %d", got.PatientID)
	}
	if len(got.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(got.Items))
	}
	// The unit price is the catalog price, whatever the client sent.
	if !got.Items[0].UnitPrice.Equal(decimal.RequireFromString("10.33")) {
		t.Errorf("unit price = %s, want 10.33", got.Items[0].UnitPrice)
	}
}

func TestPlaceOrderUnverifiedPrescription(t *testing.T) {
	rig := newOrderRig(t)
	ph := seedPharmacy(t, rig.catalog)
	rx := seedPrescription(t, rig.prescriptions, 7) // still pending
	dolo := seedMedicine(t, rig.catalog, ph.ID, "Dolo 650", "Paracetamol", "10.33", 120)

	body := orderBody(ph.ID, rx.ID, item(dolo.ID, 1))
	rec := serve(rig.router, patientPrincipal(7),
		httptest.NewRequest(http.MethodPost, "/api/orders/", jsonBody(t, body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
	}
	errs := decodeErrors(t, rec.Body)
	if len(errs) != 1 || errs[0].Code != string(validation.CodePrescriptionNotVerified) {
		t.Errorf("errors = %+v", errs)
	}
}

func TestPlaceOrderForeignPrescription(t *testing.T) {
	rig := newOrderRig(t)
	ph := seedPharmacy(t, rig.catalog)
	rx := seedVerifiedPrescription(t, rig, 8) // belongs to someone else
	dolo := seedMedicine(t, rig.catalog, ph.ID, "Dolo 650", "Paracetamol", "10.33", 120)

	body := orderBody(ph.ID, rx.ID, item(dolo.ID, 1))
	rec := serve(rig.router, patientPrincipal(7),
		httptest.NewRequest(http.MethodPost, "/api/orders/", jsonBody(t, body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
	}
	errs := decodeErrors(t, rec.Body)
	if len(errs) != 1 || errs[0].Field != "prescription" {
		t.Errorf("errors = %+v", errs)
	}
}

func TestPlaceOrderItemProblems(t *testing.T) {
	rig := newOrderRig(t)
	ph := seedPharmacy(t, rig.catalog)
	rx := seedVerifiedPrescription(t, rig, 7)
	dolo := seedMedicine(t, rig.catalog, ph.ID, "Dolo 650", "Paracetamol", "10.33", 2)

	tests := []struct {
		name     string
		items    []map[string]interface{}
		wantCode string
	}{
		{"no items", nil, string(validation.CodeRequired)},
		{"zero quantity", []map[string]interface{}{item(dolo.ID, 0)}, string(validation.CodeInvalidQuantity)},
		{"unknown medicine", []map[string]interface{}{item(999, 1)}, string(validation.CodeInvalidValue)},
		{"insufficient stock", []map[string]interface{}{item(dolo.ID, 3)}, string(validation.CodeInvalidQuantity)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := orderBody(ph.ID, rx.ID, tt.items...)
			rec := serve(rig.router, patientPrincipal(7),
				httptest.NewRequest(http.MethodPost, "/api/orders/", jsonBody(t, body)))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
			errs := decodeErrors(t, rec.Body)
			if len(errs) != 1 || errs[0].Code != tt.wantCode {
				t.Errorf("errors = %+v, want code %q", errs, tt.wantCode)
			}
		})
	}
}

func TestPlaceOrderWrongPharmacyMedicine(t *testing.T) {
	rig := newOrderRig(t)
	ph := seedPharmacy(t, rig.catalog)

	second := *ph
	second.ID = 0
	second.LicenseNumber = "KA-2024-0043"
	second.ContactEmail = "south@medleaf.example"
	if err := rig.catalog.CreatePharmacy(context.Background(), &second); err != nil {
		t.Fatalf("seed second pharmacy: %v", err)
	}

	rx := seedVerifiedPrescription(t, rig, 7)
	foreign := seedMedicine(t, rig.catalog, second.ID, "Dolo 650", "Paracetamol", "10.33", 120)

	body := orderBody(ph.ID, rx.ID, item(foreign.ID, 1))
	rec := serve(rig.router, patientPrincipal(7),
		httptest.NewRequest(http.MethodPost, "/api/orders/", jsonBody(t, body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
	}
	errs := decodeErrors(t, rec.Body)
	if len(errs) != 1 || errs[0].Code != string(validation.CodeInvalidValue) {
		t.Errorf("errors = %+v", errs)
	}
}

// placeOrder drives the endpoint and returns the created order id. Each
// call seeds its own pharmacy so repeated calls never collide on the
// license number.
func placeOrder(t *testing.T, rig *orderRig, patientID int64) int64 {
	t.Helper()
	ph := &pharmacy.Pharmacy{
		Name:          "MedLeaf Branch",
		LicenseNumber: fmt.Sprintf("KA-2025-%04d", patientID),
		ContactEmail:  fmt.Sprintf("branch%d@medleaf.example", patientID),
		PhoneNumber:   "+919812345678",
		StreetAddress: "2 Residency Road",
		City:          "Bengaluru",
		State:         "Karnataka",
		PostalCode:    "560025",
	}
	if err := rig.catalog.CreatePharmacy(context.Background(), ph); err != nil {
		t.Fatalf("seed pharmacy: %v", err)
	}
	rx := seedVerifiedPrescription(t, rig, patientID)
	med := seedMedicine(t, rig.catalog, ph.ID, "Dolo 650", "Paracetamol", "10.33", 120)

	body := orderBody(ph.ID, rx.ID, item(med.ID, 2))
	rec := serve(rig.router, patientPrincipal(patientID),
		httptest.NewRequest(http.MethodPost, "/api/orders/", jsonBody(t, body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("place order = %d (body %s)", rec.Code, rec.Body.String())
	}
	var got order.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	return got.ID
}

func TestOrderStatusFlow(t *testing.T) {
	rig := newOrderRig(t)
	id := placeOrder(t, rig, 7)
	target := fmt.Sprintf("/api/orders/%d/status", id)

	post := func(status, tracking string) *httptest.ResponseRecorder {
		body := map[string]string{"status": status}
		if tracking != "" {
			body["tracking_number"] = tracking
		}
		return serve(rig.router, adminPrincipal(3, true),
			httptest.NewRequest(http.MethodPost, target, jsonBody(t, body)))
	}

	// Skipping confirmed is rejected.
	rec := post("shipped", "TRK123")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("placed->shipped = %d, want 400 (body %s)", rec.Code, rec.Body.String())
	}
	errs := decodeErrors(t, rec.Body)
	if len(errs) != 1 || errs[0].Code != string(validation.CodeInvalidTransition) {
		t.Errorf("errors = %+v", errs)
	}

	if rec := post("confirmed", ""); rec.Code != http.StatusOK {
		t.Fatalf("placed->confirmed = %d (body %s)", rec.Code, rec.Body.String())
	}

	// Shipping without a tracking number violates the field rule.
	rec = post("shipped", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("shipped without tracking = %d, want 400 (body %s)", rec.Code, rec.Body.String())
	}
	errs = decodeErrors(t, rec.Body)
	if len(errs) != 1 || errs[0].Code != string(validation.CodeMissingTrackingNumber) {
		t.Errorf("errors = %+v", errs)
	}

	if rec := post("shipped", "TRK123"); rec.Code != http.StatusOK {
		t.Fatalf("confirmed->shipped = %d (body %s)", rec.Code, rec.Body.String())
	}
	if rec := post("delivered", ""); rec.Code != http.StatusOK {
		t.Fatalf("shipped->delivered = %d (body %s)", rec.Code, rec.Body.String())
	}

	// Delivered is terminal.
	rec = post("confirmed", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("delivered->confirmed = %d, want 400", rec.Code)
	}

	// Unknown statuses never reach the store.
	rec = post("cancelled", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown status = %d, want 400", rec.Code)
	}
}

func TestOrderStatusRequiresVerifiedAdmin(t *testing.T) {
	rig := newOrderRig(t)
	id := placeOrder(t, rig, 7)
	target := fmt.Sprintf("/api/orders/%d/status", id)
	body := map[string]string{"status": "confirmed"}

	rec := serve(rig.router, patientPrincipal(7),
		httptest.NewRequest(http.MethodPost, target, jsonBody(t, body)))
	if rec.Code != http.StatusForbidden {
		t.Errorf("patient transition = %d, want 403", rec.Code)
	}

	rec = serve(rig.router, adminPrincipal(3, false),
		httptest.NewRequest(http.MethodPost, target, jsonBody(t, body)))
	if rec.Code != http.StatusForbidden {
		t.Errorf("unverified admin transition = %d, want 403", rec.Code)
	}
}

func TestGetOrderOwnership(t *testing.T) {
	rig := newOrderRig(t)
	id := placeOrder(t, rig, 7)
	target := fmt.Sprintf("/api/orders/%d", id)

	if rec := serve(rig.router, patientPrincipal(7), httptest.NewRequest(http.MethodGet, target, nil)); rec.Code != http.StatusOK {
		t.Errorf("owner get = %d", rec.Code)
	}

	rec := serve(rig.router, patientPrincipal(8), httptest.NewRequest(http.MethodGet, target, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign get = %d, want 404", rec.Code)
	}
	if detail := decodeDetail(t, rec.Body); detail != "Not found." {
		t.Errorf("detail = %q", detail)
	}

	if rec := serve(rig.router, adminPrincipal(3, true), httptest.NewRequest(http.MethodGet, target, nil)); rec.Code != http.StatusOK {
		t.Errorf("admin get = %d", rec.Code)
	}
}

func TestListOrdersByRole(t *testing.T) {
	rig := newOrderRig(t)
	placeOrder(t, rig, 7)

	// Second patient, separate pharmacy seed inside placeOrder.
	placeOrder(t, rig, 8)

	rec := serve(rig.router, patientPrincipal(7),
		httptest.NewRequest(http.MethodGet, "/api/orders/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("patient list = %d", rec.Code)
	}
	var list []*order.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].PatientID != 7 {
		t.Errorf("patient list = %+v, want only patient 7", list)
	}

	rec = serve(rig.router, adminPrincipal(3, true),
		httptest.NewRequest(http.MethodGet, "/api/orders/", nil))
	list = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("admin list = %d orders, want 2", len(list))
	}

	// A patient with no orders still gets [].
	rec = serve(rig.router, patientPrincipal(9),
		httptest.NewRequest(http.MethodGet, "/api/orders/", nil))
	if got := rec.Body.String(); got != "[]\n" && got != "[]" {
		t.Errorf("empty list body = %q, want []", got)
	}
}
