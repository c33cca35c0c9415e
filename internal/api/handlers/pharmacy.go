package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/medleaf/pharma-platform/internal/api/middleware"
	"github.com/medleaf/pharma-platform/internal/domain/pharmacy"
)

// CatalogStore is the pharmacy and medicine persistence the handler
// needs.
type CatalogStore interface {
	CreatePharmacy(ctx context.Context, p *pharmacy.Pharmacy) error
	GetPharmacy(ctx context.Context, id int64) (*pharmacy.Pharmacy, error)
	ListPharmacies(ctx context.Context) ([]*pharmacy.Pharmacy, error)
	CreateMedicine(ctx context.Context, m *pharmacy.Medicine) error
	GetMedicine(ctx context.Context, id int64) (*pharmacy.Medicine, error)
	UpdateMedicine(ctx context.Context, m *pharmacy.Medicine) error
	ListMedicines(ctx context.Context, pharmacyID int64) ([]*pharmacy.Medicine, error)
	SearchMedicines(ctx context.Context, query string) ([]*pharmacy.Medicine, error)
}

// PharmacyHandler handles the pharmacy and medicine catalog endpoints.
type PharmacyHandler struct {
	catalog CatalogStore
	logger  *zap.Logger
}

// NewPharmacyHandler creates a new handler
func NewPharmacyHandler(catalog CatalogStore, logger *zap.Logger) *PharmacyHandler {
	return &PharmacyHandler{catalog: catalog, logger: logger}
}

// Routes returns the /api/pharmacies routes. Writes require a verified
// pharmacy admin; reads are open to any authenticated account.
func (h *PharmacyHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(middleware.RequireVerifiedPharmacyAdmin).Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/medicines", h.ListMedicines)
	r.With(middleware.RequireVerifiedPharmacyAdmin).Post("/{id}/medicines", h.CreateMedicine)
	return r
}

// MedicineRoutes returns the /api/medicines routes.
func (h *PharmacyHandler) MedicineRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.SearchMedicines)
	r.Get("/{id}", h.GetMedicine)
	r.With(middleware.RequireVerifiedPharmacyAdmin).Put("/{id}", h.UpdateMedicine)
	return r
}

// CreatePharmacyRequest is the request body for registering a pharmacy
type CreatePharmacyRequest struct {
	Name          string `json:"name"`
	LicenseNumber string `json:"license_number"`
	ContactEmail  string `json:"contact_email"`
	PhoneNumber   string `json:"phone_number"`
	StreetAddress string `json:"street_address"`
	City          string `json:"city"`
	State         string `json:"state"`
	PostalCode    string `json:"postal_code"`
}

// Create handles POST /api/pharmacies. New pharmacies start unverified.
func (h *PharmacyHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePharmacyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p := &pharmacy.Pharmacy{
		Name:          req.Name,
		LicenseNumber: req.LicenseNumber,
		ContactEmail:  req.ContactEmail,
		PhoneNumber:   req.PhoneNumber,
		StreetAddress: req.StreetAddress,
		City:          req.City,
		State:         req.State,
		PostalCode:    req.PostalCode,
	}

	if err := h.catalog.CreatePharmacy(ctx, p); err != nil {
		writeDomainError(w, h.logger, err, pharmacy.ErrNotFound)
		return
	}

	h.logger.Info("pharmacy created",
		zap.Int64("id", p.ID),
		zap.String("request_id", middleware.GetRequestID(ctx)))
	writeJSON(w, http.StatusCreated, p)
}

// List handles GET /api/pharmacies
func (h *PharmacyHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.ListPharmacies(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err, pharmacy.ErrNotFound)
		return
	}
	if list == nil {
		list = []*pharmacy.Pharmacy{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Get handles GET /api/pharmacies/{id}
func (h *PharmacyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.catalog.GetPharmacy(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err, pharmacy.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListMedicines handles GET /api/pharmacies/{id}/medicines
func (h *PharmacyHandler) ListMedicines(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.catalog.GetPharmacy(ctx, id); err != nil {
		writeDomainError(w, h.logger, err, pharmacy.ErrNotFound)
		return
	}

	list, err := h.catalog.ListMedicines(ctx, id)
	if err != nil {
		writeDomainError(w, h.logger, err, pharmacy.ErrNotFound)
		return
	}
	if list == nil {
		list = []*pharmacy.Medicine{}
	}
	writeJSON(w, http.StatusOK, list)
}

// MedicineRequest is the request body for adding or updating a medicine
type MedicineRequest struct {
	CommercialName string          `json:"commercial_name"`
	GenericName    string          `json:"generic_name"`
	Manufacturer   string          `json:"manufacturer"`
	Price          decimal.Decimal `json:"price"`
	StockQuantity  int             `json:"stock_quantity"`
}

// CreateMedicine handles POST /api/pharmacies/{id}/medicines
func (h *PharmacyHandler) CreateMedicine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req MedicineRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m := &pharmacy.Medicine{
		PharmacyID:     id,
		CommercialName: req.CommercialName,
		GenericName:    req.GenericName,
		Manufacturer:   req.Manufacturer,
		Price:          req.Price,
		StockQuantity:  req.StockQuantity,
	}

	if err := h.catalog.CreateMedicine(ctx, m); err != nil {
		if errors.Is(err, pharmacy.ErrInvalidReference) {
			writeDetail(w, http.StatusNotFound, "Not found.")
			return
		}
		writeDomainError(w, h.logger, err, pharmacy.ErrNotFound)
		return
	}

	h.logger.Info("medicine created",
		zap.Int64("id", m.ID),
		zap.Int64("pharmacy_id", m.PharmacyID),
		zap.String("request_id", middleware.GetRequestID(ctx)))
	writeJSON(w, http.StatusCreated, m)
}

// GetMedicine handles GET /api/medicines/{id}
func (h *PharmacyHandler) GetMedicine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := h.catalog.GetMedicine(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err, pharmacy.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// UpdateMedicine handles PUT /api/medicines/{id}, replacing the catalog
// fields of an existing medicine.
func (h *PharmacyHandler) UpdateMedicine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	m, err := h.catalog.GetMedicine(ctx, id)
	if err != nil {
		writeDomainError(w, h.logger, err, pharmacy.ErrNotFound)
		return
	}

	var req MedicineRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m.CommercialName = req.CommercialName
	m.GenericName = req.GenericName
	m.Manufacturer = req.Manufacturer
	m.Price = req.Price
	m.StockQuantity = req.StockQuantity

	if err := h.catalog.UpdateMedicine(ctx, m); err != nil {
		writeDomainError(w, h.logger, err, pharmacy.ErrNotFound)
		return
	}

	writeJSON(w, http.StatusOK, m)
}

// SearchMedicines handles GET /api/medicines?search=. An empty search
// returns the full catalog.
func (h *PharmacyHandler) SearchMedicines(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.SearchMedicines(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		writeDomainError(w, h.logger, err, pharmacy.ErrNotFound)
		return
	}
	if list == nil {
		list = []*pharmacy.Medicine{}
	}
	writeJSON(w, http.StatusOK, list)
}
