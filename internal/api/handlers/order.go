package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/medleaf/pharma-platform/internal/api/middleware"
	"github.com/medleaf/pharma-platform/internal/domain/account"
	"github.com/medleaf/pharma-platform/internal/domain/order"
	"github.com/medleaf/pharma-platform/internal/domain/pharmacy"
	"github.com/medleaf/pharma-platform/internal/domain/prescription"
	"github.com/medleaf/pharma-platform/internal/observability/metrics"
	"github.com/medleaf/pharma-platform/internal/validation"
)

// OrderStore is the order persistence the handler needs.
type OrderStore interface {
	Create(ctx context.Context, o *order.Order) error
	GetByID(ctx context.Context, id int64) (*order.Order, error)
	ListByPatient(ctx context.Context, patientID int64) ([]*order.Order, error)
	ListAll(ctx context.Context) ([]*order.Order, error)
	UpdateStatus(ctx context.Context, id int64, to order.Status, trackingNumber string) (*order.Order, error)
}

// MedicineCatalog resolves medicines so line items snapshot the catalog
// price at order time.
type MedicineCatalog interface {
	GetMedicine(ctx context.Context, id int64) (*pharmacy.Medicine, error)
}

// PrescriptionDirectory checks that the referenced prescription belongs
// to the ordering patient.
type PrescriptionDirectory interface {
	GetOwned(ctx context.Context, id, patientID int64) (*prescription.Prescription, error)
}

// OrderHandler handles order placement and fulfillment endpoints.
type OrderHandler struct {
	orders        OrderStore
	medicines     MedicineCatalog
	prescriptions PrescriptionDirectory
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// NewOrderHandler creates a new handler
func NewOrderHandler(orders OrderStore, medicines MedicineCatalog, prescriptions PrescriptionDirectory, m *metrics.Metrics, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orders:        orders,
		medicines:     medicines,
		prescriptions: prescriptions,
		metrics:       m,
		logger:        logger,
	}
}

// Routes returns the handler routes. Placement is patient only; status
// transitions require a verified pharmacy admin.
func (h *OrderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(middleware.RequirePatient).Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.With(middleware.RequireVerifiedPharmacyAdmin).Post("/{id}/status", h.UpdateStatus)
	return r
}

// OrderItemRequest is one requested line item. The unit price comes from
// the catalog, never from the client.
type OrderItemRequest struct {
	MedicineID int64 `json:"medicine_id"`
	Quantity   int   `json:"quantity"`
}

// CreateOrderRequest is the request body for placing an order
type CreateOrderRequest struct {
	PharmacyID         int64              `json:"pharmacy_id"`
	PrescriptionID     int64              `json:"prescription_id"`
	PaymentReferenceID string             `json:"payment_reference_id"`
	Items              []OrderItemRequest `json:"items"`
}

// Create handles POST /api/orders. The prescription must belong to the
// caller and be verified; every item must be sold by the chosen pharmacy
// with enough stock. The total is the sum of the line subtotals.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("order-handler").Start(r.Context(), "place_order")
	defer span.End()

	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var req CreateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if len(req.Items) == 0 {
		writeValidationError(w, validation.NewError(validation.CodeRequired, "items",
			"Order must contain at least one item."))
		return
	}

	if req.PrescriptionID > 0 {
		if _, err := h.prescriptions.GetOwned(ctx, req.PrescriptionID, principal.UserID); err != nil {
			if errors.Is(err, prescription.ErrNotFound) {
				writeValidationError(w, validation.NewError(validation.CodeInvalidValue, "prescription",
					"Prescription does not exist."))
				return
			}
			writeDomainError(w, h.logger, err, nil)
			return
		}
	}

	items, err := h.buildItems(ctx, req.PharmacyID, req.Items)
	if err != nil {
		writeDomainError(w, h.logger, err, nil)
		return
	}

	o := order.New(principal.UserID, req.PharmacyID, req.PrescriptionID, order.ItemsTotal(items))
	o.Items = items
	o.PaymentReferenceID = req.PaymentReferenceID

	span.SetAttributes(
		attribute.Int64("pharmacy_id", req.PharmacyID),
		attribute.Int("item_count", len(items)),
	)

	if err := h.orders.Create(ctx, o); err != nil {
		if errors.Is(err, order.ErrInvalidReference) {
			writeValidationError(w, validation.NewError(validation.CodeInvalidValue, "order",
				"Referenced pharmacy, prescription, or medicine does not exist."))
			return
		}
		writeDomainError(w, h.logger, err, nil)
		return
	}

	if h.metrics != nil {
		h.metrics.OrdersPlaced.Inc()
	}
	h.logger.Info("order placed",
		zap.Int64("id", o.ID),
		zap.Int64("patient_id", o.PatientID),
		zap.String("total", o.TotalAmount.String()),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	writeJSON(w, http.StatusCreated, o)
}

// buildItems resolves each requested medicine and snapshots its current
// price. All item problems are collected into one validation report.
func (h *OrderHandler) buildItems(ctx context.Context, pharmacyID int64, reqs []OrderItemRequest) ([]*order.Item, error) {
	var errs validation.Errors
	items := make([]*order.Item, 0, len(reqs))

	for i, req := range reqs {
		field := fmt.Sprintf("items[%d]", i)

		if req.Quantity <= 0 {
			errs.Add(validation.CodeInvalidQuantity, field, "Quantity must be greater than 0.")
			continue
		}

		med, err := h.medicines.GetMedicine(ctx, req.MedicineID)
		if err != nil {
			if errors.Is(err, pharmacy.ErrNotFound) {
				errs.Add(validation.CodeInvalidValue, field,
					fmt.Sprintf("Medicine %d does not exist.", req.MedicineID))
				continue
			}
			return nil, err
		}

		if med.PharmacyID != pharmacyID {
			errs.Add(validation.CodeInvalidValue, field,
				fmt.Sprintf("Medicine %q is not sold by the selected pharmacy.", med.CommercialName))
			continue
		}
		if !med.InStock(req.Quantity) {
			errs.Add(validation.CodeInvalidQuantity, field,
				fmt.Sprintf("Insufficient stock for %q: %d requested, %d available.",
					med.CommercialName, req.Quantity, med.StockQuantity))
			continue
		}

		items = append(items, &order.Item{
			MedicineID: med.ID,
			Quantity:   req.Quantity,
			UnitPrice:  med.Price,
		})
	}

	if err := errs.ErrOrNil(); err != nil {
		return nil, err
	}
	return items, nil
}

// List handles GET /api/orders. Patients see their own orders; pharmacy
// admins see all of them.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	var (
		list []*order.Order
		err  error
	)
	switch principal.UserType {
	case account.TypePatient:
		list, err = h.orders.ListByPatient(ctx, principal.UserID)
	case account.TypePharmacyAdmin:
		list, err = h.orders.ListAll(ctx)
	default:
		writeDetail(w, http.StatusForbidden, "You do not have permission to perform this action.")
		return
	}
	if err != nil {
		writeDomainError(w, h.logger, err, order.ErrNotFound)
		return
	}

	if list == nil {
		list = []*order.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Get handles GET /api/orders/{id}. Patients can only fetch their own
// orders; a foreign id answers 404, not 403.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	o, err := h.orders.GetByID(ctx, id)
	if err != nil {
		writeDomainError(w, h.logger, err, order.ErrNotFound)
		return
	}
	if principal.UserType == account.TypePatient && o.PatientID != principal.UserID {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}

	writeJSON(w, http.StatusOK, o)
}

// UpdateStatusRequest is the request body for advancing an order
type UpdateStatusRequest struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number"`
}

// UpdateStatus handles POST /api/orders/{id}/status.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	to := order.Status(req.Status)
	if !to.Valid() {
		writeValidationError(w, validation.NewError(validation.CodeInvalidValue, "status",
			fmt.Sprintf("%q is not a valid order status.", req.Status)))
		return
	}

	o, err := h.orders.UpdateStatus(ctx, id, to, req.TrackingNumber)
	if err != nil {
		writeDomainError(w, h.logger, err, order.ErrNotFound)
		return
	}

	if h.metrics != nil {
		h.metrics.OrderTransitions.WithLabelValues(string(to)).Inc()
	}
	h.logger.Info("order status updated",
		zap.Int64("id", o.ID),
		zap.String("status", string(o.Status)),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	writeJSON(w, http.StatusOK, o)
}
