package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medleaf/pharma-platform/internal/infrastructure/postgres"
)

var (
	// ErrNotFound is returned when an order id has no row.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidReference is returned when a foreign key points at a row
	// that does not exist.
	ErrInvalidReference = errors.New("referenced row does not exist")
)

// Repository persists orders and their line items. Status updates run as a
// locked read-modify-write so the "from" state used for transition checks
// is the state being overwritten, never a stale snapshot.
type Repository struct {
	pool          *pgxpool.Pool
	prescriptions PrescriptionStatus
	logger        *zap.Logger
}

// NewRepository creates a new repository. The prescription lookup backs
// the verified prescription rule on create and update.
func NewRepository(pool *pgxpool.Pool, prescriptions PrescriptionStatus, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, prescriptions: prescriptions, logger: logger}
}

const orderColumns = `id, patient_id, pharmacy_id, prescription_id, total_amount, status, payment_reference_id, created_at, tracking_number`

// Create validates and inserts an order with its line items in one
// transaction, appending the placed event to the outbox.
func (r *Repository) Create(ctx context.Context, o *Order) error {
	for _, item := range o.Items {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	if err := o.Validate(ctx, r.prescriptions); err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO orders (patient_id, pharmacy_id, prescription_id, total_amount, status, payment_reference_id, tracking_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, query,
		o.PatientID, o.PharmacyID, o.PrescriptionID, o.TotalAmount,
		o.Status, o.PaymentReferenceID, o.TrackingNumber,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return translateConstraint(err)
	}

	for _, item := range o.Items {
		item.OrderID = o.ID
		err := tx.QueryRow(ctx,
			`INSERT INTO order_items (order_id, medicine_id, quantity, unit_price) VALUES ($1, $2, $3, $4) RETURNING id`,
			item.OrderID, item.MedicineID, item.Quantity, item.UnitPrice,
		).Scan(&item.ID)
		if err != nil {
			return translateConstraint(err)
		}
	}

	entry, err := NewOutboxEntry(o.ID, EventOrderPlaced, PlacedData{
		OrderID:        o.ID,
		PatientID:      o.PatientID,
		PharmacyID:     o.PharmacyID,
		PrescriptionID: o.PrescriptionID,
		TotalAmount:    o.TotalAmount,
		ItemCount:      len(o.Items),
		PlacedAt:       o.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("build outbox entry: %w", err)
	}
	if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	r.logger.Info("order placed",
		zap.Int64("id", o.ID),
		zap.Int64("patient_id", o.PatientID),
		zap.String("total", o.TotalAmount.String()))
	return nil
}

// GetByID retrieves an order with its items
func (r *Repository) GetByID(ctx context.Context, id int64) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// ListByPatient returns a patient's orders with items, newest first
func (r *Repository) ListByPatient(ctx context.Context, patientID int64) ([]*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE patient_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, patientID)
}

// ListByPharmacy returns a pharmacy's orders with items, newest first
func (r *Repository) ListByPharmacy(ctx context.Context, pharmacyID int64) ([]*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE pharmacy_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, pharmacyID)
}

// ListAll returns every order with items, newest first. Pharmacy admins
// review the full queue; patients go through ListByPatient.
func (r *Repository) ListAll(ctx context.Context) ([]*Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *Repository) list(ctx context.Context, query string, arg any) ([]*Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus advances an order's status under a row lock. The previous
// status read inside this transaction is the one the transition is checked
// against; tracking number, when given, is applied before the shipped and
// delivered rules run.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, to Status, trackingNumber string) (*Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	o, err := scanOrder(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	from := o.Status
	if err := ValidateTransition(from, to); err != nil {
		return nil, err
	}
	if trackingNumber != "" {
		o.TrackingNumber = trackingNumber
	}
	o.Status = to
	if err := o.Validate(ctx, r.prescriptions); err != nil {
		return nil, err
	}

	update := `UPDATE orders SET status = $1, tracking_number = $2 WHERE id = $3`
	if _, err := tx.Exec(ctx, update, o.Status, o.TrackingNumber, o.ID); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	entry, err := NewOutboxEntry(o.ID, EventOrderStatusChanged, StatusChangedData{
		OrderID:        o.ID,
		PatientID:      o.PatientID,
		FromStatus:     from,
		ToStatus:       to,
		TrackingNumber: o.TrackingNumber,
		ChangedAt:      time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("build outbox entry: %w", err)
	}
	if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	r.logger.Info("order status changed",
		zap.Int64("id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	if err := r.loadItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// loadItems fetches line items for the given orders in one query.
func (r *Repository) loadItems(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(orders))
	byID := make(map[int64]*Order, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
		byID[o.ID] = o
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, medicine_id, quantity, unit_price FROM order_items WHERE order_id = ANY($1) ORDER BY id`,
		ids)
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item := &Item{}
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MedicineID, &item.Quantity, &item.UnitPrice); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	o := &Order{}
	err := row.Scan(
		&o.ID, &o.PatientID, &o.PharmacyID, &o.PrescriptionID,
		&o.TotalAmount, &o.Status, &o.PaymentReferenceID,
		&o.CreatedAt, &o.TrackingNumber,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return o, nil
}

// translateConstraint maps foreign key violations to ErrInvalidReference
// so handlers can answer with a client error instead of a 500.
func translateConstraint(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w: %s", ErrInvalidReference, pgErr.ConstraintName)
	}
	return fmt.Errorf("insert order: %w", err)
}
