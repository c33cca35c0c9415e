package pharmacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medleaf/pharma-platform/internal/validation"
)

var (
	// ErrNotFound is returned when no pharmacy or medicine matches.
	ErrNotFound = errors.New("pharmacy: not found")

	// ErrInvalidReference is returned when a write names a pharmacy
	// that does not exist.
	ErrInvalidReference = errors.New("pharmacy: invalid reference")
)

// uniqueMessages maps unique-constraint names to the field and message
// reported when an insert collides.
var uniqueMessages = map[string]struct{ field, message string }{
	"pharmacies_license_number_key": {"license_number", "Pharmacy with this License number already exists."},
	"pharmacies_contact_email_key":  {"contact_email", "Pharmacy with this Contact email already exists."},
	"unique_medicine_per_pharmacy":  {"commercial_name", "Medicine with this Commercial name and Pharmacy already exists."},
}

// Repository persists pharmacies and medicines in Postgres.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	return &Repository{pool: pool, logger: logger}
}

const pharmacyColumns = `id, name, license_number, contact_email, phone_number,
	street_address, city, state, postal_code, is_verified, registered_at`

const medicineColumns = `id, pharmacy_id, commercial_name, generic_name,
	manufacturer, price, stock_quantity, created_at, updated_at`

// CreatePharmacy validates and inserts a pharmacy. Unique collisions on
// license number or contact email come back as validation errors.
func (r *Repository) CreatePharmacy(ctx context.Context, p *Pharmacy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO pharmacies (name, license_number, contact_email, phone_number,
			street_address, city, state, postal_code, is_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, registered_at`,
		p.Name, p.LicenseNumber, p.ContactEmail, p.PhoneNumber,
		p.StreetAddress, p.City, p.State, p.PostalCode, p.IsVerified,
	).Scan(&p.ID, &p.RegisteredAt)
	if err != nil {
		return translateCatalogError(err, "insert pharmacy")
	}

	r.logger.Info("pharmacy registered",
		zap.Int64("pharmacy_id", p.ID),
		zap.String("license_number", p.LicenseNumber))
	return nil
}

// GetPharmacy returns one pharmacy by id.
func (r *Repository) GetPharmacy(ctx context.Context, id int64) (*Pharmacy, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+pharmacyColumns+` FROM pharmacies WHERE id = $1`, id)
	return scanPharmacy(row)
}

// ListPharmacies returns all pharmacies, most recently registered first.
func (r *Repository) ListPharmacies(ctx context.Context) ([]*Pharmacy, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+pharmacyColumns+` FROM pharmacies ORDER BY registered_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list pharmacies: %w", err)
	}
	defer rows.Close()

	var out []*Pharmacy
	for rows.Next() {
		p, err := scanPharmacy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreateMedicine validates and inserts a medicine for a pharmacy. A
// duplicate commercial name within the pharmacy is a validation error;
// an unknown pharmacy is ErrInvalidReference.
func (r *Repository) CreateMedicine(ctx context.Context, m *Medicine) error {
	if err := m.Validate(); err != nil {
		return err
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO medicines (pharmacy_id, commercial_name, generic_name,
			manufacturer, price, stock_quantity)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		m.PharmacyID, m.CommercialName, m.GenericName,
		m.Manufacturer, m.Price, m.StockQuantity,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return translateCatalogError(err, "insert medicine")
	}

	r.logger.Info("medicine added",
		zap.Int64("medicine_id", m.ID),
		zap.Int64("pharmacy_id", m.PharmacyID),
		zap.String("commercial_name", m.CommercialName))
	return nil
}

// GetMedicine returns one medicine by id.
func (r *Repository) GetMedicine(ctx context.Context, id int64) (*Medicine, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+medicineColumns+` FROM medicines WHERE id = $1`, id)
	return scanMedicine(row)
}

// UpdateMedicine validates and persists price and stock changes.
func (r *Repository) UpdateMedicine(ctx context.Context, m *Medicine) error {
	if err := m.Validate(); err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE medicines
		SET commercial_name = $2, generic_name = $3, manufacturer = $4,
			price = $5, stock_quantity = $6, updated_at = now()
		WHERE id = $1`,
		m.ID, m.CommercialName, m.GenericName, m.Manufacturer,
		m.Price, m.StockQuantity)
	if err != nil {
		return translateCatalogError(err, "update medicine")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMedicines returns a pharmacy's catalog ordered by commercial name.
func (r *Repository) ListMedicines(ctx context.Context, pharmacyID int64) ([]*Medicine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+medicineColumns+` FROM medicines
		WHERE pharmacy_id = $1 ORDER BY commercial_name`, pharmacyID)
	if err != nil {
		return nil, fmt.Errorf("list medicines: %w", err)
	}
	return collectMedicines(rows)
}

// SearchMedicines matches commercial or generic names case-insensitively
// anywhere in the name.
func (r *Repository) SearchMedicines(ctx context.Context, query string) ([]*Medicine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+medicineColumns+` FROM medicines
		WHERE commercial_name ILIKE '%' || $1 || '%'
		   OR generic_name ILIKE '%' || $1 || '%'
		ORDER BY commercial_name`, query)
	if err != nil {
		return nil, fmt.Errorf("search medicines: %w", err)
	}
	return collectMedicines(rows)
}

func collectMedicines(rows pgx.Rows) ([]*Medicine, error) {
	defer rows.Close()
	var out []*Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanPharmacy(row pgx.Row) (*Pharmacy, error) {
	var p Pharmacy
	err := row.Scan(&p.ID, &p.Name, &p.LicenseNumber, &p.ContactEmail,
		&p.PhoneNumber, &p.StreetAddress, &p.City, &p.State, &p.PostalCode,
		&p.IsVerified, &p.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pharmacy: %w", err)
	}
	return &p, nil
}

func scanMedicine(row pgx.Row) (*Medicine, error) {
	var m Medicine
	err := row.Scan(&m.ID, &m.PharmacyID, &m.CommercialName, &m.GenericName,
		&m.Manufacturer, &m.Price, &m.StockQuantity, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan medicine: %w", err)
	}
	return &m, nil
}

// translateCatalogError maps Postgres constraint violations onto the
// validation taxonomy or the reference sentinel.
func translateCatalogError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if m, ok := uniqueMessages[pgErr.ConstraintName]; ok {
				return validation.NewError(validation.CodeAlreadyExists, m.field, m.message)
			}
		case "23503":
			return fmt.Errorf("%s: %w", op, ErrInvalidReference)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
