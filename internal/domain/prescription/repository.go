package prescription

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medleaf/pharma-platform/internal/infrastructure/postgres"
)

// ErrNotFound is returned when a prescription id has no row.
var ErrNotFound = errors.New("prescription not found")

// Repository persists prescriptions. It owns the transition discipline:
// the previous status used for transition checks is read under a row lock
// in the same transaction that writes, so concurrent verifiers cannot both
// act on a stale state.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

const prescriptionColumns = `id, patient_id, image_path, status, uploaded_at, verifier_id, verified_at, rejection_reason`

// Create inserts a fresh prescription after field validation. Fresh rows
// carry no previous status, so no transition check applies here.
func (r *Repository) Create(ctx context.Context, p *Prescription) error {
	if err := p.Validate(); err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO prescriptions (patient_id, image_path, status, verifier_id, verified_at, rejection_reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, uploaded_at
	`
	err = tx.QueryRow(ctx, query,
		p.PatientID, p.ImagePath, p.Status, p.VerifierID, p.VerifiedAt, p.RejectionReason,
	).Scan(&p.ID, &p.UploadedAt)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}

	entry, err := NewOutboxEntry(p.ID, EventPrescriptionUploaded, UploadedData{
		PrescriptionID: p.ID,
		PatientID:      p.PatientID,
		ImagePath:      p.ImagePath,
		UploadedAt:     p.UploadedAt,
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

	r.logger.Debug("prescription created",
		zap.Int64("id", p.ID),
		zap.Int64("patient_id", p.PatientID))
	return nil
}

// GetByID retrieves a prescription by id
func (r *Repository) GetByID(ctx context.Context, id int64) (*Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// GetOwned retrieves a prescription only when it belongs to the patient.
func (r *Repository) GetOwned(ctx context.Context, id, patientID int64) (*Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = $1 AND patient_id = $2`
	return r.scanOne(r.pool.QueryRow(ctx, query, id, patientID))
}

// ListByPatient returns a patient's prescriptions, newest first
func (r *Repository) ListByPatient(ctx context.Context, patientID int64) ([]*Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE patient_id = $1 ORDER BY uploaded_at DESC`
	rows, err := r.pool.Query(ctx, query, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// ListByStatus returns prescriptions in a given status, oldest first so
// the verification queue is worked in upload order.
func (r *Repository) ListByStatus(ctx context.Context, status Status) ([]*Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE status = $1 ORDER BY uploaded_at ASC`
	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// Verify transitions a prescription to verified under a row lock. The
// transition is validated against the status read inside this transaction;
// a concurrent writer that got there first makes this call re-validate
// against the committed state.
func (r *Repository) Verify(ctx context.Context, id, verifierID int64) (*Prescription, error) {
	return r.transition(ctx, id, func(p *Prescription) (*postgres.OutboxEntry, error) {
		if err := p.Verify(verifierID); err != nil {
			return nil, err
		}
		return NewOutboxEntry(p.ID, EventPrescriptionVerified, VerifiedData{
			PrescriptionID: p.ID,
			PatientID:      p.PatientID,
			VerifierID:     verifierID,
			VerifiedAt:     *p.VerifiedAt,
		})
	})
}

// Reject transitions a prescription to rejected with a reason, under the
// same row-lock discipline as Verify.
func (r *Repository) Reject(ctx context.Context, id, verifierID int64, reason string) (*Prescription, error) {
	return r.transition(ctx, id, func(p *Prescription) (*postgres.OutboxEntry, error) {
		if err := p.Reject(verifierID, reason); err != nil {
			return nil, err
		}
		return NewOutboxEntry(p.ID, EventPrescriptionRejected, RejectedData{
			PrescriptionID:  p.ID,
			PatientID:       p.PatientID,
			VerifierID:      verifierID,
			RejectionReason: p.RejectionReason,
			RejectedAt:      *p.VerifiedAt,
		})
	})
}

// transition runs the locked read-modify-write cycle shared by Verify and
// Reject: lock the row, apply the mutation (which enforces transition and
// field invariants against the locked state), persist, append the outbox
// entry, commit.
func (r *Repository) transition(ctx context.Context, id int64, mutate func(*Prescription) (*postgres.OutboxEntry, error)) (*Prescription, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = $1 FOR UPDATE`
	p, err := r.scanOne(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	entry, err := mutate(p)
	if err != nil {
		return nil, err
	}

	update := `
		UPDATE prescriptions
		SET status = $1, verifier_id = $2, verified_at = $3, rejection_reason = $4
		WHERE id = $5
	`
	if _, err := tx.Exec(ctx, update, p.Status, p.VerifierID, p.VerifiedAt, p.RejectionReason, p.ID); err != nil {
		return nil, fmt.Errorf("update prescription: %w", err)
	}

	if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	r.logger.Info("prescription status changed",
		zap.Int64("id", p.ID),
		zap.String("status", string(p.Status)))
	return p, nil
}

func (r *Repository) scanOne(row pgx.Row) (*Prescription, error) {
	p := &Prescription{}
	err := row.Scan(
		&p.ID, &p.PatientID, &p.ImagePath, &p.Status,
		&p.UploadedAt, &p.VerifierID, &p.VerifiedAt, &p.RejectionReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan prescription: %w", err)
	}
	return p, nil
}

func scanAll(rows pgx.Rows) ([]*Prescription, error) {
	var out []*Prescription
	for rows.Next() {
		p := &Prescription{}
		err := rows.Scan(
			&p.ID, &p.PatientID, &p.ImagePath, &p.Status,
			&p.UploadedAt, &p.VerifierID, &p.VerifiedAt, &p.RejectionReason,
		)
		if err != nil {
			return nil, fmt.Errorf("scan prescription: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// StatusOf reports the current persisted status of a prescription. Order
// validation depends on this capability to enforce the verified
// prescription rule without importing the order package here.
func (r *Repository) StatusOf(ctx context.Context, id int64) (Status, error) {
	var s Status
	err := r.pool.QueryRow(ctx, `SELECT status FROM prescriptions WHERE id = $1`, id).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query prescription status: %w", err)
	}
	return s, nil
}
