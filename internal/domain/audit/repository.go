package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Repository persists audit entries.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates an audit repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// Record inserts an audit entry. Returns false without error when the
// event id was already recorded; the trail keeps the first copy.
func (r *Repository) Record(ctx context.Context, e *Entry) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO audit_trail (event_id, event_type, aggregate_type, aggregate_id,
			occurred_at, data, kafka_topic, kafka_partition, kafka_offset)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT ON CONSTRAINT audit_trail_event_id_key DO NOTHING
		RETURNING id, recorded_at`,
		e.EventID, e.EventType, e.AggregateType, e.AggregateID,
		e.OccurredAt, e.Data, e.KafkaTopic, e.KafkaPartition, e.KafkaOffset,
	).Scan(&e.ID, &e.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("audit entry already recorded",
				zap.String("event_id", e.EventID))
			return false, nil
		}
		return false, fmt.Errorf("failed to record audit entry: %w", err)
	}

	return true, nil
}
