// Package postgres provides the PostgreSQL layer: connection pooling,
// embedded migrations, and the transactional outbox that bridges domain
// writes to the event stream.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medleaf/pharma-platform/internal/infrastructure/kafka"
)

// relayLockID is the advisory lock key; every relay instance must use the
// same value so only one of them drains the table at a time.
const relayLockID int64 = 0x70686172

// OutboxEntry is one event row awaiting publication. Payload holds the
// marshaled event envelope.
type OutboxEntry struct {
	ID            int64
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       json.RawMessage
	KafkaTopic    string
	KafkaKey      string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     *string
}

// OutboxConfig holds configuration for the outbox relay.
type OutboxConfig struct {
	// BatchSize is the number of entries to publish per poll
	BatchSize int
	// PollInterval is how often to poll for new entries
	PollInterval time.Duration
	// MaxRetries is the publish attempt limit before an entry is parked
	// for the dead letter sweep
	MaxRetries int
	// DeadLetterTopic receives entries that exhausted their retries
	DeadLetterTopic string
}

// DefaultOutboxConfig returns the relay defaults.
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BatchSize:       100,
		PollInterval:    100 * time.Millisecond,
		MaxRetries:      5,
		DeadLetterTopic: kafka.TopicDeadLetter,
	}
}

// OutboxPublisher publishes a single outbox entry to the event stream.
type OutboxPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Outbox polls the outbox table and publishes pending entries.
type Outbox struct {
	pool      *pgxpool.Pool
	config    OutboxConfig
	publisher OutboxPublisher
	logger    *zap.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOutbox creates an outbox relay over the given pool and publisher.
func NewOutbox(pool *pgxpool.Pool, publisher OutboxPublisher, cfg OutboxConfig, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = kafka.TopicDeadLetter
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Outbox{
		pool:      pool,
		config:    cfg,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("outbox"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// WriteEntry inserts an outbox entry. It must run inside the same
// transaction as the domain write it describes.
func WriteEntry(ctx context.Context, tx pgx.Tx, entry *OutboxEntry) error {
	query := `
		INSERT INTO outbox (aggregate_id, aggregate_type, event_type, payload, kafka_topic, kafka_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := tx.QueryRow(ctx, query,
		entry.AggregateID,
		entry.AggregateType,
		entry.EventType,
		entry.Payload,
		entry.KafkaTopic,
		entry.KafkaKey,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to write outbox entry: %w", err)
	}

	return nil
}

// Start begins polling and publishing outbox entries.
func (o *Outbox) Start() {
	go o.processLoop()
	o.logger.Info("outbox relay started",
		zap.Int("batch_size", o.config.BatchSize),
		zap.Duration("poll_interval", o.config.PollInterval))
}

// Stop halts the relay and waits for the in-flight batch to finish.
func (o *Outbox) Stop() {
	o.cancel()
	<-o.done
	o.logger.Info("outbox relay stopped")
}

func (o *Outbox) processLoop() {
	defer close(o.done)

	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.processBatch()
		}
	}
}

func (o *Outbox) processBatch() {
	ctx, span := o.tracer.Start(o.ctx, "outbox_process_batch")
	defer span.End()

	var acquired bool
	err := o.pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", relayLockID).Scan(&acquired)
	if err != nil || !acquired {
		return // another relay holds the lock
	}
	defer o.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", relayLockID)

	entries, err := o.fetchUnprocessed(ctx)
	if err != nil {
		o.logger.Error("failed to fetch outbox entries", zap.Error(err))
		span.RecordError(err)
		return
	}

	if len(entries) == 0 {
		return
	}

	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	for _, entry := range entries {
		if err := o.processEntry(ctx, entry); err != nil {
			o.logger.Error("failed to publish outbox entry",
				zap.Int64("id", entry.ID),
				zap.String("event_type", entry.EventType),
				zap.Error(err))
		}
	}
}

func (o *Outbox) fetchUnprocessed(ctx context.Context) ([]*OutboxEntry, error) {
	query := `
		SELECT id, aggregate_id, aggregate_type, event_type, payload,
		       kafka_topic, kafka_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := o.pool.Query(ctx, query, o.config.MaxRetries, o.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		err := rows.Scan(
			&entry.ID, &entry.AggregateID, &entry.AggregateType,
			&entry.EventType, &entry.Payload, &entry.KafkaTopic,
			&entry.KafkaKey, &entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// processEntry publishes one entry and marks it processed. A failed
// publish bumps the retry count; the entry stays pending until it
// succeeds or the dead letter sweep picks it up.
func (o *Outbox) processEntry(ctx context.Context, entry *OutboxEntry) error {
	ctx, span := o.tracer.Start(ctx, "outbox_process_entry",
		trace.WithAttributes(
			attribute.Int64("entry_id", entry.ID),
			attribute.String("event_type", entry.EventType),
			attribute.String("aggregate_id", entry.AggregateID),
		))
	defer span.End()

	err := o.publisher.Publish(ctx, entry.KafkaTopic, entry.KafkaKey, entry.Payload)
	if err != nil {
		updateQuery := `
			UPDATE outbox
			SET retry_count = retry_count + 1, last_error = $1, updated_at = NOW()
			WHERE id = $2
		`
		errStr := err.Error()
		if _, updateErr := o.pool.Exec(ctx, updateQuery, errStr, entry.ID); updateErr != nil {
			o.logger.Error("failed to update retry count", zap.Error(updateErr))
		}
		span.RecordError(err)
		return fmt.Errorf("publish failed: %w", err)
	}

	markQuery := `
		UPDATE outbox
		SET processed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	if _, err := o.pool.Exec(ctx, markQuery, entry.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark processed: %w", err)
	}

	o.logger.Debug("outbox entry published",
		zap.Int64("id", entry.ID),
		zap.String("topic", entry.KafkaTopic))

	return nil
}

// CleanupProcessed deletes entries published more than olderThan ago and
// returns how many were removed.
func (o *Outbox) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM outbox
		WHERE processed_at IS NOT NULL
		  AND processed_at < NOW() - $1::interval
	`

	result, err := o.pool.Exec(ctx, query, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}

	return result.RowsAffected(), nil
}

// deadLetterRecord wraps an exhausted entry with its failure history for
// the dead letter topic.
type deadLetterRecord struct {
	OriginalTopic string          `json:"original_topic"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	RetryCount    int             `json:"retry_count"`
	LastError     *string         `json:"last_error"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MoveToDeadLetter publishes entries that exhausted their retries to the
// dead letter topic and marks them processed. Returns how many moved.
func (o *Outbox) MoveToDeadLetter(ctx context.Context) (int64, error) {
	query := `
		SELECT id, aggregate_id, aggregate_type, event_type, payload,
		       kafka_topic, kafka_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count >= $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := o.pool.Query(ctx, query, o.config.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var count int64
	for rows.Next() {
		entry := &OutboxEntry{}
		err := rows.Scan(
			&entry.ID, &entry.AggregateID, &entry.AggregateType,
			&entry.EventType, &entry.Payload, &entry.KafkaTopic,
			&entry.KafkaKey, &entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		)
		if err != nil {
			continue
		}

		record, err := json.Marshal(deadLetterRecord{
			OriginalTopic: entry.KafkaTopic,
			EventType:     entry.EventType,
			AggregateID:   entry.AggregateID,
			Payload:       entry.Payload,
			RetryCount:    entry.RetryCount,
			LastError:     entry.LastError,
			CreatedAt:     entry.CreatedAt,
		})
		if err != nil {
			o.logger.Error("failed to marshal dead letter record", zap.Error(err))
			continue
		}

		if err := o.publisher.Publish(ctx, o.config.DeadLetterTopic, entry.KafkaKey, record); err != nil {
			o.logger.Error("failed to publish to dead letter", zap.Error(err))
			continue
		}

		if _, err := o.pool.Exec(ctx, "UPDATE outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1", entry.ID); err != nil {
			o.logger.Error("failed to mark dead letter entry", zap.Error(err))
			continue
		}

		count++
	}

	return count, rows.Err()
}

// OutboxStats summarizes the relay backlog.
type OutboxStats struct {
	Pending       int64
	Processed     int64
	Failed        int64
	OldestPending *time.Time
}

// GetStats reports backlog counts: pending entries, entries published in
// the last day, entries awaiting the dead letter sweep, and the age of
// the oldest pending entry.
func (o *Outbox) GetStats(ctx context.Context) (*OutboxStats, error) {
	stats := &OutboxStats{}

	err := o.pool.QueryRow(ctx, "SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL AND retry_count < $1", o.config.MaxRetries).Scan(&stats.Pending)
	if err != nil {
		return nil, err
	}

	err = o.pool.QueryRow(ctx, "SELECT COUNT(*) FROM outbox WHERE processed_at IS NOT NULL AND processed_at > NOW() - INTERVAL '24 hours'").Scan(&stats.Processed)
	if err != nil {
		return nil, err
	}

	err = o.pool.QueryRow(ctx, "SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL AND retry_count >= $1", o.config.MaxRetries).Scan(&stats.Failed)
	if err != nil {
		return nil, err
	}

	_ = o.pool.QueryRow(ctx, "SELECT MIN(created_at) FROM outbox WHERE processed_at IS NULL").Scan(&stats.OldestPending)

	return stats, nil
}
