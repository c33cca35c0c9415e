// Package audit persists the durable trail of domain events consumed
// from the event topics.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/medleaf/pharma-platform/internal/infrastructure/kafka"
)

// Entry is one recorded domain event with its stream position.
type Entry struct {
	ID             int64           `json:"id"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Data           json.RawMessage `json:"data"`
	KafkaTopic     string          `json:"kafka_topic"`
	KafkaPartition int32           `json:"kafka_partition"`
	KafkaOffset    int64           `json:"kafka_offset"`
	RecordedAt     time.Time       `json:"recorded_at"`
}

// FromEnvelope builds an audit entry from a consumed event envelope and
// the record's position on the topic.
func FromEnvelope(envelope *kafka.Envelope, topic string, partition int32, offset int64) *Entry {
	return &Entry{
		EventID:        envelope.EventID,
		EventType:      envelope.EventType,
		AggregateType:  envelope.AggregateType,
		AggregateID:    envelope.AggregateID,
		OccurredAt:     envelope.OccurredAt,
		Data:           envelope.Data,
		KafkaTopic:     topic,
		KafkaPartition: partition,
		KafkaOffset:    offset,
	}
}

// Validate rejects entries built from incomplete envelopes. These are
// malformed at the source; retrying cannot fix them.
func (e *Entry) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("invalid envelope: missing event_id")
	case e.EventType == "":
		return fmt.Errorf("invalid envelope: missing event_type")
	case e.AggregateType == "":
		return fmt.Errorf("invalid envelope: missing aggregate_type")
	case e.AggregateID == "":
		return fmt.Errorf("invalid envelope: missing aggregate_id")
	case e.OccurredAt.IsZero():
		return fmt.Errorf("invalid envelope: missing occurred_at")
	}
	if len(e.Data) == 0 {
		e.Data = json.RawMessage(`{}`)
	}
	return nil
}
