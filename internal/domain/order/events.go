package order

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medleaf/pharma-platform/internal/infrastructure/kafka"
	"github.com/medleaf/pharma-platform/internal/infrastructure/postgres"
)

// EventType represents the type of order domain event
type EventType string

const (
	EventOrderPlaced        EventType = "OrderPlaced"
	EventOrderStatusChanged EventType = "OrderStatusChanged"
)

// PlacedData contains the payload for EventOrderPlaced
type PlacedData struct {
	OrderID        int64           `json:"order_id"`
	PatientID      int64           `json:"patient_id"`
	PharmacyID     int64           `json:"pharmacy_id"`
	PrescriptionID int64           `json:"prescription_id"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	ItemCount      int             `json:"item_count"`
	PlacedAt       time.Time       `json:"placed_at"`
}

// StatusChangedData contains the payload for EventOrderStatusChanged
type StatusChangedData struct {
	OrderID        int64     `json:"order_id"`
	PatientID      int64     `json:"patient_id"`
	FromStatus     Status    `json:"from_status"`
	ToStatus       Status    `json:"to_status"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	ChangedAt      time.Time `json:"changed_at"`
}

// NewOutboxEntry builds the outbox row for an order event, keyed by order
// id so per-order ordering holds on the topic. The payload carries the
// full event envelope.
func NewOutboxEntry(orderID int64, eventType EventType, data interface{}) (*postgres.OutboxEntry, error) {
	id := strconv.FormatInt(orderID, 10)
	envelope, err := kafka.NewEnvelope(string(eventType), "order", id, data)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	return &postgres.OutboxEntry{
		AggregateID:   id,
		AggregateType: "order",
		EventType:     string(eventType),
		Payload:       payload,
		KafkaTopic:    kafka.TopicOrderEvents,
		KafkaKey:      id,
	}, nil
}
