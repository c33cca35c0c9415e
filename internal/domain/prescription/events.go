package prescription

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/medleaf/pharma-platform/internal/infrastructure/kafka"
	"github.com/medleaf/pharma-platform/internal/infrastructure/postgres"
)

// EventType represents the type of prescription domain event
type EventType string

const (
	EventPrescriptionUploaded EventType = "PrescriptionUploaded"
	EventPrescriptionVerified EventType = "PrescriptionVerified"
	EventPrescriptionRejected EventType = "PrescriptionRejected"
)

// UploadedData contains the payload for EventPrescriptionUploaded
type UploadedData struct {
	PrescriptionID int64     `json:"prescription_id"`
	PatientID      int64     `json:"patient_id"`
	ImagePath      string    `json:"image_path"`
	UploadedAt     time.Time `json:"uploaded_at"`
}

// VerifiedData contains the payload for EventPrescriptionVerified
type VerifiedData struct {
	PrescriptionID int64     `json:"prescription_id"`
	PatientID      int64     `json:"patient_id"`
	VerifierID     int64     `json:"verifier_id"`
	VerifiedAt     time.Time `json:"verified_at"`
}

// RejectedData contains the payload for EventPrescriptionRejected
type RejectedData struct {
	PrescriptionID  int64     `json:"prescription_id"`
	PatientID       int64     `json:"patient_id"`
	VerifierID      int64     `json:"verifier_id"`
	RejectionReason string    `json:"rejection_reason"`
	RejectedAt      time.Time `json:"rejected_at"`
}

// NewOutboxEntry builds the outbox row for a prescription event. The entry
// is written in the same transaction as the state change; keying by
// prescription id keeps per-prescription ordering on the topic. The
// payload is the full event envelope so consumers get metadata and an
// idempotency key without a second lookup.
func NewOutboxEntry(prescriptionID int64, eventType EventType, data interface{}) (*postgres.OutboxEntry, error) {
	id := strconv.FormatInt(prescriptionID, 10)
	envelope, err := kafka.NewEnvelope(string(eventType), "prescription", id, data)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	return &postgres.OutboxEntry{
		AggregateID:   id,
		AggregateType: "prescription",
		EventType:     string(eventType),
		Payload:       payload,
		KafkaTopic:    kafka.TopicPrescriptionEvents,
		KafkaKey:      id,
	}, nil
}
