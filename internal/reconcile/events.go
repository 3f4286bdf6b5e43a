package reconcile

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-channel-sync/internal/kafka"
)

const (
	EventChannelSyncRequested = "ChannelSyncRequested"
	EventChannelSyncCompleted = "ChannelSyncCompleted"
	EventChannelSyncFailed    = "ChannelSyncFailed"
	EventOrderImported        = "OrderImported"
)

const (
	TopicSyncRequested = "channel.sync.requested"
	TopicSyncCompleted = "channel.sync.completed"
	TopicSyncFailed    = "channel.sync.failed"
	TopicOrderImported = "order.imported"
)

// Partition key = channel_id, supaya event satu channel tetap berurutan.
func PartitionKey(channelID string) []byte { return []byte(channelID) }

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g., "channel-sync"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya channel_id
	Payload       json.RawMessage `json:"payload"`
}

type SyncRequestedPayload struct {
	UserID      string `json:"user_id"`
	ChannelID   string `json:"channel_id"`
	Marketplace string `json:"marketplace"`
	Kind        Kind   `json:"kind"`
}

type SyncFinishedPayload struct {
	UserID      string    `json:"user_id"`
	ChannelID   string    `json:"channel_id"`
	Marketplace string    `json:"marketplace"`
	Kind        Kind      `json:"kind"`
	State       State     `json:"state"`
	Fetched     int       `json:"fetched"`
	Reconciled  int       `json:"reconciled"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Pages       int       `json:"pages"`
	Reason      string    `json:"reason,omitempty"` // jika FAILED
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

type OrderImportedPayload struct {
	OrderID         string `json:"order_id"`
	ChannelID       string `json:"channel_id"`
	UserID          string `json:"user_id"`
	ExternalOrderID string `json:"external_order_id"`
	Total           string `json:"total"`
}

func newEnvelope(eventType, producer, correlationID string, at time.Time, payload any) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       kafka.MustMarshal(payload),
	}
}
