package stoat

import (
	"fmt"
	"strings"
	"time"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
)

// Event is a domain fact. EventType is the discriminant persisted with it.
type Event interface {
	EventType() string
}

// StreamID uniquely identifies an event stream.
// It consists of a category (aggregate type) and an instance ID.
type StreamID struct {
	// Category represents the aggregate type (e.g., "Account").
	Category string

	// ID is the aggregate identifier within the category.
	ID string
}

// NewStreamID creates a new StreamID from category and ID.
func NewStreamID(category, id string) StreamID {
	return StreamID{Category: category, ID: id}
}

// ParseStreamID parses a stream ID string in the format "Category-ID".
// Returns an error if the format is invalid.
func ParseStreamID(s string) (StreamID, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return StreamID{}, fmt.Errorf("stoat: invalid stream ID format %q, expected 'Category-ID'", s)
	}
	return StreamID{Category: parts[0], ID: parts[1]}, nil
}

// String returns the stream ID as "Category-ID".
func (s StreamID) String() string {
	return s.Category + "-" + s.ID
}

// Validate checks if the StreamID is valid.
func (s StreamID) Validate() error {
	if s.Category == "" {
		return fmt.Errorf("stoat: stream category is required")
	}
	if s.ID == "" {
		return ErrEmptyStreamID
	}
	return nil
}

// Envelope is a committed event with its position and causal metadata.
// Dispatchers receive envelopes read-only.
type Envelope struct {
	ID            string            `json:"id"`
	StreamID      string            `json:"streamId"`
	AggregateType string            `json:"aggregateType"`
	AggregateID   string            `json:"aggregateId"`
	Sequence      uint64            `json:"sequence"`
	EventType     string            `json:"eventType"`
	Payload       Event             `json:"payload"`
	RecordedAt    time.Time         `json:"recordedAt"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CausationID   string            `json:"causationId,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	UserID        string            `json:"userId,omitempty"`

	// Data is the serialized payload as stored.
	Data []byte `json:"-"`
}

// Version returns the stream length once this envelope is applied.
func (e Envelope) Version() uint64 {
	return e.Sequence + 1
}

func (e Envelope) record() adapters.EventRecord {
	return adapters.EventRecord{
		ID:            e.ID,
		Sequence:      e.Sequence,
		Type:          e.EventType,
		Data:          e.Data,
		Metadata:      e.Metadata,
		CausationID:   e.CausationID,
		CorrelationID: e.CorrelationID,
		UserID:        e.UserID,
		RecordedAt:    e.RecordedAt,
	}
}

func envelopeFromStored(stored adapters.StoredEvent, sid StreamID, payload Event) Envelope {
	return Envelope{
		ID:            stored.ID,
		StreamID:      stored.StreamID,
		AggregateType: sid.Category,
		AggregateID:   sid.ID,
		Sequence:      stored.Sequence,
		EventType:     stored.Type,
		Payload:       payload,
		RecordedAt:    stored.RecordedAt,
		Metadata:      stored.Metadata,
		CausationID:   stored.CausationID,
		CorrelationID: stored.CorrelationID,
		UserID:        stored.UserID,
		Data:          stored.Data,
	}
}
