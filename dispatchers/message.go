// Package dispatchers holds the wire shape shared by the notification
// dispatchers (kafka, sns, webhook).
package dispatchers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/AshkanYarmoradi/go-stoat"
)

// Header keys attached to every published message.
const (
	HeaderEventID       = "stoat-event-id"
	HeaderEventType     = "stoat-event-type"
	HeaderAggregateType = "stoat-aggregate-type"
	HeaderAggregateID   = "stoat-aggregate-id"
	HeaderStreamID      = "stoat-stream-id"
	HeaderSequence      = "stoat-sequence"
	HeaderCorrelationID = "stoat-correlation-id"
	HeaderCausationID   = "stoat-causation-id"
	HeaderUserID        = "stoat-user-id"

	// MetadataPrefix prefixes envelope metadata keys in headers.
	MetadataPrefix = "stoat-meta-"
)

// Message is the JSON body published for one envelope.
type Message struct {
	ID            string            `json:"id"`
	StreamID      string            `json:"streamId"`
	AggregateType string            `json:"aggregateType"`
	AggregateID   string            `json:"aggregateId"`
	Sequence      uint64            `json:"sequence"`
	EventType     string            `json:"eventType"`
	Payload       json.RawMessage   `json:"payload"`
	RecordedAt    time.Time         `json:"recordedAt"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CausationID   string            `json:"causationId,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	UserID        string            `json:"userId,omitempty"`
}

// NewMessage converts an envelope to its published form. The payload is
// re-encoded as JSON whatever serializer the store uses.
func NewMessage(env stoat.Envelope) (Message, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return Message{}, fmt.Errorf("stoat/dispatchers: encode %s payload: %w", env.EventType, err)
	}
	return Message{
		ID:            env.ID,
		StreamID:      env.StreamID,
		AggregateType: env.AggregateType,
		AggregateID:   env.AggregateID,
		Sequence:      env.Sequence,
		EventType:     env.EventType,
		Payload:       payload,
		RecordedAt:    env.RecordedAt,
		Metadata:      env.Metadata,
		CausationID:   env.CausationID,
		CorrelationID: env.CorrelationID,
		UserID:        env.UserID,
	}, nil
}

// Encode returns the JSON body for env.
func Encode(env stoat.Envelope) ([]byte, error) {
	msg, err := NewMessage(env)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// EncodeBatch returns one JSON array holding every envelope.
func EncodeBatch(envelopes []stoat.Envelope) ([]byte, error) {
	msgs := make([]Message, 0, len(envelopes))
	for _, env := range envelopes {
		msg, err := NewMessage(env)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return json.Marshal(msgs)
}

// Headers returns the routing headers for env. Empty values are omitted.
func Headers(env stoat.Envelope) map[string]string {
	h := map[string]string{
		HeaderEventID:       env.ID,
		HeaderEventType:     env.EventType,
		HeaderAggregateType: env.AggregateType,
		HeaderAggregateID:   env.AggregateID,
		HeaderStreamID:      env.StreamID,
		HeaderSequence:      strconv.FormatUint(env.Sequence, 10),
	}
	if env.CorrelationID != "" {
		h[HeaderCorrelationID] = env.CorrelationID
	}
	if env.CausationID != "" {
		h[HeaderCausationID] = env.CausationID
	}
	if env.UserID != "" {
		h[HeaderUserID] = env.UserID
	}
	for k, v := range env.Metadata {
		h[MetadataPrefix+k] = v
	}
	return h
}
