// Package msgpack provides a MessagePack serializer for stoat.
//
// MessagePack is a binary format that produces smaller payloads than JSON
// while keeping its flexibility. The package offers an event Serializer and
// a StateCodec for snapshots.
//
// Basic usage:
//
//	serializer := msgpack.NewSerializer()
//	serializer.Register(AccountOpened{}, MoneyDeposited{})
//
//	store := stoat.NewEventStore[Account](adapter, AccountAggregate{},
//		stoat.WithSerializer(serializer),
//		stoat.WithStateCodec(msgpack.Codec{}),
//	)
package msgpack

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/AshkanYarmoradi/go-stoat"
)

// Serializer is a MessagePack implementation of stoat.Serializer.
type Serializer struct {
	registry *stoat.EventRegistry
	tag      string
}

var (
	_ stoat.Serializer = (*Serializer)(nil)
	_ stoat.StateCodec = Codec{}
)

// SerializerOption configures a Serializer.
type SerializerOption func(*Serializer)

// WithRegistry shares an existing registry, for example one already
// populated for a JSON serializer.
func WithRegistry(registry *stoat.EventRegistry) SerializerOption {
	return func(s *Serializer) {
		s.registry = registry
	}
}

// WithStructTag makes field names come from the given struct tag, such as
// "json", instead of the msgpack tag.
func WithStructTag(tag string) SerializerOption {
	return func(s *Serializer) {
		s.tag = tag
	}
}

// NewSerializer creates a new MessagePack Serializer with an empty registry.
func NewSerializer(opts ...SerializerOption) *Serializer {
	s := &Serializer{registry: stoat.NewEventRegistry()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds event types under their EventType names.
func (s *Serializer) Register(examples ...stoat.Event) {
	s.registry.Register(examples...)
}

// Registry returns the underlying registry.
func (s *Serializer) Registry() *stoat.EventRegistry {
	return s.registry
}

// Count returns the number of registered event types.
func (s *Serializer) Count() int {
	return s.registry.Count()
}

// Serialize converts an event to MessagePack bytes.
func (s *Serializer) Serialize(event stoat.Event) ([]byte, error) {
	if event == nil {
		return nil, stoat.NewSerializationError("nil", "serialize", fmt.Errorf("event cannot be nil"))
	}

	data, err := marshal(event, s.tag)
	if err != nil {
		return nil, stoat.NewSerializationError(event.EventType(), "serialize", err)
	}
	return data, nil
}

// Deserialize converts MessagePack bytes back to the registered event type.
func (s *Serializer) Deserialize(data []byte, eventType string) (stoat.Event, error) {
	if len(data) == 0 {
		return nil, stoat.NewSerializationError(eventType, "deserialize", fmt.Errorf("data cannot be empty"))
	}

	return s.registry.Decode(eventType, func(target any) error {
		return unmarshal(data, target, s.tag)
	})
}

// Codec is a MessagePack stoat.StateCodec for snapshots. Tag, when set,
// names the struct tag used for field names.
type Codec struct {
	Tag string
}

// Marshal implements stoat.StateCodec.
func (c Codec) Marshal(v any) ([]byte, error) {
	return marshal(v, c.Tag)
}

// Unmarshal implements stoat.StateCodec.
func (c Codec) Unmarshal(data []byte, v any) error {
	return unmarshal(data, v, c.Tag)
}

func marshal(v any, tag string) ([]byte, error) {
	if tag == "" {
		return msgpack.Marshal(v)
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag(tag)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshal(data []byte, v any, tag string) error {
	if tag == "" {
		return msgpack.Unmarshal(data, v)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag(tag)
	return dec.Decode(v)
}
