// Package protobuf provides a Protocol Buffers serializer for stoat events.
//
// Events must be protobuf messages that also implement stoat.Event. With
// generated code that usually means a one-line EventType method next to the
// generated type:
//
//	func (*pb.AccountOpened) EventType() string { return "AccountOpened" }
//
// Usage:
//
//	s := protobuf.NewSerializer()
//	s.MustRegister(&pb.AccountOpened{}, &pb.MoneyDeposited{})
//
//	store := stoat.NewEventStore[Account](adapter, AccountAggregate{},
//		stoat.WithSerializer(s))
//
// Payloads are binary by default. WithJSON stores the canonical protobuf JSON
// form instead, which keeps the audit log readable with plain SQL tools.
package protobuf

import (
	"errors"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/AshkanYarmoradi/go-stoat"
)

// ErrNotProtoMessage indicates the event does not implement proto.Message.
var ErrNotProtoMessage = errors.New("stoat/protobuf: event must implement proto.Message")

// SerializerOption configures the Serializer.
type SerializerOption func(*Serializer)

// WithRegistry shares an existing registry.
func WithRegistry(registry *stoat.EventRegistry) SerializerOption {
	return func(s *Serializer) {
		s.registry = registry
	}
}

// WithJSON encodes payloads with protojson instead of the binary wire format.
func WithJSON() SerializerOption {
	return func(s *Serializer) {
		s.json = true
	}
}

// Serializer implements stoat.Serializer using Protocol Buffers.
type Serializer struct {
	registry *stoat.EventRegistry
	json     bool
}

var _ stoat.Serializer = (*Serializer)(nil)

// NewSerializer creates a new Protocol Buffers serializer with an empty registry.
func NewSerializer(opts ...SerializerOption) *Serializer {
	s := &Serializer{registry: stoat.NewEventRegistry()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds event types under their EventType names. Every example
// must be a pointer to a protobuf message.
func (s *Serializer) Register(examples ...stoat.Event) error {
	for _, ev := range examples {
		if _, ok := ev.(proto.Message); !ok {
			return fmt.Errorf("%w: %s (%T)", ErrNotProtoMessage, ev.EventType(), ev)
		}
		if reflect.TypeOf(ev).Kind() != reflect.Ptr {
			return fmt.Errorf("%w: %s must be registered as a pointer", ErrNotProtoMessage, ev.EventType())
		}
	}
	s.registry.Register(examples...)
	return nil
}

// MustRegister is like Register but panics on error.
func (s *Serializer) MustRegister(examples ...stoat.Event) {
	if err := s.Register(examples...); err != nil {
		panic(err)
	}
}

// Registry returns the underlying registry.
func (s *Serializer) Registry() *stoat.EventRegistry {
	return s.registry
}

// Count returns the number of registered event types.
func (s *Serializer) Count() int {
	return s.registry.Count()
}

// Serialize converts an event to protobuf bytes. Output is deterministic
// for a given message.
func (s *Serializer) Serialize(event stoat.Event) ([]byte, error) {
	if event == nil {
		return nil, stoat.NewSerializationError("nil", "serialize", fmt.Errorf("event cannot be nil"))
	}
	msg, ok := event.(proto.Message)
	if !ok {
		return nil, stoat.NewSerializationError(event.EventType(), "serialize", ErrNotProtoMessage)
	}

	var (
		data []byte
		err  error
	)
	if s.json {
		data, err = protojson.Marshal(msg)
	} else {
		data, err = proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	}
	if err != nil {
		return nil, stoat.NewSerializationError(event.EventType(), "serialize", err)
	}
	return data, nil
}

// Deserialize converts protobuf bytes back to the registered event type.
// Empty data is a valid encoding of a message with every field at its default.
func (s *Serializer) Deserialize(data []byte, eventType string) (stoat.Event, error) {
	return s.registry.Decode(eventType, func(target any) error {
		msg, ok := target.(proto.Message)
		if !ok {
			return ErrNotProtoMessage
		}
		if s.json {
			return protojson.Unmarshal(data, msg)
		}
		return proto.Unmarshal(data, msg)
	})
}
