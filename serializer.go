package stoat

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Serializer handles event payload serialization and deserialization.
type Serializer interface {
	// Serialize converts an event to bytes.
	Serialize(event Event) ([]byte, error)

	// Deserialize converts bytes back to an event.
	// The eventType is used to determine the target type.
	Deserialize(data []byte, eventType string) (Event, error)
}

// StateCodec encodes aggregate state for snapshots.
type StateCodec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is the default StateCodec.
type JSONCodec struct{}

// Marshal implements StateCodec.
func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal implements StateCodec.
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type registeredType struct {
	typ     reflect.Type
	pointer bool
}

// EventRegistry maps event type names to Go types.
// Serializers use it to decode payloads into the registered type.
type EventRegistry struct {
	mu    sync.RWMutex
	types map[string]registeredType
}

// NewEventRegistry creates a new empty EventRegistry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{
		types: make(map[string]registeredType),
	}
}

// Register adds the given events under their EventType names.
// Pass values for value-receiver events and pointers for pointer-receiver events.
func (r *EventRegistry) Register(examples ...Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, example := range examples {
		t := reflect.TypeOf(example)
		rt := registeredType{typ: t}
		if t.Kind() == reflect.Ptr {
			rt = registeredType{typ: t.Elem(), pointer: true}
		}
		r.types[example.EventType()] = rt
	}
}

// Lookup returns the Go type for the given event type name.
func (r *EventRegistry) Lookup(eventType string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rt, ok := r.types[eventType]
	return rt.typ, ok
}

// Decode allocates the registered type for eventType, lets decode fill it
// through a pointer, and returns it in the registered form.
func (r *EventRegistry) Decode(eventType string, decode func(target any) error) (Event, error) {
	r.mu.RLock()
	rt, ok := r.types[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEventTypeNotRegistered, eventType)
	}

	ptr := reflect.New(rt.typ)
	if err := decode(ptr.Interface()); err != nil {
		return nil, NewSerializationError(eventType, "deserialize", err)
	}

	out := ptr.Interface()
	if !rt.pointer {
		out = ptr.Elem().Interface()
	}
	ev, ok := out.(Event)
	if !ok {
		return nil, NewSerializationError(eventType, "deserialize",
			fmt.Errorf("registered type %s does not implement Event", rt.typ))
	}
	return ev, nil
}

// RegisteredTypes returns the registered event type names, sorted.
func (r *EventRegistry) RegisteredTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.types))
	for t := range r.types {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count returns the number of registered event types.
func (r *EventRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}

// JSONSerializer is the default Serializer implementation using JSON encoding.
type JSONSerializer struct {
	registry *EventRegistry
}

// NewJSONSerializer creates a new JSONSerializer with an empty registry.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{
		registry: NewEventRegistry(),
	}
}

// Register adds event types to the serializer's registry.
func (s *JSONSerializer) Register(examples ...Event) {
	s.registry.Register(examples...)
}

// Registry returns the underlying EventRegistry.
func (s *JSONSerializer) Registry() *EventRegistry {
	return s.registry
}

// Serialize converts an event to JSON bytes.
func (s *JSONSerializer) Serialize(event Event) ([]byte, error) {
	if event == nil {
		return nil, NewSerializationError("nil", "serialize", fmt.Errorf("event cannot be nil"))
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, NewSerializationError(event.EventType(), "serialize", err)
	}

	return data, nil
}

// Deserialize converts JSON bytes back to the registered event type.
func (s *JSONSerializer) Deserialize(data []byte, eventType string) (Event, error) {
	if len(data) == 0 {
		return nil, NewSerializationError(eventType, "deserialize", fmt.Errorf("data cannot be empty"))
	}

	return s.registry.Decode(eventType, func(target any) error {
		return json.Unmarshal(data, target)
	})
}
