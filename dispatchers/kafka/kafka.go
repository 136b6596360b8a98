// Package kafka publishes committed envelopes to Kafka topics using
// github.com/segmentio/kafka-go. Messages are keyed by stream id so every
// envelope of a stream lands on the same partition in sequence order.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/dispatchers"
	kafkago "github.com/segmentio/kafka-go"
)

var _ stoat.Dispatcher = (*Dispatcher)(nil)

// Writer is the subset of *kafkago.Writer used by the dispatcher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// TopicFunc picks the topic for a batch.
type TopicFunc func(aggregateType string) string

// Dispatcher publishes envelopes to Kafka.
type Dispatcher struct {
	brokers      []string
	balancer     kafkago.Balancer
	batchTimeout time.Duration
	transport    kafkago.RoundTripper
	topic        TopicFunc
	newWriter    func(topic string) Writer

	mu      sync.RWMutex
	writers map[string]Writer
}

// Option configures a Kafka Dispatcher.
type Option func(*Dispatcher)

// WithBrokers sets the Kafka broker addresses.
func WithBrokers(brokers ...string) Option {
	return func(d *Dispatcher) {
		d.brokers = brokers
	}
}

// WithBalancer sets the message balancer (partitioner).
func WithBalancer(balancer kafkago.Balancer) Option {
	return func(d *Dispatcher) {
		d.balancer = balancer
	}
}

// WithBatchTimeout sets the batch timeout for the writers.
func WithBatchTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		d.batchTimeout = t
	}
}

// WithTopic publishes every batch to one topic.
func WithTopic(topic string) Option {
	return func(d *Dispatcher) {
		d.topic = func(string) string { return topic }
	}
}

// WithTopicFunc routes batches by aggregate type.
func WithTopicFunc(fn TopicFunc) Option {
	return func(d *Dispatcher) {
		d.topic = fn
	}
}

// WithWriterFactory replaces the kafka-go writer, mostly for tests.
func WithWriterFactory(fn func(topic string) Writer) Option {
	return func(d *Dispatcher) {
		d.newWriter = fn
	}
}

// New creates a Kafka Dispatcher. By default each aggregate type gets the
// topic "stoat.<aggregateType>".
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		brokers:      []string{"localhost:9092"},
		balancer:     &kafkago.Hash{},
		batchTimeout: 10 * time.Millisecond,
		topic:        func(aggregateType string) string { return "stoat." + aggregateType },
		writers:      make(map[string]Writer),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.newWriter == nil {
		d.newWriter = d.kafkaWriter
	}
	return d
}

// Name implements stoat.Named.
func (d *Dispatcher) Name() string {
	return "kafka"
}

// Dispatch implements stoat.Dispatcher. The batch is written in one call.
func (d *Dispatcher) Dispatch(ctx context.Context, aggregateType string, envelopes []stoat.Envelope) error {
	topic := d.topic(aggregateType)
	if topic == "" {
		return fmt.Errorf("kafka: no topic for aggregate type %q", aggregateType)
	}

	msgs := make([]kafkago.Message, 0, len(envelopes))
	for _, env := range envelopes {
		value, err := dispatchers.Encode(env)
		if err != nil {
			return err
		}
		msg := kafkago.Message{
			Key:   []byte(env.StreamID),
			Value: value,
			Time:  env.RecordedAt,
		}
		for k, v := range dispatchers.Headers(env) {
			msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(v)})
		}
		msgs = append(msgs, msg)
	}

	if err := d.writer(topic).WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: failed to write to topic %s: %w", topic, err)
	}
	return nil
}

// Close closes all writers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for topic, w := range d.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka: close writer for %s: %w", topic, err))
		}
		delete(d.writers, topic)
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) writer(topic string) Writer {
	d.mu.RLock()
	if w, ok := d.writers[topic]; ok {
		d.mu.RUnlock()
		return w
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if w, ok := d.writers[topic]; ok {
		return w
	}
	w := d.newWriter(topic)
	d.writers[topic] = w
	return w
}

func (d *Dispatcher) kafkaWriter(topic string) Writer {
	return &kafkago.Writer{
		Addr:                   kafkago.TCP(d.brokers...),
		Topic:                  topic,
		Balancer:               d.balancer,
		BatchTimeout:           d.batchTimeout,
		Transport:              d.transport,
		AllowAutoTopicCreation: true,
	}
}
