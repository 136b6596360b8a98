// Package sns publishes committed envelopes to an AWS SNS topic.
package sns

import (
	"context"
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/dispatchers"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

var _ stoat.Dispatcher = (*Dispatcher)(nil)

// Client defines the subset of the SNS API used by the dispatcher.
type Client interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Dispatcher publishes one SNS message per envelope.
type Dispatcher struct {
	client   Client
	topicARN string
	fifo     bool
}

// Option configures an SNS Dispatcher.
type Option func(*Dispatcher)

// WithFIFO sets the message group to the stream id and the deduplication
// id to the envelope id, as FIFO topics require.
func WithFIFO() Option {
	return func(d *Dispatcher) {
		d.fifo = true
	}
}

// New creates an SNS Dispatcher for topicARN.
func New(client Client, topicARN string, opts ...Option) *Dispatcher {
	d := &Dispatcher{client: client, topicARN: topicARN}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name implements stoat.Named.
func (d *Dispatcher) Name() string {
	return "sns"
}

// Dispatch implements stoat.Dispatcher. Envelopes are published in order
// and every one is attempted; failures are joined.
func (d *Dispatcher) Dispatch(ctx context.Context, aggregateType string, envelopes []stoat.Envelope) error {
	if d.client == nil {
		return errors.New("sns: client not configured")
	}
	if d.topicARN == "" {
		return errors.New("sns: topic ARN not configured")
	}

	var errs []error
	for _, env := range envelopes {
		body, err := dispatchers.Encode(env)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		input := &sns.PublishInput{
			TopicArn: aws.String(d.topicARN),
			Message:  aws.String(string(body)),
		}

		headers := dispatchers.Headers(env)
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(headers))
		for k, v := range headers {
			input.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}

		if d.fifo {
			input.MessageGroupId = aws.String(env.StreamID)
			input.MessageDeduplicationId = aws.String(env.ID)
		}

		if _, err := d.client.Publish(ctx, input); err != nil {
			errs = append(errs, fmt.Errorf("sns: failed to publish %s@%d: %w", env.StreamID, env.Sequence, err))
		}
	}

	return errors.Join(errs...)
}
