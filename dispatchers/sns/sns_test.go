package sns

import (
	"context"
	"errors"
	"testing"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/dispatchers"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const topic = "arn:aws:sns:us-east-1:123456789:ledger"

type mockClient struct {
	calls  []*sns.PublishInput
	failOn int
}

func (m *mockClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls = append(m.calls, params)
	if m.failOn > 0 && len(m.calls) == m.failOn {
		return nil, errors.New("throttled")
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-123")}, nil
}

type opened struct {
	Owner string `json:"owner"`
}

func (opened) EventType() string { return "Opened" }

func envelopes() []stoat.Envelope {
	return []stoat.Envelope{
		{ID: "e0", StreamID: "account-1", AggregateType: "account", AggregateID: "1", Sequence: 0, EventType: "Opened", Payload: opened{Owner: "alice"}},
		{ID: "e1", StreamID: "account-1", AggregateType: "account", AggregateID: "1", Sequence: 1, EventType: "Opened", Payload: opened{Owner: "bob"}},
	}
}

func TestDispatch(t *testing.T) {
	client := &mockClient{}
	d := New(client, topic)
	assert.Equal(t, "sns", stoat.DispatcherName(d))

	require.NoError(t, d.Dispatch(context.Background(), "account", envelopes()))
	require.Len(t, client.calls, 2)

	call := client.calls[0]
	assert.Equal(t, topic, *call.TopicArn)
	assert.Contains(t, *call.Message, `"payload":{"owner":"alice"}`)
	assert.Equal(t, "Opened", *call.MessageAttributes[dispatchers.HeaderEventType].StringValue)
	assert.Nil(t, call.MessageGroupId)
}

func TestDispatch_FIFO(t *testing.T) {
	client := &mockClient{}
	d := New(client, topic+".fifo", WithFIFO())

	require.NoError(t, d.Dispatch(context.Background(), "account", envelopes()))
	require.Len(t, client.calls, 2)
	assert.Equal(t, "account-1", *client.calls[1].MessageGroupId)
	assert.Equal(t, "e1", *client.calls[1].MessageDeduplicationId)
}

func TestDispatch_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("no client", func(t *testing.T) {
		assert.ErrorContains(t, New(nil, topic).Dispatch(ctx, "account", envelopes()), "client not configured")
	})

	t.Run("no topic", func(t *testing.T) {
		assert.ErrorContains(t, New(&mockClient{}, "").Dispatch(ctx, "account", envelopes()), "topic ARN")
	})

	t.Run("every envelope is attempted", func(t *testing.T) {
		client := &mockClient{failOn: 1}
		err := New(client, topic).Dispatch(ctx, "account", envelopes())
		assert.ErrorContains(t, err, "account-1@0")
		assert.Len(t, client.calls, 2)
	})
}
