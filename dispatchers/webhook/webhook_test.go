package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AshkanYarmoradi/go-stoat"
	memadapter "github.com/AshkanYarmoradi/go-stoat/adapters/memory"
	"github.com/AshkanYarmoradi/go-stoat/dispatchers"
	"github.com/AshkanYarmoradi/go-stoat/testing/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noted struct {
	Text string `json:"text"`
}

func (noted) EventType() string { return "Noted" }

func batch() []stoat.Envelope {
	return []stoat.Envelope{
		{ID: "e3", StreamID: "note-1", AggregateType: "note", AggregateID: "1", Sequence: 3, EventType: "Noted", Payload: noted{Text: "a"}},
		{ID: "e4", StreamID: "note-1", AggregateType: "note", AggregateID: "1", Sequence: 4, EventType: "Noted", Payload: noted{Text: "b"}},
	}
}

func TestDispatch_Success(t *testing.T) {
	var body []byte
	var headers http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	d := New(server.URL, WithDefaultHeaders(map[string]string{"Authorization": "Bearer t"}))
	assert.Equal(t, "webhook", stoat.DispatcherName(d))
	require.NoError(t, d.Dispatch(context.Background(), "note", batch()))

	var msgs []dispatchers.Message
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(4), msgs[1].Sequence)
	assert.JSONEq(t, `{"text":"b"}`, string(msgs[1].Payload))

	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "Bearer t", headers.Get("Authorization"))
	assert.Equal(t, "note", headers.Get(HeaderAggregateType))
	assert.Equal(t, "note-1", headers.Get(HeaderStreamID))
	assert.Equal(t, "3", headers.Get(HeaderFromSequence))
	assert.Equal(t, "2", headers.Get(HeaderCount))
	assert.Empty(t, headers.Get(HeaderSignature))
}

func TestDispatch_Signed(t *testing.T) {
	var body []byte
	var signature string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get(HeaderSignature)
		body, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	require.NoError(t, New(server.URL, WithSigningSecret("s3cret")).Dispatch(context.Background(), "note", batch()))
	assert.Equal(t, Sign([]byte("s3cret"), body), signature)
	assert.Contains(t, signature, "sha256=")
}

func TestDispatch_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		status int
		want   string
	}{
		{"server error", http.StatusInternalServerError, "server error 500"},
		{"client error", http.StatusBadRequest, "unexpected status 400"},
		{"redirect", http.StatusNotModified, "unexpected status 304"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := New(server.URL).Dispatch(ctx, "note", batch())
			assert.ErrorContains(t, err, tt.want)
		})
	}

	t.Run("no URL", func(t *testing.T) {
		assert.ErrorContains(t, New("").Dispatch(ctx, "note", batch()), "URL not configured")
	})

	t.Run("timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		err := New(server.URL, WithTimeout(20*time.Millisecond)).Dispatch(ctx, "note", batch())
		assert.ErrorContains(t, err, "request failed")
	})

	t.Run("empty batch sends nothing", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer server.Close()

		require.NoError(t, New(server.URL).Dispatch(ctx, "note", nil))
		assert.Zero(t, calls.Load())
	})
}

func TestDispatch_FailureDoesNotFailCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	var reported atomic.Int32
	engine := testutil.NewBankEngine(memadapter.NewAdapter(), nil,
		stoat.WithDispatchers(New(server.URL)),
		stoat.WithErrorHandler(func(err error) { reported.Add(1) }),
	)

	ctx := context.Background()
	_, err := engine.Create(ctx, testutil.OpenAccount{Owner: "dana"}, stoat.NewCommandContext())
	require.NoError(t, err)
	require.NoError(t, engine.Drain(ctx))
	assert.Equal(t, int32(1), reported.Load())
}
