// Package webhook posts committed envelopes to an HTTP endpoint. Each batch
// is one POST whose body is a JSON array of messages.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/AshkanYarmoradi/go-stoat"
	"github.com/AshkanYarmoradi/go-stoat/dispatchers"
)

// Request headers.
const (
	HeaderSignature     = "X-Stoat-Signature"
	HeaderAggregateType = "X-Stoat-Aggregate-Type"
	HeaderStreamID      = "X-Stoat-Stream-Id"
	HeaderFromSequence  = "X-Stoat-From-Sequence"
	HeaderCount         = "X-Stoat-Count"
)

var _ stoat.Dispatcher = (*Dispatcher)(nil)

// Dispatcher posts envelope batches to a URL.
type Dispatcher struct {
	url            string
	client         *http.Client
	defaultHeaders map[string]string
	secret         []byte
}

// Option configures a webhook Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		d.client = client
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		d.client.Timeout = t
	}
}

// WithDefaultHeaders sets headers added to every request.
func WithDefaultHeaders(headers map[string]string) Option {
	return func(d *Dispatcher) {
		for k, v := range headers {
			d.defaultHeaders[k] = v
		}
	}
}

// WithSigningSecret signs each body with HMAC-SHA256 in X-Stoat-Signature.
func WithSigningSecret(secret string) Option {
	return func(d *Dispatcher) {
		d.secret = []byte(secret)
	}
}

// New creates a webhook Dispatcher posting to url.
func New(url string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		defaultHeaders: map[string]string{
			"Content-Type": "application/json",
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name implements stoat.Named.
func (d *Dispatcher) Name() string {
	return "webhook"
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Dispatch implements stoat.Dispatcher. Any non-2xx answer is an error.
func (d *Dispatcher) Dispatch(ctx context.Context, aggregateType string, envelopes []stoat.Envelope) error {
	if d.url == "" {
		return fmt.Errorf("webhook: URL not configured")
	}
	if len(envelopes) == 0 {
		return nil
	}

	body, err := dispatchers.EncodeBatch(envelopes)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: failed to create request: %w", err)
	}

	for k, v := range d.defaultHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set(HeaderAggregateType, aggregateType)
	req.Header.Set(HeaderStreamID, envelopes[0].StreamID)
	req.Header.Set(HeaderFromSequence, strconv.FormatUint(envelopes[0].Sequence, 10))
	req.Header.Set(HeaderCount, strconv.Itoa(len(envelopes)))
	if len(d.secret) > 0 {
		req.Header.Set(HeaderSignature, Sign(d.secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed for %s: %w", d.url, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook: server error %d from %s", resp.StatusCode, d.url)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d from %s", resp.StatusCode, d.url)
	}
	return nil
}
