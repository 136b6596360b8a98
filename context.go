package stoat

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
)

// AnonymousUser is the acting user when none is set.
const AnonymousUser = "anonymous"

// CommandContext is the request-scoped value threaded through command
// handling and dispatch. It is immutable; the With methods return copies.
// It is never persisted as aggregate state, only copied into envelope
// metadata at commit.
type CommandContext struct {
	correlationID string
	causationID   string
	user          string
	requestID     string
	now           time.Time
	randBytes     *[16]byte
}

// ContextOption configures a CommandContext.
type ContextOption func(*CommandContext)

// WithUser sets the acting user.
func WithUser(user string) ContextOption {
	return func(c *CommandContext) { c.user = user }
}

// WithRequestID sets the inbound request id.
func WithRequestID(id string) ContextOption {
	return func(c *CommandContext) { c.requestID = id }
}

// WithCorrelationID sets the correlation id.
func WithCorrelationID(id string) ContextOption {
	return func(c *CommandContext) { c.correlationID = id }
}

// WithCausationID sets the causation id.
func WithCausationID(id string) ContextOption {
	return func(c *CommandContext) { c.causationID = id }
}

// WithNow fixes the context's clock.
func WithNow(now time.Time) ContextOption {
	return func(c *CommandContext) { c.now = now }
}

// WithRandBytes makes NextUUID deterministic. Every call returns the v4
// UUID built from b.
func WithRandBytes(b [16]byte) ContextOption {
	return func(c *CommandContext) { c.randBytes = &b }
}

// NewCommandContext creates a context for one inbound request.
// Without WithCorrelationID the correlation id is the request id, or a
// fresh UUID when there is no request id either.
func NewCommandContext(opts ...ContextOption) CommandContext {
	c := CommandContext{
		user: AnonymousUser,
		now:  time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.user == "" {
		c.user = AnonymousUser
	}
	if c.correlationID == "" {
		c.correlationID = c.requestID
	}
	if c.correlationID == "" {
		c.correlationID = c.NextUUID()
	}
	return c
}

// CorrelationID returns the correlation id.
func (c CommandContext) CorrelationID() string { return c.correlationID }

// CausationID returns the causation id.
func (c CommandContext) CausationID() string { return c.causationID }

// CurrentUser returns the acting user.
func (c CommandContext) CurrentUser() string {
	if c.user == "" {
		return AnonymousUser
	}
	return c.user
}

// RequestID returns the request id, empty if none was given.
func (c CommandContext) RequestID() string { return c.requestID }

// Now returns the timestamp fixed when the context was created.
func (c CommandContext) Now() time.Time {
	if c.now.IsZero() {
		return time.Now().UTC()
	}
	return c.now
}

// NextUUID returns a new v4 UUID string.
func (c CommandContext) NextUUID() string {
	if c.randBytes == nil {
		return uuid.NewString()
	}
	id, err := uuid.NewRandomFromReader(bytes.NewReader(c.randBytes[:]))
	if err != nil {
		// A 16 byte reader cannot run short.
		panic(err)
	}
	return id.String()
}

// WithCausation returns a copy with a different causation id.
func (c CommandContext) WithCausation(id string) CommandContext {
	c.causationID = id
	return c
}

// WithActingUser returns a copy with a different acting user.
func (c CommandContext) WithActingUser(user string) CommandContext {
	c.user = user
	return c
}

type commandContextKey struct{}

// WithCommandContext attaches cc to ctx.
func WithCommandContext(ctx context.Context, cc CommandContext) context.Context {
	return context.WithValue(ctx, commandContextKey{}, cc)
}

// CommandContextFrom returns the CommandContext attached to ctx.
func CommandContextFrom(ctx context.Context) (CommandContext, bool) {
	cc, ok := ctx.Value(commandContextKey{}).(CommandContext)
	return cc, ok
}
