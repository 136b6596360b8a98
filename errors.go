package stoat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/go-stoat/adapters"
)

// Sentinel errors, one per error kind plus a few lower-level causes.
// Use errors.Is() to check for these errors; a *CqrsError matches the
// sentinel of its Kind.
var (
	// ErrValidationRejected indicates a command failed validation.
	ErrValidationRejected = errors.New("stoat: validation rejected")

	// ErrNotFound indicates an update against an aggregate with no events.
	ErrNotFound = errors.New("stoat: aggregate not found")

	// ErrAlreadyExists indicates a create against an aggregate that has events.
	ErrAlreadyExists = errors.New("stoat: aggregate already exists")

	// ErrConcurrencyConflict indicates an optimistic concurrency violation.
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict

	// ErrStorageUnavailable indicates a transient storage failure, including timeouts.
	ErrStorageUnavailable = adapters.ErrStorageUnavailable

	// ErrCorruption indicates a stream that cannot be replayed.
	ErrCorruption = adapters.ErrCorruption

	// ErrDomain indicates a rule violation reported by a command handler.
	ErrDomain = errors.New("stoat: domain error")

	// ErrInternal indicates a failure inside the runtime itself.
	ErrInternal = errors.New("stoat: internal error")

	// ErrSerializationFailed indicates event serialization/deserialization failed.
	ErrSerializationFailed = errors.New("stoat: serialization failed")

	// ErrEventTypeNotRegistered indicates an unknown event type was encountered.
	ErrEventTypeNotRegistered = errors.New("stoat: event type not registered")

	// ErrSnapshotLossy indicates state that does not survive the snapshot codec.
	ErrSnapshotLossy = errors.New("stoat: snapshot does not round-trip")

	// ErrHandlerPanicked indicates a handler panicked during execution.
	ErrHandlerPanicked = errors.New("stoat: handler panicked")

	// ErrEmptyStreamID indicates an empty stream ID was provided.
	ErrEmptyStreamID = adapters.ErrEmptyStreamID
)

// Kind is the closed error taxonomy surfaced by the engine.
type Kind int

const (
	KindInternal Kind = iota
	KindValidationRejected
	KindNotFound
	KindAlreadyExists
	KindConcurrencyConflict
	KindStorageUnavailable
	KindCorruption
	KindDomain
)

var kindNames = map[Kind]string{
	KindInternal:            "Internal",
	KindValidationRejected:  "ValidationRejected",
	KindNotFound:            "NotFound",
	KindAlreadyExists:       "AlreadyExists",
	KindConcurrencyConflict: "ConcurrencyConflict",
	KindStorageUnavailable:  "StorageUnavailable",
	KindCorruption:          "Corruption",
	KindDomain:              "DomainError",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sentinel returns the sentinel error matching the kind.
func (k Kind) Sentinel() error {
	switch k {
	case KindValidationRejected:
		return ErrValidationRejected
	case KindNotFound:
		return ErrNotFound
	case KindAlreadyExists:
		return ErrAlreadyExists
	case KindConcurrencyConflict:
		return ErrConcurrencyConflict
	case KindStorageUnavailable:
		return ErrStorageUnavailable
	case KindCorruption:
		return ErrCorruption
	case KindDomain:
		return ErrDomain
	default:
		return ErrInternal
	}
}

// Retryable reports whether resubmitting the same command may succeed.
// Conflicts need a reload first, which resubmission through the engine does.
func (k Kind) Retryable() bool {
	return k == KindStorageUnavailable || k == KindConcurrencyConflict
}

// CqrsError is the structured error returned across the engine boundary.
type CqrsError struct {
	Domain       string `json:"domain"`
	Code         string `json:"code"`
	InternalCode int    `json:"internalCode"`
	Status       int    `json:"status"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
	RequestID    string `json:"requestId,omitempty"`

	// Kind places the error in the taxonomy. It is not serialized; decoding
	// restores it from the internal code.
	Kind Kind `json:"-"`

	cause error
}

// Error renders "[internal_code] CODE: message".
func (e *CqrsError) Error() string {
	return fmt.Sprintf("[%d] %s: %s", e.InternalCode, e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *CqrsError) Unwrap() error {
	return e.cause
}

// Is reports whether target is the sentinel of this error's kind.
func (e *CqrsError) Is(target error) bool {
	return target == e.Kind.Sentinel()
}

// UnmarshalJSON decodes the wire shape and restores Kind.
func (e *CqrsError) UnmarshalJSON(data []byte) error {
	type wire CqrsError
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = CqrsError(w)
	e.Kind = KindDomain
	if code, ok := LookupCode(e.InternalCode); ok {
		e.Kind = kindOfCode(code)
	}
	return nil
}

func (e *CqrsError) clone() *CqrsError {
	cp := *e
	return &cp
}

// WithDetails returns a copy carrying structured details.
func (e *CqrsError) WithDetails(details any) *CqrsError {
	cp := e.clone()
	cp.Details = details
	return cp
}

// WithRequestID returns a copy carrying the request id.
func (e *CqrsError) WithRequestID(id string) *CqrsError {
	cp := e.clone()
	cp.RequestID = id
	return cp
}

// WithCause returns a copy wrapping err.
func (e *CqrsError) WithCause(err error) *CqrsError {
	cp := e.clone()
	cp.cause = err
	return cp
}

// WithKind returns a copy placed in another kind.
func (e *CqrsError) WithKind(k Kind) *CqrsError {
	cp := e.clone()
	cp.Kind = k
	return cp
}

// Matches reports whether the error carries the given code.
func (e *CqrsError) Matches(code ErrorCode) bool {
	return e.InternalCode == code.InternalCode()
}

// HasCode reports whether err is a *CqrsError carrying code.
func HasCode(err error, code ErrorCode) bool {
	var ce *CqrsError
	return errors.As(err, &ce) && ce.Matches(code)
}

// KindOf returns the kind of err after classification.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	return Classify(err).Kind
}

func kindOfCode(c ErrorCode) Kind {
	switch c {
	case InfraValidationFailed, GenericValidationFailed:
		return KindValidationRejected
	case InfraAggregateNotFound:
		return KindNotFound
	case InfraConflict:
		return KindAlreadyExists
	case InfraConcurrencyError:
		return KindConcurrencyConflict
	case InfraStorageUnavailable, InfraDatabaseError:
		return KindStorageUnavailable
	case InfraDataCorruption, InfraSerializationError:
		return KindCorruption
	case InfraInternalError, InfraCqrsInternalError, InfraConfigurationError, InfraUnknown, GenericInternalError:
		return KindInternal
	default:
		return KindDomain
	}
}

// CqrsErrorer is implemented by domain error types that convert themselves
// into the structured error. Command handlers should return such errors.
type CqrsErrorer interface {
	CqrsError() *CqrsError
}

// NotFound returns a generic not-found error.
func NotFound(message string) *CqrsError {
	return GenericNotFound.New(message)
}

// Validation returns a generic validation error.
func Validation(message string) *CqrsError {
	return GenericValidationFailed.New(message).WithKind(KindValidationRejected)
}

// Internal returns a generic internal error.
func Internal(message string) *CqrsError {
	return GenericInternalError.New(message).WithKind(KindInternal)
}

// Conflict returns a generic conflict error.
func Conflict(message string) *CqrsError {
	return GenericConflict.New(message)
}

// Unauthorized returns a generic unauthorized error.
func Unauthorized(message string) *CqrsError {
	return GenericUnauthorized.New(message)
}

// Forbidden returns a generic forbidden error.
func Forbidden(message string) *CqrsError {
	return GenericForbidden.New(message)
}

// UserError wraps a handler error that has no structured form.
func UserError(err error) *CqrsError {
	return InfraDomainError.New(err.Error()).WithCause(err)
}

// DatabaseError wraps an unexpected storage failure.
func DatabaseError(err error) *CqrsError {
	return InfraDatabaseError.New(err.Error()).WithKind(KindStorageUnavailable).WithCause(err)
}

// StorageUnavailable wraps a transient storage failure.
func StorageUnavailable(err error) *CqrsError {
	return InfraStorageUnavailable.New(err.Error()).WithKind(KindStorageUnavailable).WithCause(err)
}

// Corruption wraps a replay failure.
func Corruption(err error) *CqrsError {
	return InfraDataCorruption.New(err.Error()).WithKind(KindCorruption).WithCause(err)
}

// SerializationFailure wraps an encoding failure.
func SerializationFailure(err error) *CqrsError {
	return InfraSerializationError.New(err.Error()).WithKind(KindCorruption).WithCause(err)
}

// ConcurrencyFailure reports a lost optimistic concurrency race.
func ConcurrencyFailure(err error) *CqrsError {
	return InfraConcurrencyError.New("Version conflict").WithKind(KindConcurrencyConflict).WithCause(err)
}

// AggregateNotFound reports an update against an aggregate with no events.
func AggregateNotFound(id string) *CqrsError {
	return InfraAggregateNotFound.Newf("Aggregate '%s' not found", id).WithKind(KindNotFound)
}

// AggregateAlreadyExists reports a create against an aggregate that has events.
func AggregateAlreadyExists(id string) *CqrsError {
	return InfraConflict.Newf("Aggregate '%s' already exists", id).WithKind(KindAlreadyExists)
}

// Classify converts any error into a *CqrsError.
// Structured errors pass through unchanged; sentinel errors are mapped to
// their kind; anything else becomes an unknown internal error.
func Classify(err error) *CqrsError {
	if err == nil {
		return nil
	}
	if ce, ok := structured(err); ok {
		return ce
	}
	if ce, ok := classifySentinel(err); ok {
		return ce
	}
	return InfraUnknown.New(err.Error()).WithKind(KindInternal).WithCause(err)
}

// classifyStorage converts errors from storage calls. Unrecognized failures
// are treated as storage unavailability.
func classifyStorage(err error) *CqrsError {
	if err == nil {
		return nil
	}
	if ce, ok := structured(err); ok {
		return ce
	}
	if ce, ok := classifySentinel(err); ok {
		return ce
	}
	return DatabaseError(err)
}

// classifyHandler converts errors returned by command handlers. Unrecognized
// failures are opaque domain errors with the original kept as the cause.
func classifyHandler(err error) *CqrsError {
	if err == nil {
		return nil
	}
	if ce, ok := structured(err); ok {
		return ce
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return validationFrom(ve)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return StorageUnavailable(err)
	}
	return UserError(err)
}

func structured(err error) (*CqrsError, bool) {
	var ce *CqrsError
	if errors.As(err, &ce) {
		return ce, true
	}
	var conv CqrsErrorer
	if errors.As(err, &conv) {
		if ce := conv.CqrsError(); ce != nil {
			if ce.cause == nil {
				ce = ce.WithCause(err)
			}
			return ce, true
		}
	}
	return nil, false
}

func classifySentinel(err error) (*CqrsError, bool) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return validationFrom(ve), true
	case errors.Is(err, ErrConcurrencyConflict):
		return ConcurrencyFailure(err), true
	case errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return StorageUnavailable(err), true
	case errors.Is(err, ErrCorruption),
		errors.Is(err, ErrEventTypeNotRegistered):
		return Corruption(err), true
	case errors.Is(err, ErrSerializationFailed):
		return SerializationFailure(err), true
	case errors.Is(err, ErrHandlerPanicked):
		return InfraCqrsInternalError.New(err.Error()).WithKind(KindInternal).WithCause(err), true
	case errors.Is(err, ErrValidationRejected):
		return InfraValidationFailed.New(err.Error()).WithKind(KindValidationRejected).WithCause(err), true
	}
	return nil, false
}

func validationFrom(ve *ValidationError) *CqrsError {
	ce := InfraValidationFailed.New(ve.Message).WithKind(KindValidationRejected).WithCause(ve)
	if ve.Field != "" {
		ce = ce.WithDetails(map[string]string{"field": ve.Field})
	}
	return ce
}

// ConcurrencyError provides detailed information about a concurrency conflict.
type ConcurrencyError = adapters.ConcurrencyError

// ValidationError reports a command that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "stoat: validation failed: " + e.Message
	}
	return fmt.Sprintf("stoat: validation failed on %s: %s", e.Field, e.Message)
}

// Is reports whether this error matches the target error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationRejected
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// SerializationError provides detailed information about a serialization failure.
type SerializationError struct {
	EventType string
	Operation string // "serialize" or "deserialize"
	Cause     error
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("stoat: failed to %s event type %q: %v",
		e.Operation, e.EventType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// NewSerializationError creates a new SerializationError.
func NewSerializationError(eventType, operation string, cause error) *SerializationError {
	return &SerializationError{
		EventType: eventType,
		Operation: operation,
		Cause:     cause,
	}
}

// PanicError provides detailed information about a handler panic.
type PanicError struct {
	CommandType string
	Value       interface{}
	Stack       string
}

// Error returns the error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("stoat: handler panicked while processing %q: %v", e.CommandType, e.Value)
}

// Is reports whether this error matches the target error.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanicked
}

// NewPanicError creates a new PanicError.
func NewPanicError(cmdType string, value interface{}, stack string) *PanicError {
	return &PanicError{
		CommandType: cmdType,
		Value:       value,
		Stack:       stack,
	}
}
