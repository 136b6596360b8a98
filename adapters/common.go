package adapters

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ExtractCategory extracts the category from a stream ID.
// Stream IDs are expected to follow the format "Category-ID" (e.g., "Account-123").
// The category is the portion before the first hyphen.
//
// Behavior:
//   - "Account-123" returns "Account"
//   - "Account-3f6c-4b1e" returns "Account" (only splits on first hyphen)
//   - "NoHyphen" returns "NoHyphen" (entire ID if no hyphen)
//   - "" returns "" (empty string for empty input)
func ExtractCategory(streamID string) string {
	if streamID == "" {
		return ""
	}
	parts := strings.SplitN(streamID, "-", 2)
	return parts[0]
}

// ConcurrencyError provides details about a concurrency conflict.
// It is returned when an optimistic concurrency check fails during Append.
type ConcurrencyError struct {
	StreamID        string
	ExpectedVersion uint64
	ActualVersion   uint64
}

// NewConcurrencyError creates a new ConcurrencyError.
func NewConcurrencyError(streamID string, expected, actual uint64) *ConcurrencyError {
	return &ConcurrencyError{
		StreamID:        streamID,
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

// Error implements the error interface.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("stoat: concurrency conflict on stream %q: expected version %d, got %d",
		e.StreamID, e.ExpectedVersion, e.ActualVersion)
}

// Is implements errors.Is compatibility.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// CheckVersion compares the expected version with the stream's current length.
func CheckVersion(streamID string, expected, current uint64) error {
	if expected != current {
		return NewConcurrencyError(streamID, expected, current)
	}
	return nil
}

// ValidateAppend checks the arguments of an Append call before any I/O.
// Records must be numbered contiguously starting at expectedVersion.
func ValidateAppend(streamID string, expectedVersion uint64, records []EventRecord) error {
	if streamID == "" {
		return ErrEmptyStreamID
	}
	if len(records) == 0 {
		return ErrNoEvents
	}
	for i, r := range records {
		if r.Sequence != expectedVersion+uint64(i) {
			return fmt.Errorf("%w: record %d has sequence %d, want %d",
				ErrInvalidSequence, i, r.Sequence, expectedVersion+uint64(i))
		}
	}
	return nil
}

// ContextError converts a context cancellation or deadline into
// ErrStorageUnavailable, keeping the original error in the chain.
// Other errors are returned unchanged.
func ContextError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return err
}

// ReadAll drains a read sequence into a slice.
func ReadAll(seq iter.Seq2[StoredEvent, error]) ([]StoredEvent, error) {
	var events []StoredEvent
	for e, err := range seq {
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// ReadFailed returns a read sequence that yields err once.
func ReadFailed(err error) iter.Seq2[StoredEvent, error] {
	return func(yield func(StoredEvent, error) bool) {
		yield(StoredEvent{}, err)
	}
}

// ReadPage pages through a stream, using the adapter's native paging when
// available and falling back to a sequential read otherwise.
func ReadPage(ctx context.Context, a EventStoreAdapter, streamID string, offset, limit int) ([]StoredEvent, uint64, error) {
	if offset < 0 {
		offset = 0
	}
	limit = DefaultLimit(limit, 100)

	if pr, ok := a.(PagedReader); ok {
		return pr.ReadPage(ctx, streamID, offset, limit)
	}

	var (
		page  []StoredEvent
		total uint64
	)
	for e, err := range a.Read(ctx, streamID, 0) {
		if err != nil {
			return nil, 0, err
		}
		if total >= uint64(offset) && len(page) < limit {
			page = append(page, e)
		}
		total++
	}
	return page, total, nil
}

// StreamInfoOf returns stream metadata, using the adapter's own lookup when
// available and deriving it from a sequential read otherwise.
func StreamInfoOf(ctx context.Context, a EventStoreAdapter, streamID string) (*StreamInfo, error) {
	if p, ok := a.(StreamInfoProvider); ok {
		return p.GetStreamInfo(ctx, streamID)
	}

	var info *StreamInfo
	for e, err := range a.Read(ctx, streamID, 0) {
		if err != nil {
			return nil, err
		}
		if info == nil {
			info = &StreamInfo{
				StreamID:  streamID,
				Category:  ExtractCategory(streamID),
				CreatedAt: e.RecordedAt,
			}
		}
		info.Version++
		info.UpdatedAt = e.RecordedAt
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, streamID)
	}
	return info, nil
}

// CopyMetadata returns a copy of m, or nil when m is empty.
func CopyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// DefaultLimit returns a default limit value if the provided limit is invalid.
func DefaultLimit(limit, defaultValue int) int {
	if limit <= 0 {
		return defaultValue
	}
	return limit
}
