package memory

import (
	"errors"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
)

// Sentinel errors. Callers classify with errors.Is; implementations wrap
// them with goerr to attach context values.
var (
	// ErrInvalidScope is returned when an owner or avatar identifier is
	// missing, or when a ScopeKey was not produced by ResolveScope.
	ErrInvalidScope = goerr.New("invalid memory scope")

	// ErrEmptyInput is returned by embedders for blank text.
	ErrEmptyInput = goerr.New("empty embedding input")

	// ErrEmbeddingProvider wraps any failure of the embedding provider:
	// network, quota, malformed or empty responses.
	ErrEmbeddingProvider = goerr.New("embedding provider failure")

	// ErrGenerator wraps failures of the text-generation provider.
	ErrGenerator = goerr.New("text generation failure")

	// ErrExtractionParse is returned when the generator output cannot be
	// interpreted as a fragment list. It is recoverable: the turn simply
	// yields no fragments.
	ErrExtractionParse = goerr.New("unparsable extraction output")

	// ErrDimensionMismatch is returned when a vector's length differs from
	// the store's configured dimension.
	ErrDimensionMismatch = goerr.New("embedding dimension mismatch")

	// ErrInvalidFragment is returned for blank or over-long fragment text.
	ErrInvalidFragment = goerr.New("invalid fragment")

	// ErrInvalidQuery is returned for a threshold outside [0,1] or a
	// non-positive result limit.
	ErrInvalidQuery = goerr.New("invalid query")

	// ErrSchedulerClosed is returned when work is submitted after shutdown.
	ErrSchedulerClosed = goerr.New("scheduler closed")

	// ErrQueueFull is returned when the background queue has no free slot.
	ErrQueueFull = goerr.New("scheduler queue full")
)

// StorageError reports a persistence failure. Transient failures (lock
// contention, unavailable backend) may succeed on retry; permanent ones
// (constraint violation, bad schema) will not. Stores never retry
// themselves.
type StorageError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *StorageError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("storage %s (%s): %v", e.Op, kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError builds a StorageError for op.
func NewStorageError(op string, transient bool, err error) *StorageError {
	return &StorageError{Op: op, Transient: transient, Err: err}
}

// IsTransient reports whether err carries a transient StorageError.
func IsTransient(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}
