// Package errs defines the sentinel error kinds shared across the RAG
// core. Callers match against these with errors.Is; wrapped context is
// added with github.com/pkg/errors at the call site.
package errs

import "github.com/pkg/errors"

var (
	// ErrBadRequest marks a malformed or empty caller input.
	ErrBadRequest = errors.New("bad request")

	// ErrEmbeddingFailed marks a failure inside the embedding provider.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrDimensionMismatch marks two vectors compared with different
	// lengths. Treated as a programming invariant violation.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrWorkerUnhealthy marks a worker that failed a prior query and
	// must not be reused.
	ErrWorkerUnhealthy = errors.New("worker unhealthy")

	// ErrWorkerTimeout marks a query that exceeded its absolute
	// deadline. (The idle window ends a reply normally, not with this.)
	ErrWorkerTimeout = errors.New("worker timeout")

	// ErrWorkerSpawnFailed marks a failure to start the LLM subprocess.
	ErrWorkerSpawnFailed = errors.New("worker spawn failed")

	// ErrWorkerDisposed marks a query issued against a worker that the
	// pool has retired (on teardown, warm-up failure, or replacement).
	ErrWorkerDisposed = errors.New("worker disposed")

	// ErrPoolClosed marks an acquisition attempted after teardown.
	ErrPoolClosed = errors.New("pool closed")

	// ErrPoolInitFailed marks a warm-up failure; partial workers are
	// destroyed before this is returned.
	ErrPoolInitFailed = errors.New("pool init failed")

	// ErrCancelled marks an operation aborted by its caller-supplied
	// cancellation token.
	ErrCancelled = errors.New("cancelled")
)

// StoreErrorKind distinguishes retryable from terminal store failures.
type StoreErrorKind int

const (
	StoreErrorTransient StoreErrorKind = iota
	StoreErrorPermanent
)

// StoreError wraps a FragmentStore failure with a retry classification.
type StoreError struct {
	Kind StoreErrorKind
	Err  error
}

func (e *StoreError) Error() string {
	if e.Kind == StoreErrorTransient {
		return "transient store error: " + e.Err.Error()
	}
	return "permanent store error: " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewTransientStoreError wraps err as a retryable store failure.
func NewTransientStoreError(err error) error {
	return &StoreError{Kind: StoreErrorTransient, Err: err}
}

// NewPermanentStoreError wraps err as a non-retryable store failure.
func NewPermanentStoreError(err error) error {
	return &StoreError{Kind: StoreErrorPermanent, Err: err}
}

// IsTransient reports whether err is a StoreError classified transient.
func IsTransient(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind == StoreErrorTransient
	}
	return false
}
