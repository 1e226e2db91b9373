package semcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/semcache/hnsw"
)

var (
	// ErrEmptyInput is returned when the query is blank. The request is
	// rejected before any I/O.
	ErrEmptyInput = errors.New("query must not be empty")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
// Fatal configuration error, never retried.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrProvider indicates a collaborator call (embedding, generation,
// retrieval) failed. Not retried within a request.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrProvider struct {
	Op    string
	cause error
}

func (e *ErrProvider) Error() string {
	return fmt.Sprintf("provider error in %s: %v", e.Op, e.cause)
}

func (e *ErrProvider) Unwrap() error { return e.cause }

// ErrTimeout indicates a step exceeded its deadline.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrTimeout struct {
	Step  string
	cause error
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("timeout in %s: %v", e.Step, e.cause)
}

func (e *ErrTimeout) Unwrap() error { return e.cause }

// ErrIndexUnavailable indicates the underlying store failed. The request
// fails; administrative retry is expected outside the request path.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrIndexUnavailable struct {
	Op    string
	cause error
}

func (e *ErrIndexUnavailable) Error() string {
	return fmt.Sprintf("index unavailable in %s: %v", e.Op, e.cause)
}

func (e *ErrIndexUnavailable) Unwrap() error { return e.cause }

// translateError normalizes tier errors into the request-level taxonomy.
func translateError(step string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ErrTimeout{Step: step, cause: err}
	}

	var dm *hnsw.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	return err
}
