package manager

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"diffusiond/internal/backend"
)

// ErrShuttingDown resolves records that were still queued when Stop ran, and
// rejects submissions made after Stop.
var ErrShuttingDown = errors.New("server shutting down")

// IsShuttingDown reports whether err stems from shutdown.
func IsShuttingDown(err error) bool { return errors.Is(err, ErrShuttingDown) }

// admissionRejectedError signals the queue refused a record (full or closed).
// The caller may retry later.
type admissionRejectedError struct {
	reason string
	err    error
}

func (e *admissionRejectedError) Error() string { return "admission rejected: " + e.reason }
func (e *admissionRejectedError) Unwrap() error { return e.err }
func (e *admissionRejectedError) StatusCode() int {
	return http.StatusServiceUnavailable
}

// IsAdmissionRejected reports whether err indicates backpressure (return 503).
func IsAdmissionRejected(err error) bool {
	var e *admissionRejectedError
	return errors.As(err, &e)
}

// generationFailedError wraps a model failure for one record.
type generationFailedError struct {
	requestID string
	err       error
}

func (e *generationFailedError) Error() string {
	return fmt.Sprintf("generation failed for request %s: %v", e.requestID, e.err)
}
func (e *generationFailedError) Unwrap() error   { return e.err }
func (e *generationFailedError) StatusCode() int { return http.StatusInternalServerError }

// IsGenerationFailed reports whether err came from the model's generate call.
func IsGenerationFailed(err error) bool {
	var e *generationFailedError
	return errors.As(err, &e)
}

// adapterLoadFailedError fails the records that needed the adapter.
type adapterLoadFailedError struct {
	path string
	err  error
}

func (e *adapterLoadFailedError) Error() string {
	if e.path == "" {
		return fmt.Sprintf("adapter unload failed: %v", e.err)
	}
	return fmt.Sprintf("adapter load failed for %s: %v", e.path, e.err)
}
func (e *adapterLoadFailedError) Unwrap() error   { return e.err }
func (e *adapterLoadFailedError) StatusCode() int { return http.StatusInternalServerError }

// IsAdapterLoadFailed reports whether err came from an adapter switch.
func IsAdapterLoadFailed(err error) bool {
	var e *adapterLoadFailedError
	return errors.As(err, &e)
}

// startupFailedError is fatal: the manager never reached the ready state.
type startupFailedError struct {
	stage string
	err   error
}

func (e *startupFailedError) Error() string {
	return fmt.Sprintf("startup failed (%s): %v", e.stage, e.err)
}
func (e *startupFailedError) Unwrap() error { return e.err }

// IsStartupFailed reports whether err was returned by a failed Start.
func IsStartupFailed(err error) bool {
	var e *startupFailedError
	return errors.As(err, &e)
}

// shutdownTimeoutError is returned by Stop when the worker outlived the grace period.
type shutdownTimeoutError struct{ grace time.Duration }

func (e *shutdownTimeoutError) Error() string {
	return fmt.Sprintf("worker did not exit within %s; in-flight requests were abandoned", e.grace)
}

// IsShutdownTimeout reports whether Stop had to force termination.
func IsShutdownTimeout(err error) bool {
	var e *shutdownTimeoutError
	return errors.As(err, &e)
}

// IsDependencyUnavailable reports whether err indicates the model runtime is
// missing or unreachable, so the HTTP layer can return 503 instead of 500.
func IsDependencyUnavailable(err error) bool { return errors.Is(err, backend.ErrUnavailable) }
