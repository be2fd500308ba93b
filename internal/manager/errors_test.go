package manager

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"diffusiond/internal/backend"
)

func TestErrorPredicates(t *testing.T) {
	base := errors.New("x")
	cases := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"admission", &admissionRejectedError{reason: "queue full", err: base}, IsAdmissionRejected},
		{"generation", &generationFailedError{requestID: "r", err: base}, IsGenerationFailed},
		{"adapter", &adapterLoadFailedError{path: "p", err: base}, IsAdapterLoadFailed},
		{"startup", &startupFailedError{stage: "load model", err: base}, IsStartupFailed},
		{"timeout", &shutdownTimeoutError{grace: time.Second}, IsShutdownTimeout},
		{"unavailable", fmt.Errorf("%w: runner down", backend.ErrUnavailable), IsDependencyUnavailable},
		{"shutting down", fmt.Errorf("wrapped: %w", ErrShuttingDown), IsShuttingDown},
	}
	for _, tc := range cases {
		if !tc.is(tc.err) {
			t.Fatalf("%s: predicate false", tc.name)
		}
		if !tc.is(fmt.Errorf("outer: %w", tc.err)) {
			t.Fatalf("%s: predicate false through wrapping", tc.name)
		}
		if tc.is(base) {
			t.Fatalf("%s: predicate true for unrelated error", tc.name)
		}
	}
}

func TestErrorStatusCodes(t *testing.T) {
	type coded interface{ StatusCode() int }
	if c := (&admissionRejectedError{}).StatusCode(); c != http.StatusServiceUnavailable {
		t.Fatalf("admission status = %d", c)
	}
	var e coded = &generationFailedError{}
	if e.StatusCode() != http.StatusInternalServerError {
		t.Fatalf("generation status = %d", e.StatusCode())
	}
	e = &adapterLoadFailedError{}
	if e.StatusCode() != http.StatusInternalServerError {
		t.Fatalf("adapter status = %d", e.StatusCode())
	}
}

func TestAdapterUnloadMessage(t *testing.T) {
	err := &adapterLoadFailedError{err: errors.New("busy")}
	if err.Error() != "adapter unload failed: busy" {
		t.Fatalf("message = %q", err.Error())
	}
}
