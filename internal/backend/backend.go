// Package backend defines the model capability the dispatch worker drives and
// provides the concrete runtimes behind it.
//
// Implementations:
//
//   - remote.go: HTTP client for a diffusion runner process (production).
//   - synthetic.go: deterministic seeded images, for development and tests.
//   - unavailable.go: fails every call with a dependency-unavailable error.
//
// A Generator is not safe for concurrent use. It is owned by exactly one
// goroutine (the dispatch worker) after Load returns.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Image is one generated picture in encoded form.
type Image struct {
	Data     []byte
	MIMEType string
	// Seed is the seed the runtime actually used, when known.
	Seed int64
}

// GenerateRequest is the per-call parameter set handed to a Generator.
type GenerateRequest struct {
	RequestID      string
	Prompts        []string
	NegativePrompt string
	Steps          int
	GuidanceScale  float64
	Width          int
	Height         int
	NumImages      int
	Seed           *int64
}

// ModelSpec identifies what to load at startup.
type ModelSpec struct {
	ModelID string
	Device  string
	DType   string
}

// Generator is the loaded model.
type Generator interface {
	// Generate produces images for req. It is synchronous and may be slow.
	Generate(ctx context.Context, req GenerateRequest) ([]Image, error)
	// LoadAdapter replaces any active adapter. An empty path unloads it.
	LoadAdapter(ctx context.Context, path string, scale float64) error
}

// Loader constructs a Generator by loading model weights.
type Loader interface {
	Load(ctx context.Context, spec ModelSpec) (Generator, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, spec ModelSpec) (Generator, error)

func (f LoaderFunc) Load(ctx context.Context, spec ModelSpec) (Generator, error) { return f(ctx, spec) }

// GenerationError is returned by runtimes when the model itself fails.
type GenerationError struct {
	RequestID string
	Err       error
}

func (e *GenerationError) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("generation failed: %v", e.Err)
	}
	return fmt.Sprintf("generation failed for %s: %v", e.RequestID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ErrUnavailable marks a runtime that is not configured or not reachable.
var ErrUnavailable = errors.New("model runtime unavailable")

// Names of the built-in runtimes, as accepted by New.
const (
	KindSynthetic = "synthetic"
	KindRemote    = "remote"
	KindNone      = "none"
)

// New returns the Loader for kind. Timeouts of zero disable the limit.
func New(kind, runnerURL, apiKey string, requestTimeout, connectTimeout time.Duration) (Loader, error) {
	switch kind {
	case KindRemote, "":
		if runnerURL == "" {
			return nil, fmt.Errorf("remote backend requires a runner url")
		}
		return NewRemoteLoader(runnerURL, apiKey, requestTimeout, connectTimeout), nil
	case KindSynthetic:
		return SyntheticLoader{}, nil
	case KindNone:
		return UnavailableLoader{Reason: "no model backend configured"}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}
