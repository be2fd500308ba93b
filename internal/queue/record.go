package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"diffusiond/internal/backend"
)

// Params carries the generation parameters of one request. Values are
// expected to be validated by the caller (HTTP layer) before admission.
type Params struct {
	Prompts        []string
	NegativePrompt string
	Steps          int
	GuidanceScale  float64
	Width          int
	Height         int
	NumImages      int
	// Seed is nil when the caller did not ask for deterministic output.
	Seed *int64
	// AdapterPath is empty when no adapter was requested.
	AdapterPath  string
	AdapterScale float64
}

// Record is one admitted generation request together with its completion handle.
type Record struct {
	ID        string
	Params    Params
	CreatedAt time.Time

	done *Completion
}

// NewRecord builds a pending record with a fresh random identifier.
func NewRecord(p Params) *Record {
	return &Record{
		ID:        uuid.NewString(),
		Params:    p,
		CreatedAt: time.Now(),
		done:      newCompletion(),
	}
}

// Age reports how long the record has existed.
func (r *Record) Age() time.Duration { return time.Since(r.CreatedAt) }

// Completion exposes the record's result slot.
func (r *Record) Completion() *Completion { return r.done }

// Wait blocks until the record is resolved or ctx is done.
func (r *Record) Wait(ctx context.Context) ([]backend.Image, error) { return r.done.Wait(ctx) }

// Fulfill resolves the record with images. Only the dispatch worker calls it.
func (r *Record) Fulfill(images []backend.Image) { r.done.resolve(images, nil) }

// Fail resolves the record with err. Only the dispatch worker and the
// lifecycle owner (during shutdown) call it.
func (r *Record) Fail(err error) { r.done.resolve(nil, err) }

// GenerateRequest converts the record into a backend call.
func (r *Record) GenerateRequest() backend.GenerateRequest {
	return backend.GenerateRequest{
		RequestID:      r.ID,
		Prompts:        r.Params.Prompts,
		NegativePrompt: r.Params.NegativePrompt,
		Steps:          r.Params.Steps,
		GuidanceScale:  r.Params.GuidanceScale,
		Width:          r.Params.Width,
		Height:         r.Params.Height,
		NumImages:      r.Params.NumImages,
		Seed:           r.Params.Seed,
	}
}
