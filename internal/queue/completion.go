package queue

import (
	"context"
	"sync"

	"diffusiond/internal/backend"
)

// Completion is a single-assignment result slot. It is written once and may
// be read from any number of goroutines, before or after resolution.
type Completion struct {
	once   sync.Once
	ch     chan struct{}
	images []backend.Image
	err    error
}

func newCompletion() *Completion {
	return &Completion{ch: make(chan struct{})}
}

// resolve stores the outcome. A second call is a programming error and panics.
func (c *Completion) resolve(images []backend.Image, err error) {
	set := false
	c.once.Do(func() {
		c.images = images
		c.err = err
		set = true
		close(c.ch)
	})
	if !set {
		panic("queue: completion resolved twice")
	}
}

// Done is closed once the outcome is available.
func (c *Completion) Done() <-chan struct{} { return c.ch }

// Resolved reports whether the outcome has been set.
func (c *Completion) Resolved() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Wait returns the outcome, or ctx.Err() if ctx ends first. Abandoning the
// wait does not affect the worker, which still resolves the slot.
func (c *Completion) Wait(ctx context.Context) ([]backend.Image, error) {
	select {
	case <-c.ch:
		return c.images, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
