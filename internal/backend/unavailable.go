package backend

import (
	"context"
	"fmt"
)

// UnavailableLoader fails to load with ErrUnavailable. It stands in when the
// daemon is started without a model runtime.
type UnavailableLoader struct{ Reason string }

func (l UnavailableLoader) Load(ctx context.Context, spec ModelSpec) (Generator, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnavailable, l.Reason)
}
