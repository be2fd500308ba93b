package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"diffusiond/internal/backend"
	"diffusiond/internal/queue"
)

// WorkerState is the dispatch worker's lifecycle state.
type WorkerState int32

const (
	WorkerNotStarted WorkerState = iota
	WorkerRunning
	WorkerStopping
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerNotStarted:
		return "not_started"
	case WorkerRunning:
		return "running"
	case WorkerStopping:
		return "stopping"
	case WorkerStopped:
		return "stopped"
	default:
		return fmt.Sprintf("worker_state(%d)", int32(s))
	}
}

// BatchGenerator is implemented by runtimes that can serve several requests
// in one fused call. Results must be returned in request order.
type BatchGenerator interface {
	GenerateBatch(ctx context.Context, reqs []backend.GenerateRequest) ([][]backend.Image, error)
}

// adapterKey identifies an adapter configuration. The zero value means no adapter.
type adapterKey struct {
	path  string
	scale float64
}

// workerHooks observe the worker; every field may be nil.
type workerHooks struct {
	batchStarted  func(batch []*queue.Record)
	batchDone     func(n int, dur time.Duration)
	recordDone    func(rec *queue.Record, dur time.Duration, err error)
	adapterLoaded func(path string, dur time.Duration, err error)
}

type workerOptions struct {
	maxBatch       int
	defaultAdapter adapterKey
	// initial is the adapter already active on gen when the worker starts.
	initial adapterKey
	fuse    bool
	log     zerolog.Logger
	hooks   workerHooks
}

// Worker is the single goroutine that owns the Generator. It pulls batches
// from the queue and resolves every record it takes exactly once.
type Worker struct {
	q    *queue.Queue
	gen  backend.Generator
	opts workerOptions
	log  zerolog.Logger

	state    atomic.Int32
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	// current and currentKnown are touched only by the Run goroutine.
	current      adapterKey
	currentKnown bool
	// adapterView mirrors current.path for diagnostics from other goroutines.
	adapterView atomic.Value

	mu        sync.Mutex
	inHand    map[string]*queue.Record
	abandoned error
}

func newWorker(q *queue.Queue, gen backend.Generator, opts workerOptions) *Worker {
	if opts.maxBatch <= 0 {
		opts.maxBatch = defaultMaxBatchSize
	}
	w := &Worker{
		q:            q,
		gen:          gen,
		opts:         opts,
		log:          opts.log.With().Str("component", "worker").Logger(),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
		current:      opts.initial,
		currentKnown: true,
		inHand:       make(map[string]*queue.Record),
	}
	w.adapterView.Store(opts.initial.path)
	return w
}

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState { return WorkerState(w.state.Load()) }

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Adapter returns the adapter path believed active, for diagnostics only.
func (w *Worker) Adapter() string {
	s, _ := w.adapterView.Load().(string)
	return s
}

// Stop asks the loop to exit after the batch it currently holds.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerStopping))
		close(w.stopCh)
	})
}

// Run drives the dispatch loop until Stop is called, the queue is closed and
// empty, or ctx ends. Canceling ctx also cancels in-flight generation, so the
// lifecycle owner uses a context that outlives graceful shutdown.
func (w *Worker) Run(ctx context.Context) {
	if !w.state.CompareAndSwap(int32(WorkerNotStarted), int32(WorkerRunning)) {
		return
	}
	defer close(w.done)
	defer w.state.Store(int32(WorkerStopped))

	// Dequeue waits end on Stop as well as on ctx.
	dqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-dqCtx.Done():
		}
	}()

	w.log.Info().Int("max_batch", w.opts.maxBatch).Msg("worker started")
	for {
		select {
		case <-w.stopCh:
			w.log.Info().Msg("worker stopped")
			return
		default:
		}
		batch, err := w.q.DequeueBatch(dqCtx, w.opts.maxBatch)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) && dqCtx.Err() == nil {
				w.log.Error().Err(err).Msg("dequeue failed")
			}
			w.log.Info().Msg("worker stopped")
			return
		}
		w.process(ctx, batch)
	}
}

// process dispatches one batch. A failure of one record never affects the
// others, and adapter switches happen strictly between generate calls.
func (w *Worker) process(ctx context.Context, batch []*queue.Record) {
	start := time.Now()
	w.take(batch)
	if h := w.opts.hooks.batchStarted; h != nil {
		h(batch)
	}
	w.log.Debug().Int("size", len(batch)).Msg("batch start")

	failedAdapters := make(map[adapterKey]error)
	for _, call := range w.plan(batch) {
		key := w.adapterFor(call[0])
		if err, ok := failedAdapters[key]; ok {
			w.settleAll(call, err, 0)
			continue
		}
		if !w.currentKnown || key != w.current {
			if err := w.switchAdapter(ctx, key); err != nil {
				failedAdapters[key] = err
				w.settleAll(call, err, 0)
				continue
			}
		}
		if len(call) == 1 {
			w.generateOne(ctx, call[0])
		} else {
			w.generateFused(ctx, call)
		}
	}

	if h := w.opts.hooks.batchDone; h != nil {
		h(len(batch), time.Since(start))
	}
	w.log.Debug().Int("size", len(batch)).Dur("dur", time.Since(start)).Msg("batch done")
}

// adapterFor resolves the adapter a record must run under. Records naming no
// adapter run under the configured default (which may be none).
func (w *Worker) adapterFor(rec *queue.Record) adapterKey {
	if rec.Params.AdapterPath == "" {
		return w.opts.defaultAdapter
	}
	return adapterKey{path: rec.Params.AdapterPath, scale: rec.Params.AdapterScale}
}

func (w *Worker) switchAdapter(ctx context.Context, key adapterKey) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			// The runtime may be left half-switched; force a reload next time.
			w.currentKnown = false
			err = &adapterLoadFailedError{path: key.path, err: err}
			w.log.Error().Err(err).Str("adapter", key.path).Msg("adapter switch failed")
		} else {
			w.current = key
			w.currentKnown = true
			w.adapterView.Store(key.path)
			w.log.Info().Str("adapter", key.path).Float64("scale", key.scale).Dur("dur", time.Since(start)).Msg("adapter loaded")
		}
		if h := w.opts.hooks.adapterLoaded; h != nil {
			h(key.path, time.Since(start), err)
		}
	}()
	return w.gen.LoadAdapter(ctx, key.path, key.scale)
}

func (w *Worker) generateOne(ctx context.Context, rec *queue.Record) {
	start := time.Now()
	images, err := w.safeGenerate(ctx, rec.GenerateRequest())
	if err != nil {
		err = &generationFailedError{requestID: rec.ID, err: err}
		w.log.Error().Err(err).Str("request_id", rec.ID).Msg("generation failed")
	}
	w.settle(rec, images, err, time.Since(start))
}

func (w *Worker) safeGenerate(ctx context.Context, req backend.GenerateRequest) (images []backend.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			images, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return w.gen.Generate(ctx, req)
}

func (w *Worker) generateFused(ctx context.Context, call []*queue.Record) {
	bg := w.gen.(BatchGenerator)
	reqs := make([]backend.GenerateRequest, len(call))
	for i, rec := range call {
		reqs[i] = rec.GenerateRequest()
	}
	start := time.Now()
	results, err := func() (res [][]backend.Image, err error) {
		defer func() {
			if r := recover(); r != nil {
				res, err = nil, fmt.Errorf("panic: %v", r)
			}
		}()
		return bg.GenerateBatch(ctx, reqs)
	}()
	if err == nil && len(results) != len(call) {
		err = fmt.Errorf("fused call returned %d results for %d requests", len(results), len(call))
	}
	dur := time.Since(start)
	for i, rec := range call {
		if err != nil {
			w.settle(rec, nil, &generationFailedError{requestID: rec.ID, err: err}, dur)
			continue
		}
		w.settle(rec, results[i], nil, dur)
	}
}

// plan splits a batch into backend calls without reordering. Unless fusion is
// enabled and supported, every record is its own call.
func (w *Worker) plan(batch []*queue.Record) [][]*queue.Record {
	_, canFuse := w.gen.(BatchGenerator)
	calls := make([][]*queue.Record, 0, len(batch))
	for _, rec := range batch {
		if w.opts.fuse && canFuse && len(calls) > 0 {
			last := calls[len(calls)-1]
			if fusable(last[0], rec) && w.adapterFor(last[0]) == w.adapterFor(rec) {
				calls[len(calls)-1] = append(last, rec)
				continue
			}
		}
		calls = append(calls, []*queue.Record{rec})
	}
	return calls
}

// fusable reports whether two records share every parameter a fused model
// call would have to hold constant.
func fusable(a, b *queue.Record) bool {
	pa, pb := a.Params, b.Params
	return pa.Width == pb.Width && pa.Height == pb.Height && pa.Steps == pb.Steps &&
		pa.GuidanceScale == pb.GuidanceScale && pa.NegativePrompt == pb.NegativePrompt
}

func (w *Worker) take(batch []*queue.Record) {
	w.mu.Lock()
	for _, rec := range batch {
		w.inHand[rec.ID] = rec
	}
	w.mu.Unlock()
}

func (w *Worker) settleAll(recs []*queue.Record, err error, dur time.Duration) {
	for _, rec := range recs {
		w.settle(rec, nil, err, dur)
	}
}

// settle resolves rec unless the lifecycle owner already abandoned it.
func (w *Worker) settle(rec *queue.Record, images []backend.Image, err error, dur time.Duration) {
	w.mu.Lock()
	if w.abandoned != nil {
		w.mu.Unlock()
		return
	}
	delete(w.inHand, rec.ID)
	if err != nil {
		rec.Fail(err)
	} else {
		rec.Fulfill(images)
	}
	w.mu.Unlock()
	if h := w.opts.hooks.recordDone; h != nil {
		h(rec, dur, err)
	}
}

// abandon fails every record the worker still holds and makes later settles
// no-ops. It returns the number of records failed.
func (w *Worker) abandon(err error) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.abandoned != nil {
		return 0
	}
	w.abandoned = err
	n := len(w.inHand)
	for id, rec := range w.inHand {
		rec.Fail(err)
		delete(w.inHand, id)
	}
	return n
}
