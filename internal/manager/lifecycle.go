package manager

import (
	"context"
	"errors"
	"io"
	"time"

	"diffusiond/internal/backend"
	"diffusiond/internal/queue"
)

// Start loads the model (and default adapter), then launches the dispatch
// worker. Any failure is fatal: the manager moves to the error state, queued
// records are failed, and a startup-failed error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateNew {
		st := m.state
		m.mu.Unlock()
		return &startupFailedError{stage: "start", err: errors.New("manager already started (state " + string(st) + ")")}
	}
	m.state = StateLoading
	m.startTime = time.Now()
	m.mu.Unlock()

	spec := backend.ModelSpec{ModelID: m.cfg.ModelID, Device: m.cfg.Device, DType: m.cfg.DType}
	m.publish(Event{Name: EventModelLoadStart, ModelID: spec.ModelID, Fields: map[string]any{"device": spec.Device, "dtype": spec.DType}})
	m.log.Info().Str("model", spec.ModelID).Str("device", spec.Device).Str("dtype", spec.DType).Msg("loading model")
	loadStart := time.Now()

	gen, err := m.cfg.Loader.Load(ctx, spec)
	if err != nil {
		return m.failStartup("load model", err)
	}
	initial := adapterKey{}
	if m.cfg.DefaultAdapter != "" {
		initial = adapterKey{path: m.cfg.DefaultAdapter, scale: m.cfg.DefaultAdapterScale}
		if err := gen.LoadAdapter(ctx, initial.path, initial.scale); err != nil {
			closeGenerator(gen)
			return m.failStartup("load default adapter", err)
		}
		adapterLoadsTotal.WithLabelValues("ok").Inc()
	}

	workCtx, workCancel := context.WithCancel(context.Background())
	w := newWorker(m.q, gen, workerOptions{
		maxBatch:       m.cfg.MaxBatchSize,
		defaultAdapter: initial,
		initial:        initial,
		fuse:           m.cfg.FuseBatches,
		log:            m.log,
		hooks:          m.workerHooks(),
	})

	m.mu.Lock()
	if m.state != StateLoading {
		// Stop ran while the model was loading.
		m.mu.Unlock()
		workCancel()
		closeGenerator(gen)
		return &startupFailedError{stage: "start", err: ErrShuttingDown}
	}
	m.gen = gen
	m.worker = w
	m.workCancel = workCancel
	m.state = StateReady
	m.err = ""
	m.mu.Unlock()

	go w.Run(workCtx)

	m.publish(Event{Name: EventModelLoadDone, ModelID: spec.ModelID, Fields: map[string]any{"duration_ms": time.Since(loadStart).Milliseconds()}})
	m.log.Info().Str("model", spec.ModelID).Dur("dur", time.Since(loadStart)).Int("queue_capacity", m.q.Cap()).Int("max_batch", m.cfg.MaxBatchSize).Msg("model ready")
	return nil
}

func (m *Manager) failStartup(stage string, err error) error {
	m.setState(StateError, err.Error())
	m.publish(Event{Name: EventModelLoadError, ModelID: m.cfg.ModelID, Fields: map[string]any{"stage": stage, "error": err.Error()}})
	m.log.Error().Err(err).Str("stage", stage).Msg("startup failed")
	serr := &startupFailedError{stage: stage, err: err}
	// Nothing will ever dispatch what was admitted during loading.
	m.q.Close()
	m.failQueued(serr)
	return serr
}

// Stop stops admission, lets the worker finish the batch it holds, fails
// everything still queued with ErrShuttingDown and releases the model. If
// the worker outlives the drain grace (or ctx), in-flight records are failed,
// generation is canceled, and a shutdown-timeout error is returned. Stop is
// idempotent; later calls return the first result.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { m.stopErr = m.stop(ctx) })
	return m.stopErr
}

func (m *Manager) stop(ctx context.Context) error {
	m.mu.Lock()
	prev := m.state
	if prev != StateError {
		m.state = StateDraining
	}
	w, gen, workCancel := m.worker, m.gen, m.workCancel
	m.mu.Unlock()

	m.publish(Event{Name: EventShutdownStart, ModelID: m.cfg.ModelID, Fields: map[string]any{"queued": m.q.Len()}})
	m.log.Info().Int("queued", m.q.Len()).Msg("shutdown requested")

	if w != nil {
		w.Stop()
	}
	m.q.Close()

	var err error
	if w != nil {
		timer := time.NewTimer(m.cfg.DrainTimeout)
		defer timer.Stop()
		select {
		case <-w.Done():
		case <-timer.C:
			err = &shutdownTimeoutError{grace: m.cfg.DrainTimeout}
		case <-ctx.Done():
			err = &shutdownTimeoutError{grace: m.cfg.DrainTimeout}
		}
		if err != nil {
			n := w.abandon(ErrShuttingDown)
			m.failed.Add(uint64(n))
			workCancel()
			m.log.Warn().Err(err).Int("abandoned", n).Msg("forcing worker termination")
		} else {
			workCancel()
		}
	}

	leftover := m.failQueued(ErrShuttingDown)

	// The generator is only safe to release once its owner has exited.
	if gen != nil && err == nil {
		closeGenerator(gen)
	}

	if prev != StateError {
		m.setState(StateStopped, "")
	}
	m.publish(Event{Name: EventShutdownDone, ModelID: m.cfg.ModelID, Fields: map[string]any{"failed_queued": leftover, "timeout": err != nil}})
	m.log.Info().Int("failed_queued", leftover).Msg("shutdown complete")
	return err
}

// failQueued resolves every record still in the queue with err.
func (m *Manager) failQueued(err error) int {
	recs := m.q.Drain()
	for _, rec := range recs {
		rec.Fail(err)
	}
	m.failed.Add(uint64(len(recs)))
	queueDepth.Set(float64(m.q.Len()))
	return len(recs)
}

func closeGenerator(gen backend.Generator) {
	if c, ok := gen.(io.Closer); ok {
		_ = c.Close()
	}
}

func (m *Manager) workerHooks() workerHooks {
	return workerHooks{
		batchStarted: func(batch []*queue.Record) {
			for _, rec := range batch {
				queueWait.Observe(rec.Age().Seconds())
			}
			batchSize.Observe(float64(len(batch)))
			queueDepth.Set(float64(m.q.Len()))
			m.publish(Event{Name: EventBatchStart, ModelID: m.cfg.ModelID, Fields: map[string]any{"size": len(batch)}})
		},
		batchDone: func(n int, dur time.Duration) {
			m.publish(Event{Name: EventBatchDone, ModelID: m.cfg.ModelID, Fields: map[string]any{"size": n, "duration_ms": dur.Milliseconds()}})
		},
		recordDone: func(rec *queue.Record, dur time.Duration, err error) {
			if err != nil {
				m.failed.Add(1)
				generationDuration.WithLabelValues("error").Observe(dur.Seconds())
				return
			}
			m.completed.Add(1)
			generationDuration.WithLabelValues("ok").Observe(dur.Seconds())
		},
		adapterLoaded: func(path string, dur time.Duration, err error) {
			adapterLoadsTotal.WithLabelValues(resultLabel(err)).Inc()
			f := map[string]any{"path": path, "duration_ms": dur.Milliseconds()}
			if err != nil {
				f["error"] = err.Error()
			}
			m.publish(Event{Name: EventAdapterLoad, ModelID: m.cfg.ModelID, Fields: f})
		},
	}
}
