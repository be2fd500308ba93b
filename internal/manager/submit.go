package manager

import (
	"context"
	"errors"
	"time"

	"diffusiond/internal/backend"
	"diffusiond/internal/queue"
)

// Submit admits a new record built from p. Depending on the admission policy
// it blocks while the queue is full (bounded by AdmissionTimeout and ctx) or
// rejects immediately. Parameters are assumed validated.
func (m *Manager) Submit(ctx context.Context, p queue.Params) (*queue.Record, error) {
	if st := m.currentState(); st == StateDraining || st == StateStopped || st == StateError {
		m.reject("closed")
		return nil, &admissionRejectedError{reason: "server not accepting requests (" + string(st) + ")", err: ErrShuttingDown}
	}
	rec := queue.NewRecord(p)

	var err error
	switch m.cfg.Admission {
	case AdmissionReject:
		err = m.q.TryEnqueue(rec)
	default:
		ectx := ctx
		if m.cfg.AdmissionTimeout > 0 {
			var cancel context.CancelFunc
			ectx, cancel = context.WithTimeout(ctx, m.cfg.AdmissionTimeout)
			defer cancel()
		}
		err = m.q.Enqueue(ectx, rec)
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = queue.ErrFull
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, queue.ErrFull):
		m.reject("full")
		return nil, &admissionRejectedError{reason: "queue full", err: err}
	case errors.Is(err, queue.ErrClosed):
		m.reject("closed")
		return nil, &admissionRejectedError{reason: "queue closed", err: ErrShuttingDown}
	default:
		// Caller gave up while waiting for a slot.
		m.reject("canceled")
		return nil, err
	}

	m.submitted.Add(1)
	admissionsTotal.WithLabelValues("admitted").Inc()
	queueDepth.Set(float64(m.q.Len()))
	m.log.Debug().Str("request_id", rec.ID).Int("queue_len", m.q.Len()).Msg("request queued")
	return rec, nil
}

// Generate submits p and waits for its outcome. If ctx ends while waiting the
// record is still processed; only the caller stops listening.
func (m *Manager) Generate(ctx context.Context, p queue.Params) ([]backend.Image, *queue.Record, error) {
	rec, err := m.Submit(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	images, err := rec.Wait(ctx)
	if err == nil {
		m.log.Debug().Str("request_id", rec.ID).Int("images", len(images)).Dur("age", time.Since(rec.CreatedAt)).Msg("request done")
	}
	return images, rec, err
}

func (m *Manager) reject(reason string) {
	m.rejected.Add(1)
	admissionsTotal.WithLabelValues("rejected_" + reason).Inc()
}

func (m *Manager) currentState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}
