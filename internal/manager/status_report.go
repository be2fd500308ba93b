package manager

import (
	"time"

	"diffusiond/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{State: m.state, ModelID: m.cfg.ModelID, Err: m.err}
	if m.worker != nil {
		s.Adapter = m.worker.Adapter()
	}
	return s
}

// Health builds a non-blocking snapshot for /health. Queue size is advisory.
func (m *Manager) Health() types.HealthResponse {
	m.mu.RLock()
	st, errMsg, started, w := m.state, m.err, m.startTime, m.worker
	m.mu.RUnlock()

	resp := types.HealthResponse{
		Status:        st.healthStatus(),
		State:         string(st),
		Model:         m.cfg.ModelID,
		Device:        m.cfg.Device,
		DType:         m.cfg.DType,
		QueueSize:     m.q.Len(),
		QueueCapacity: m.q.Cap(),
		MaxBatchSize:  m.cfg.MaxBatchSize,
		Error:         errMsg,
		Submitted:     m.submitted.Load(),
		Completed:     m.completed.Load(),
		Failed:        m.failed.Load(),
		Rejected:      m.rejected.Load(),
	}
	if w != nil {
		resp.Adapter = w.Adapter()
		resp.WorkerState = w.State().String()
	}
	if !started.IsZero() {
		resp.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	return resp
}
