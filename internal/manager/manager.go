package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"diffusiond/internal/backend"
	"diffusiond/internal/queue"
	"diffusiond/pkg/types"
)

// Manager owns the admission queue, the loaded model and the single dispatch
// worker. HTTP handlers talk to it through Submit/Generate and Health.
type Manager struct {
	mu    sync.RWMutex
	state State
	err   string
	cfg   ManagerConfig

	q      *queue.Queue
	gen    backend.Generator
	worker *Worker
	// workCancel aborts in-flight generation when the drain grace expires.
	workCancel func()

	log       zerolog.Logger
	publisher EventPublisher
	startTime time.Time

	stopOnce sync.Once
	stopErr  error

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// New is a shorthand for NewWithConfig with only the model and loader set.
func New(modelID string, loader backend.Loader) *Manager {
	return NewWithConfig(ManagerConfig{ModelID: modelID, Loader: loader})
}

// SetEventPublisher replaces the event sink. Call before Start.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.mu.Lock()
	m.publisher = p
	m.mu.Unlock()
}

func (m *Manager) publish(e Event) {
	m.mu.RLock()
	p := m.publisher
	m.mu.RUnlock()
	p.Publish(e)
}

// Ready reports whether requests will be dispatched.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady
}

// ListModels returns the single model served by this process.
func (m *Manager) ListModels() []types.Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return []types.Model{{
		ID:      m.cfg.ModelID,
		Object:  "model",
		Created: m.startTime.Unix(),
		OwnedBy: "diffusiond",
	}}
}

// QueueLen is an advisory snapshot of the admission queue length.
func (m *Manager) QueueLen() int { return m.q.Len() }

func (m *Manager) setState(s State, errMsg string) {
	m.mu.Lock()
	m.state = s
	m.err = errMsg
	m.mu.Unlock()
}
