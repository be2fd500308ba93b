package manager

// State represents the lifecycle state of the manager.
type State string

const (
	StateNew      State = "new"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// healthStatus maps a lifecycle state onto the status string reported by /health.
func (s State) healthStatus() string {
	switch s {
	case StateReady:
		return "healthy"
	case StateNew, StateLoading:
		return "loading"
	default:
		return string(s)
	}
}

// AdmissionPolicy selects what Submit does when the queue is full.
type AdmissionPolicy string

const (
	// AdmissionBlock waits for a free slot (bounded by AdmissionTimeout, if set).
	AdmissionBlock AdmissionPolicy = "block"
	// AdmissionReject fails immediately with an admission-rejected error.
	AdmissionReject AdmissionPolicy = "reject"
)

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State   State
	ModelID string
	Adapter string
	Err     string
}
