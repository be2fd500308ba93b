package manager

// Event names published by the manager and its worker.
const (
	EventModelLoadStart = "model_load_start"
	EventModelLoadDone  = "model_load_done"
	EventModelLoadError = "model_load_error"
	EventAdapterLoad    = "adapter_load"
	EventBatchStart     = "batch_start"
	EventBatchDone      = "batch_done"
	EventShutdownStart  = "shutdown_start"
	EventShutdownDone   = "shutdown_done"
)

// Event represents a manager lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish is called from the worker goroutine
// and must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
