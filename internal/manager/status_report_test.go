package manager

import "testing"

func TestHealth_ReportsLoadingBeforeStart(t *testing.T) {
	m := NewWithConfig(ManagerConfig{ModelID: "m", QueueCapacity: 7})
	h := m.Health()
	if h.Status != "loading" || h.QueueCapacity != 7 || h.Model != "m" {
		t.Fatalf("health = %+v", h)
	}
	if h.WorkerState != "" {
		t.Fatalf("worker state before start = %q", h.WorkerState)
	}
}

func TestHealth_Ready(t *testing.T) {
	m := startManager(t, ManagerConfig{ModelID: "m", Device: "cpu", Loader: loaderFor(newFakeGen())})
	h := m.Health()
	if h.Status != "healthy" || h.Device != "cpu" || h.DType != "float16" {
		t.Fatalf("health = %+v", h)
	}
	if h.WorkerState == "" {
		t.Fatalf("expected worker state")
	}
}

func TestSnapshotReturnsState(t *testing.T) {
	m := NewWithConfig(ManagerConfig{ModelID: "m"})
	m.mu.Lock()
	m.state = StateError
	m.err = "boom"
	m.mu.Unlock()
	s := m.Snapshot()
	if s.State != StateError || s.Err != "boom" || s.ModelID != "m" {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
}

func TestListModels(t *testing.T) {
	m := startManager(t, ManagerConfig{ModelID: "stabilityai/sdxl-turbo", Loader: loaderFor(newFakeGen())})
	ms := m.ListModels()
	if len(ms) != 1 || ms[0].ID != "stabilityai/sdxl-turbo" || ms[0].Object != "model" {
		t.Fatalf("models = %+v", ms)
	}
}
