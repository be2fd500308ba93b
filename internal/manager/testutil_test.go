package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"diffusiond/internal/backend"
	"diffusiond/internal/queue"
)

// fakeGen records every call made by the worker.
type fakeGen struct {
	mu          sync.Mutex
	calls       []string // "gen:<prompt>" or "adapter:<path>"
	adapter     string
	genErr      map[string]error // keyed by first prompt
	adapterErr  map[string]error
	panicOn     string
	block       chan struct{} // when non-nil, Generate waits on it (or ctx)
	started     chan string   // when non-nil, receives the prompt as Generate begins
	inFlight    int
	maxInFlight int
}

func newFakeGen() *fakeGen {
	return &fakeGen{genErr: map[string]error{}, adapterErr: map[string]error{}}
}

func (f *fakeGen) Generate(ctx context.Context, req backend.GenerateRequest) ([]backend.Image, error) {
	prompt := req.Prompts[0]
	f.mu.Lock()
	f.calls = append(f.calls, "gen:"+prompt)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	adapter := f.adapter
	err := f.genErr[prompt]
	block, started := f.block, f.started
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	if started != nil {
		started <- prompt
	}
	if prompt == f.panicOn {
		panic("model exploded")
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	n := req.NumImages
	if n <= 0 {
		n = 1
	}
	out := make([]backend.Image, 0, len(req.Prompts)*n)
	for _, p := range req.Prompts {
		for i := 0; i < n; i++ {
			out = append(out, backend.Image{Data: []byte(p + "|" + adapter), MIMEType: "image/png"})
		}
	}
	return out, nil
}

func (f *fakeGen) LoadAdapter(_ context.Context, path string, _ float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "adapter:"+path)
	if err := f.adapterErr[path]; err != nil {
		return err
	}
	f.adapter = path
	return nil
}

func (f *fakeGen) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// fakeBatchGen adds fused generation on top of fakeGen.
type fakeBatchGen struct {
	*fakeGen
	fused [][]string
}

func (f *fakeBatchGen) GenerateBatch(ctx context.Context, reqs []backend.GenerateRequest) ([][]backend.Image, error) {
	f.mu.Lock()
	var names []string
	for _, r := range reqs {
		names = append(names, r.Prompts[0])
	}
	f.fused = append(f.fused, names)
	f.mu.Unlock()
	out := make([][]backend.Image, len(reqs))
	for i, r := range reqs {
		out[i] = []backend.Image{{Data: []byte(r.Prompts[0]), MIMEType: "image/png"}}
	}
	return out, nil
}

func loaderFor(g backend.Generator) backend.Loader {
	return backend.LoaderFunc(func(context.Context, backend.ModelSpec) (backend.Generator, error) { return g, nil })
}

func params(prompt string) queue.Params {
	return queue.Params{Prompts: []string{prompt}, Steps: 1, GuidanceScale: 7.5, Width: 64, Height: 64, NumImages: 1}
}

func withAdapter(prompt, path string) queue.Params {
	p := params(prompt)
	p.AdapterPath = path
	p.AdapterScale = 1
	return p
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func startManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()
	m := NewWithConfig(cfg)
	if err := m.Start(testCtx(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

// startedWorker runs a worker over q until the test ends.
func startedWorker(t *testing.T, q *queue.Queue, gen backend.Generator, opts workerOptions) *Worker {
	t.Helper()
	w := newWorker(q, gen, opts)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(func() {
		w.Stop()
		cancel()
		<-w.Done()
	})
	return w
}

func waitRecord(t *testing.T, rec *queue.Record) ([]backend.Image, error) {
	t.Helper()
	images, err := rec.Wait(testCtx(t))
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("record %s never resolved", rec.ID)
	}
	return images, err
}
