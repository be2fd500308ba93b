package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"diffusiond/internal/backend"
	"diffusiond/internal/httpapi"
	"diffusiond/internal/imagestore"
	"diffusiond/internal/manager"
	"diffusiond/internal/registry"
)

// createTempAdaptersDir creates a temporary directory populated with small
// adapter files and returns the directory path.
func createTempAdaptersDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte("lora"), 0o644); err != nil {
			t.Fatalf("write temp adapter %s: %v", p, err)
		}
	}
	return dir
}

type serverOptions struct {
	cfg         manager.ManagerConfig
	apiKey      string
	adaptersDir string
	noStart     bool
}

// newServer wires a manager and the HTTP API the way the serve command does,
// on an httptest server. The manager is started unless opts.noStart.
func newServer(t *testing.T, opts serverOptions) (*httptest.Server, *manager.Manager) {
	t.Helper()
	if opts.cfg.ModelID == "" {
		opts.cfg.ModelID = "test-model"
	}
	if opts.cfg.Loader == nil {
		opts.cfg.Loader = backend.SyntheticLoader{}
	}
	mgr := manager.NewWithConfig(opts.cfg)
	hopts := httpapi.Options{APIKey: opts.apiKey, Images: imagestore.New(16)}
	if opts.adaptersDir != "" {
		cat, err := registry.NewCatalog(opts.adaptersDir)
		if err != nil {
			t.Fatalf("catalog: %v", err)
		}
		hopts.Adapters = cat
	}
	srv := httptest.NewServer(httpapi.NewMux(mgr, hopts))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Stop(ctx)
	})
	if !opts.noStart {
		if err := mgr.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	return srv, mgr
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// asyncPost issues a POST in the background; the result arrives on the channel.
func asyncPost(t *testing.T, url, payload string) <-chan postResult {
	ch := make(chan postResult, 1)
	go func() {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			ch <- postResult{err: err}
			return
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		ch <- postResult{status: resp.StatusCode, body: body, header: resp.Header}
	}()
	return ch
}

type postResult struct {
	status int
	body   []byte
	header http.Header
	err    error
}

func awaitPost(t *testing.T, ch <-chan postResult) postResult {
	t.Helper()
	select {
	case r := <-ch:
		if r.err != nil {
			t.Fatalf("post: %v", r.err)
		}
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("request did not complete")
		return postResult{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// gatedLoader returns a runtime whose Generate calls block until release is
// closed. Every call entering Generate is announced on started.
type gatedLoader struct {
	started chan string
	release chan struct{}
	once    sync.Once
}

func newGatedLoader() *gatedLoader {
	return &gatedLoader{started: make(chan string, 64), release: make(chan struct{})}
}

func (l *gatedLoader) open() { l.once.Do(func() { close(l.release) }) }

func (l *gatedLoader) Load(ctx context.Context, spec backend.ModelSpec) (backend.Generator, error) {
	gen, err := backend.SyntheticLoader{}.Load(ctx, spec)
	if err != nil {
		return nil, err
	}
	return &gatedGen{Generator: gen, l: l}, nil
}

type gatedGen struct {
	backend.Generator
	l *gatedLoader
}

func (g *gatedGen) Generate(ctx context.Context, req backend.GenerateRequest) ([]backend.Image, error) {
	g.l.started <- req.RequestID
	select {
	case <-g.l.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Generator.Generate(ctx, req)
}
