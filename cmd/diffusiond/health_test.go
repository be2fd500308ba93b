package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"diffusiond/pkg/types"
)

func TestFetchHealth(t *testing.T) {
	status := http.StatusOK
	hr := types.HealthResponse{Status: "healthy", State: "ready", Model: "sdxl", QueueSize: 1, QueueCapacity: 10}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(hr)
	}))
	defer srv.Close()

	got, err := fetchHealth(context.Background(), srv.Client(), srv.URL+"/")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Model != "sdxl" || got.QueueCapacity != 10 {
		t.Fatalf("unexpected: %+v", got)
	}

	status = http.StatusServiceUnavailable
	hr.Status = "loading"
	got, err = fetchHealth(context.Background(), srv.Client(), strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("503 should still decode: %v", err)
	}
	if got.Status != "loading" {
		t.Fatalf("status = %q", got.Status)
	}
}

func TestFetchHealth_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()
	if _, err := fetchHealth(context.Background(), srv.Client(), srv.URL); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
}

func TestRenderHealth(t *testing.T) {
	var buf bytes.Buffer
	renderHealth(&buf, types.HealthResponse{Status: "error", Model: "sdxl", Device: "cuda", DType: "float16", Error: "load failed"})
	out := buf.String()
	for _, want := range []string{"status", "error", "sdxl", "cuda / float16", "load failed", "adapter"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "diffusiond ") {
		t.Fatalf("output = %q", buf.String())
	}
}
