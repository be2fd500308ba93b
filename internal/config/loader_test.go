package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "model: sdxl\nport: 9999\nqueue_capacity: 8\nmax_batch_size: auto\ndrain_timeout: 5s\ncors_allowed_origins: [\"*\"]\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model != "sdxl" || cfg.Port != 9999 || cfg.DrainTimeout.Std() != 5*time.Second {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if n, ok := cfg.QueueCapacity.Value(); !ok || n != 8 {
		t.Fatalf("queue_capacity = %v", cfg.QueueCapacity)
	}
	if !cfg.MaxBatchSize.IsAuto() {
		t.Fatalf("max_batch_size should be auto, got %v", cfg.MaxBatchSize)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("origins = %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"model":"sd15","port":7070,"queue_capacity":"auto","max_batch_size":4,"request_timeout":90}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model != "sd15" || cfg.Port != 7070 || cfg.RequestTimeout.Std() != 90*time.Second {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if !cfg.QueueCapacity.IsAuto() {
		t.Fatalf("queue_capacity should be auto")
	}
	if n, _ := cfg.MaxBatchSize.Value(); n != 4 {
		t.Fatalf("max_batch_size = %v", cfg.MaxBatchSize)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "model=\"sd3\"\nport=8081\nqueue_capacity=12\nmax_batch_size=\"auto\"\nadmission_timeout=\"250ms\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Model != "sd3" || cfg.Port != 8081 || cfg.AdmissionTimeout.Std() != 250*time.Millisecond {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if n, _ := cfg.QueueCapacity.Value(); n != 12 {
		t.Fatalf("queue_capacity = %v", cfg.QueueCapacity)
	}
	if !cfg.MaxBatchSize.IsAuto() {
		t.Fatalf("max_batch_size should be auto")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
}

func TestLoad_RejectsBadAutoInt(t *testing.T) {
	d := t.TempDir()
	for name, body := range map[string]string{
		"zero.yaml": "queue_capacity: 0\n",
		"neg.json":  `{"max_batch_size": -2}`,
		"word.toml": "queue_capacity=\"lots\"\n",
	} {
		p := writeTempFile(t, d, name, body)
		if _, err := Load(p); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Defaults()
	env := map[string]string{
		"DIFFUSIOND_PORT":           "9001",
		"DIFFUSIOND_API_KEY":        "k",
		"DIFFUSIOND_QUEUE_CAPACITY": "3",
		"DIFFUSIOND_MODEL":          "",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Port != 9001 || cfg.APIKey != "k" || cfg.Model != "" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if n, _ := cfg.QueueCapacity.Value(); n != 3 {
		t.Fatalf("queue capacity = %v", cfg.QueueCapacity)
	}

	env["DIFFUSIOND_PORT"] = "eighty"
	if err := cfg.ApplyEnv(lookup); err == nil {
		t.Fatalf("expected error for bad port")
	}
}
