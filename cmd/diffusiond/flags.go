package main

import (
	"strings"
	"time"

	"github.com/spf13/pflag"

	"diffusiond/internal/config"
)

// splitCSV splits a comma separated list, dropping blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// serveFlags holds the command-line view of config.Config. Only flags the
// user actually set are copied over the file and environment values.
type serveFlags struct {
	configPath string
	v          config.Config

	requestTimeout   time.Duration
	connectTimeout   time.Duration
	admissionTimeout time.Duration
	drainTimeout     time.Duration
	corsOrigins      string
}

func (f *serveFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", "", "Path to a YAML, JSON or TOML config file")

	fs.StringVar(&f.v.Model, "model", "", "Model id or path to load")
	fs.StringVar(&f.v.Device, "device", "", "Compute device (cuda, cpu, mps)")
	fs.StringVar(&f.v.DType, "dtype", "", "Weight dtype (float16, bfloat16, float32)")
	fs.StringVar(&f.v.Adapter, "adapter", "", "LoRA adapter applied at startup and to requests naming none")
	fs.Float64Var(&f.v.AdapterScale, "adapter-scale", 0, "Scale for the default adapter")
	fs.StringVar(&f.v.AdaptersDir, "adapters-dir", "", "Directory of LoRA adapters served by /v1/adapters")

	fs.StringVar(&f.v.Backend, "backend", "", "Model runtime: remote|synthetic|none")
	fs.StringVar(&f.v.RunnerURL, "runner-url", "", "Base URL of the diffusion runner (remote backend)")
	fs.StringVar(&f.v.RunnerAPIKey, "runner-api-key", "", "Bearer token sent to the runner")
	fs.DurationVar(&f.requestTimeout, "request-timeout", 0, "Per-call runner timeout (0 = none)")
	fs.DurationVar(&f.connectTimeout, "connect-timeout", 0, "Runner dial timeout")

	fs.Var(&f.v.QueueCapacity, "queue-capacity", "Admission queue capacity, or auto")
	fs.Var(&f.v.MaxBatchSize, "max-batch-size", "Records dequeued per batch, or auto")
	fs.BoolVar(&f.v.FuseBatches, "fuse-batches", false, "Send compatible neighbours in one runtime call")
	fs.StringVar(&f.v.Admission, "admission", "", "Behaviour when the queue is full: block|reject")
	fs.DurationVar(&f.admissionTimeout, "admission-timeout", 0, "Longest a blocked submission waits for a slot (0 = until the client leaves)")
	fs.DurationVar(&f.drainTimeout, "drain-timeout", 0, "Grace period for in-flight work on shutdown")

	fs.StringVar(&f.v.Host, "host", "", "Listen host")
	fs.IntVar(&f.v.Port, "port", 0, "Listen port")
	fs.StringVar(&f.v.APIKey, "api-key", "", "Require this bearer token on /v1/*")
	fs.StringVar(&f.v.PublicURL, "public-url", "", "External base URL used in image links")
	fs.IntVar(&f.v.ImageStoreSize, "image-store-size", 0, "Images kept in memory for response_format=url")
	fs.BoolVar(&f.v.CORSEnabled, "cors", false, "Enable CORS")
	fs.StringVar(&f.corsOrigins, "cors-origins", "", "Comma separated allowed origins")

	fs.StringVar(&f.v.LogLevel, "log-level", "", "Log level: debug|info|warn|error")
	fs.StringVar(&f.v.LogFormat, "log-format", "", "Log format: json|console")
}

// apply copies every changed flag onto cfg.
func (f *serveFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("model", func() { cfg.Model = f.v.Model })
	set("device", func() { cfg.Device = f.v.Device })
	set("dtype", func() { cfg.DType = f.v.DType })
	set("adapter", func() { cfg.Adapter = f.v.Adapter })
	set("adapter-scale", func() { cfg.AdapterScale = f.v.AdapterScale })
	set("adapters-dir", func() { cfg.AdaptersDir = f.v.AdaptersDir })
	set("backend", func() { cfg.Backend = f.v.Backend })
	set("runner-url", func() { cfg.RunnerURL = f.v.RunnerURL })
	set("runner-api-key", func() { cfg.RunnerAPIKey = f.v.RunnerAPIKey })
	set("request-timeout", func() { cfg.RequestTimeout = config.Duration(f.requestTimeout) })
	set("connect-timeout", func() { cfg.ConnectTimeout = config.Duration(f.connectTimeout) })
	set("queue-capacity", func() { cfg.QueueCapacity = f.v.QueueCapacity })
	set("max-batch-size", func() { cfg.MaxBatchSize = f.v.MaxBatchSize })
	set("fuse-batches", func() { cfg.FuseBatches = f.v.FuseBatches })
	set("admission", func() { cfg.Admission = f.v.Admission })
	set("admission-timeout", func() { cfg.AdmissionTimeout = config.Duration(f.admissionTimeout) })
	set("drain-timeout", func() { cfg.DrainTimeout = config.Duration(f.drainTimeout) })
	set("host", func() { cfg.Host = f.v.Host })
	set("port", func() { cfg.Port = f.v.Port })
	set("api-key", func() { cfg.APIKey = f.v.APIKey })
	set("public-url", func() { cfg.PublicURL = f.v.PublicURL })
	set("image-store-size", func() { cfg.ImageStoreSize = f.v.ImageStoreSize })
	set("cors", func() { cfg.CORSEnabled = f.v.CORSEnabled })
	set("cors-origins", func() { cfg.CORSAllowedOrigins = splitCSV(f.corsOrigins) })
	set("log-level", func() { cfg.LogLevel = f.v.LogLevel })
	set("log-format", func() { cfg.LogFormat = f.v.LogFormat })
}

// resolveConfig layers the config file, the environment and changed flags,
// then fills defaults and validates.
func (f *serveFlags) resolveConfig(fs *pflag.FlagSet, lookup func(string) (string, bool)) (config.Config, error) {
	var cfg config.Config
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}
	f.apply(fs, &cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
