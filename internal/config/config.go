package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime parameters for the service. Zero values mean
// "unspecified"; Defaults fills them and Validate normalizes the result.
type Config struct {
	// Model
	Model        string  `json:"model" yaml:"model" toml:"model"`
	Device       string  `json:"device" yaml:"device" toml:"device"`
	DType        string  `json:"dtype" yaml:"dtype" toml:"dtype"`
	Adapter      string  `json:"adapter" yaml:"adapter" toml:"adapter"`
	AdapterScale float64 `json:"adapter_scale" yaml:"adapter_scale" toml:"adapter_scale"`
	AdaptersDir  string  `json:"adapters_dir" yaml:"adapters_dir" toml:"adapters_dir"`

	// Backend
	Backend        string   `json:"backend" yaml:"backend" toml:"backend"`
	RunnerURL      string   `json:"runner_url" yaml:"runner_url" toml:"runner_url"`
	RunnerAPIKey   string   `json:"runner_api_key" yaml:"runner_api_key" toml:"runner_api_key"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	ConnectTimeout Duration `json:"connect_timeout" yaml:"connect_timeout" toml:"connect_timeout"`

	// Queue and worker
	QueueCapacity    AutoInt  `json:"queue_capacity" yaml:"queue_capacity" toml:"queue_capacity"`
	MaxBatchSize     AutoInt  `json:"max_batch_size" yaml:"max_batch_size" toml:"max_batch_size"`
	FuseBatches      bool     `json:"fuse_batches" yaml:"fuse_batches" toml:"fuse_batches"`
	Admission        string   `json:"admission" yaml:"admission" toml:"admission"`
	AdmissionTimeout Duration `json:"admission_timeout" yaml:"admission_timeout" toml:"admission_timeout"`
	DrainTimeout     Duration `json:"drain_timeout" yaml:"drain_timeout" toml:"drain_timeout"`

	// HTTP
	Host               string   `json:"host" yaml:"host" toml:"host"`
	Port               int      `json:"port" yaml:"port" toml:"port"`
	APIKey             string   `json:"api_key" yaml:"api_key" toml:"api_key"`
	PublicURL          string   `json:"public_url" yaml:"public_url" toml:"public_url"`
	MaxBodyBytes       int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	ImageStoreSize     int      `json:"image_store_size" yaml:"image_store_size" toml:"image_store_size"`
	CORSEnabled        bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins"`
	CORSAllowedMethods []string `json:"cors_allowed_methods" yaml:"cors_allowed_methods" toml:"cors_allowed_methods"`
	CORSAllowedHeaders []string `json:"cors_allowed_headers" yaml:"cors_allowed_headers" toml:"cors_allowed_headers"`

	// Logging
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
}

// Default values.
const (
	DefaultDevice         = "cuda"
	DefaultDType          = "float16"
	DefaultAdapterScale   = 1.0
	DefaultBackend        = "remote"
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 8000
	DefaultAdmission      = "block"
	DefaultDrainTimeout   = 30 * time.Second
	DefaultConnectTimeout = 5 * time.Second
	DefaultMaxBodyBytes   = 1 << 20
	DefaultImageStoreSize = 256
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
)

// Defaults returns a Config with every default applied.
func Defaults() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields in place.
func (c *Config) ApplyDefaults() {
	if c.Device == "" {
		c.Device = DefaultDevice
	}
	if c.DType == "" {
		c.DType = DefaultDType
	}
	if c.AdapterScale == 0 {
		c.AdapterScale = DefaultAdapterScale
	}
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = Duration(DefaultConnectTimeout)
	}
	if c.Admission == "" {
		c.Admission = DefaultAdmission
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = Duration(DefaultDrainTimeout)
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.ImageStoreSize == 0 {
		c.ImageStoreSize = DefaultImageStoreSize
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

// Addr is the listen address built from Host and Port.
func (c Config) Addr() string { return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) }

var dtypeAliases = map[string]string{
	"float16":  "float16",
	"fp16":     "float16",
	"half":     "float16",
	"bfloat16": "bfloat16",
	"bf16":     "bfloat16",
	"float32":  "float32",
	"fp32":     "float32",
	"float":    "float32",
}

// NormalizeDType maps accepted spellings onto float16, bfloat16 or float32.
func NormalizeDType(s string) (string, error) {
	v, ok := dtypeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unsupported dtype %q (want float16, bfloat16 or float32)", s)
	}
	return v, nil
}

// Validate checks the configuration and normalizes dtype and enum casing.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Model) == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if dt, err := NormalizeDType(c.DType); err != nil {
		errs = append(errs, err)
	} else {
		c.DType = dt
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	switch c.Backend {
	case "remote":
		if c.RunnerURL == "" {
			errs = append(errs, errors.New("runner_url is required for the remote backend"))
		}
	case "synthetic", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want remote, synthetic or none)", c.Backend))
	}
	c.Admission = strings.ToLower(strings.TrimSpace(c.Admission))
	if c.Admission != "block" && c.Admission != "reject" {
		errs = append(errs, fmt.Errorf("unknown admission policy %q (want block or reject)", c.Admission))
	}
	if c.AdapterScale < 0 || c.AdapterScale > 2 {
		errs = append(errs, fmt.Errorf("adapter_scale %.2f out of range [0, 2]", c.AdapterScale))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("max_body_bytes must not be negative"))
	}
	if c.ImageStoreSize < 0 {
		errs = append(errs, errors.New("image_store_size must not be negative"))
	}
	for _, d := range []struct {
		name string
		v    Duration
	}{
		{"request_timeout", c.RequestTimeout},
		{"connect_timeout", c.ConnectTimeout},
		{"admission_timeout", c.AdmissionTimeout},
		{"drain_timeout", c.DrainTimeout},
	} {
		if d.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q (want json or console)", c.LogFormat))
	}
	return errors.Join(errs...)
}
