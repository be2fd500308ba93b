package manager

import (
	"time"

	"github.com/rs/zerolog"

	"diffusiond/internal/backend"
	"diffusiond/internal/queue"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxBatchSize = 1
	defaultDrainTimeout = 30 * time.Second
	defaultDevice       = "cuda"
	defaultDType        = "float16"
	defaultAdapterScale = 1.0
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	ModelID string
	Device  string
	DType   string
	// DefaultAdapter is applied at startup and to records that name no adapter.
	DefaultAdapter      string
	DefaultAdapterScale float64

	QueueCapacity int
	MaxBatchSize  int
	// FuseBatches lets the worker send compatible neighbours in one backend
	// call when the runtime supports it.
	FuseBatches bool

	Admission        AdmissionPolicy
	AdmissionTimeout time.Duration
	DrainTimeout     time.Duration

	Loader    backend.Loader
	Logger    *zerolog.Logger
	Publisher EventPublisher
}

// NewWithConfig constructs a Manager from ManagerConfig. The queue exists as
// soon as this returns; the model is loaded by Start.
func NewWithConfig(cfg ManagerConfig) *Manager {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = queue.DefaultCapacity
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.Device == "" {
		cfg.Device = defaultDevice
	}
	if cfg.DType == "" {
		cfg.DType = defaultDType
	}
	if cfg.DefaultAdapter != "" && cfg.DefaultAdapterScale == 0 {
		cfg.DefaultAdapterScale = defaultAdapterScale
	}
	if cfg.Admission == "" {
		cfg.Admission = AdmissionBlock
	}
	if cfg.Loader == nil {
		cfg.Loader = backend.UnavailableLoader{Reason: "no model backend configured"}
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Manager{
		cfg:       cfg,
		state:     StateNew,
		q:         queue.New(cfg.QueueCapacity),
		log:       log.With().Str("component", "manager").Logger(),
		publisher: cfg.Publisher,
	}
}
