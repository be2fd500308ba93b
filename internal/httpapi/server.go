package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"diffusiond/internal/backend"
	"diffusiond/internal/imagestore"
	"diffusiond/internal/queue"
	"diffusiond/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Generate(ctx context.Context, p queue.Params) ([]backend.Image, *queue.Record, error)
	ListModels() []types.Model
	Health() types.HealthResponse
	Ready() bool
}

// AdapterCatalog lists and resolves LoRA adapters. Optional.
type AdapterCatalog interface {
	List() ([]types.Adapter, error)
	Resolve(name string) (string, error)
}

// Options wires optional collaborators into the router.
type Options struct {
	// APIKey protects /v1/* when non-empty.
	APIKey string
	// Images backs response_format=url. Nil disables url responses.
	Images *imagestore.Store
	// Adapters resolves lora_path names and serves /v1/adapters.
	Adapters AdapterCatalog
	// PublicURL is the externally visible base URL used in image links.
	// When empty it is derived from the request.
	PublicURL string
}

// NewMux builds the HTTP router.
func NewMux(svc Service, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/json"))
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	// Security headers and request id echo
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				w.Header().Set(middleware.RequestIDHeader, rid)
			}
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{svc: svc, opts: opts}

	r.Route("/v1", func(r chi.Router) {
		r.Use(RequireAPIKey(opts.APIKey))
		r.With(InflightMiddleware).Post("/images/generations", h.generateImages)
		r.Get("/images/{id}", h.getImage)
		r.Get("/models", h.listModels)
		r.Get("/adapters", h.listAdapters)
	})

	r.Get("/health", h.health)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(svc.Health().Status))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "route not found: "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	MountSwagger(r)
	return r
}
