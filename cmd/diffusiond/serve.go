package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"diffusiond/internal/backend"
	"diffusiond/internal/config"
	"diffusiond/internal/httpapi"
	"diffusiond/internal/imagestore"
	"diffusiond/internal/manager"
	"diffusiond/internal/registry"
)

// httpShutdownGrace bounds http.Server.Shutdown after the manager has drained.
const httpShutdownGrace = 5 * time.Second

func newServeCmd() *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the model and serve the HTTP API",
		Example: "  diffusiond serve --model stabilityai/sdxl-turbo --runner-url http://127.0.0.1:7860\n" +
			"  diffusiond serve --config /etc/diffusiond.yaml\n" +
			"  diffusiond serve --model dev --backend synthetic --log-format console",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.resolveConfig(cmd.Flags(), os.LookupEnv)
			if err != nil {
				return err
			}
			log, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log, nil)
		},
	}
	f.register(cmd.Flags())
	return cmd
}

// server bundles the components serve wires together.
type server struct {
	cfg  config.Config
	log  zerolog.Logger
	mgr  *manager.Manager
	http *http.Server
}

func newServer(cfg config.Config, log zerolog.Logger) (*server, error) {
	loader, err := backend.New(cfg.Backend, cfg.RunnerURL, cfg.RunnerAPIKey, cfg.RequestTimeout.Std(), cfg.ConnectTimeout.Std())
	if err != nil {
		return nil, err
	}
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		ModelID:             cfg.Model,
		Device:              cfg.Device,
		DType:               cfg.DType,
		DefaultAdapter:      cfg.Adapter,
		DefaultAdapterScale: cfg.AdapterScale,
		QueueCapacity:       config.ResolveQueueCapacity(cfg.QueueCapacity),
		MaxBatchSize:        config.ResolveBatchSize(cfg.MaxBatchSize),
		FuseBatches:         cfg.FuseBatches,
		Admission:           manager.AdmissionPolicy(cfg.Admission),
		AdmissionTimeout:    cfg.AdmissionTimeout.Std(),
		DrainTimeout:        cfg.DrainTimeout.Std(),
		Loader:              loader,
		Logger:              &log,
	})

	opts := httpapi.Options{
		APIKey:    cfg.APIKey,
		Images:    imagestore.New(cfg.ImageStoreSize),
		PublicURL: cfg.PublicURL,
	}
	if cfg.AdaptersDir != "" {
		cat, err := registry.NewCatalog(cfg.AdaptersDir)
		if err != nil {
			return nil, fmt.Errorf("adapters dir: %w", err)
		}
		opts.Adapters = cat
	}

	httpapi.SetLogger(log)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	if cfg.CORSEnabled {
		methods := cfg.CORSAllowedMethods
		if len(methods) == 0 {
			methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
		}
		headers := cfg.CORSAllowedHeaders
		if len(headers) == 0 {
			headers = []string{"Authorization", "Content-Type"}
		}
		httpapi.SetCORSOptions(true, cfg.CORSAllowedOrigins, methods, headers)
	}

	return &server{
		cfg: cfg,
		log: log,
		mgr: mgr,
		http: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           httpapi.NewMux(mgr, opts),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// serve runs until ctx is canceled or a component fails. The listener is up
// before the model finishes loading so /health can report progress. When ln
// is nil serve listens on cfg.Addr().
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger, ln net.Listener) error {
	s, err := newServer(cfg, log)
	if err != nil {
		return err
	}
	if ln == nil {
		if ln, err = net.Listen("tcp", s.http.Addr); err != nil {
			return err
		}
	}

	// Canceled once shutdown begins so waiting handlers answer 503.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info().Str("addr", ln.Addr().String()).Str("model", cfg.Model).Str("backend", cfg.Backend).Msg("diffusiond listening")
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.mgr.Start(gctx); err != nil {
			return err
		}
		s.log.Info().Str("model", cfg.Model).Msg("model ready")
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown(cancelBase)
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// shutdown drains the manager first so in-flight requests get their images,
// then stops the listener.
func (s *server) shutdown(cancelBase context.CancelFunc) error {
	s.log.Info().Msg("shutting down")
	grace := s.cfg.DrainTimeout.Std() + httpShutdownGrace
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	stopErr := s.mgr.Stop(ctx)
	if stopErr != nil {
		s.log.Warn().Err(stopErr).Msg("manager stop")
	}
	cancelBase()
	hctx, hcancel := context.WithTimeout(context.Background(), httpShutdownGrace)
	defer hcancel()
	if err := s.http.Shutdown(hctx); err != nil {
		s.log.Warn().Err(err).Msg("graceful shutdown error")
		return errors.Join(stopErr, err)
	}
	return stopErr
}
