// Package main is the entry point for the TagSoup server.
// TagSoup stores images by content digest and indexes them by tag.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/prn-tf/tagsoup/internal/app"
	"github.com/prn-tf/tagsoup/internal/config"
	"github.com/prn-tf/tagsoup/internal/handler"
	"github.com/prn-tf/tagsoup/internal/pkg/logging"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("TAGSOUP_CONFIG"), "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "tagsoup-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("Starting TagSoup server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	a, err := app.New(ctx, cfg, logger, app.Options{Registry: registry})
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.GC.Enabled {
		a.GC.Start()
		defer a.GC.Stop()
	}

	router := handler.NewRouter(handler.RouterConfig{
		ImageHandler: handler.NewImageHandler(handler.ImageHandlerConfig{
			Images:        a.Images,
			Ingest:        a.Ingest,
			Logger:        logger,
			MaxUploadSize: cfg.Ingest.MaxSize,
		}),
		Metrics:        a.Metrics,
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
		Logger:         logger,
	})

	servers := []*http.Server{{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}}
	if a.Metrics != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, a.Metrics.Handler())
		servers = append(servers, &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go serve(srv, logger, errCh)
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down server...")
	case err = <-errCh:
		logger.Error().Err(err).Msg("listener failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logger.Warn().Err(serr).Str("addr", srv.Addr).Msg("graceful shutdown failed")
		}
	}
	return err
}

func serve(srv *http.Server, logger zerolog.Logger, errCh chan<- error) {
	logger.Info().Str("addr", srv.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
}
