package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/imei-registry/internal/api"
	"github.com/shehryarbajwa/imei-registry/internal/browser"
	"github.com/shehryarbajwa/imei-registry/internal/config"
	"github.com/shehryarbajwa/imei-registry/internal/logging"
	"github.com/shehryarbajwa/imei-registry/internal/metrics"
	"github.com/shehryarbajwa/imei-registry/internal/proxy"
	"github.com/shehryarbajwa/imei-registry/internal/ratelimit"
	"github.com/shehryarbajwa/imei-registry/internal/registry"
	"github.com/shehryarbajwa/imei-registry/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "imei-registry: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting IMEI registry lookup service",
		zap.String("mode", string(cfg.Session.Mode)),
		zap.String("backend", cfg.Browser.Backend),
	)

	launcher, err := browser.NewLauncher(cfg.Browser)
	if err != nil {
		return fmt.Errorf("failed to create browser launcher: %w", err)
	}
	defer launcher.Close()

	if d, ok := launcher.(*browser.DockerLauncher); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		logger.Info("Ensuring browser image is available", zap.String("image", cfg.Browser.Image))
		err := d.EnsureImage(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to ensure browser image: %w", err)
		}
	}

	site := registry.SiteFromConfig(cfg.Site)
	sessionMgr := session.NewManager(
		registry.NewLauncher(launcher, site, logger),
		session.Options{
			Mode:          cfg.Session.Mode,
			TTL:           cfg.Session.TTL,
			SweepInterval: cfg.Session.SweepInterval,
			MaxActive:     cfg.Session.MaxActive,
		},
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sessionMgr.Init(ctx); err != nil {
		// Not fatal, the first start retries the launch
		logger.Warn("Shared browser not ready", zap.Error(err))
	}
	go sessionMgr.Run(ctx)

	routes := api.Routes{Metrics: metrics.Handler()}
	if cfg.RateLimit.RequestsPerHour > 0 {
		routes.Limiter = ratelimit.NewLimiter(cfg.RateLimit.RequestsPerHour, cfg.RateLimit.Burst)
		go pruneLimiter(ctx, routes.Limiter)
	}
	if cfg.Debug.Proxy {
		routes.Debug = proxy.NewServer(sessionMgr, logger)
		logger.Info("CDP debug proxy enabled")
	}

	handler := api.NewHandler(sessionMgr, logger)

	// The write timeout covers a full browser round trip including a launch
	writeTimeout := cfg.Browser.LaunchTimeout + cfg.Site.NavigateTimeout +
		cfg.Site.FormTimeout + cfg.Site.ResultTimeout + 15*time.Second

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.SetupRoutes(routes),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			sessionMgr.Close()
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if err := sessionMgr.Close(); err != nil {
		logger.Warn("Failed to close browsers", zap.Error(err))
	}

	logger.Info("Server stopped cleanly")
	return nil
}

func pruneLimiter(ctx context.Context, l *ratelimit.Limiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
