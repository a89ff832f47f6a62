// Package server builds the bootcamp platform and runs its HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/txn2/devops-bootcamp/pkg/platform"
)

// Version is set at build time.
var Version = "dev"

// LoadConfig loads the configuration at path, or the in-memory defaults
// when path is empty. The process logger is configured from the result.
func LoadConfig(path string) (*platform.Config, error) {
	cfg := platform.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = platform.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	slog.SetDefault(platform.NewLogger(cfg.Server, os.Stderr))
	return cfg, nil
}

// New creates a platform from an already loaded configuration.
func New(ctx context.Context, cfg *platform.Config) (*platform.Platform, error) {
	return platform.New(ctx, Version, platform.WithConfig(cfg))
}

// NewWithConfig creates a platform from the configuration file at path.
func NewWithConfig(ctx context.Context, path string) (*platform.Platform, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg)
}

// NewWithDefaults creates a platform on in-memory stores and the memory
// orchestrator.
func NewWithDefaults(ctx context.Context) (*platform.Platform, error) {
	return NewWithConfig(ctx, "")
}

// Run listens on the configured address and serves the API until ctx is
// cancelled, then drains and shuts down.
func Run(ctx context.Context, p *platform.Platform) error {
	ln, err := net.Listen("tcp", p.Config().Server.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", p.Config().Server.Address, err)
	}
	return Serve(ctx, p, ln)
}

// Serve serves the API on ln. The platform is started before the first
// request is accepted and stopped before in-flight requests are drained.
func Serve(ctx context.Context, p *platform.Platform, ln net.Listener) error {
	cfg := p.Config().Server
	srv := &http.Server{
		Handler:           p.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	if err := p.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("starting platform: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLS.Enabled {
			errCh <- srv.ServeTLS(ln, cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()
	slog.Info("bootcamp api listening", "address", ln.Addr().String(), "version", Version, "tls", cfg.TLS.Enabled)

	select {
	case err := <-errCh:
		_ = p.Stop(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Draining first makes /readyz fail while in-flight requests finish.
	stopErr := p.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return stopErr
}
