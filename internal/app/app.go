package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/canyapan/fxsync/internal/backendauth"
	"github.com/canyapan/fxsync/internal/csrf"
	"github.com/canyapan/fxsync/internal/exchangerate"
	"github.com/canyapan/fxsync/internal/fx"
	"github.com/canyapan/fxsync/internal/metrics"
	"github.com/canyapan/fxsync/internal/s4hana"
	"github.com/canyapan/fxsync/internal/secretstore"
	"github.com/canyapan/fxsync/internal/server"
)

// App orchestrates the lifecycle of the sync server and its clients.
type App struct {
	cfg     *Config
	store   *csrf.Store
	service *exchangerate.Service
	server  *server.Server
}

// New creates a new App instance. No network I/O happens until the first sync.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	store := csrf.NewStore(cfg.S4Hana.CSRF.MaxTokenAge)

	s4Client, err := newS4HanaClient(cfg.S4Hana, store, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create s4hana client: %w", err)
	}

	fxClient, err := fx.NewClient(cfg.FX.BaseURL, fx.WithHTTPClient(&http.Client{Timeout: cfg.FX.Timeout}))
	if err != nil {
		return nil, fmt.Errorf("failed to create fx client: %w", err)
	}

	service, err := exchangerate.NewService(fxClient, s4Client)
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange rate service: %w", err)
	}

	opts := []server.Option{}
	if m != nil {
		opts = append(opts, server.WithMetrics(m))
	}
	srv, err := server.New(service, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &App{
		cfg:     cfg,
		store:   store,
		service: service,
		server:  srv,
	}, nil
}

// Service returns the exchange rate service for one-shot syncs.
func (a *App) Service() *exchangerate.Service {
	return a.service
}

// Handler returns the HTTP handler served by Start.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting sync server", "address", address)
	serverErrCh, err := a.server.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready",
		"address", address,
		"s4hana", a.cfg.S4Hana.BaseURL,
		"csrf_max_token_age", a.store.MaxAge(),
	)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// newS4HanaClient builds the transport chain for the backend:
// csrf.Transport → s4hana.ClientTransport → backendauth → http.DefaultTransport.
// The token fetch shares everything below the CSRF layer, so tokens are issued
// for the same SAP client and user that the writes run as.
func newS4HanaClient(cfg S4HanaConfig, store *csrf.Store, m *metrics.Metrics) (*s4hana.Client, error) {
	var secrets secretstore.SecretStore
	if cfg.Auth.Method != backendauth.MethodNone {
		s, err := cfg.Auth.NewSecretStore()
		if err != nil {
			return nil, fmt.Errorf("failed to create secret store: %w", err)
		}
		secrets = s
	}

	authTransport, err := backendauth.NewTransport(cfg.Auth.BackendAuth(), secrets, http.DefaultTransport)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend auth: %w", err)
	}

	sapTransport := &s4hana.ClientTransport{
		SAPClient: cfg.SAPClient,
		Language:  cfg.Language,
		Base:      authTransport,
	}

	fetchURL, err := url.JoinPath(cfg.BaseURL, cfg.CSRF.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid csrf token URL: %w", err)
	}
	fetcher := csrf.NewFetcher(fetchURL, &http.Client{
		Timeout:   cfg.Timeout,
		Transport: sapTransport,
	})

	var opts []csrf.TransportOption
	if cfg.CSRF.SingleFlight {
		opts = append(opts, csrf.WithSingleFlight())
	}
	if m != nil {
		opts = append(opts, csrf.WithRecorder(m))
	}

	return s4hana.NewClient(cfg.BaseURL, &http.Client{
		Timeout:   cfg.Timeout,
		Transport: csrf.NewTransport(store, fetcher, sapTransport, opts...),
	})
}
