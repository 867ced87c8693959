package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"
	temporalworker "go.temporal.io/sdk/worker"

	"example.com/planwidget/internal/api"
	"example.com/planwidget/internal/capture"
	"example.com/planwidget/internal/config"
	"example.com/planwidget/internal/gateway"
	"example.com/planwidget/internal/generator"
	"example.com/planwidget/internal/identity"
	"example.com/planwidget/internal/leads"
	"example.com/planwidget/internal/ledger"
	"example.com/planwidget/internal/logging"
	"example.com/planwidget/internal/metering"
	"example.com/planwidget/internal/sqliteutil"
	"example.com/planwidget/internal/telemetry"
)

// app holds the collaborators shared by every subcommand.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB
	store  *ledger.Store

	shutdownTracer func(context.Context) error
	temporal       client.Client
	direct         *leads.DirectForwarder
}

func loadApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Log.Level)
	a := &app{cfg: cfg, logger: logger}

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Setup(ctx, telemetry.OptionsFromConfig(cfg.Telemetry), logger)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		a.shutdownTracer = shutdown
	}

	db, err := sqliteutil.Open(cfg.Storage.SQLite.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	a.db = db
	a.store = ledger.NewStore(db)
	if err := a.store.Init(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return a, nil
}

func (a *app) Close() {
	if a.direct != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := a.direct.Wait(ctx); err != nil {
			a.logger.Warn("lead deliveries still pending at shutdown", "error", err)
		}
		cancel()
	}
	if a.temporal != nil {
		a.temporal.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracer(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", "error", err)
		}
	}
}

func (a *app) dialTemporal() (client.Client, error) {
	if a.temporal != nil {
		return a.temporal, nil
	}
	c, err := client.Dial(client.Options{
		HostPort:  a.cfg.Temporal.HostPort,
		Namespace: a.cfg.Temporal.Namespace,
		Logger:    temporallog.NewStructuredLogger(a.logger.With("component", "temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", a.cfg.Temporal.HostPort, err)
	}
	a.temporal = c
	return c, nil
}

func (a *app) leadActivities() *leads.Activities {
	return leads.NewActivities(
		leads.NewCRMClient(a.cfg.Leads.CRMWebhookURL, a.cfg.Leads.CRMTimeout),
		leads.NewNotifier(a.cfg.Leads.Notify),
		a.logger.With("component", "leads.activities"),
	)
}

func (a *app) leadForwarder() (capture.LeadForwarder, error) {
	if !a.cfg.Temporal.Enabled {
		a.logger.Info("forwarding leads in-process")
		a.direct = leads.NewDirectForwarder(a.leadActivities(), a.logger.With("component", "leads.direct"))
		return a.direct, nil
	}
	c, err := a.dialTemporal()
	if err != nil {
		return nil, err
	}
	return leads.NewTemporalForwarder(c, a.cfg.Temporal.TaskQueue, a.logger), nil
}

// Serve runs the HTTP API until interrupted.
func (a *app) Serve() error {
	if a.cfg.Generator.WebhookURL == "" {
		return errors.New("generator.webhook_url is required to serve")
	}
	forwarder, err := a.leadForwarder()
	if err != nil {
		return err
	}

	resolver := identity.NewResolver(a.store, a.logger.With("component", "identity"))
	gen := generator.NewClient(a.cfg.Generator.WebhookURL, a.cfg.Generator.Timeout,
		generator.WithResultKeys(a.cfg.Generator.ResultKeys))
	gw := gateway.New(resolver, a.store, gen, metering.FromConfig(a.cfg.Metering), a.logger.With("component", "gateway"))
	coord := capture.NewCoordinator(resolver, a.store, forwarder, a.logger.With("component", "capture"))

	srv := api.NewServer(a.store, gw, coord, a.cfg.Server.RequestTimeout, a.logger.With("component", "api"))
	server := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("planwidget API listening", "addr", a.cfg.Server.Addr, "db", a.cfg.Storage.SQLite.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return waitForShutdown(server, errCh, a.logger)
}

// RunWorker runs the Temporal lead-delivery worker until interrupted.
func (a *app) RunWorker() error {
	c, err := a.dialTemporal()
	if err != nil {
		return err
	}
	w := leads.RegisterWorker(c, a.cfg.Temporal.TaskQueue, a.leadActivities())
	a.logger.Info("lead worker started", "task_queue", a.cfg.Temporal.TaskQueue, "namespace", a.cfg.Temporal.Namespace)
	return w.Run(temporalworker.InterruptCh())
}

func waitForShutdown(server *http.Server, errCh <-chan error, logger *slog.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	// in-flight generations can take most of a minute
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
