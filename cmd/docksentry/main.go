// ABOUTME: Entry point for the docksentry container-security daemon.
// ABOUTME: Handles configuration, wiring of stores and loops, and graceful shutdown.

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docksentry/docksentry/internal/config"
	"github.com/docksentry/docksentry/internal/events"
	"github.com/docksentry/docksentry/internal/falco"
	"github.com/docksentry/docksentry/internal/metrics"
	"github.com/docksentry/docksentry/internal/runtime"
	"github.com/docksentry/docksentry/internal/scanner"
	"github.com/docksentry/docksentry/internal/server"
	"github.com/docksentry/docksentry/internal/store"

	"github.com/sirupsen/logrus"
)

func main() {
	env := parseFlags()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)
	if level, err := logrus.ParseLevel(env.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	daemon, err := NewDaemon(env, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create daemon")
	}

	if err := daemon.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start daemon")
	}
}

func parseFlags() *config.Env {
	env, err := config.ParseEnv()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid environment configuration")
	}

	flag.StringVar(&env.ConfigFile, "config", env.ConfigFile, "Path to the YAML policy file")
	flag.StringVar(&env.AlertsFile, "alerts-file", env.AlertsFile, "Path to the alert log")
	flag.StringVar(&env.ApprovalsFile, "approvals-file", env.ApprovalsFile, "Path to the approvals file")
	flag.StringVar(&env.ListenAddr, "listen", env.ListenAddr, "HTTP listen address")
	flag.BoolVar(&env.DryRun, "dry-run", env.DryRun, "Simulate remediation actions instead of executing them")
	flag.Parse()

	return env
}

// Daemon owns the composed components: stores, scan gateway, event loop,
// alert processor, and HTTP server.
type Daemon struct {
	env    *config.Env
	cfg    *config.Config
	logger *logrus.Logger

	loop      *events.Loop
	processor *falco.Processor
	handler   http.Handler
}

// NewDaemon builds the component graph. Every shared registry is an explicit
// store constructed here and passed by handle, never ambient state.
func NewDaemon(env *config.Env, logger *logrus.Logger) (*Daemon, error) {
	cfg := config.Load(env.ConfigFile, logger)

	logger.WithFields(logrus.Fields{
		"mode":        cfg.Gate.Mode,
		"alerts_file": env.AlertsFile,
		"dry_run":     env.DryRun,
		"listen":      env.ListenAddr,
	}).Info("Initializing docksentry")

	rt, err := runtime.NewDockerClient(logger)
	if err != nil {
		return nil, err
	}
	versionCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if version, err := rt.Version(versionCtx); err != nil {
		logger.WithError(err).Warn("Could not query Docker version")
	} else {
		logger.WithField("docker_version", version).Info("Connected to Docker")
	}

	m := metrics.New()

	alerts, err := store.NewAlertStore(env.AlertsFile, logger, m)
	if err != nil {
		return nil, err
	}
	approvals, err := store.NewApprovalStore(env.ApprovalsFile, logger)
	if err != nil {
		return nil, err
	}

	trivy := scanner.NewTrivyScanner(time.Duration(cfg.Trivy.TimeoutSeconds)*time.Second, logger, m)
	recent := events.NewRecentEvents(0)
	processor := falco.NewProcessor(rt, trivy, alerts, cfg, m, logger, env.DryRun)

	loop := events.NewLoop(events.Deps{
		Runtime:   rt,
		Scanner:   trivy,
		Alerts:    alerts,
		Approvals: approvals,
		Recent:    recent,
		Config:    cfg,
		Metrics:   m,
		Logger:    logger,
		DryRun:    env.DryRun,
	})

	srv := server.New(server.Deps{
		Alerts:    alerts,
		Approvals: approvals,
		Recent:    recent,
		Processor: processor,
		Runtime:   rt,
		Config:    cfg,
		Metrics:   m,
		Logger:    logger,
	})

	return &Daemon{
		env:       env,
		cfg:       cfg,
		logger:    logger,
		loop:      loop,
		processor: processor,
		handler:   srv.Router(),
	}, nil
}

// Start runs the event loop and the HTTP server until the context is
// cancelled, then drains in-flight work.
func (d *Daemon) Start(ctx context.Context) error {
	go d.loop.Run(ctx)

	httpServer := &http.Server{
		Addr:              d.env.ListenAddr,
		Handler:           d.handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	// ListenAndServe returns as soon as Shutdown is initiated, so the exit
	// path must also wait for the drain to finish or in-flight workers get
	// killed mid-write.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		d.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)

		d.loop.Wait()
		d.processor.Wait()
		d.logger.Info("In-flight work drained")
	}()

	d.logger.WithField("listen", d.env.ListenAddr).Info("Starting HTTP server")
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	<-drained
	return nil
}
