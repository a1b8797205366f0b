package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/axellelanca/trailtrack/cmd"
	"github.com/axellelanca/trailtrack/internal/analytics"
	"github.com/axellelanca/trailtrack/internal/api"
	"github.com/axellelanca/trailtrack/internal/config"
	"github.com/axellelanca/trailtrack/internal/logger"
	"github.com/axellelanca/trailtrack/internal/monitor"
	"github.com/axellelanca/trailtrack/internal/seotest"
	"github.com/axellelanca/trailtrack/internal/services"
	"github.com/axellelanca/trailtrack/internal/workers"
)

// RunServerCmd represents the 'run-server' Cobra command.
// It is the entry point of the HTTP service and its background processes.
var RunServerCmd = &cobra.Command{
	Use:   "run-server",
	Short: "Starts the tracking and SEO API with its background workers.",
	Long: `This command opens the visitor storage, starts the commission workers,
the analytics client and the page monitor, then serves the HTTP API
until it receives SIGINT or SIGTERM.`,
	Run: func(c *cobra.Command, args []string) {
		cfg := cmd.Cfg
		if cfg == nil {
			var err error
			if cfg, err = config.LoadConfig(); err != nil {
				log.Fatalf("Failed to load configuration: %v", err)
			}
		}

		zlog, err := logger.New(cfg.Service.Environment)
		if err != nil {
			log.Fatalf("Failed to create logger: %v", err)
		}
		defer func() { _ = zlog.Sync() }()

		if err := run(cfg, zlog); err != nil {
			zlog.Fatal("Server stopped with error", zap.Error(err))
		}
	},
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := cmd.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			zlog.Warn("Failed to close storage", zap.Error(err))
		}
	}()
	zlog.Info("Storage initialized", zap.String("driver", cfg.Storage.Driver))

	events := newAnalyticsClient(cfg, zlog)
	events.Init(ctx)

	reporter := workers.NewCommissionReporter(cfg.Tracking.CommissionEndpoint, cfg.Tracking.CommissionBufferSize, zlog)
	reporter.Start(cfg.Tracking.CommissionWorkerCount)
	go drainFailures(ctx, reporter.Failures(), events, zlog)

	registry := services.NewRegistry(services.TrackerDeps{
		Store:       store,
		Events:      events,
		Commissions: reporter,
		Config: services.TrackerConfig{
			RefTag:         cfg.Tracking.RefTag,
			SessionTTL:     cfg.SessionTTL(),
			ClickLogLimit:  cfg.Tracking.ClickLogLimit,
			TrustedOrigins: cfg.Tracking.TrustedOrigins,
		},
		Logger: zlog,
	}, cfg.Affiliate.Links)
	zlog.Info("Tracker registry initialized", zap.Int("catalog_links", len(cfg.Affiliate.Links)))
	go registry.RunEviction(ctx, time.Minute, cfg.TrackerIdleTimeout())

	pageMonitor := monitor.NewPageMonitor(cfg.Monitor.Pages, cfg.MonitorInterval(), cfg.Monitor.RatePerSecond, zlog)
	go pageMonitor.Start(ctx)

	hub := seotest.NewVitalsHub()
	auditor := seotest.NewAuditor(seotest.NewVitalsSampler(hub, cfg.VitalsWindow()), zlog)

	if cfg.Service.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.SetupRoutes(router, api.Dependencies{
		Registry:    registry,
		PageMonitor: pageMonitor,
		Framework:   seotest.NewFramework(zlog),
		Auditor:     auditor,
		Vitals:      hub,
		Analytics:   events,
		Logger:      zlog,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		zlog.Info("Starting server", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		zlog.Info("Shutdown signal received, stopping server")
	case err := <-serveErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("Server forced to shutdown", zap.Error(err))
	}

	cancel()
	if err := registry.SaveAll(shutdownCtx); err != nil {
		zlog.Error("Failed to persist tracker state", zap.Error(err))
	}
	reporter.Close()
	events.Close()

	zlog.Info("Server stopped cleanly")
	return nil
}

// newAnalyticsClient sends to GA4 when a measurement id is configured and
// only logs events otherwise.
func newAnalyticsClient(cfg *config.Config, zlog *zap.Logger) *analytics.Client {
	var transport analytics.Transport
	if cfg.Analytics.MeasurementID != "" {
		transport = analytics.NewGA4Transport(cfg.Analytics.Endpoint, cfg.Analytics.MeasurementID, cfg.Analytics.APISecret)
	} else {
		transport = analytics.NewLogTransport(zlog)
	}
	return analytics.NewClient(transport, analytics.Options{
		QueueLimit: cfg.Analytics.QueueLimit,
		BufferSize: cfg.Analytics.BufferSize,
		Debug:      cfg.Analytics.Debug,
	}, zlog)
}

// drainFailures logs commission delivery failures and reports them as
// analytics errors.
func drainFailures(ctx context.Context, failures <-chan error, events *analytics.Client, zlog *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-failures:
			zlog.Warn("Commission delivery failure", zap.Error(err))
			events.TrackError("commission report failed: "+err.Error(), false)
		}
	}
}

func init() {
	cmd.RootCmd.AddCommand(RunServerCmd)
}
