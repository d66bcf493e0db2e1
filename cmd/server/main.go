package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sifan077/shortlink/config"
	"github.com/sifan077/shortlink/internal/app/qrcode"
	appserver "github.com/sifan077/shortlink/internal/app/server"
	"github.com/sifan077/shortlink/internal/app/service"
	"github.com/sifan077/shortlink/internal/app/shortcode"
	"github.com/sifan077/shortlink/internal/infra/logger"
	infraPrometheus "github.com/sifan077/shortlink/internal/infra/prometheus"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// bootstrap logger until the config says otherwise
	log := logger.MustInit(logger.Config{
		Development: os.Getenv("APP_ENV") != "production",
		Level:       os.Getenv("LOG_LEVEL"),
	})
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	log, err = logger.Init(logger.FromAppConfig(cfg.App, cfg.Log))
	if err != nil {
		logger.L().Fatal("Failed to configure logger", zap.Error(err))
	}

	log.Info("Configuration loaded successfully",
		zap.String("env", cfg.App.Env),
		zap.String("addr", cfg.App.Addr),
		zap.String("base_url", cfg.App.BaseURL),
		zap.String("store_driver", cfg.Store.Driver),
		zap.Bool("store_cache", cfg.Store.Cache),
		zap.String("click_sink", cfg.Clicks.Sink),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("Service exited with error", zap.Error(err))
	}
	log.Info("Service stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := infraPrometheus.NewMetrics(reg)

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	clicks, err := startClickPipeline(cfg, st, log, metrics)
	if err != nil {
		return err
	}

	if st.ledger != nil {
		pruner := service.NewAppliedClickPruner(log, st.ledger, cfg.Clicks.DedupRetention, cfg.Clicks.PruneInterval)
		pruner.Start()
		defer pruner.Stop()
	}

	links := service.NewLinkService(service.LinkServiceDeps{
		Links:   st.links,
		Codes:   shortcode.NewRandomGenerator(cfg.Shortener.CodeLength),
		Metrics: metrics,
		Logger:  log,
		Config: service.LinkServiceConfig{
			BaseURL:      cfg.App.BaseURL,
			MaxAttempts:  cfg.Shortener.MaxAttempts,
			StoreTimeout: cfg.Store.Timeout,
			DefaultLimit: cfg.Shortener.DefaultLimit,
			MaxLimit:     cfg.Shortener.MaxLimit,
			BloomSize:    cfg.Shortener.BloomSize,
			BloomFPRate:  cfg.Shortener.BloomFPRate,
		},
	})
	if n, err := links.WarmIssuedCodes(ctx, int(cfg.Shortener.BloomSize/2)); err != nil {
		log.Warn("Failed to warm issued code filter", zap.Error(err))
	} else {
		log.Info("Issued code filter warmed", zap.Int("codes", n))
	}

	resolver := service.NewRedirectResolver(service.RedirectDeps{
		Links:        st.links,
		Clicks:       clicks.sink,
		Metrics:      metrics,
		Logger:       log,
		StoreTimeout: cfg.Store.Timeout,
	})

	server := appserver.New(appserver.Dependencies{
		Logger:      log,
		Metrics:     metrics,
		Links:       links,
		Resolver:    resolver,
		QRCodes:     qrcode.NewPNGEncoder(cfg.Shortener.QRSize),
		Checks:      st.checks,
		CORSOrigins: cfg.App.CORSOrigins,
		BaseURL:     cfg.App.BaseURL,
	})

	var promServer *http.Server
	if cfg.Prometheus.Enabled {
		promServer = infraPrometheus.NewServer(cfg.Prometheus, reg)
		go func() {
			log.Info("Starting Prometheus metrics server", zap.String("addr", promServer.Addr))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
	} else {
		log.Info("Prometheus metrics server disabled")
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("addr", cfg.App.Addr))
		serveErr <- server.Listen(cfg.App.Addr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-serveErr:
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to shut down HTTP server", zap.Error(err))
	}
	// Requests are done; flush what they produced before the store goes away.
	clicks.close(shutdownCtx, log)
	if promServer != nil {
		if err := promServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("Failed to close Prometheus server", zap.Error(err))
		}
	}

	return runErr
}
