package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/dunamismax/pixelproxy/internal/api"
	"github.com/dunamismax/pixelproxy/internal/config"
	"github.com/dunamismax/pixelproxy/internal/engine"
	"github.com/dunamismax/pixelproxy/internal/fetchcache"
	"github.com/dunamismax/pixelproxy/internal/pipeline"
	"github.com/dunamismax/pixelproxy/internal/source"
	"github.com/dunamismax/pixelproxy/internal/storage"
	"github.com/dunamismax/pixelproxy/internal/store"
	"github.com/dunamismax/pixelproxy/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := telemetry.NewLogger(telemetry.LogConfig{
		Level:  cfg.Telemetry.LogLevel,
		Format: cfg.Telemetry.LogFormat,
	})
	if err != nil {
		return err
	}
	log := logger.WithField("component", "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:   cfg.Telemetry.ServiceName,
		Exporter:      cfg.Telemetry.TraceExport,
		OTLPEndpoint:  cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:  cfg.Telemetry.OTLPInsecure,
		SampleRatio:   cfg.Telemetry.TraceSample,
		EngineBackend: engine.Backend,
		CacheCapacity: cfg.Cache.Capacity,
	}, log)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	if err := engine.Startup(); err != nil {
		return fmt.Errorf("start %s engine: %w", engine.Backend, err)
	}
	defer engine.Shutdown()

	var overlay image.Image
	if cfg.Engine.WatermarkPath != "" {
		if overlay, err = engine.LoadOverlay(cfg.Engine.WatermarkPath); err != nil {
			return err
		}
	}
	factory := engine.NewDefaultFactory(engine.Options{
		MaxDimension: cfg.Engine.MaxDimension,
		Overlay:      overlay,
	})

	router, err := buildSources(ctx, cfg, log)
	if err != nil {
		return err
	}
	cache, err := fetchcache.New(router, fetchcache.Options{
		Capacity:     cfg.Cache.Capacity,
		FetchTimeout: cfg.Cache.FetchTimeout,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("build fetch cache: %w", err)
	}

	logs, closeLogs, err := buildRenderLog(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLogs()

	renderer, err := pipeline.NewRenderer(cache, factory, pipeline.Options{
		Logs:   logs,
		Logger: logger.WithField("component", "pipeline"),
	})
	if err != nil {
		return fmt.Errorf("build renderer: %w", err)
	}

	gin.SetMode(cfg.API.GinMode)
	app, err := api.NewServer(api.Options{
		Logger:         logger.WithField("component", "http"),
		Renderer:       renderer,
		Logs:           logs,
		Cache:          cache,
		Tracer:         otel.Tracer("github.com/dunamismax/pixelproxy/internal/api"),
		DefaultQuality: cfg.Engine.OutputQuality,
	})
	if err != nil {
		return fmt.Errorf("build api server: %w", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Cache.FetchTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":           cfg.API.Addr,
			"engine":         engine.Backend,
			"cache_capacity": cfg.Cache.Capacity,
		}).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	log.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	return nil
}

func buildSources(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*source.Router, error) {
	httpFetcher := source.NewHTTPFetcher(source.HTTPConfig{
		Timeout:   cfg.Cache.FetchTimeout,
		MaxBytes:  cfg.Source.MaxBytes,
		UserAgent: cfg.Source.UserAgent,
	})
	router := source.NewRouter().
		Handle("http", httpFetcher).
		Handle("https", httpFetcher)

	if !cfg.Storage.Enabled() {
		log.Info("object storage source disabled")
		return router, nil
	}

	client, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("build object storage client: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(checkCtx)
	switch {
	case err != nil:
		log.WithError(err).Warn("object storage bucket check failed")
	case !exists:
		log.WithField("bucket", client.Bucket()).Warn("object storage bucket does not exist")
	}

	router.Handle(source.SchemeObjectStore, source.ObjectStoreFetcher{
		Storage:  client,
		MaxBytes: cfg.Source.MaxBytes,
	})
	log.WithField("bucket", client.Bucket()).Info("object storage source enabled")
	return router, nil
}

func buildRenderLog(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (store.RenderLogStore, func(), error) {
	if cfg.Database.DSN == "" {
		log.Info("render log kept in memory")
		return store.NewMemoryRenderLogStore(1000), func() {}, nil
	}

	pg, err := store.NewPostgresRenderLogStore(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open render log store: %w", err)
	}
	log.Info("render log stored in postgres")
	return pg, func() {
		if err := pg.Close(); err != nil {
			log.WithError(err).Warn("close render log store")
		}
	}, nil
}
