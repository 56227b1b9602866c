package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/chart"
	v1 "github.com/jaennil/guide_helper/backend/tilegateway/internal/infrastructure/http/v1"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/infrastructure/http/v1/handler"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/reference"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/registry"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/repository/prunelog"
	"github.com/jaennil/guide_helper/backend/tilegateway/internal/usecase"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/config"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/http_server"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilegateway/pkg/telemetry"
)

const shutdownTimeout = 30 * time.Second

func Run(cfg *config.Config) {
	l := logger.NewZapLogger(cfg.Logger.Level)
	defer l.Sync()

	l.Info("app config", "cfg", cfg.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = logger.WithLogger(ctx, l)

	if cfg.Telemetry.Enabled {
		shutdownTracer, err := telemetry.InitTracer(telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			Environment:    cfg.Telemetry.Environment,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		}, l)
		if err != nil {
			l.Fatal("failed to initialize tracer", "error", err)
		}
		defer func() {
			tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(tctx); err != nil {
				l.Error("tracer shutdown failed", "error", err)
			}
		}()
	}

	validate := validator.New()
	if err := registry.RegisterValidations(validate); err != nil {
		l.Fatal("failed to register validations", "error", err)
	}

	layers, err := registry.Load(cfg.Registry.File, validate)
	if err != nil {
		l.Fatal("failed to load registry", "file", cfg.Registry.File, "error", err)
	}
	l.Info("registry loaded", "layers", len(layers.Layers), "charts", len(layers.Charts), "defaultLayer", layers.DefaultLayer)

	charts := chart.Load(ctx, layers.Charts, l)

	budget, err := cfg.Cache.MaxBytes()
	if err != nil {
		l.Fatal("invalid cache budget", "error", err)
	}

	diskCache, err := cache.NewDiskCache(cfg.Cache.Dir, l)
	if err != nil {
		l.Fatal("failed to initialize disk cache", "dir", cfg.Cache.Dir, "error", err)
	}

	persistQueue := usecase.NewPersistQueue(diskCache, cfg.Cache.WriteQueueSize, cfg.Cache.WriteWorkers, l)

	var journal usecase.PruneJournal
	if cfg.Prune.JournalPath != "" {
		j, err := prunelog.NewSQLiteJournal(cfg.Prune.JournalPath, l)
		if err != nil {
			l.Fatal("failed to open prune journal", "path", cfg.Prune.JournalPath, "error", err)
		}
		defer j.Close()
		journal = j
	}

	ref, err := reference.New(cfg.Reference, l)
	if err != nil {
		l.Fatal("failed to initialize reference provider", "error", err)
	}
	if rp, ok := ref.(*reference.RedisProvider); ok {
		defer rp.Close()
	}

	proxyUseCase := usecase.NewProxyUseCase(layers, diskCache, persistQueue, usecase.ProxyConfig{
		Timeout:           cfg.Upstream.Timeout,
		UserAgent:         cfg.Upstream.UserAgent,
		MaxAgeBase:        cfg.Cache.MaxAgeBase,
		MaxAgeOverlay:     cfg.Cache.MaxAgeOverlay,
		MaxAgePlaceholder: cfg.Cache.MaxAgePlaceholder,
	}, l)
	renderUseCase := usecase.NewRenderUseCase(charts, diskCache, persistQueue, usecase.RenderConfig{
		Concurrency:       cfg.Render.Concurrency,
		MaxAge:            cfg.Cache.MaxAgeChart,
		MaxAgePlaceholder: cfg.Cache.MaxAgePlaceholder,
	}, l)
	evictionUseCase := usecase.NewEvictionUseCase(diskCache, ref, journal, usecase.EvictionConfig{
		BudgetBytes:      budget,
		Interval:         cfg.Prune.Interval,
		StartupDelay:     cfg.Prune.StartupDelay,
		ReferenceTimeout: cfg.Reference.Timeout,
	}, l)
	cacheUseCase := usecase.NewCacheUseCase(diskCache, charts, evictionUseCase, l)

	pruneCtx, cancelPrune := context.WithCancel(ctx)
	pruneDone := make(chan struct{})
	go func() {
		defer close(pruneDone)
		evictionUseCase.Run(pruneCtx)
	}()

	gin.SetMode(gin.ReleaseMode)
	h := handler.NewHandler(validate, proxyUseCase, renderUseCase, cacheUseCase)
	router := v1.NewRouter(h, l)

	httpServer := http_server.NewServer(cfg.HTTP.Server, router)

	serverErr := make(chan error, 1)
	go func() {
		l.Info("starting http server...", "address", httpServer.Addr, "cacheDir", cfg.Cache.Dir, "budget", humanize.IBytes(uint64(budget)))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("http server failed", "error", err)
		}
	case <-ctx.Done():
		l.Info("received shutdown signal")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	cancelPrune()

	l.Info("shutting down http server...", "address", httpServer.Addr)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		l.Error("http server shutdown failed", "error", err)
	} else {
		l.Info("http_server shutdown completed")
	}

	if err := persistQueue.Close(shutdownCtx); err != nil {
		l.Warn("timeout waiting for pending tile writes", "error", err)
	}

	select {
	case <-pruneDone:
	case <-shutdownCtx.Done():
		l.Warn("timeout waiting for prune pass to finish")
	}

	l.Info("application shutdown completed")
}
