// Command assetcore serves the asset management API.
package main

import (
	"assetcore/internal/adapters/assets"
	"assetcore/internal/adapters/reports"
	"assetcore/internal/blob"
	"assetcore/internal/config"
	"assetcore/internal/core"
	"assetcore/internal/infra/changefeed/redis"
	"assetcore/internal/infra/persistence/memory"
	"assetcore/internal/platform/logger"
	"assetcore/internal/platform/observability"
	"context"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", os.Getenv("ASSETCORE_CONFIG"), "path to a YAML config file")
	corsOrigins := flag.String("cors", "", "comma separated list of allowed browser origins")
	flag.Parse()

	if err := run(*configPath, splitList(*corsOrigins)); err != nil {
		fmt.Fprintln(os.Stderr, "assetcore:", err)
		os.Exit(1)
	}
}

func run(configPath string, origins []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()
	log = log.With("instance", cfg.InstanceID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	reg := observability.NewRegistry()
	promRecorder, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	httpMetrics, err := assets.NewHTTPMetrics(reg)
	if err != nil {
		return fmt.Errorf("http metrics: %w", err)
	}

	var (
		bus       *redis.Bus
		feed      *core.ChangeFeed
		storeOpts []memory.Option
	)
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		bus, err = redis.Open(ctx, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("change feed: %w", err)
		}
		defer func() { _ = bus.Close() }()
		feed = core.NewChangeFeed(cfg.InstanceID, bus, log)
		storeOpts = append(storeOpts, memory.WithCommitListener(feed.CommitListener()))
	}

	store, err := core.OpenPersistentStore(cfg.Storage, core.NewDefaultRulesEngine(), storeOpts...)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	if feed != nil {
		if reloader, ok := store.(core.Reloader); ok {
			if err := feed.Follow(ctx, bus, reloader); err != nil {
				return fmt.Errorf("follow change feed: %w", err)
			}
		}
	}

	blobStore, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	files := core.NewFileStore(blobStore, core.WithFileLogger(log))
	defer files.Wait()

	svcOpts := []core.ServiceOption{
		core.WithLogger(log),
		core.WithFileStore(files),
		core.WithMetricsRecorder(core.MultiMetricsRecorder{
			promRecorder,
			core.NewExpvarMetricsRecorder("assetcore_operations"),
		}),
		core.WithAuditRecorder(core.NewJSONAuditRecorder(os.Stdout, map[string]string{"instance": cfg.InstanceID})),
	}
	if tp != nil {
		svcOpts = append(svcOpts, core.WithTracer(core.NewOTelTracer(tp)))
	}
	svc := core.NewService(store, svcOpts...)

	worker := reports.NewWorker(svc, blobStore,
		reports.WithLogger(log),
		reports.WithQueueSize(cfg.Reports.QueueSize),
	)
	worker.Start()

	if cfg.Logger.Mode == "production" || cfg.Logger.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	routerCfg := assets.RouterConfig{
		Service:     svc,
		Reports:     worker,
		ReportStore: blobStore,
		Logger:      log,
		Metrics:     httpMetrics,
		ServiceName: cfg.Tracing.ServiceName,
		CORSOrigins: origins,
	}
	if cfg.HTTP.Metrics {
		routerCfg.MetricsHandler = observability.MetricsHandler(reg)
	}
	if tp != nil {
		routerCfg.TracerProvider = tp
	}
	router := assets.NewRouter(routerCfg)
	router.GET("/debug/vars", gin.WrapH(expvar.Handler()))

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTP.Addr, "storage", cfg.Storage.Driver, "blob", blobStore.Driver())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	if err := worker.Stop(shutdownCtx); err != nil {
		log.Warn("report worker stop", "error", err)
	}
	if feed != nil {
		if err := feed.Close(shutdownCtx); err != nil {
			log.Warn("change feed drain", "error", err)
		}
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
