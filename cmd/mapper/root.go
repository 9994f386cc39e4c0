// Package main provides the entry point for the surface-mapper CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/surface-mapper/internal/config"
	"github.com/user/surface-mapper/internal/crawl"
	"github.com/user/surface-mapper/internal/entity"
	"github.com/user/surface-mapper/internal/fetch"
	"github.com/user/surface-mapper/internal/monitoring"
	"github.com/user/surface-mapper/internal/probe"
	"github.com/user/surface-mapper/internal/scope"
	"github.com/user/surface-mapper/internal/storage"
)

// NewRootCmd creates the root command for the mapper.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapper <url> [url...]",
		Short: "Concurrent attack-surface mapper for web applications",
		Long: `mapper crawls a web application by driving an external rendering probe
(or an embedded headless Chrome) against every discovered request, folding
newly triggered requests back into a shared frontier until nothing new
turns up.`,
		Args:          cobra.MinimumNArgs(1),
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.Flags()
	flags.Int("workers", 10, "Number of crawl workers")
	flags.Int("timeout", 30, "Soft probe process timeout in seconds")
	flags.Int("retries", 2, "Probe retry budget per request")
	flags.String("probe-cmd", "probe", "External probe command")
	flags.String("probe-args", "", "Extra arguments passed to the probe command")
	flags.Bool("embedded", false, "Use the embedded Chrome probe instead of the external command")
	flags.Bool("fallback", false, "Fetch over plain HTTP when the probe path fails entirely")
	flags.Bool("group-qs", false, "Collapse requests differing only in query-string values")
	flags.String("user-agent", "", "User agent handed to the probe and the fallback fetcher")
	flags.String("proxy", "", "HTTP proxy URL")
	flags.String("postgres", "", "PostgreSQL connection string for result persistence")
	flags.String("redis", "", "Redis address for the cross-run visited set")
	flags.String("metrics-addr", "", "Listen address for the Prometheus /metrics endpoint")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")

	for flag, key := range map[string]string{
		"workers":      "CRAWL_WORKERS",
		"timeout":      "PROCESS_TIMEOUT",
		"retries":      "PROBE_RETRIES",
		"probe-cmd":    "PROBE_COMMAND",
		"probe-args":   "PROBE_ARGS",
		"embedded":     "EMBEDDED_PROBE",
		"fallback":     "FALLBACK_FETCH",
		"group-qs":     "GROUP_QS",
		"user-agent":   "USER_AGENT",
		"proxy":        "PROXY",
		"postgres":     "POSTGRES_URL",
		"redis":        "REDIS_ADDR",
		"metrics-addr": "METRICS_ADDR",
		"log-level":    "LOG_LEVEL",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()

	visited, err := newVisitedSet(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var store crawl.ResultStore
	if cfg.PostgresURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pgStore.Close()
		store = pgStore
		logger.Info("postgres result store enabled")
	}

	adjuster, err := scope.NewAdjuster(args[0], cfg.GroupQS)
	if err != nil {
		return err
	}

	var fallback crawl.Fetcher
	if cfg.FallbackFetch {
		fallback, err = fetch.NewHTTPFetcher(cfg.Timeout(), cfg.FallbackRetries, cfg.UserAgent, cfg.Proxy)
		if err != nil {
			return err
		}
	}

	engine := crawl.NewEngine(crawl.Options{
		Workers:   cfg.Workers,
		NewProber: proberFactory(cfg, logger),
		Fallback:  fallback,
		Adjuster:  adjuster,
		Visited:   visited,
		Store:     store,
		Metrics:   metrics,
		Logger:    logger,
	})

	seeds := make([]*entity.Request, 0, len(args))
	for _, target := range args {
		seeds = append(seeds, entity.NewRequest(entity.ReqTypeLink, http.MethodGet, target, nil, nil, "", ""))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return engine.Run(gctx, seeds)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.MetricsAddr, logger)
		})
	}

	err = g.Wait()

	results := engine.Results()
	var errCount int
	for _, res := range results {
		errCount += len(res.Errors)
	}
	logger.Info("crawl finished",
		zap.Int("results", len(results)),
		zap.Int("errors", errCount),
		zap.Int("end_cookies", len(engine.EndCookies())))

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zapCfg.Level = lvl
	return zapCfg.Build()
}

func newVisitedSet(ctx context.Context, cfg *config.Config, logger *zap.Logger) (crawl.VisitedSet, error) {
	if cfg.RedisAddr == "" {
		return storage.NewMemoryVisited(), nil
	}
	rv := storage.NewRedisVisited(cfg.RedisAddr, time.Duration(cfg.VisitedTTL)*time.Hour)
	if err := rv.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}
	logger.Info("redis visited set enabled", zap.String("addr", cfg.RedisAddr))
	return rv, nil
}

// proberFactory builds one ProbeSender per worker; each owns its private
// cookie-jar file for the worker's whole lifetime.
func proberFactory(cfg *config.Config, logger *zap.Logger) func() (crawl.ProbeSender, error) {
	procCfg := probe.Config{
		Timeout:       cfg.Timeout(),
		Retries:       cfg.ProbeRetries,
		RetryInterval: cfg.RetryInterval(),
		SetReferer:    cfg.SetReferer,
	}
	return func() (crawl.ProbeSender, error) {
		var runner probe.Runner
		if cfg.EmbeddedProbe {
			runner = probe.NewChromeRunner(cfg.UserAgent, cfg.Proxy, logger)
		} else {
			runner = probe.NewCommandRunner(cfg.ProbeCommand, strings.Fields(cfg.ProbeArgs), logger)
		}
		return probe.NewProcess(procCfg, runner, logger)
	}
}

func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
