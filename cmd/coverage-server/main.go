package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/lmux/antenna-coverage/core"
	"github.com/lmux/antenna-coverage/internal/api"
	"github.com/lmux/antenna-coverage/internal/archive"
	"github.com/lmux/antenna-coverage/internal/config"
	"github.com/lmux/antenna-coverage/internal/logging"
	"github.com/lmux/antenna-coverage/internal/observability"
	"github.com/lmux/antenna-coverage/internal/terrain"
	"github.com/lmux/antenna-coverage/kb"
)

// Config holds the server's command-line settings. Terrain and tracing
// settings come from the environment.
type Config struct {
	ListenAddress  string
	MetricsAddress string
	SitesPath      string
	ArchivePath    string
	Workers        int
	StepMeters     float64
	LogLevel       string
	LogFormat      string
	LogFile        string
}

func parseFlags(args []string) (Config, error) {
	fs := flag.NewFlagSet("coverage-server", flag.ContinueOnError)
	var cfg Config
	fs.StringVar(&cfg.ListenAddress, "grpc-addr", ":50051", "TCP address the gRPC server listens on")
	fs.StringVar(&cfg.MetricsAddress, "metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	fs.StringVar(&cfg.SitesPath, "sites", "", "Path to a JSON site file registered at startup")
	fs.StringVar(&cfg.ArchivePath, "archive", "", "SQLite file for archived runs (empty disables)")
	fs.IntVar(&cfg.Workers, "workers", 0, "Rays evaluated concurrently per run (0 = GOMAXPROCS)")
	fs.Float64Var(&cfg.StepMeters, "step", core.DefaultStepMeters, "Default sample spacing along each ray in metres")
	fs.StringVar(&cfg.LogLevel, "log-level", os.Getenv("LOG_LEVEL"), "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", os.Getenv("LOG_FORMAT"), "text or json")
	fs.StringVar(&cfg.LogFile, "log-file", os.Getenv("LOG_FILE"), "Rotated log file (empty logs to stdout)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if !(cfg.StepMeters > 0) {
		return Config{}, fmt.Errorf("-step must be positive, got %v", cfg.StepMeters)
	}
	return cfg, nil
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(2)
	}

	log := logging.New(logging.Config{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		File:      cfg.LogFile,
		AddSource: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.ListenAddress), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "coverage server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves CoverageService on lis until ctx is done.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	tcfg, err := config.TerrainConfigFromEnv()
	if err != nil {
		return err
	}

	tracing := observability.TracingConfigFromEnv(observability.ServiceServer)
	tracing.Attributes = observability.TerrainAttributes(tcfg.Source, tcfg.Zoom, tcfg.Strict)
	shutdownTracing, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	collector, err := observability.NewCoverageCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	tileMetrics, err := observability.NewTerrainCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	provider, err := terrain.New(ctx, tcfg,
		terrain.WithLogger(log),
		terrain.WithObserver(tileMetrics),
	)
	if err != nil {
		return fmt.Errorf("init terrain: %w", err)
	}

	sites := kb.NewKnowledgeBase()
	unsubscribe := sites.Subscribe(func(kb.Event) { collector.SetSites(sites.NumSites()) })
	defer unsubscribe()
	if err := loadSites(ctx, log, sites, cfg.SitesPath); err != nil {
		return err
	}

	svcOpts := []api.ServiceOption{
		api.WithLogger(log),
		api.WithEngineOptions(
			core.WithWorkers(cfg.Workers),
			core.WithStep(cfg.StepMeters),
			core.WithMetricsRecorder(collector),
		),
	}
	if cfg.ArchivePath != "" {
		store, err := archive.Open(cfg.ArchivePath)
		if err != nil {
			return err
		}
		defer store.Close()
		svcOpts = append(svcOpts, api.WithArchive(store))
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			api.RequestIDUnaryServerInterceptor(log),
			api.TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			api.RequestIDStreamServerInterceptor(log),
			api.TracingStreamServerInterceptor(),
			collector.StreamServerInterceptor(),
		),
	)
	api.RegisterCoverageServiceServer(server, api.NewCoverageService(sites, provider, svcOpts...))

	metricsSrv := serveMetrics(cfg.MetricsAddress, collector, log)

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting coverage gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		serveErr <- server.Serve(lis)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down coverage server")
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func serveMetrics(addr string, collector *observability.CoverageCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func loadSites(ctx context.Context, log logging.Logger, sites *kb.KnowledgeBase, path string) error {
	if path == "" {
		return nil
	}
	loaded, err := config.LoadSitesFile(path)
	if err != nil {
		return fmt.Errorf("load sites: %w", err)
	}
	for _, s := range loaded {
		if err := sites.AddSite(s); err != nil {
			return fmt.Errorf("register site %q: %w", s.ID, err)
		}
	}
	log.Info(ctx, "registered sites",
		logging.String("path", path),
		logging.Int("count", len(loaded)),
	)
	return nil
}
