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
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/nalrelay/internal/config"
	"github.com/zsiec/nalrelay/internal/health"
	"github.com/zsiec/nalrelay/internal/ingest"
	"github.com/zsiec/nalrelay/internal/logger"
	"github.com/zsiec/nalrelay/internal/registry"
	"github.com/zsiec/nalrelay/internal/server"
	"github.com/zsiec/nalrelay/pkg/version"
)

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "configs/default.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithField("version", version.Version).Info("Starting nalrelay")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Relay stopped with error")
	}
	log.Info("Shutdown complete")
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient redis.UniversalClient
	if cfg.Registry.Backend == "redis" {
		redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:        cfg.Redis.Addresses,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.WithError(err).Error("Failed to close Redis connection")
			}
		}()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		log.Info("Connected to Redis")
	}

	reg, err := registry.New(cfg.Registry, redisClient, log)
	if err != nil {
		return err
	}
	defer reg.Close()

	var sinks []ingest.SinkFactory
	if cfg.Recorder.Enabled {
		sinks = append(sinks, ingest.RecorderFactory(cfg.Recorder.Dir))
		log.WithField("dir", cfg.Recorder.Dir).Info("Recording streams to MPEG-TS")
	}
	mgr := ingest.NewManager(cfg, reg, logger.FromLogrus(log), sinks...)

	healthMgr := health.NewManager(log)
	healthMgr.Register(health.NewIngestChecker(mgr))
	if redisClient != nil {
		healthMgr.Register(health.NewRedisChecker(redisClient))
	}
	if cfg.Recorder.Enabled {
		healthMgr.Register(health.NewRecorderChecker(cfg.Recorder.Dir))
	}

	srv := server.New(&cfg.Server, log, reg, mgr, healthMgr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mgr.Run(gctx, cfg.Receiver)
	})
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		healthMgr.StartPeriodicChecks(gctx, 30*time.Second)
		return nil
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics, log)
		})
	}

	<-gctx.Done()
	log.Info("Shutting down")
	return g.Wait()
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig, log *logrus.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	log.WithField("addr", srv.Addr).Info("Starting metrics server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
