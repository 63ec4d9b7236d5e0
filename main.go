// main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	grpclogging "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/akhenakh/heightmap/geotiff"
	"github.com/akhenakh/heightmap/internal/logging"
)

const appName = "heightmap-service"

var (
	grpcAPIServer     *grpc.Server
	grpcHealthServer  *grpc.Server
	httpMetricsServer *http.Server
	httpRestServer    *http.Server
	grpcMetrics       = grpcprom.NewServerMetrics(grpcprom.WithServerHandlingTimeHistogram(
		grpcprom.WithHistogramBuckets([]float64{0.001, 0.01, 0.1, 0.3, 0.6, 1, 3, 6, 9}),
	))
)

// Config holds all configuration for the application, loaded from environment variables.
type Config struct {
	LogLevel        string `env:"LOG_LEVEL" envDefault:"INFO"`
	HTTPPort        int    `env:"HTTP_PORT" envDefault:"8080"`
	APIPort         int    `env:"API_PORT" envDefault:"9200"`
	HealthPort      int    `env:"HEALTH_PORT" envDefault:"6666"`
	HTTPMetricsPort int    `env:"METRICS_PORT" envDefault:"8888"`

	// RasterSource is a local path, an http(s) URL or a gocloud blob URL
	// (s3://bucket/key.tif, gs://bucket/key.tif, file:///dir/key.tif).
	RasterSource string `env:"RASTER_SOURCE,required"`
	// RasterMode is eager (decode every tile at startup) or lazy (decode on
	// demand through the tile cache).
	RasterMode        string        `env:"RASTER_MODE" envDefault:"lazy"`
	DecodeWorkers     int           `env:"DECODE_WORKERS" envDefault:"0"`
	CacheMaxSize      int64         `env:"CACHE_MAX_SIZE" envDefault:"1024"`
	CacheItemsToPrune uint32        `env:"CACHE_ITEMS_TO_PRUNE" envDefault:"100"`
	CacheTTL          time.Duration `env:"CACHE_TTL" envDefault:"10m"`
	CachePrefetch     bool          `env:"CACHE_PREFETCH" envDefault:"true"`

	// HeightmapExtent is the tile matrix extent as minE,minN,maxE,maxN.
	// Empty means the raster bounds.
	HeightmapExtent     []float64     `env:"HEIGHTMAP_EXTENT" envSeparator:","`
	HeightmapMaxZoom    int           `env:"HEIGHTMAP_MAX_ZOOM" envDefault:"12"`
	HeightmapProjection string        `env:"HEIGHTMAP_PROJECTION" envDefault:"EPSG:3067"`
	HeightmapCacheMB    int           `env:"HEIGHTMAP_CACHE_MB" envDefault:"256"`
	HeightmapCacheTTL   time.Duration `env:"HEIGHTMAP_CACHE_TTL" envDefault:"1h"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		fmt.Printf("failed to parse config: %+v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, appName)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	metrics := NewMetrics(prometheus.DefaultRegisterer)

	raster, err := openRaster(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to initialize raster, shutting down", "error", err)
		os.Exit(1)
	}
	defer raster.Close()

	tiles, err := newTileService(cfg, raster.sampler, logger)
	if err != nil {
		logger.Error("failed to initialize heightmap tiles, shutting down", "error", err)
		os.Exit(1)
	}
	defer tiles.Close()

	g, ctx := errgroup.WithContext(ctx)

	healthServer := health.NewServer()

	// gRPC Health Server
	g.Go(func() error {
		return startHealthServer(logger, cfg, healthServer)
	})

	// HTTP Metrics Server (Prometheus)
	g.Go(func() error {
		return startMetricsServer(logger, cfg)
	})

	// gRPC API Server
	g.Go(func() error {
		return startGRPCAPIServer(logger, cfg, healthServer, raster.sampler, metrics)
	})

	// HTTP REST Server
	g.Go(func() error {
		return startHTTPRestServer(logger, cfg, raster.sampler, tiles, metrics)
	})

	// Wait for termination signal or an error from one of the services
	select {
	case <-interrupt:
		slog.Warn("received termination signal, starting graceful shutdown")
		cancel()
	case <-ctx.Done():
		slog.Warn("context cancelled, starting graceful shutdown")
	}

	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if httpMetricsServer != nil {
		if err := httpMetricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP metrics server shutdown error", "error", err)
		}
	}
	if httpRestServer != nil {
		if err := httpRestServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP REST server shutdown error", "error", err)
		}
	}
	if grpcHealthServer != nil {
		grpcHealthServer.GracefulStop()
	}
	if grpcAPIServer != nil {
		grpcAPIServer.GracefulStop()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server group returned an error", "error", err)
		os.Exit(2)
	}
}

func startHealthServer(logger *slog.Logger, cfg Config, healthServer *health.Server) error {
	addr := fmt.Sprintf(":%d", cfg.HealthPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gRPC Health server failed to listen: %w", err)
	}

	grpcHealthServer = grpc.NewServer()
	healthpb.RegisterHealthServer(grpcHealthServer, healthServer)
	logger.Info("gRPC health server listening", "address", addr)
	return grpcHealthServer.Serve(lis)
}

func startMetricsServer(logger *slog.Logger, cfg Config) error {
	addr := fmt.Sprintf(":%d", cfg.HTTPMetricsPort)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	prometheus.MustRegister(grpcMetrics)

	httpMetricsServer = &http.Server{Addr: addr, Handler: mux}
	logger.Info("HTTP metrics server listening", "address", addr)

	if err := httpMetricsServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP metrics server failed: %w", err)
	}
	return nil
}

func startGRPCAPIServer(logger *slog.Logger, cfg Config, healthServer *health.Server, sampler *geotiff.Sampler, metrics *Metrics) error {
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gRPC API server failed to listen: %w", err)
	}

	lopts := []grpclogging.Option{grpclogging.WithLogOnEvents(grpclogging.StartCall, grpclogging.FinishCall)}
	grpcAPIServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpclogging.UnaryServerInterceptor(
				logging.InterceptorLogger(logger),
				lopts...),
			grpcMetrics.UnaryServerInterceptor(),
		),
	)

	RegisterElevationServer(grpcAPIServer, &Server{sampler: sampler, metrics: metrics})
	reflection.Register(grpcAPIServer)
	grpcMetrics.InitializeMetrics(grpcAPIServer)

	healthServer.SetServingStatus(ElevationServiceName, healthpb.HealthCheckResponse_SERVING)
	logger.Info("gRPC API server listening", "address", addr)
	return grpcAPIServer.Serve(lis)
}

func startHTTPRestServer(logger *slog.Logger, cfg Config, sampler *geotiff.Sampler, tiles *tileService, metrics *Metrics) error {
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)

	httpRestServer = &http.Server{
		Addr:              addr,
		Handler:           newRouter(logger, cfg, sampler, tiles, metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("HTTP REST server listening", "address", addr)

	if err := httpRestServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP REST server failed: %w", err)
	}
	return nil
}
