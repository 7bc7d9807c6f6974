// HTTP API наград и уровней
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/glkeru/loyalty/rewards/internal/api"
	config "github.com/glkeru/loyalty/rewards/internal/config"
	db "github.com/glkeru/loyalty/rewards/internal/db"
	notify "github.com/glkeru/loyalty/rewards/internal/external/notify"
	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	services "github.com/glkeru/loyalty/rewards/internal/services"
	otel "github.com/glkeru/loyalty/rewards/observability/otel"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	// log
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// config
	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	// tracing
	if cfg.OtelEndpoint != "" {
		shutdown, err := otel.InitTracer(ctx, cfg.OtelEndpoint, "rewards", logger)
		if err != nil {
			logger.Error("tracing is disabled", zap.Error(err))
		} else {
			defer shutdown()
		}
	}

	// database
	storage, closeStorage, err := db.NewStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("storage", zap.Error(err))
	}
	defer closeStorage()

	// cache
	cache, locker, closeCache, err := db.NewCache(cfg.Cache, logger)
	if err != nil {
		logger.Error("cache is disabled", zap.Error(err))
		cache, locker, closeCache = nil, nil, func() {}
	}
	defer closeCache()

	// push
	var notifier interf.Notifier
	if cfg.Polling.BaseURL != "" {
		n, err := notify.NewPollingNotifier(cfg.Polling.BaseURL, cfg.Polling.Authentication, cfg.Polling.Rate)
		if err != nil {
			logger.Error("notifications are disabled", zap.Error(err))
		} else {
			notifier = n
		}
	}

	// services
	serv := services.NewRewardService(logger, storage, cache, locker, notifier, services.Options{
		GrantPointBonus: cfg.Engine.GrantPointBonus,
		Workers:         cfg.Engine.Workers,
		NotifyTimeout:   cfg.Engine.NotifyTimeout,
		SearchLimit:     cfg.Engine.SearchLimit,
	})

	// api handlers
	h := api.NewHandler(serv, logger)
	h.Router().Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:      otelhttp.NewHandler(h, "rewards"),
		Addr:         ":" + cfg.Port,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	// health
	lis, err := net.Listen("tcp", "0.0.0.0:"+cfg.HealthPort)
	if err != nil {
		logger.Fatal("health listener", zap.Error(err))
	}
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("rewards", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC health server", zap.Error(err))
		}
	}()

	// shutdown
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	hs.Shutdown()
	grpcServer.GracefulStop()
	timeout, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer tcancel()
	err = srv.Shutdown(timeout)
	if err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
