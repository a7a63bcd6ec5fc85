package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lancast/internal/infrastructure/monitoring"
	"lancast/internal/infrastructure/relay"
	"lancast/internal/infrastructure/repositories"
	"lancast/pkg/config"
	"lancast/pkg/logger"
	"lancast/pkg/tracing"
)

func main() {
	startTime := time.Now()

	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "lancast-relay",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("tracing init failed", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tracerProvider.Shutdown(ctx)
	}()

	factory := repositories.NewRegistryFactory(cfg, log)
	defer factory.Close()

	collector := monitoring.NewPrometheusCollector()
	auth := relay.NewAuthenticator(cfg.Relay.AuthSecret)
	if auth == nil {
		log.Warn("relay auth disabled, any publisher is accepted")
	}

	server := relay.NewServer(relay.Config{
		Address:  cfg.Relay.Address,
		Instance: cfg.Relay.Instance,
		ClaimTTL: cfg.Relay.ClaimTTL,
	}, factory.CreateRelayRegistry(), auth, collector, log)

	if err := server.Listen(); err != nil {
		log.Fatalw("relay listen failed", "error", err)
	}

	serveCtx, stopServe := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Serve(serveCtx)
	}()

	checker := monitoring.NewHealthChecker()
	checker.AddCheck("relay", server.Healthy, 2*time.Second)
	if client := factory.RedisClient(); client != nil {
		checker.AddCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}, 2*time.Second)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.GET("/health", func(c *gin.Context) {
		status := checker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status.Status,
			"timestamp": status.Timestamp,
			"uptime":    time.Since(startTime).String(),
			"checks":    status.Checks,
		})
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	monitorSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
		Handler: router,
	}
	go func() {
		if err := monitorSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("monitoring server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("relay server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("shutting down", "signal", sig)
	}

	stopServe()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer cancel()
	monitorSrv.Shutdown(shutdownCtx)

	select {
	case <-serverErr:
	case <-shutdownCtx.Done():
		log.Warn("relay connections did not drain before timeout")
	}
}
