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

	"lancast/internal/core/domain"
	"lancast/internal/core/services"
	controlhandlers "lancast/internal/handlers/control"
	"lancast/internal/infrastructure/capture"
	"lancast/internal/infrastructure/control"
	"lancast/internal/infrastructure/discovery"
	"lancast/internal/infrastructure/monitoring"
	"lancast/pkg/config"
	"lancast/pkg/logger"
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

	collector := monitoring.NewPrometheusCollector()

	disc := discovery.NewService(discovery.Config{
		Port:     cfg.Discovery.Port,
		Interval: cfg.Discovery.Interval,
		TTL:      cfg.Discovery.TTL,
	}, cfg.Device.Name, log)
	if err := disc.Start(); err != nil {
		log.Fatalw("discovery start failed", "error", err)
	}
	defer disc.Stop()
	disc.OnChange(func() {
		collector.RecordDevicesDiscovered(len(disc.Devices()))
	})

	settings := services.NewSettingsService(domain.Settings{
		Name:      cfg.Device.Name,
		Transport: cfg.Transport,
	}, disc, log)

	sessions := services.NewSessionService(disc, capture.NewSyntheticFactory(), collector, log)
	handler := controlhandlers.NewHandler(sessions, disc, capture.NewProvider(), settings, log)

	// The host talks to the engine over stdio; logs go to stderr so the
	// channel stays clean.
	stdio := control.NewChannel(control.NewStdioTransport(os.Stdin, os.Stdout), log)
	handler.Register(stdio)
	stdio.Start()
	handler.Announce(stdio)
	defer stdio.Close()

	var wsServer *control.WebSocketServer
	if cfg.Control.WebSocketAddress != "" {
		wsServer = control.NewWebSocketServer(cfg.Control.WebSocketAddress, func(ch *control.Channel) {
			handler.Register(ch)
			handler.Announce(ch)
		}, log)
		go func() {
			if err := wsServer.ListenAndServe(); err != nil {
				log.Errorw("control websocket server failed", "error", err)
			}
		}()
		defer wsServer.Shutdown()
	}

	var monitorSrv *http.Server
	if cfg.Monitoring.PrometheusEnabled {
		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status": "healthy",
				"state":  sessions.Status(),
				"uptime": time.Since(startTime).String(),
			})
		})
		monitorSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
			Handler: router,
		}
		go func() {
			log.Infow("metrics listening", "address", monitorSrv.Addr)
			if err := monitorSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("metrics server failed", "error", err)
			}
		}()
	}

	log.Infow("engine started", "device", cfg.Device.Name)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infow("shutting down", "signal", sig)

	sessions.CloseSender()
	sessions.CloseReceiver()

	if monitorSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		monitorSrv.Shutdown(shutdownCtx)
	}
}
