package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"homecal/internal/amqp"
	"homecal/internal/cli"
	apphttp "homecal/internal/http"
	applog "homecal/internal/log"
	"homecal/internal/metrics"
)

func main() {
	logger, cfg := cli.Bootstrap()

	m := metrics.New()
	cal, err := cli.OpenCalendar(context.Background(), logger, cfg, m)
	if err != nil {
		logger.Error("Failed to open calendar", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	sources, err := cli.Sources(cfg)
	if err != nil {
		logger.Error("Invalid ICS sources", "error", err)
		os.Exit(1)
	}
	proxies, err := cfg.ProxyPrefixes()
	if err != nil {
		logger.Error("Invalid trusted proxies", "error", err)
		os.Exit(1)
	}

	// The API works without a broker; only POST /api/imports needs one.
	var (
		publisher  apphttp.ImportPublisher
		amqpClient *amqp.Client
	)
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, import requests disabled", "error", err)
		} else {
			publisher = amqpClient
			logger.Info("AMQP publisher ready", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Options{
		Calendar:       cal.Service,
		Publisher:      publisher,
		Sources:        sources,
		Metrics:        m,
		Logger:         applog.New(applog.Config{Handler: logger.Handler(), Component: applog.ComponentHTTP}),
		Location:       cfg.Location(),
		WriteRateLimit: cfg.WriteRateLimit,
		TrustedProxies: proxies,
	})

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Error("AMQP close error", "error", err)
			}
		}
		if err := cal.Close(); err != nil {
			logger.Error("Calendar close error", "error", err)
		}
	})

	logger.Info("Starting homecal server", "port", cfg.Port, "backend", cfg.DataBackend, "sources", len(sources))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
