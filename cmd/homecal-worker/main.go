package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"homecal/internal/amqp"
	"homecal/internal/cli"
	"homecal/internal/config"
	"homecal/internal/ics"
	"homecal/internal/metrics"
	"homecal/internal/services"
	"homecal/internal/worker"
)

func main() {
	logger, cfg := cli.Bootstrap()
	logger.Info("Starting homecal-worker")

	if cfg.DataBackend == config.BackendMemory {
		logger.Warn("Memory backend selected, imported events are lost on exit")
	}

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

	importer := services.NewImportService(cal.Backend, ics.NewFetcher(nil), services.ImportOptions{
		Location:          cfg.Location(),
		Window:            cfg.ImportWindow,
		DefaultCategoryID: cfg.ImportDefaultCategory,
	}, m, cal.Service.Invalidate)
	importWorker := worker.NewImportWorker(importer, sources, 0)

	// Initialize AMQP client for import requests (optional)
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided, running scheduled imports only")
	}

	// runCtx is cancelled first on shutdown so in-flight imports stop early.
	runCtx, stopRuns := context.WithCancel(context.Background())
	defer stopRuns()

	var scheduler *cron.Cron
	if cfg.ImportCron != "" {
		scheduler, err = importWorker.Schedule(runCtx, cfg.ImportCron)
		if err != nil {
			logger.Error("Failed to schedule imports", "error", err)
			os.Exit(1)
		}
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		logger.Info("Shutting down worker...")
		stopRuns()
		if scheduler != nil {
			select {
			case <-scheduler.Stop().Done():
			case <-shutdownCtx.Done():
				logger.Warn("Scheduled import still running at shutdown")
			}
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

	// Catch up on anything missed while the worker was down.
	logger.Info("Performing startup import", "sources", len(sources))
	if err := importWorker.RunAll(runCtx); err != nil {
		logger.Error("Startup import failed", "error", err)
	}

	if scheduler != nil {
		scheduler.Start()
		logger.Info("Scheduled imports", "schedule", cfg.ImportCron)
	}

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeImportRequests(runCtx, importWorker.HandleImportRequest)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", "error", err)
			}
		}()
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped")
}
