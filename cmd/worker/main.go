package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/notification-dispatch/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(ctx, "worker")
	if err != nil {
		log.Fatalf("worker initialization failed: %v", err)
	}
	defer rt.Close()

	logger := rt.Logger

	worker, err := rt.NewWorker()
	if err != nil {
		logger.Fatal("worker initialization failed", zap.Error(err))
	}
	scanner, err := rt.NewRetryScanner()
	if err != nil {
		logger.Fatal("retry scanner initialization failed", zap.Error(err))
	}

	logger.Info("notification-dispatch worker started",
		zap.Int("concurrency", rt.Config.WorkerConcurrency),
		zap.Int("max_retries", rt.Config.MaxRetries),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Start(gctx) })
	g.Go(func() error { return scanner.Start(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("worker stopped")
}
