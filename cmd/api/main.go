package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kursadbilgin/notification-dispatch/internal/app"
	"github.com/kursadbilgin/notification-dispatch/internal/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(ctx, "api")
	if err != nil {
		log.Fatalf("api initialization failed: %v", err)
	}
	defer rt.Close()

	logger := rt.Logger

	httpApp, err := app.NewHTTPApp(rt.Services.Notifications, rt.Metrics, rt.SQLDB(), rt.Redis, logger)
	if err != nil {
		logger.Fatal("http app initialization failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	// The memory table store is process-local, so the worker and retry scanner
	// run next to the API instead of in cmd/worker.
	if rt.Config.TableStoreDriver == config.TableStoreMemory {
		worker, err := rt.NewWorker()
		if err != nil {
			logger.Fatal("worker initialization failed", zap.Error(err))
		}
		scanner, err := rt.NewRetryScanner()
		if err != nil {
			logger.Fatal("retry scanner initialization failed", zap.Error(err))
		}
		g.Go(func() error { return worker.Start(gctx) })
		g.Go(func() error { return scanner.Start(gctx) })
	}

	g.Go(func() error {
		addr := app.ListenAddr(rt.Config)
		logger.Info("notification-dispatch api started", zap.String("addr", addr))
		return httpApp.Listen(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down api")
		return httpApp.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("api stopped with error", zap.Error(err))
	}
}
