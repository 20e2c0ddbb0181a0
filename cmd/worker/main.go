// cmd/worker/main.go runs dispatch workers against the shared Postgres queue.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/campaign-dispatch/internal/app"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Logger.Fatalw("load config", "error", err)
	}
	if err := logger.Initialize(cfg.Log.JSON, cfg.Log.Level); err != nil {
		logger.Logger.Fatalw("init logger", "error", err)
	}
	defer logger.Sync()
	log := logger.Named("worker")

	if cfg.Queue.Backend != "postgres" {
		log.Fatalw("standalone workers need the postgres queue backend", "backend", cfg.Queue.Backend)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalw("open database", "error", err)
	}
	defer sqlDB.Close()

	a, err := app.New(ctx, cfg, sqlDB)
	if err != nil {
		log.Fatalw("wire application", "error", err)
	}
	defer a.Close()

	pool := a.NewPool(app.NewSender(cfg.Gateway, logger.Named("sender")))
	pool.Start(ctx)

	<-ctx.Done()
	log.Info("shutting down, waiting for in-flight sends")
	pool.Stop()
}
