// cmd/server/main.go
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/app"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/controller"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/handler"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/scheduler"
	"github.com/unclebandit/campaign-dispatch/internal/worker"
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
	log := logger.Named("server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalw("open database", "error", err)
	}
	defer sqlDB.Close()
	if err := db.Migrate(ctx, sqlDB); err != nil {
		log.Fatalw("migrate", "error", err)
	}

	a, err := app.New(ctx, cfg, sqlDB)
	if err != nil {
		log.Fatalw("wire application", "error", err)
	}
	defer a.Close()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(a.Campaigns, a.Service, logger.Named("scheduler"),
			scheduler.WithPollInterval(cfg.Scheduler.PollInterval()))
		if err := sched.Start(ctx); err != nil {
			log.Fatalw("start scheduler", "error", err)
		}
	}

	// The in-memory queue lives in this process, so the workers must too.
	var pool *worker.Pool
	if cfg.Queue.Backend != "postgres" {
		pool = a.NewPool(app.NewSender(cfg.Gateway, logger.Named("sender")))
		pool.Start(ctx)
	}

	router := controller.NewRouter(
		&controller.CampaignController{CampaignService: a.Service},
		&handler.CampaignHandler{Service: a.Service, Progress: a.Progress, Ping: sqlDB.PingContext},
		cfg.Server.AllowedOrigins,
		logger.Named("http"),
	)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("server listening", "addr", cfg.Server.Addr, "queue", cfg.Queue.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("http server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown", "error", err)
	}
	if sched != nil {
		sched.Stop()
	}
	if pool != nil {
		pool.Stop()
	}
}
