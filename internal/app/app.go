// Package app builds the shared object graph used by the server, the worker
// and campaignctl from one Config.
package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/events"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/pacing"
	"github.com/unclebandit/campaign-dispatch/internal/progress"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/sender"
	"github.com/unclebandit/campaign-dispatch/internal/service"
	"github.com/unclebandit/campaign-dispatch/internal/worker"
)

type App struct {
	Config    *config.Config
	DB        *sql.DB
	Campaigns *repository.CampaignRepository
	Queue     queue.Queue
	Pacing    *pacing.Controller
	Events    events.Sink
	Service   *service.CampaignService
	Progress  *progress.Reporter

	closers []func() error
}

// New wires every component on top of an open database.
func New(ctx context.Context, cfg *config.Config, db *sql.DB) (*App, error) {
	a := &App{Config: cfg, DB: db}

	a.Campaigns = &repository.CampaignRepository{DB: db}

	switch cfg.Queue.Backend {
	case "postgres":
		a.Queue = queue.NewPostgresQueue(db, queue.WithVisibilityTimeout(cfg.Queue.VisibilityTimeout()))
	case "memory", "":
		a.Queue = queue.NewInMemoryQueue(queue.WithVisibilityTimeout(cfg.Queue.VisibilityTimeout()))
	default:
		return nil, appErrors.NewConfigError("queue.backend", "unknown backend %q", cfg.Queue.Backend)
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, appErrors.NewConfigError("redis.url", "%v", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, appErrors.Wrap(err, "ping redis")
		}
		a.closers = append(a.closers, client.Close)
		a.Pacing = pacing.NewController(pacing.NewRedisStore(client), pacing.NewRedisLocker(client))
	} else {
		a.Pacing = pacing.NewController(pacing.NewMemoryStore(), pacing.NewMemoryLocker())
	}

	sinks := events.Multi{events.LogSink{Log: logger.Named("events")}}
	if cfg.AMQP.URL != "" {
		amqpSink, err := events.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			a.Close()
			return nil, appErrors.Wrap(err, "connect amqp")
		}
		a.closers = append(a.closers, amqpSink.Close)
		sinks = append(sinks, amqpSink)
	}
	a.Events = sinks

	a.Service = &service.CampaignService{
		CampaignRepo: a.Campaigns,
		Recipients:   &repository.RecipientRepository{DB: db},
		Queue:        a.Queue,
		Pacing:       a.Pacing,
		Events:       a.Events,
		Log:          logger.Named("service"),
	}
	a.Progress = progress.NewReporter(a.Campaigns, a.Queue,
		progress.WithSamples(cfg.Progress.SampleSize, cfg.Progress.MinSamples))
	return a, nil
}

// NewSender picks the gateway client, or the dry-run sender when no gateway
// is configured, behind the global rate limit.
func NewSender(cfg config.GatewayConfig, log *zap.SugaredLogger) sender.Sender {
	var s sender.Sender
	if cfg.URL == "" || cfg.DryRun {
		log.Warn("no gateway configured, messages are logged only")
		s = sender.NewDryRun(log, 0, time.Now().UnixNano())
	} else {
		s = sender.NewGateway(cfg.URL, cfg.Token, cfg.Timeout())
	}
	return sender.NewRateLimited(s, cfg.RatePerSecond, cfg.Burst)
}

// NewPool builds the worker pool and its lease reaper.
func (a *App) NewPool(s sender.Sender) *worker.Pool {
	wc := a.Config.Worker
	w := worker.Worker{
		Queue:     a.Queue,
		Campaigns: a.Campaigns,
		Pacing:    a.Pacing,
		Sender:    s,
		Lifecycle: a.Service,
		Config: worker.Config{
			MaxAttempts:  wc.MaxAttempts,
			BackoffBase:  wc.BackoffBase(),
			BackoffMax:   wc.BackoffMax(),
			SendTimeout:  wc.SendTimeout(),
			LockRetry:    wc.LockRetry(),
			PollInterval: wc.PollInterval(),
			PollMax:      wc.PollMax(),
		},
	}
	reaper := queue.NewReaper(a.Queue, a.Config.Queue.ReapInterval(), logger.Named("queue"))
	return worker.NewPool(w, wc.Count, reaper, logger.Named("worker"))
}

// Close releases connections opened by New. The database stays open.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
