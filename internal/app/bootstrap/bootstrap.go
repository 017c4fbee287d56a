// Package bootstrap wires configuration into a running scheduling service.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	"github.com/hackgods/clinic-scheduling/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/internal/timeslot"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

// Runtime holds the long lived pieces a binary needs. Pool, Redis and their
// derived components are nil when the matching backend is disabled.
type Runtime struct {
	Service     *scheduling.Service
	Memory      *scheduling.MemoryStore
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Bus         *redisclient.QueueBus
	Idempotency *redisclient.IdempotencyStore
	Registry    *prometheus.Registry
}

// Close releases the database pool and Redis client.
func (r *Runtime) Close(logger *logging.Logger) {
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			logger.Warn("error closing redis", "error", err)
		}
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
}

// Build connects the configured store and Redis and returns the service.
// A Redis outage at startup is not fatal; the service then relies on the
// database locks alone.
func Build(ctx context.Context, cfg config.Config, logger *logging.Logger) (*Runtime, error) {
	rt := &Runtime{}

	var store scheduling.Store
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		rt.Pool = pool
		store = scheduling.NewPgStore(pool)
		logger.Info("connected to postgres")
	default:
		rt.Memory = scheduling.NewMemoryStore()
		store = rt.Memory
		logger.Warn("using in-memory store, data is lost on restart")
	}

	var locker scheduling.DoctorLocker = redisclient.NopLocker{}
	var events scheduling.QueueEvents
	if cfg.RedisEnabled {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.ClientOptions{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			logger.Warn("redis not available, continuing without it", "error", err)
		} else {
			rt.Redis = rdb
			rt.Bus = redisclient.NewQueueBus(rdb)
			rt.Idempotency = redisclient.NewIdempotencyStore(rdb, cfg.IdempotencyTTL, cfg.PendingTTL)
			locker = redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL, logger.Component("doctor-lock"))
			events = rt.Bus
			logger.Info("connected to redis", "addr", cfg.RedisAddr)
		}
	}

	var m *metrics.SchedulingMetrics
	if cfg.MetricsEnabled {
		rt.Registry = prometheus.NewRegistry()
		rt.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.NewSchedulingMetrics(rt.Registry)
	}

	sender, err := BuildEmailSender(ctx, cfg, logger)
	if err != nil {
		rt.Close(logger)
		return nil, err
	}

	validator := timeslot.NewValidator(cfg.ClinicLocation)
	validator.OpenHour = cfg.ClinicOpenHour
	validator.MinDuration = cfg.SlotMinDuration
	validator.MaxDuration = cfg.SlotMaxDuration

	rt.Service = scheduling.NewService(store, scheduling.Deps{
		Validator: validator,
		Notifier:  notify.NewDispatcher(sender, logger.Component("notify")),
		Locker:    locker,
		Events:    events,
		Metrics:   m,
		Logger:    logger,
	})
	return rt, nil
}

// BuildEmailSender picks the configured provider. SendGrid without an API
// key falls back to the stub so local runs never fail on email.
func BuildEmailSender(ctx context.Context, cfg config.Config, logger *logging.Logger) (notify.EmailSender, error) {
	switch cfg.EmailProvider {
	case "sendgrid":
		s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
		if s != nil {
			return s, nil
		}
		logger.Warn("SENDGRID_API_KEY not set, using stub email sender")
	case "ses":
		s, err := notify.NewSESSenderFromEnv(ctx, notify.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("ses sender: %w", err)
		}
		return s, nil
	case "stub", "":
	default:
		return nil, fmt.Errorf("unknown EMAIL_PROVIDER %q", cfg.EmailProvider)
	}
	return notify.NewStubEmailSender(logger), nil
}
