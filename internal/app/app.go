// Package app assembles the services shared by the api and worker binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"

	"github.com/freightlane/notify-api/internal/channel"
	"github.com/freightlane/notify-api/internal/config"
	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/internal/repository"
	"github.com/freightlane/notify-api/internal/repository/memory"
	"github.com/freightlane/notify-api/internal/repository/postgres"
	"github.com/freightlane/notify-api/internal/service/contact"
	"github.com/freightlane/notify-api/internal/service/notification"
	"github.com/freightlane/notify-api/internal/service/preference"
	"github.com/freightlane/notify-api/internal/service/template"
	"github.com/freightlane/notify-api/pkg/lock"
	"github.com/freightlane/notify-api/pkg/logger"
	"github.com/freightlane/notify-api/pkg/messaging"
	redisbroker "github.com/freightlane/notify-api/pkg/messaging/redis"
	"github.com/freightlane/notify-api/pkg/metrics"
	"github.com/freightlane/notify-api/pkg/worker"
)

// Infra holds the storage and bus connections. DB is nil on the memory driver.
type Infra struct {
	DB            *sqlx.DB
	Redis         *goredis.Client
	Broker        messaging.Broker
	Locker        lock.Locker
	Notifications repository.NotificationRepository
	Contacts      repository.ContactRepository
	Preferences   repository.PreferenceRepository
	Templates     repository.TemplateRepository
}

// Open connects storage and the bus. Without redis the bus is in-process and
// every lease is granted locally.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Infra, error) {
	infra := &Infra{}

	switch cfg.Database.Driver {
	case "memory":
		log.Warn("Using in-memory storage, data is lost on restart")
		infra.Notifications = memory.NewNotificationRepository()
		infra.Contacts = memory.NewContactRepository()
		infra.Preferences = memory.NewPreferenceRepository()
		infra.Templates = memory.NewTemplateRepository()
	default:
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err := postgres.Migrate(ctx, db, log); err != nil {
				db.Close()
				return nil, err
			}
		}
		base := postgres.NewBaseRepository(db)
		infra.DB = db
		infra.Notifications = postgres.NewNotificationRepository(base)
		infra.Contacts = postgres.NewContactRepository(base)
		infra.Preferences = postgres.NewPreferenceRepository(base)
		infra.Templates = postgres.NewTemplateRepository(base)
	}

	if cfg.Redis.Enabled {
		client, err := redisbroker.NewClient(redisbroker.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   3,
			RetryBackoff: 100 * time.Millisecond,
		})
		if err != nil {
			infra.Close()
			return nil, err
		}
		infra.Redis = client
		infra.Broker = redisbroker.NewRedisBroker(client, &log.With("broker").ZL)
		infra.Locker = lock.NewRedisLocker(client, "notify:lock:")
	} else {
		infra.Broker = messaging.NewMemoryBroker()
		infra.Locker = lock.Local{}
	}
	return infra, nil
}

func (i *Infra) Close() {
	if i.Broker != nil {
		i.Broker.Close()
	}
	if i.Redis != nil {
		i.Redis.Close()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}

// Services is the domain layer built over an Infra.
type Services struct {
	Preferences   preference.Service
	Templates     template.Service
	Contacts      contact.Service
	Notifications notification.Service
	Dispatcher    *channel.Dispatcher
}

// NewServices wires the domain services. live receives in-app pushes; the api
// passes its socket hub, the worker a bus publisher.
func NewServices(cfg *config.Config, infra *Infra, live channel.Broadcaster, log *logger.Logger, m *metrics.Metrics) (*Services, error) {
	prefs := preference.NewService(infra.Preferences, preference.Config{CacheTTL: cfg.Prefs.CacheTTL, Bus: infra.Broker}, log)
	templates := template.NewService(infra.Templates, log)

	dispatcher, err := NewDispatcher(cfg, templates, live, log, m)
	if err != nil {
		return nil, err
	}

	notifications := notification.NewService(
		infra.Notifications,
		infra.Contacts,
		prefs,
		templates,
		dispatcher,
		notification.Config{
			MaxWorkers:     cfg.Delivery.MaxWorkers,
			SchedulerBatch: cfg.Scheduler.BatchSize,
			RetryBatch:     cfg.Retry.BatchSize,
			ClaimTTL:       cfg.Worker.ClaimTTL,
		},
		log,
		m,
	)

	return &Services{
		Preferences:   prefs,
		Templates:     templates,
		Contacts:      contact.NewService(infra.Contacts, log),
		Notifications: notifications,
		Dispatcher:    dispatcher,
	}, nil
}

// NewDispatcher registers a backend for every enabled channel.
func NewDispatcher(cfg *config.Config, renderer channel.Renderer, live channel.Broadcaster, log *logger.Logger, m *metrics.Metrics) (*channel.Dispatcher, error) {
	d := channel.NewDispatcher(channel.Config{
		Enabled: map[model.Channel]bool{
			model.ChannelEmail: cfg.Channels.Email.Enabled,
			model.ChannelSMS:   cfg.Channels.SMS.Enabled,
			model.ChannelPush:  cfg.Channels.Push.Enabled,
			model.ChannelInApp: cfg.Channels.InApp.Enabled,
		},
		Timeout: cfg.Delivery.Timeout,
	}, renderer, log, m)

	guard := func(rps float64) channel.BackendOptions {
		return channel.BackendOptions{RateLimit: rps, Burst: int(rps) + 1, MaxFailures: 5, OpenTimeout: 30 * time.Second}
	}

	if cfg.Channels.Email.Enabled {
		mailer, err := newMailer(cfg.Email)
		if err != nil {
			return nil, err
		}
		d.Register(model.ChannelEmail, channel.NewEmailBackend(mailer), guard(cfg.Email.RateLimit))
	}
	if cfg.Channels.SMS.Enabled {
		sms, err := channel.NewSMSBackend(channel.SMSConfig{
			Endpoint: cfg.SMS.Endpoint,
			APIKey:   cfg.SMS.APIKey,
			From:     cfg.SMS.From,
		})
		if err != nil {
			return nil, fmt.Errorf("sms channel: %w", err)
		}
		d.Register(model.ChannelSMS, sms, guard(cfg.SMS.RateLimit))
	}
	if cfg.Channels.Push.Enabled {
		push, err := channel.NewPushBackend(channel.PushConfig{
			Endpoint:  cfg.Push.Endpoint,
			ServerKey: cfg.Push.ServerKey,
		})
		if err != nil {
			return nil, fmt.Errorf("push channel: %w", err)
		}
		d.Register(model.ChannelPush, push, guard(cfg.Push.RateLimit))
		d.RegisterTopic(push)
	}
	if cfg.Channels.InApp.Enabled {
		d.Register(model.ChannelInApp, channel.NewInAppBackend(live), channel.BackendOptions{})
	}
	return d, nil
}

func newMailer(cfg config.EmailConfig) (channel.Mailer, error) {
	if cfg.Provider == "postmark" {
		m, err := channel.NewPostmarkMailer(channel.PostmarkConfig{
			ServerToken:  cfg.ServerToken,
			AccountToken: cfg.AccountToken,
			From:         cfg.From,
		})
		if err != nil {
			return nil, fmt.Errorf("email channel: %w", err)
		}
		return m, nil
	}
	m, err := channel.NewSMTPMailer(channel.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.From,
	})
	if err != nil {
		return nil, fmt.Errorf("email channel: %w", err)
	}
	return m, nil
}

// Tasks returns the periodic delivery jobs: due scheduled sends, failed retries
// and retention cleanup.
func Tasks(cfg *config.Config, svc notification.Service) []*worker.Task {
	return []*worker.Task{
		{
			Name:       "scheduler",
			Interval:   cfg.Scheduler.PollInterval,
			RunOnStart: true,
			Run: func(ctx context.Context) (int, error) {
				stats, err := svc.ProcessDue(ctx)
				if err != nil {
					return 0, err
				}
				return stats.Processed, nil
			},
		},
		{
			Name:     "retry",
			Interval: cfg.Retry.Delay,
			Run: func(ctx context.Context) (int, error) {
				stats, err := svc.RetryFailed(ctx, cfg.Retry.Attempts, cfg.Retry.MaxAge())
				if err != nil {
					return 0, err
				}
				return stats.Processed, nil
			},
		},
		{
			Name:     "cleanup",
			Interval: cfg.Retention.Interval,
			Run: func(ctx context.Context) (int, error) {
				n, err := svc.CleanupOld(ctx, cfg.Retention.Days)
				return int(n), err
			},
		},
	}
}
