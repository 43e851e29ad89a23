// Package app wires configuration, storage, locking, notifications and the
// domain services into a running Agora core.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/agora/internal/archive"
	"github.com/prn-tf/agora/internal/config"
	"github.com/prn-tf/agora/internal/dispatch"
	"github.com/prn-tf/agora/internal/handler"
	"github.com/prn-tf/agora/internal/lock"
	"github.com/prn-tf/agora/internal/metrics"
	"github.com/prn-tf/agora/internal/notify"
	"github.com/prn-tf/agora/internal/pkg/crypto"
	"github.com/prn-tf/agora/internal/repository"
	"github.com/prn-tf/agora/internal/repository/memory"
	"github.com/prn-tf/agora/internal/repository/postgres"
	"github.com/prn-tf/agora/internal/repository/sqlite"
	"github.com/prn-tf/agora/internal/service"
)

// App is a fully wired core.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Repos      *repository.Repositories
	Database   repository.DatabaseHealth
	Redis      redis.UniversalClient
	Locker     lock.Locker
	Publisher  *notify.Publisher
	Services   service.Services
	Dispatcher *dispatch.Dispatcher
	Sweeper    *service.Sweeper

	closers []func() error
}

// NewFactory returns a repository factory with every built-in driver registered.
func NewFactory(cfg config.DatabaseConfig, logger zerolog.Logger) *repository.Factory {
	f := repository.NewFactory(cfg, logger)
	f.Register(config.DriverMemory, memory.Open)
	f.Register(config.DriverSQLite, sqlite.Open)
	f.Register(config.DriverPostgres, postgres.Open)
	return f
}

// New builds an App from cfg. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *App, err error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New(a.Registry)
	}

	result, err := NewFactory(cfg.Database, logger).Create(ctx)
	if err != nil {
		return nil, err
	}
	a.Repos = result.Repos
	a.Database = result.Database
	a.closers = append(a.closers, result.Database.Close)

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr(),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Redis = client
		logger.Info().Str("addr", cfg.Redis.Addr()).Msg("connected to Redis")
	}

	a.Locker = a.newLocker()

	a.Publisher = notify.NewPublisher(a.newSink(), cfg.Notify.Timeout, a.Metrics, logger)
	a.closers = append(a.closers, func() error { a.Publisher.Wait(); return nil })

	archiver, err := a.newArchiver(ctx)
	if err != nil {
		return nil, err
	}

	hasher, err := crypto.NewCodeHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to create code hasher: %w", err)
	}

	rt := service.Runtime{
		Locker: a.Locker,
		LockOpts: lock.Options{
			TTL:        cfg.Lock.TTL,
			MaxRetries: cfg.Lock.MaxRetries,
			RetryDelay: cfg.Lock.RetryDelay,
		},
		ConflictRetries: cfg.Dispatch.ConflictRetries,
		Notifier:        a.Publisher,
		Metrics:         a.Metrics,
	}

	policy := service.AuthPolicy{
		Lockout: domainLockout(cfg.Auth),
		OTPTTL:  cfg.Auth.OTPTTL, OTPLength: cfg.Auth.OTPLength, OTPMaxAttempts: cfg.Auth.OTPMaxAttempts,
		SuspensionDuration: cfg.Auth.SuspensionDuration,
	}

	memberships := service.NewMembershipService(a.Repos.Groups, a.Repos.Memberships, rt, logger)
	accounts := service.NewAuthService(a.Repos.Accounts, hasher, policy, rt, logger)
	a.Services = service.Services{
		Votes:         service.NewVoteService(a.Repos.Targets, rt, logger),
		Memberships:   memberships,
		Moderation:    service.NewModerationService(a.Repos.Reports, service.NewStateSanctioner(memberships, accounts), archiver, rt, logger),
		Conversations: service.NewConversationService(a.Repos.Conversations, a.Repos.Messages, rt, logger),
		Auth:          accounts,
	}

	a.Dispatcher = dispatch.New(a.Metrics, logger)
	if err := service.Register(a.Dispatcher, a.Services); err != nil {
		return nil, fmt.Errorf("failed to register handlers: %w", err)
	}
	a.Dispatcher.Seal()

	a.Sweeper = service.NewSweeper(a.Repos.Accounts, a.Locker, a.Metrics, logger, service.SweeperConfig{
		Interval:  cfg.Sweeper.Interval,
		Retention: cfg.Sweeper.Retention,
		BatchSize: cfg.Sweeper.BatchSize,
	})

	logger.Info().
		Str("database", cfg.Database.Driver).
		Str("lock", cfg.Lock.Backend).
		Str("notify", cfg.Notify.Sink).
		Bool("archive", cfg.Archive.Enabled).
		Int("kinds", len(a.Dispatcher.Kinds())).
		Msg("core initialized")

	return a, nil
}

func (a *App) newLocker() lock.Locker {
	switch a.Config.Lock.Backend {
	case "redis":
		return lock.NewRedisLocker(a.Redis)
	case "noop":
		a.Logger.Warn().Msg("per-key locking disabled; relying on optimistic versions only")
		return lock.NewNoOpLocker()
	default:
		l := lock.NewMemoryLocker()
		a.closers = append(a.closers, l.Close)
		return l
	}
}

func (a *App) newSink() notify.Sink {
	logSink := notify.NewLogSink(a.Logger)
	if a.Config.Notify.Sink == "redis" {
		return notify.MultiSink{logSink, notify.NewRedisSink(a.Redis, a.Config.Notify.Channel)}
	}
	return logSink
}

func (a *App) newArchiver(ctx context.Context) (archive.Archiver, error) {
	cfg := a.Config.Archive
	if !cfg.Enabled {
		return archive.Noop{}, nil
	}

	client, err := archive.NewS3Client(ctx, archive.S3Config{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		Prefix:          cfg.Prefix,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		UsePathStyle:    cfg.UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive client: %w", err)
	}

	a.Logger.Info().Str("bucket", cfg.Bucket).Str("prefix", cfg.Prefix).Msg("report archive enabled")
	return archive.NewS3Archiver(client, cfg.Bucket, cfg.Prefix), nil
}

// Handler returns the operational HTTP handler.
func (a *App) Handler(version string) http.Handler {
	checks := map[string]handler.Checker{"database": a.Database}
	if a.Redis != nil {
		checks["redis"] = handler.CheckFunc(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		})
	}

	return handler.NewRouter(handler.RouterConfig{
		Checks:      checks,
		Metrics:     a.Registry,
		MetricsPath: a.Config.Metrics.Path,
		Kinds:       a.Dispatcher.Kinds,
		Version:     version,
		Logger:      a.Logger,
	}).Handler()
}

// Start launches background work.
func (a *App) Start() {
	if a.Config.Sweeper.Enabled {
		a.Sweeper.Start()
	}
}

// Close stops background work, drains notifications and releases connections
// in reverse order of acquisition.
func (a *App) Close() error {
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
