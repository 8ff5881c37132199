// Package app 按配置组装存储、锁、引擎和覆盖服务，供 server 与 worker 共用
package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/paiban/carecover/internal/config"
	"github.com/paiban/carecover/internal/database"
	"github.com/paiban/carecover/internal/handler"
	"github.com/paiban/carecover/internal/jobs"
	"github.com/paiban/carecover/internal/lock"
	"github.com/paiban/carecover/internal/metrics"
	"github.com/paiban/carecover/internal/repository"
	"github.com/paiban/carecover/internal/service"
	"github.com/paiban/carecover/pkg/dispatcher"
	"github.com/paiban/carecover/pkg/report"
	"github.com/paiban/carecover/pkg/stats"
)

// App 进程内共享的依赖
type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	Metrics  *metrics.Metrics
	DB       *database.DB  // memory 驱动时为 nil
	Redis    *redis.Client // 未使用 Redis 时为 nil
	Queue    *asynq.Client // 未启用任务队列时为 nil
	Enqueuer *jobs.Enqueuer
	Service  *service.CoverageService

	closers []func() error
}

// New 组装依赖，失败时释放已创建的连接
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.Engine.LockBackend == "redis" || cfg.Queue.Enabled {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		a.closers = append(a.closers, a.Redis.Close)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("连接Redis失败: %w", err)
		}
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Engine.LockBackend == "redis" {
		locker = lock.NewRedisLocker(a.Redis, cfg.Engine.LockTTL, log)
	}

	var enqueuer service.Enqueuer
	if cfg.Queue.Enabled {
		a.Queue = asynq.NewClient(a.RedisOpt())
		a.closers = append(a.closers, a.Queue.Close)
		inspector := asynq.NewInspector(a.RedisOpt())
		a.closers = append(a.closers, inspector.Close)
		a.Enqueuer = jobs.NewEnqueuer(a.Queue, inspector, cfg.Queue, log)
		enqueuer = a.Enqueuer
	}

	engine := dispatcher.NewEngine(cfg.DispatcherConfig(), log)
	aggregator := stats.NewCoverageAggregator(cfg.Engine.Alert)
	a.Service = service.New(service.Deps{
		Store:        store,
		Locker:       locker,
		Engine:       engine,
		Aggregator:   aggregator,
		Reporter:     report.NewReporter(cfg.Report, engine, aggregator),
		Metrics:      a.Metrics,
		Enqueuer:     enqueuer,
		Logger:       log,
		LockTimeout:  cfg.Engine.LockTTL,
		MaxRangeDays: cfg.Engine.MaxRangeDays,
		ReadTimeout:  cfg.Engine.BatchTimeout,
	})

	log.Info().
		Str("database", cfg.Database.Driver).
		Str("lock", cfg.Engine.LockBackend).
		Bool("queue", cfg.Queue.Enabled).
		Msg("依赖组装完成")
	return a, nil
}

func (a *App) openStore(ctx context.Context) (repository.Store, error) {
	if a.Config.Database.Driver != "postgres" {
		return repository.NewMemoryStore(), nil
	}

	db, err := database.New(&a.Config.Database, a.Log)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	if err := database.Migrate(ctx, db.DB); err != nil {
		return nil, err
	}
	return repository.NewPostgresStore(db), nil
}

// RedisOpt asynq 使用的 Redis 连接参数
func (a *App) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.Redis.Addr(),
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
		PoolSize: a.Config.Redis.PoolSize,
	}
}

// HealthChecks 已启用依赖的健康检查
func (a *App) HealthChecks() map[string]handler.HealthCheck {
	checks := make(map[string]handler.HealthCheck)
	if a.DB != nil {
		checks["database"] = a.DB.Health
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}
	}
	return checks
}

// Close 按创建的逆序释放连接
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn().Err(err).Msg("释放连接失败")
		}
	}
	a.closers = nil
}
