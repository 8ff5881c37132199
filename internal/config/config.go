// Package config 提供配置管理
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/paiban/carecover/pkg/dispatcher"
	"github.com/paiban/carecover/pkg/report"
	"github.com/paiban/carecover/pkg/stats"
)

// Config 应用配置
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	API      APIConfig      `mapstructure:"api"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Report   report.Config  `mapstructure:"report"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name      string `mapstructure:"name"`
	Env       string `mapstructure:"env"`
	Port      int    `mapstructure:"port"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// DatabaseConfig 数据库配置，Driver 为 memory 时不连接数据库
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN 返回数据库连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr 返回Redis地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// APIConfig API配置
type APIConfig struct {
	RateLimit int           `mapstructure:"rate_limit"` // 每个调用方每秒请求数
	Burst     int           `mapstructure:"burst"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// EngineConfig 覆盖引擎配置
type EngineConfig struct {
	Alert                stats.AlertPolicy `mapstructure:"alert"`
	BatchTimeout         time.Duration     `mapstructure:"batch_timeout"`
	AutoResolveThreshold float64           `mapstructure:"auto_resolve_threshold"`
	BatchLookbackDays    int               `mapstructure:"batch_lookback_days"`
	GapLookbackDays      int               `mapstructure:"gap_lookback_days"`
	MaxRangeDays         int               `mapstructure:"max_range_days"` // 单次查询或批处理的最大天数
	LockBackend          string            `mapstructure:"lock_backend"` // memory | redis
	LockTTL              time.Duration     `mapstructure:"lock_ttl"`
}

// QueueConfig 后台任务配置
type QueueConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Concurrency int    `mapstructure:"concurrency"`
	Queue       string `mapstructure:"queue"`
	MaxRetry    int    `mapstructure:"max_retry"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "carecover")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 7012)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "carecover")
	v.SetDefault("database.user", "carecover")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("api.rate_limit", 20)
	v.SetDefault("api.burst", 40)
	v.SetDefault("api.timeout", 30*time.Second)

	alert := stats.DefaultAlertPolicy()
	engine := dispatcher.DefaultConfig()
	v.SetDefault("engine.alert.critical_below", alert.CriticalBelow)
	v.SetDefault("engine.alert.high_below", alert.HighBelow)
	v.SetDefault("engine.alert.medium_below", alert.MediumBelow)
	v.SetDefault("engine.alert.recommendation_limit", alert.RecommendationLimit)
	v.SetDefault("engine.batch_timeout", engine.BatchTimeout)
	v.SetDefault("engine.auto_resolve_threshold", engine.AutoResolveThreshold)
	v.SetDefault("engine.batch_lookback_days", engine.Scoring.BatchLookbackDays)
	v.SetDefault("engine.gap_lookback_days", engine.Scoring.GapLookbackDays)
	v.SetDefault("engine.max_range_days", 366)
	v.SetDefault("engine.lock_backend", "memory")
	v.SetDefault("engine.lock_ttl", 10*time.Second)

	rep := report.DefaultConfig()
	v.SetDefault("report.workers", rep.Workers)
	v.SetDefault("report.timeout", rep.Timeout)
	v.SetDefault("report.top_gaps", rep.TopGaps)
	v.SetDefault("report.top_options", rep.TopOptions)

	v.SetDefault("queue.enabled", false)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queue", "coverage")
	v.SetDefault("queue.max_retry", 5)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load 按 默认值 < config.yaml < 环境变量 的顺序加载配置
// 环境变量名为键路径大写并以下划线连接，例如 ENGINE_ALERT_CRITICAL_BELOW
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	a := c.Engine.Alert
	if !(a.CriticalBelow <= a.HighBelow && a.HighBelow <= a.MediumBelow) {
		return fmt.Errorf("告警阈值必须满足 critical <= high <= medium: %.2f/%.2f/%.2f",
			a.CriticalBelow, a.HighBelow, a.MediumBelow)
	}
	if a.CriticalBelow < 0 || a.MediumBelow > 1 {
		return fmt.Errorf("告警阈值必须在 [0,1] 内")
	}
	if c.Engine.MaxRangeDays <= 0 {
		return fmt.Errorf("日期范围上限必须为正数: %d", c.Engine.MaxRangeDays)
	}
	switch c.Database.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("不支持的数据库驱动: %s", c.Database.Driver)
	}
	switch c.Engine.LockBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("不支持的锁实现: %s", c.Engine.LockBackend)
	}
	return nil
}

// DispatcherConfig 组装引擎配置
func (c *Config) DispatcherConfig() dispatcher.Config {
	cfg := dispatcher.DefaultConfig()
	cfg.BatchTimeout = c.Engine.BatchTimeout
	cfg.AutoResolveThreshold = c.Engine.AutoResolveThreshold
	if c.Engine.BatchLookbackDays > 0 {
		cfg.Scoring.BatchLookbackDays = c.Engine.BatchLookbackDays
	}
	if c.Engine.GapLookbackDays > 0 {
		cfg.Scoring.GapLookbackDays = c.Engine.GapLookbackDays
	}
	return cfg
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
