package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"arbiter/internal/common/cache"
	"arbiter/internal/common/db"
	"arbiter/internal/common/mq"
	"arbiter/internal/common/storage"
	"arbiter/internal/judge/queue"
	"arbiter/internal/judge/runner"
	judgeservice "arbiter/internal/judge/service"
	"arbiter/internal/stream"
	submitservice "arbiter/internal/submit/service"
	"arbiter/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultTrackingTTL     = time.Hour
	defaultWorkerCount     = 2
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// TrackingConfig holds tracking session settings.
type TrackingConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// FinalizeConfig holds finalize worker settings.
type FinalizeConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server    ServerConfig                 `yaml:"server"`
	Logger    logger.Config                `yaml:"logger"`
	Database  db.MySQLConfig               `yaml:"database"`
	Redis     cache.RedisConfig            `yaml:"redis"`
	MinIO     storage.MinIOConfig          `yaml:"minio"`
	Kafka     mq.KafkaConfig               `yaml:"kafka"`
	Topics    judgeservice.TopicConfig     `yaml:"topics"`
	Runner    runner.Config                `yaml:"runner"`
	Payload   judgeservice.PayloadConfig   `yaml:"payload"`
	Dispatch  judgeservice.DispatchConfig  `yaml:"dispatch"`
	Tracking  TrackingConfig               `yaml:"tracking"`
	Queue     queue.Config                 `yaml:"queue"`
	Scheduler judgeservice.SchedulerConfig `yaml:"scheduler"`
	Finalize  FinalizeConfig               `yaml:"finalize"`
	Stream    stream.Config                `yaml:"stream"`
	Submit    submitservice.Config         `yaml:"submit"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Runner.BaseURL == "" {
		return nil, fmt.Errorf("runner base url is required")
	}
	if cfg.Payload.CallbackBaseURL == "" {
		return nil, fmt.Errorf("payload callback base url is required")
	}
	applyRedisDefaults(&cfg.Redis)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Tracking.TTL == 0 {
		cfg.Tracking.TTL = defaultTrackingTTL
	}
	if cfg.Finalize.Workers <= 0 {
		cfg.Finalize.Workers = defaultWorkerCount
	}
	return &cfg, nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
}
