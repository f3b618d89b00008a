package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"gavel/internal/common/cache"
	"gavel/internal/common/db"
	"gavel/internal/common/mq"
	"gavel/internal/common/storage"
	"gavel/internal/judge/dispatcher"
	"gavel/internal/judge/maintenance"
	"gavel/internal/judge/sandbox"
	"gavel/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second
	defaultEventTopic      = "judge.events"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// EventsConfig holds event publishing settings.
type EventsConfig struct {
	Topic string `yaml:"topic"`

	// DurableLog enables the event_log table append alongside publishing.
	DurableLog bool `yaml:"durableLog"`
}

// ArchiveConfig holds source archive settings.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
}

// RateLimitConfig holds submit rate limiter settings.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Limit   int64         `yaml:"limit"`
	Window  time.Duration `yaml:"window"`
}

// AppConfig is the full judged configuration.
type AppConfig struct {
	Server      ServerConfig         `yaml:"server"`
	Logger      logger.Config        `yaml:"logger"`
	Database    db.MySQLConfig       `yaml:"database"`
	Redis       cache.RedisConfig    `yaml:"redis"`
	Kafka       mq.KafkaConfig       `yaml:"kafka"`
	MinIO       storage.MinIOConfig  `yaml:"minio"`
	Sandbox     sandbox.RemoteConfig `yaml:"sandbox"`
	Events      EventsConfig         `yaml:"events"`
	Archive     ArchiveConfig        `yaml:"archive"`
	RateLimit   RateLimitConfig      `yaml:"rateLimit"`
	Dispatcher  dispatcher.Config    `yaml:"dispatcher"`
	Maintenance maintenance.Config   `yaml:"maintenance"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Sandbox.BaseURL == "" {
		return nil, fmt.Errorf("sandbox baseURL is required")
	}
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
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = defaultEventTopic
	}
	if cfg.Archive.Enabled && cfg.Archive.Bucket == "" {
		cfg.Archive.Bucket = cfg.MinIO.Bucket
	}
	return &cfg, nil
}
