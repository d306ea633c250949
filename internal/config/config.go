package config

import (
	"time"

	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Storage  Storage  `mapstructure:"storage"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Redis    Redis    `mapstructure:"redis"`
	Pipeline Pipeline `mapstructure:"pipeline"`
	Retry    Retry    `mapstructure:"retry"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort string `mapstructure:"http_port"` // HTTP port to listen on
}

// Database holds PostgreSQL connection configuration.
type Database struct {
	MasterDSN    string        `mapstructure:"master_dsn"`
	SlaveDSNs    []string      `mapstructure:"slave_dsns"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime"`
}

// Storage holds configuration for the object storage backend.
type Storage struct {
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	SourceBucket string `mapstructure:"source_bucket"` // bucket with original media
	TargetBucket string `mapstructure:"target_bucket"` // bucket for transformed artifacts
}

// Kafka holds configuration for the Kafka message queue.
type Kafka struct {
	GroupID string   `mapstructure:"group_id"` // Consumer group ID
	Brokers []string `mapstructure:"brokers"`  // List of Kafka broker addresses
	Topics  Topics   `mapstructure:"topics"`
}

// Topics names the queues of the task lifecycle.
type Topics struct {
	Tasks         string `mapstructure:"tasks"`         // accepted task messages
	DeadLetter    string `mapstructure:"dead_letter"`   // tasks that exhausted their processing window
	Notifications string `mapstructure:"notifications"` // terminal status notifications
}

// Redis holds configuration for the task status cache.
type Redis struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	StatusTTL time.Duration `mapstructure:"status_ttl"`
}

// Pipeline holds execution limits for transformation runs.
type Pipeline struct {
	Timeout time.Duration `mapstructure:"timeout"` // wall-clock processing window per task
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or unmarshaled.
func MustLoad(path string) *Config {
	c := config.New()

	if err := c.Load(path); err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to load config")
	}

	var cfg Config
	if err := c.Unmarshal(&cfg); err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to unmarshal config")
	}

	return &cfg
}
