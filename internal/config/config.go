// Package config loads process configuration in layers: struct defaults, an
// optional YAML file, then the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides where the YAML file is read from.
const PathEnvVar = "VIDEOHUB_CONFIG"

// DefaultPaths are tried in order when PathEnvVar is unset.
var DefaultPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Broker     BrokerConfig     `koanf:"broker"`
	Outbox     OutboxConfig     `koanf:"outbox"`
	Queue      QueueConfig      `koanf:"queue"`
	Membership MembershipConfig `koanf:"membership"`
	Jobs       JobsConfig       `koanf:"jobs"`
	Transcoder TranscoderConfig `koanf:"transcoder"`
	HTTP       HTTPConfig       `koanf:"http"`
	Logging    LoggingConfig    `koanf:"logging"`
}

type DatabaseConfig struct {
	Host          string        `koanf:"host" validate:"required"`
	Port          string        `koanf:"port" validate:"required"`
	User          string        `koanf:"user" validate:"required"`
	Pass          string        `koanf:"pass"`
	Name          string        `koanf:"name" validate:"required"`
	Location      string        `koanf:"location"`
	MaxRetry      int           `koanf:"max_retry" validate:"min=1"`
	RetryInterval time.Duration `koanf:"retry_interval"`
	MaxOpenConns  int           `koanf:"max_open_conns" validate:"min=1"`
	AutoMigrate   bool          `koanf:"auto_migrate"`
}

// DSN builds the go-sql-driver/mysql connection string.
func (d DatabaseConfig) DSN() string {
	val := url.Values{}
	val.Add("parseTime", "1")
	val.Add("loc", d.Location)
	val.Add("charset", "utf8mb4")
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?%s", d.User, d.Pass, d.Host, d.Port, d.Name, val.Encode())
}

type RedisConfig struct {
	Host string `koanf:"host"`
	Port string `koanf:"port"`
	Pass string `koanf:"pass"`
	DB   int    `koanf:"db" validate:"min=0"`
}

// Addr is empty when Redis is not configured; bloom filters then live in memory.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

type BrokerConfig struct {
	Driver           string        `koanf:"driver" validate:"oneof=nats memory"`
	URL              string        `koanf:"url" validate:"required_if=Driver nats"`
	Stream           string        `koanf:"stream" validate:"required"`
	SubscribersCount int           `koanf:"subscribers_count" validate:"min=1"`
	AckWait          time.Duration `koanf:"ack_wait"`
	MaxDeliver       int           `koanf:"max_deliver"`
	DuplicateWindow  time.Duration `koanf:"duplicate_window"`
	MaxAge           time.Duration `koanf:"max_age"`
	CloseTimeout     time.Duration `koanf:"close_timeout"`
}

type OutboxConfig struct {
	PollInterval     time.Duration `koanf:"poll_interval"`
	BatchSize        int           `koanf:"batch_size" validate:"min=1"`
	MaxAttempts      int           `koanf:"max_attempts" validate:"min=1"`
	Lease            time.Duration `koanf:"lease"`
	BreakerFailures  uint32        `koanf:"breaker_failures"`
	BreakerOpenFor   time.Duration `koanf:"breaker_open_for"`
	RequeueBatchSize int           `koanf:"requeue_batch_size" validate:"min=1"`
}

type QueueConfig struct {
	MaxRetries      int           `koanf:"max_retries" validate:"min=0"`
	InitialInterval time.Duration `koanf:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval"`
	HandlerTimeout  time.Duration `koanf:"handler_timeout"`
	CloseTimeout    time.Duration `koanf:"close_timeout"`
}

type InstanceConfig struct {
	Capacity  uint64  `koanf:"capacity" validate:"min=1"`
	ErrorRate float64 `koanf:"error_rate" validate:"gt=0,lt=1"`
}

type MembershipConfig struct {
	// Backend is where filter bits live: redis or memory.
	Backend     string         `koanf:"backend" validate:"oneof=redis memory"`
	BatchSize   int            `koanf:"batch_size" validate:"min=1"`
	StateTTL    time.Duration  `koanf:"state_ttl"`
	Lease       time.Duration  `koanf:"lease"`
	RetireGrace time.Duration  `koanf:"retire_grace"`
	UserEmails  InstanceConfig `koanf:"user_emails"`
	VideoIDs    InstanceConfig `koanf:"video_ids"`
}

type JobsConfig struct {
	ReconcileInterval time.Duration `koanf:"reconcile_interval"`
	// PopulateOnStart enqueues population for instances that are not READY.
	PopulateOnStart bool `koanf:"populate_on_start"`
}

type TranscoderConfig struct {
	URL     string        `koanf:"url" validate:"omitempty,url"`
	Timeout time.Duration `koanf:"timeout"`
}

type HTTPConfig struct {
	Address        string        `koanf:"address" validate:"required"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	ShutdownGrace  time.Duration `koanf:"shutdown_grace"`
}

type LoggingConfig struct {
	Level     string        `koanf:"level"`
	Format    string        `koanf:"format" validate:"oneof=text json"`
	SlowQuery time.Duration `koanf:"slow_query"`
}

func defaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Port:          "3306",
			Location:      "UTC",
			MaxRetry:      10,
			RetryInterval: 2 * time.Second,
			MaxOpenConns:  25,
			AutoMigrate:   true,
		},
		Redis: RedisConfig{Port: "6379"},
		Broker: BrokerConfig{
			Driver:           "memory",
			URL:              "nats://127.0.0.1:4222",
			Stream:           "VIDEOHUB",
			SubscribersCount: 4,
			AckWait:          30 * time.Second,
			MaxDeliver:       10,
			DuplicateWindow:  2 * time.Minute,
			MaxAge:           7 * 24 * time.Hour,
			CloseTimeout:     30 * time.Second,
		},
		Outbox: OutboxConfig{
			PollInterval:     5 * time.Second,
			BatchSize:        100,
			MaxAttempts:      5,
			Lease:            time.Minute,
			BreakerFailures:  5,
			BreakerOpenFor:   30 * time.Second,
			RequeueBatchSize: 500,
		},
		Queue: QueueConfig{
			MaxRetries:      3,
			InitialInterval: time.Second,
			MaxInterval:     300 * time.Second,
			HandlerTimeout:  10 * time.Minute,
			CloseTimeout:    30 * time.Second,
		},
		Membership: MembershipConfig{
			Backend:     "redis",
			BatchSize:   500,
			StateTTL:    5 * time.Second,
			Lease:       2 * time.Minute,
			RetireGrace: 10 * time.Minute,
			UserEmails:  InstanceConfig{Capacity: 1_000_000, ErrorRate: 0.001},
			VideoIDs:    InstanceConfig{Capacity: 1_000_000, ErrorRate: 0.001},
		},
		Jobs: JobsConfig{
			ReconcileInterval: 10 * time.Minute,
			PopulateOnStart:   true,
		},
		Transcoder: TranscoderConfig{Timeout: 10 * time.Second},
		HTTP: HTTPConfig{
			Address:        ":9090",
			RequestTimeout: 30 * time.Second,
			ShutdownGrace:  5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			SlowQuery: 200 * time.Millisecond,
		},
	}
}

// Load reads .env if present, then layers defaults, the YAML file and the
// environment, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Membership.Backend == "redis" && c.Redis.Addr() == "" {
		return errors.New("invalid configuration: membership backend redis needs redis.host")
	}
	return nil
}

func findFile() string {
	if path := os.Getenv(PathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
