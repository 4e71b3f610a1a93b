// Package config loads hbctl configuration from files, environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. HBCTL_SERVER_PORT=8080.
const EnvPrefix = "HBCTL"

// Default configuration values.
const (
	defaultServerPort         = 8080
	defaultServerTimeout      = 30 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultMaxOpenConns       = 25
	defaultMaxIdleConns       = 10
	defaultConnMaxIdleTime    = 30 * time.Minute
	defaultVersionTimeout     = 10 * time.Second
	defaultEventBuffer        = 128
	defaultMaxConfigBlock     = "1MiB"
	defaultMaxConcurrent      = 2
	defaultProgressInterval   = 2 * time.Second
	defaultHistoryRetention   = 30 * 24 * time.Hour
	defaultPruneCron          = "0 0 3 * * *"
	defaultRedisTTL           = 24 * time.Hour
	defaultKafkaRequestTopic  = "handbrake.requests"
	defaultKafkaStatusTopic   = "handbrake.status"
	defaultKafkaGroupID       = "hbctl-workers"
	defaultKafkaBatchTimeout  = 100 * time.Millisecond
	maxRunnerConcurrency      = 64
	maxEventBuffer            = 1 << 16
	redactedValue             = "[REDACTED]"
)

// Config holds all configuration for hbctl.
type Config struct {
	HandBrake HandBrakeConfig `mapstructure:"handbrake" yaml:"handbrake"`
	Runner    RunnerConfig    `mapstructure:"runner" yaml:"runner"`
	History   HistoryConfig   `mapstructure:"history" yaml:"history"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka" yaml:"kafka"`
}

// HandBrakeConfig controls discovery of the HandBrakeCLI executable and job monitoring.
type HandBrakeConfig struct {
	BinaryPath     string        `mapstructure:"binary_path" yaml:"binary_path"` // empty = auto-detect
	VersionTimeout time.Duration `mapstructure:"version_timeout" yaml:"version_timeout"`
	EventBuffer    int           `mapstructure:"event_buffer" yaml:"event_buffer"`
	// MaxConfigBlock caps the buffered JSON job echo. Accepts "1MiB", "512KB" or a byte count.
	MaxConfigBlock ByteSize `mapstructure:"max_config_block" yaml:"max_config_block"`
}

// RunnerConfig controls the encode service.
type RunnerConfig struct {
	MaxConcurrent    int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval"` // minimum gap between persisted progress updates
}

// HistoryConfig controls retention of finished encode runs.
type HistoryConfig struct {
	Retention time.Duration `mapstructure:"retention" yaml:"retention"` // 0 = keep forever
	PruneCron string        `mapstructure:"prune_cron" yaml:"prune_cron"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`   // trace, debug, info, warn, error
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format"`
}

// RedisConfig holds the live status tracker connection.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"` // expiry applied once a run finishes
}

// KafkaConfig holds the job queue connection.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	RequestTopic string        `mapstructure:"request_topic" yaml:"request_topic"`
	StatusTopic  string        `mapstructure:"status_topic" yaml:"status_topic"`
	GroupID      string        `mapstructure:"group_id" yaml:"group_id"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with HBCTL_ and use underscores for nesting.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hbctl")
		v.AddConfigPath("$HOME/.hbctl")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return Decode(v)
}

// Decode unmarshals and validates the configuration held by v. Callers that
// bind command-line flags into their own viper instance use it instead of Load.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("handbrake.binary_path", "")
	v.SetDefault("handbrake.version_timeout", defaultVersionTimeout)
	v.SetDefault("handbrake.event_buffer", defaultEventBuffer)
	v.SetDefault("handbrake.max_config_block", defaultMaxConfigBlock)

	v.SetDefault("runner.max_concurrent", defaultMaxConcurrent)
	v.SetDefault("runner.progress_interval", defaultProgressInterval)

	v.SetDefault("history.retention", defaultHistoryRetention)
	v.SetDefault("history.prune_cron", defaultPruneCron)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", 0) // SSE streams stay open
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "hbctl.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", defaultRedisTTL)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.request_topic", defaultKafkaRequestTopic)
	v.SetDefault("kafka.status_topic", defaultKafkaStatusTopic)
	v.SetDefault("kafka.group_id", defaultKafkaGroupID)
	v.SetDefault("kafka.batch_timeout", defaultKafkaBatchTimeout)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.HandBrake.VersionTimeout <= 0 {
		return fmt.Errorf("handbrake.version_timeout must be positive")
	}
	if c.HandBrake.EventBuffer < 1 || c.HandBrake.EventBuffer > maxEventBuffer {
		return fmt.Errorf("handbrake.event_buffer must be between 1 and %d", maxEventBuffer)
	}
	if c.HandBrake.MaxConfigBlock < 0 {
		return fmt.Errorf("handbrake.max_config_block must not be negative")
	}

	if c.Runner.MaxConcurrent < 1 || c.Runner.MaxConcurrent > maxRunnerConcurrency {
		return fmt.Errorf("runner.max_concurrent must be between 1 and %d", maxRunnerConcurrency)
	}
	if c.Runner.ProgressInterval < 0 {
		return fmt.Errorf("runner.progress_interval must not be negative")
	}

	if c.History.Retention < 0 {
		return fmt.Errorf("history.retention must not be negative")
	}

	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	validDBLevels := map[string]bool{"silent": true, "error": true, "warn": true, "info": true}
	if !validDBLevels[c.Database.LogLevel] {
		return fmt.Errorf("database.log_level must be one of: silent, error, warn, info")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be at least 1")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns must not be negative")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.RequestTopic == "" || c.Kafka.StatusTopic == "" {
			return fmt.Errorf("kafka.request_topic and kafka.status_topic are required when kafka is enabled")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("kafka.group_id is required when kafka is enabled")
		}
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// YAML renders the configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	if masked.Redis.Password != "" {
		masked.Redis.Password = redactedValue
	}
	if masked.Database.Driver != "sqlite" && masked.Database.DSN != "" {
		masked.Database.DSN = redactedValue
	}
	masked.Kafka.Brokers = append([]string(nil), c.Kafka.Brokers...)

	out, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return out, nil
}
