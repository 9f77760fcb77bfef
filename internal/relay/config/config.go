// Package config loads the relay server configuration. Values come from an
// optional TOML file, then a .env file in the working directory, then the
// process environment, each layer overriding the previous one.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/tansive/chatrelay/internal/relay/relaycommon"
)

// ConfigFormatVersion is the current version of the configuration file format
const ConfigFormatVersion = "0.1.0"

// Store backends
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// DotEnvFile is loaded from the working directory if it exists.
var DotEnvFile = ".env"

// OllamaConfig holds inference backend configuration
type OllamaConfig struct {
	BaseURL        string `toml:"base_url" validate:"required,url"` // Ollama base URL
	Model          string `toml:"model" validate:"notblank"`        // Model passed with every generate request
	Stream         bool   `toml:"stream"`                           // Default stream flag for non-relay callers
	RequestTimeout string `toml:"request_timeout"`                  // Upper bound for one generation
}

// GetRequestTimeout returns the request timeout as time.Duration
func (o *OllamaConfig) GetRequestTimeout() (time.Duration, error) {
	return ParseDuration(o.RequestTimeout)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	Password string `toml:"password"`
	DB       int    `toml:"db" validate:"gte=0"`
}

// Addr returns host:port
func (r *RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	Schema       string `toml:"schema"` // empty means the search_path default
	MaxOpenConns int    `toml:"max_open_conns" validate:"gte=0"`
}

// StoreConfig selects and configures the session store
type StoreConfig struct {
	Backend    string         `toml:"backend" validate:"oneof=memory redis postgres"`
	SessionTTL string         `toml:"session_ttl"` // optional, redis only
	Redis      RedisConfig    `toml:"redis"`
	Postgres   PostgresConfig `toml:"postgres"`
}

// GetSessionTTL returns the session TTL, zero when unset.
func (s *StoreConfig) GetSessionTTL() (time.Duration, error) {
	if s.SessionTTL == "" {
		return 0, nil
	}
	return ParseDuration(s.SessionTTL)
}

// RelayConfig holds chat turn settings
type RelayConfig struct {
	CommitAttempts uint `toml:"commit_attempts" validate:"gte=1,lte=10"` // attempts for the end-of-turn store writes
	SerializeTurns bool `toml:"serialize_turns"`                         // one turn at a time per session
}

// ConfigParam holds all configuration parameters for the relay server
type ConfigParam struct {
	FormatVersion string `toml:"format_version"`

	ServerHostName string `toml:"server_hostname"`
	ServerPort     string `toml:"server_port" validate:"required,numeric"`
	HandleCORS     bool   `toml:"handle_cors"`
	LogLevel       string `toml:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	RequestTimeout string `toml:"request_timeout"` // non-streaming endpoints

	Ollama OllamaConfig `toml:"ollama"`
	Store  StoreConfig  `toml:"store"`
	Relay  RelayConfig  `toml:"relay"`
}

// GetRequestTimeout returns the timeout for non-streaming endpoints
func (c *ConfigParam) GetRequestTimeout() (time.Duration, error) {
	return ParseDuration(c.RequestTimeout)
}

// GetURL returns the base URL the server listens on.
func (c *ConfigParam) GetURL() string {
	host := c.ServerHostName
	if host == "" {
		host = "localhost"
	}
	return "http://" + host + ":" + c.ServerPort
}

var cfg *ConfigParam

// Config returns the current configuration
func Config() *ConfigParam {
	return cfg
}

// SetConfig replaces the current configuration. Used by tests and embedders.
func SetConfig(c *ConfigParam) {
	cfg = c
}

// Default returns the configuration used when nothing is set.
func Default() *ConfigParam {
	return &ConfigParam{
		FormatVersion:  ConfigFormatVersion,
		ServerPort:     "8000",
		HandleCORS:     true,
		LogLevel:       "info",
		RequestTimeout: "30s",
		Ollama: OllamaConfig{
			BaseURL:        "http://localhost:11434",
			Model:          "phi3",
			RequestTimeout: "5m",
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			Redis: RedisConfig{
				Host: "localhost",
				Port: "6379",
			},
			Postgres: PostgresConfig{
				MaxOpenConns: 20,
			},
		},
		Relay: RelayConfig{
			CommitAttempts: 1,
		},
	}
}

// ParseDuration parses a duration string in the format "<number><unit>" where unit can be:
// - y: years
// - d: days
// - h: hours
// - m: minutes
// - s: seconds
func ParseDuration(input string) (time.Duration, error) {
	if len(input) < 2 {
		return 0, fmt.Errorf("invalid input format")
	}

	unit := input[len(input)-1:]
	valueStr := input[:len(input)-1]
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", err)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative duration: %s", input)
	}

	var duration time.Duration
	switch unit {
	case "d":
		duration = time.Duration(value) * 24 * time.Hour
	case "h":
		duration = time.Duration(value) * time.Hour
	case "m":
		duration = time.Duration(value) * time.Minute
	case "s":
		duration = time.Duration(value) * time.Second
	case "y":
		duration = time.Duration(value) * 365 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown time unit: %s", unit)
	}

	return duration, nil
}

// ValidateConfig checks if all required configuration values are present and valid
func ValidateConfig(cfg *ConfigParam) error {
	if cfg.FormatVersion != ConfigFormatVersion {
		return fmt.Errorf("unsupported config file format version: %s", cfg.FormatVersion)
	}
	if err := validateFields(cfg); err != nil {
		return err
	}
	if _, err := cfg.GetRequestTimeout(); err != nil {
		return fmt.Errorf("invalid request_timeout: %v", err)
	}
	if _, err := cfg.Ollama.GetRequestTimeout(); err != nil {
		return fmt.Errorf("invalid ollama.request_timeout: %v", err)
	}
	if _, err := cfg.Store.GetSessionTTL(); err != nil {
		return fmt.Errorf("invalid store.session_ttl: %v", err)
	}
	return validateStoreConfig(cfg)
}

func validateFields(cfg *ConfigParam) error {
	err := relaycommon.V().Struct(cfg)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	var msgs []string
	for _, e := range ve {
		field := relaycommon.FieldPath(e)
		switch e.Tag() {
		case "required", "notblank":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %q", field, e.Param(), e.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("invalid %s: failed %s %s", field, e.Tag(), e.Param()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func validateStoreConfig(cfg *ConfigParam) error {
	switch cfg.Store.Backend {
	case BackendRedis:
		if cfg.Store.Redis.Host == "" {
			return fmt.Errorf("store.redis.host is required")
		}
		if _, err := strconv.Atoi(cfg.Store.Redis.Port); err != nil {
			return fmt.Errorf("invalid store.redis.port: %q", cfg.Store.Redis.Port)
		}
	case BackendPostgres:
		if cfg.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required")
		}
	}
	return nil
}

// LoadConfig loads configuration from an optional file, the .env file and the
// environment, then validates it. An empty filename skips the file layer.
func LoadConfig(filename string) error {
	c := Default()

	if filename != "" {
		content, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("error reading config file: %v", err)
		}
		if _, err := toml.Decode(string(content), c); err != nil {
			return fmt.Errorf("error parsing config file: %v", err)
		}
	}

	_ = godotenv.Load(DotEnvFile) // no error if .env doesn't exist

	if err := applyEnv(c); err != nil {
		return err
	}

	if err := ValidateConfig(c); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}

	cfg = c
	return nil
}

// TestInit installs the default configuration with the in-memory store.
func TestInit() {
	c := Default()
	c.LogLevel = "debug"
	cfg = c
}
