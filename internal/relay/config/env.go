package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables read by applyEnv.
const (
	EnvOllamaBaseURL  = "OLLAMA_BASE_URL"
	EnvOllamaModel    = "OLLAMA_MODEL"
	EnvOllamaStream   = "OLLAMA_STREAM"
	EnvRedisHost      = "REDIS_HOST"
	EnvRedisPort      = "REDIS_PORT"
	EnvRedisPassword  = "REDIS_PASSWORD"
	EnvRedisDB        = "REDIS_DB"
	EnvStoreBackend   = "CHATRELAY_STORE"
	EnvPostgresDSN    = "CHATRELAY_POSTGRES_DSN"
	EnvServerPort     = "CHATRELAY_PORT"
	EnvLogLevel       = "CHATRELAY_LOG_LEVEL"
	EnvCommitAttempts = "CHATRELAY_COMMIT_ATTEMPTS"
)

func applyEnv(c *ConfigParam) error {
	setString(&c.Ollama.BaseURL, EnvOllamaBaseURL)
	setString(&c.Ollama.Model, EnvOllamaModel)
	setString(&c.Store.Redis.Host, EnvRedisHost)
	setString(&c.Store.Redis.Port, EnvRedisPort)
	setString(&c.Store.Redis.Password, EnvRedisPassword)
	setString(&c.Store.Backend, EnvStoreBackend)
	setString(&c.Store.Postgres.DSN, EnvPostgresDSN)
	setString(&c.ServerPort, EnvServerPort)
	setString(&c.LogLevel, EnvLogLevel)

	if v, ok := os.LookupEnv(EnvOllamaStream); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", EnvOllamaStream, v)
		}
		c.Ollama.Stream = b
	}
	if v, ok := os.LookupEnv(EnvRedisDB); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", EnvRedisDB, v)
		}
		c.Store.Redis.DB = n
	}
	if v, ok := os.LookupEnv(EnvCommitAttempts); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", EnvCommitAttempts, v)
		}
		c.Relay.CommitAttempts = uint(n)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
