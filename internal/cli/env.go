package cli

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	relayconfig "github.com/tansive/chatrelay/internal/relay/config"
)

// loadDotEnv loads .env from the current working directory if it exists.
// Variables already set in the environment win.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	_ = godotenv.Load(filepath.Join(cwd, ".env"))
}

// ollamaSettings is the Ollama endpoint used by the local console.
type ollamaSettings struct {
	BaseURL string
	Model   string
	Stream  bool
}

// resolveOllamaSettings picks each value from the flag, then the environment,
// then the CLI config file, then the relay defaults.
func resolveOllamaSettings(flagURL, flagModel string) ollamaSettings {
	def := relayconfig.Default()
	s := ollamaSettings{
		BaseURL: def.Ollama.BaseURL,
		Model:   def.Ollama.Model,
		Stream:  def.Ollama.Stream,
	}
	if cfg := GetConfig(); cfg != nil {
		if cfg.OllamaURL != "" {
			s.BaseURL = cfg.OllamaURL
		}
		if cfg.Model != "" {
			s.Model = cfg.Model
		}
	}
	if v := os.Getenv(relayconfig.EnvOllamaBaseURL); v != "" {
		s.BaseURL = v
	}
	if v := os.Getenv(relayconfig.EnvOllamaModel); v != "" {
		s.Model = v
	}
	if v := os.Getenv(relayconfig.EnvOllamaStream); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			s.Stream = b
		}
	}
	if flagURL != "" {
		s.BaseURL = flagURL
	}
	if flagModel != "" {
		s.Model = flagModel
	}
	s.BaseURL = MorphServer(s.BaseURL)
	return s
}
