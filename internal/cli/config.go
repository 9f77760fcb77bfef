package cli

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default name of the config file
const DefaultConfigFile = "config.yaml"

// configVersion is the current format version of the CLI config file
const configVersion = "0.1.0"

// Config represents the configuration for the chat relay CLI
type Config struct {
	// Version of the configuration file format
	Version string `yaml:"version"`
	// ServerURL is the URL and port of the relay server
	ServerURL string `yaml:"server_url"`
	// OllamaURL is the Ollama server used by the local console
	OllamaURL string `yaml:"ollama_url,omitempty"`
	// Model is the model used by the local console
	Model string `yaml:"model,omitempty"`
}

var config *Config

// GetDefaultConfigPath returns the default path for the config file
// It uses the OS-specific config directory (e.g., ~/.config/chatrelay on Linux)
func GetDefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "chatrelay", DefaultConfigFile), nil
}

// LoadConfig loads the configuration from the specified file
// If no file is specified, it uses the default config location
func LoadConfig(file string) error {
	if file == "" {
		var err error
		file, err = GetDefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get default config path: %w", err)
		}
	}

	yamlStr, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("unable to read config file: %w", err)
	}

	var c Config
	if err = yaml.Unmarshal(yamlStr, &c); err != nil {
		return fmt.Errorf("unable to parse config file: %w", err)
	}

	if err := c.ValidateConfig(); err != nil {
		return err
	}

	c.ServerURL = MorphServer(c.ServerURL)
	if c.OllamaURL != "" {
		c.OllamaURL = MorphServer(c.OllamaURL)
	}

	config = &c
	return nil
}

// GetConfig returns the current configuration. It is nil until LoadConfig succeeds.
func GetConfig() *Config {
	return config
}

// WriteConfig writes the configuration to the specified file
func (cfg *Config) WriteConfig(file string) error {
	if file == "" {
		return errors.New("file path cannot be empty")
	}

	err := os.MkdirAll(filepath.Dir(file), os.ModePerm)
	if err != nil {
		return fmt.Errorf("unable to create config directory: %w", err)
	}

	yamlStr, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("unable to generate configuration: %w", err)
	}

	err = os.WriteFile(file, yamlStr, os.FileMode(0600))
	if err != nil {
		return fmt.Errorf("unable to write config file: %w", err)
	}

	return nil
}

// ValidateConfig checks for required fields and proper formatting
func (cfg *Config) ValidateConfig() error {
	if cfg.ServerURL == "" {
		return errors.New("server:port is required")
	}
	if !strings.Contains(cfg.ServerURL, ":") {
		return errors.New("server:port must include port number")
	}
	if cfg.OllamaURL != "" {
		if _, err := url.Parse(MorphServer(cfg.OllamaURL)); err != nil {
			return fmt.Errorf("invalid ollama url: %w", err)
		}
	}
	return nil
}

// MorphServer adds an http scheme when none is given and trims the trailing slash
func MorphServer(server string) string {
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "http://" + server
	}
	return strings.TrimSuffix(server, "/")
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long: `Manage CLI configuration settings like the relay server and the model used by the console.

Examples:
  # Point the CLI at a relay server
  chatrelay config --server localhost:8000

  # Also set the Ollama server and model for "chatrelay chat"
  chatrelay config --server localhost:8000 --ollama localhost:11434 --model phi3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		serverFlag, _ := cmd.Flags().GetString("server")
		if serverFlag == "" {
			cmd.Help()
			return nil
		}
		ollamaFlag, _ := cmd.Flags().GetString("ollama")
		modelFlag, _ := cmd.Flags().GetString("model")
		return setServerConfig(cmd.OutOrStdout(), configFile, serverFlag, ollamaFlag, modelFlag)
	},
}

// configShowCmd prints the active configuration
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cfg == nil {
			return errors.New("config file not found; run \"chatrelay config --server host:port\" first")
		}
		if jsonOutput {
			printJSON(cmd.OutOrStdout(), cfg)
			return nil
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("unable to format configuration: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Config file: %s\n%s", configFile, out)
		return nil
	},
}

func init() {
	configCmd.Flags().String("server", "", "Set the relay server URL and port (e.g., example.com:8000)")
	configCmd.Flags().String("ollama", "", "Set the Ollama server URL used by the console")
	configCmd.Flags().String("model", "", "Set the model used by the console")

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

// setServerConfig writes a fresh config file with the given server settings
func setServerConfig(w io.Writer, configPath, server, ollamaURL, model string) error {
	if configPath == "" {
		var err error
		configPath, err = GetDefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get default config path: %w", err)
		}
	}

	cfg := &Config{
		Version:   configVersion,
		ServerURL: server,
		OllamaURL: ollamaURL,
		Model:     model,
	}
	if err := cfg.ValidateConfig(); err != nil {
		return err
	}
	cfg.ServerURL = MorphServer(server)
	if ollamaURL != "" {
		cfg.OllamaURL = MorphServer(ollamaURL)
	}

	if err := cfg.WriteConfig(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if jsonOutput {
		printJSON(w, map[string]string{
			"server":      cfg.ServerURL,
			"config_file": configPath,
		})
	} else {
		fmt.Fprintf(w, "Server configured: %s\n", cfg.ServerURL)
		fmt.Fprintf(w, "Config file: %s\n", configPath)
	}

	return nil
}
