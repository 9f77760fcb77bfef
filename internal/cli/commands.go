package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/tansive/chatrelay/internal/relay/versions"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// Global flags
	jsonOutput bool
	configFile string
)

var ErrAlreadyHandled = errors.New("already handled")

var okLabel = color.New(color.FgGreen)
var errorLabel = color.New(color.FgRed)
var infoLabel = color.New(color.FgCyan)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatrelay [command] [flags]",
	Short: "Chat Relay CLI - talk to a local model and manage relay conversations",
	Long: `Chat Relay CLI is a command line interface for the chat relay server.
It runs an interactive console against an Ollama server and manages the
conversations stored by a relay server.

Examples:
  # Point the CLI at a relay server
  chatrelay config --server localhost:8000

  # Chat with the model directly
  chatrelay chat

  # Chat through the relay server
  chatrelay chat --remote

  # List stored conversations
  chatrelay conversations`,
	PersistentPreRun: preRunHandlePersistents,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	// Set up persistent flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "", "", "Path to configuration file to override default")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")

	rootCmd.AddCommand(newVersionCmd())
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true // Prevent Cobra from printing the error
	rootCmd.SilenceUsage = true  // Prevent Cobra from printing usage on error

	err := rootCmd.Execute()
	if err != nil {
		if errors.Is(err, ErrAlreadyHandled) {
			os.Exit(1)
		}
		if jsonOutput {
			kv := map[string]string{
				"error": err.Error(),
			}
			printJSON(os.Stdout, kv)
		} else {
			errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// preRunHandlePersistents loads .env and the CLI config before command execution.
// Commands that can run without a relay server tolerate a missing config file.
func preRunHandlePersistents(cmd *cobra.Command, args []string) {
	loadDotEnv()

	if configFile == "" {
		var err error
		configFile, err = GetDefaultConfigPath()
		if err != nil {
			errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	optional := false
	c := cmd
	for c != nil {
		if c.Name() == "config" || c.Name() == "version" || c.Name() == "status" || c.Name() == "chat" {
			optional = true
			break
		}
		c = c.Parent()
	}

	err := LoadConfig(configFile)
	if err == nil || optional {
		return
	}
	if errors.Is(err, os.ErrNotExist) {
		fmt.Println("Chat relay config file not found. Configure the CLI with \"chatrelay config --server host:port\" first.")
	} else {
		fmt.Printf("%s\n", err.Error())
	}
	os.Exit(1)
}

// newVersionCmd creates and returns a new version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of the chat relay CLI",
		Run: func(cmd *cobra.Command, args []string) {
			configPath := configFile
			if configPath == "" {
				var err error
				if configPath, err = GetDefaultConfigPath(); err != nil {
					configPath = "unknown"
				}
			}

			if jsonOutput {
				kv := map[string]string{
					"version":     getCLIVersion(),
					"api_version": versions.ApiVersion,
					"config_file": configPath,
				}
				printJSON(cmd.OutOrStdout(), kv)
			} else {
				cmd.Printf("chatrelay CLI %s\n", getCLIVersion())
				cmd.Printf("API version: %s\n", versions.ApiVersion)
				cmd.Printf("Config file: %s\n", configPath)
			}
		},
	}
}

// printJSON prints the given value as indented JSON
func printJSON(w io.Writer, data any) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintln(w, string(jsonData))
}

// getCLIVersion returns the current CLI version
func getCLIVersion() string {
	return "v" + versions.Version
}
