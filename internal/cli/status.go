package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/tansive/chatrelay/internal/relay/versions"
	"github.com/tansive/chatrelay/pkg/api"
)

// statusReport combines the health and version endpoints of a relay server
type statusReport struct {
	CLIVersion string          `json:"version_cli"`
	Version    *api.VersionRsp `json:"version,omitempty"`
	Health     *api.HealthRsp  `json:"health,omitempty"`
	Compatible bool            `json:"compatible"`
	Error      string          `json:"error,omitempty"`
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Get relay server status and version information",
	Long: `Get relay server status and version information. This command reports the server
version, whether its API version is compatible with this CLI, the configured
model and store, and the number of stored conversations.

Examples:
  # Get server status
  chatrelay status

  # Get server status in JSON format
  chatrelay status -j`,
	Args: cobra.NoArgs,
	RunE: getStatus,
}

// getStatus handles retrieving server status information
func getStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	client, err := newRelayClient()
	if err != nil {
		printStatusError(out, "Config file cannot be loaded")
		return ErrAlreadyHandled
	}

	report, err := collectStatus(cmd.Context(), client)
	if err != nil {
		printStatusError(out, "Unable to connect to server: "+err.Error())
		return ErrAlreadyHandled
	}

	if jsonOutput {
		printJSON(out, map[string]any{
			"result": 1,
			"value":  report,
		})
	} else {
		printStatusPretty(out, report)
	}
	if !report.Compatible || report.Error != "" {
		return ErrAlreadyHandled
	}
	return nil
}

// collectStatus queries the server. A degraded server still yields a report.
func collectStatus(ctx context.Context, client *api.Client) (*statusReport, error) {
	report := &statusReport{CLIVersion: getCLIVersion()}

	v, err := client.Version(ctx)
	if err != nil {
		return nil, err
	}
	report.Version = v
	report.Compatible = versions.IsApiVersionCompatible(v.ApiVersion)

	h, err := client.Health(ctx)
	if h == nil {
		return nil, err
	}
	report.Health = h
	if err != nil {
		report.Error = h.Error
		if report.Error == "" {
			report.Error = err.Error()
		}
	}
	return report, nil
}

func printStatusError(w io.Writer, msg string) {
	if jsonOutput {
		printJSON(w, map[string]string{
			"version_cli": getCLIVersion(),
			"error":       msg,
		})
		return
	}
	fmt.Fprintf(w, "chatrelay CLI %s\n", getCLIVersion())
	errorLabel.Fprintf(w, "Error: %s\n", msg)
}

// printStatusPretty prints the status information in a human-readable format
func printStatusPretty(w io.Writer, r *statusReport) {
	fmt.Fprintf(w, "chatrelay CLI %s\n", r.CLIVersion)
	fmt.Fprintf(w, "Server Version: %s\n", r.Version.ServerVersion)
	fmt.Fprintf(w, "API Version: %s", r.Version.ApiVersion)
	if r.Compatible {
		okLabel.Fprintln(w, " (compatible)")
	} else {
		errorLabel.Fprintf(w, " (incompatible with %s)\n", versions.ApiVersion)
	}

	fmt.Fprintln(w)
	h := r.Health
	label := okLabel
	if h.Status != "ok" {
		label = errorLabel
	}
	fmt.Fprint(w, "Status: ")
	label.Fprintln(w, h.Status)
	fmt.Fprintf(w, "Model: %s\n", h.Model)
	fmt.Fprintf(w, "Ollama: %s\n", h.BaseURL)
	fmt.Fprintf(w, "Store: %s\n", h.Store)
	fmt.Fprintf(w, "Conversations: %d\n", h.Sessions)
	if r.Error != "" {
		errorLabel.Fprintf(w, "Error: %s\n", r.Error)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
