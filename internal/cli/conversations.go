package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/tansive/chatrelay/pkg/api"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"sigs.k8s.io/yaml"
)

var conversationOutput string

// conversationsCmd lists the stored conversations
var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations stored by the relay server",
	Long: `List conversations stored by the relay server.

Examples:
  # List conversation ids
  chatrelay conversations

  # List conversation ids in JSON format
  chatrelay conversations -j`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newRelayClient()
		if err != nil {
			return err
		}
		ids, err := client.ListConversations(cmd.Context())
		if err != nil {
			return err
		}
		printConversationList(cmd.OutOrStdout(), ids)
		return nil
	},
}

// conversationCmd prints the messages of one conversation
var conversationCmd = &cobra.Command{
	Use:   "conversation SESSION_ID [flags]",
	Short: "Show the messages of a conversation",
	Long: `Show the messages of a conversation. Unknown ids print an empty conversation.

Examples:
  # Show a conversation
  chatrelay conversation 01890a5d-ac96-774b-bcce-b302099a8057

  # Show a conversation as YAML
  chatrelay conversation 01890a5d-ac96-774b-bcce-b302099a8057 -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newRelayClient()
		if err != nil {
			return err
		}
		conv, err := client.GetConversation(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printConversation(cmd.OutOrStdout(), conv, conversationOutput)
	},
}

// deleteCmd removes a conversation
var deleteCmd = &cobra.Command{
	Use:   "delete SESSION_ID",
	Short: "Delete a conversation",
	Long: `Delete a conversation and its stored context. Deleting an unknown id succeeds.

Examples:
  chatrelay delete 01890a5d-ac96-774b-bcce-b302099a8057`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newRelayClient()
		if err != nil {
			return err
		}
		if err := client.DeleteConversation(cmd.Context(), args[0]); err != nil {
			return err
		}
		if jsonOutput {
			printJSON(cmd.OutOrStdout(), map[string]int{"result": 1})
		} else {
			okLabel.Fprintf(cmd.OutOrStdout(), "Deleted conversation %s\n", args[0])
		}
		return nil
	},
}

func printConversationList(w io.Writer, ids []string) {
	if jsonOutput {
		printJSON(w, map[string]any{
			"result": 1,
			"value":  ids,
		})
		return
	}
	fmt.Fprintf(w, "%s:\n", cases.Title(language.English).String("conversations"))
	if len(ids) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for _, id := range ids {
		fmt.Fprintf(w, "- %s\n", id)
	}
}

// printConversation writes conv as text, json or yaml. The -j flag selects json.
func printConversation(w io.Writer, conv *api.ConversationRsp, format string) error {
	if jsonOutput {
		format = "json"
	}
	switch format {
	case "", "text":
		fmt.Fprintf(w, "Conversation %s\n", conv.SessionID)
		if len(conv.Messages) == 0 {
			fmt.Fprintln(w, "  (no messages)")
			return nil
		}
		title := cases.Title(language.English)
		for _, m := range conv.Messages {
			label := okLabel
			if m.Role != "assistant" {
				label = infoLabel
			}
			label.Fprintf(w, "%s: ", title.String(m.Role))
			fmt.Fprintln(w, m.Content)
		}
		return nil
	case "json":
		printJSON(w, conv)
		return nil
	case "yaml":
		out, err := yaml.Marshal(conv)
		if err != nil {
			return fmt.Errorf("failed to format YAML output: %w", err)
		}
		fmt.Fprint(w, string(out))
		return nil
	default:
		return fmt.Errorf("unsupported output format %q; use text, json or yaml", format)
	}
}

func init() {
	conversationCmd.Flags().StringVarP(&conversationOutput, "output", "o", "", "Output format: text, json or yaml")

	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(conversationCmd)
	rootCmd.AddCommand(deleteCmd)
}
