package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tansive/chatrelay/internal/relay/ollama"
	"github.com/tansive/chatrelay/pkg/api"
)

var (
	chatOllamaURL string
	chatModel     string
	chatRemote    bool
	chatSession   string
)

// chatCmd represents the interactive console
var chatCmd = &cobra.Command{
	Use:   "chat [flags]",
	Short: "Start an interactive chat console",
	Long: `Start an interactive chat console. Each line read from the terminal is sent to
the model and the reply is printed with its token count and generation time.
The conversation context is carried between rounds. Type "exit" or "quit" to leave.

By default the console talks to the Ollama server directly. With --remote it
talks to the configured relay server, which stores the conversation.

Examples:
  # Chat with the default model
  chatrelay chat

  # Chat with a specific model on another host
  chatrelay chat --ollama gpu-box:11434 --model llama3

  # Chat through the relay server and continue an existing conversation
  chatrelay chat --remote --session 01890a5d-ac96-774b-bcce-b302099a8057`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if chatRemote {
		client, err := newRelayClient()
		if err != nil {
			return err
		}
		return runRemoteConsole(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), client, chatSession)
	}

	s := resolveOllamaSettings(chatOllamaURL, chatModel)
	gen := ollama.New(s.BaseURL, s.Model, ollama.WithStreamDefault(s.Stream))
	infoLabel.Fprintf(cmd.OutOrStdout(), "Chatting with %s at %s. Type \"exit\" to quit.\n", s.Model, s.BaseURL)
	return runConsole(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), gen)
}

// consoleGenerator runs one complete generation round.
type consoleGenerator interface {
	Do(ctx context.Context, prompt string, continuation []int) (ollama.GenerationEvent, error)
}

// runConsole reads prompts from in until EOF or an exit command and prints each
// reply to out. A failed round is reported and the previous context is kept.
func runConsole(ctx context.Context, in io.Reader, out io.Writer, gen consoleGenerator) error {
	var continuation []int
	return readPrompts(ctx, in, out, func(prompt string) error {
		ev, err := gen.Do(ctx, prompt, continuation)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, ev.Response)
		if c, ok := ev.FinalContext(); ok {
			continuation = c
		}
		printMetrics(out, ev.TokenCount, ev.Duration())
		return nil
	})
}

// runRemoteConsole is runConsole against a relay server. A new conversation is
// started when sessionID is empty.
func runRemoteConsole(ctx context.Context, in io.Reader, out io.Writer, client *api.Client, sessionID string) error {
	if sessionID == "" {
		id, err := client.NewConversation(ctx)
		if err != nil {
			return fmt.Errorf("unable to start conversation: %w", err)
		}
		sessionID = id
	}
	infoLabel.Fprintf(out, "Session %s. Type \"exit\" to quit.\n", sessionID)

	return readPrompts(ctx, in, out, func(prompt string) error {
		return client.ChatStream(ctx, sessionID, prompt, func(ev api.ChatEvent) error {
			fmt.Fprint(out, ev.Response)
			if ev.Done {
				fmt.Fprintln(out)
				printMetrics(out, ev.EvalCount, time.Duration(ev.TotalDuration))
			}
			return nil
		})
	})
}

// readPrompts calls round for every non-empty line of in. Errors from round are
// printed and reading continues unless ctx is done.
func readPrompts(ctx context.Context, in io.Reader, out io.Writer, round func(prompt string) error) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if isExitCommand(prompt) {
			okLabel.Fprintln(out, "Goodbye.")
			return nil
		}
		if err := round(prompt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			errorLabel.Fprintf(out, "Error: %v\n", err)
		}
	}
}

func isExitCommand(s string) bool {
	switch strings.ToLower(s) {
	case "exit", "quit":
		return true
	}
	return false
}

func printMetrics(out io.Writer, tokens int, d time.Duration) {
	infoLabel.Fprintf(out, "[Ollama] Generated %d tokens in %.2fs\n", tokens, d.Seconds())
}

// newRelayClient builds an API client for the configured relay server
func newRelayClient() (*api.Client, error) {
	cfg := GetConfig()
	if cfg == nil {
		return nil, errors.New("config file not found; run \"chatrelay config --server host:port\" first")
	}
	return api.NewClient(cfg.ServerURL)
}

func init() {
	chatCmd.Flags().StringVar(&chatOllamaURL, "ollama", "", "Ollama server URL (overrides OLLAMA_BASE_URL and the config file)")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Model name (overrides OLLAMA_MODEL and the config file)")
	chatCmd.Flags().BoolVar(&chatRemote, "remote", false, "Chat through the configured relay server")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "Continue an existing relay conversation (with --remote)")
	rootCmd.AddCommand(chatCmd)
}
