package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/dreamchat/internal/blocks"
	"github.com/xaenox/dreamchat/internal/chat"
	"github.com/xaenox/dreamchat/internal/conversation"
	"github.com/xaenox/dreamchat/internal/credentials"
	"github.com/xaenox/dreamchat/internal/models"
	"github.com/xaenox/dreamchat/internal/provider"
	"github.com/xaenox/dreamchat/internal/proxy"
)

var (
	configPath string
	debug      bool
	useMemory  bool

	sendConversation string
	sendImages       []string
	sendBlocks       bool

	newProvider string
	newModel    string

	showBlocks bool
)

var rootCmd = &cobra.Command{
	Use:   "dreamchat",
	Short: "Chat with OpenAI and Anthropic models from the terminal",
	Long: `dreamchat keeps a local history of conversations and streams replies
from OpenAI (through the local proxy, see "dreamchat serve") or Anthropic.

Examples:
  dreamchat keys set openai sk-...
  dreamchat send "explain goroutines"
  dreamchat model anthropic claude-3-5-haiku-20241022
  dreamchat regenerate <message-id>`,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable development logging")
	rootCmd.PersistentFlags().BoolVar(&useMemory, "memory", false, "Keep conversations in memory only")

	sendCmd.Flags().StringVarP(&sendConversation, "conversation", "c", "", "Conversation id (defaults to the active one)")
	sendCmd.Flags().StringSliceVarP(&sendImages, "image", "i", nil, "Attach an image file (repeatable)")
	sendCmd.Flags().BoolVar(&sendBlocks, "blocks", false, "Treat the input as an editor block document")
	regenerateCmd.Flags().StringVarP(&sendConversation, "conversation", "c", "", "Conversation id (defaults to the active one)")
	editCmd.Flags().StringVarP(&sendConversation, "conversation", "c", "", "Conversation id (defaults to the active one)")

	newCmd.Flags().StringVar(&newProvider, "provider", "", "openai or anthropic (defaults to the active conversation's)")
	newCmd.Flags().StringVar(&newModel, "model", "", "Model name (defaults to the active conversation's)")

	showCmd.Flags().BoolVar(&showBlocks, "blocks", false, "Print each message as an editor block document")

	keysCmd.AddCommand(keysSetCmd, keysShowCmd, keysBaseURLCmd)
	rootCmd.AddCommand(listCmd, newCmd, selectCmd, deleteCmd, pinCmd, sendCmd,
		regenerateCmd, editCmd, showCmd, modelCmd, keysCmd, serveCmd)
}

// withApp wires the components, runs fn and tears everything down.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, pinned first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			active := a.repo.ActiveID()
			for _, c := range conversation.PinnedFirst(a.repo.Conversations()) {
				marker := " "
				if c.ID == active {
					marker = "*"
				}
				pin := ""
				if c.Pinned {
					pin = "[pinned]"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s/%s\t%d msgs\t%s\t%s\n",
					marker, c.ID, c.Title, c.Provider, c.Model, len(c.Messages),
					time.UnixMilli(c.UpdatedAt).Format(time.DateTime), pin)
			}
			return w.Flush()
		})
	},
}

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new conversation and make it active",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var p models.Provider
		if newProvider != "" {
			parsed, err := models.ParseProvider(newProvider)
			if err != nil {
				return err
			}
			p = parsed
		}
		if newModel != "" && p != "" && !models.ValidModel(p, newModel) {
			return fmt.Errorf("%q is not a %s model", newModel, p.DisplayName())
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			conv := a.repo.CreateConversation(ctx, p, newModel)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s/%s\n", conv.ID, conv.Provider, conv.Model)
			return nil
		})
	},
}

var selectCmd = &cobra.Command{
	Use:   "select <conversation-id>",
	Short: "Make a conversation active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if _, ok := a.repo.Get(args[0]); !ok {
				return fmt.Errorf("conversation %s not found", args[0])
			}
			a.repo.SelectConversation(ctx, args[0])
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if _, ok := a.repo.Get(args[0]); !ok {
				return fmt.Errorf("conversation %s not found", args[0])
			}
			a.repo.DeleteConversation(ctx, args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "active: %s\n", a.repo.ActiveID())
			return nil
		})
	},
}

var pinCmd = &cobra.Command{
	Use:   "pin <conversation-id>",
	Short: "Toggle the pinned flag of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			pinned, ok := a.repo.TogglePin(ctx, args[0])
			if !ok {
				return fmt.Errorf("conversation %s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pinned: %t\n", pinned)
			return nil
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [message...]",
	Short: "Send a message and stream the reply (reads stdin without arguments)",
	RunE: func(cmd *cobra.Command, args []string) error {
		content := strings.Join(args, " ")
		if len(args) == 0 {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			content = string(data)
		}
		if sendBlocks {
			content = blocks.BlocksToText(content)
		}

		images := make([]string, 0, len(sendImages))
		for _, path := range sendImages {
			uri, err := imageDataURI(path)
			if err != nil {
				return err
			}
			images = append(images, uri)
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			return stream(cmd, a, func(ctx context.Context, convID string, obs chat.Observer) (chat.Result, error) {
				return a.engine.Send(ctx, convID, content, images, obs)
			})
		})
	},
}

var regenerateCmd = &cobra.Command{
	Use:   "regenerate <message-id>",
	Short: "Ask again for the reply to the user message before <message-id>",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return stream(cmd, a, func(ctx context.Context, convID string, obs chat.Observer) (chat.Result, error) {
				return a.engine.Regenerate(ctx, convID, args[0], obs)
			})
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <message-id> <new content...>",
	Short: "Rewrite a message and replay the conversation from there",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := strings.Join(args[1:], " ")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return stream(cmd, a, func(ctx context.Context, convID string, obs chat.Observer) (chat.Result, error) {
				return a.engine.Edit(ctx, convID, args[0], content, obs)
			})
		})
	},
}

type exchange func(ctx context.Context, convID string, obs chat.Observer) (chat.Result, error)

// stream runs one exchange, printing the reply as it arrives. Ctrl-C stops
// the generation and keeps what was received.
func stream(cmd *cobra.Command, a *app, run exchange) error {
	convID := sendConversation
	if convID == "" {
		convID = a.repo.ActiveID()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := bufio.NewWriter(cmd.OutOrStdout())
	printed := 0
	obs := func(msgs []models.Message) {
		if len(msgs) == 0 {
			return
		}
		reply := msgs[len(msgs)-1].Content
		if len(reply) > printed {
			out.WriteString(reply[printed:])
			out.Flush()
			printed = len(reply)
		}
	}

	res, err := run(ctx, convID, obs)
	if printed > 0 {
		out.WriteString("\n")
		out.Flush()
	}

	switch {
	case errors.Is(err, provider.ErrStopped):
		a.logger.Info("Generation stopped", zap.String("conversation_id", res.ConversationID))
		fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
		return nil
	case err != nil:
		return err
	}
	return nil
}

var showCmd = &cobra.Command{
	Use:   "show [conversation-id]",
	Short: "Print the messages of a conversation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			id := a.repo.ActiveID()
			if len(args) == 1 {
				id = args[0]
			}
			conv, ok := a.repo.Get(id)
			if !ok {
				return fmt.Errorf("conversation %s not found", id)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s (%s/%s)\n\n", conv.Title, conv.Provider, conv.Model)
			for _, m := range conv.Messages {
				fmt.Fprintf(out, "[%s] %s", m.Role, m.ID)
				if len(m.Images) > 0 {
					fmt.Fprintf(out, " (%d images)", len(m.Images))
				}
				fmt.Fprintln(out)

				if showBlocks {
					parsed, err := blocks.TextToBlocks(m.Content)
					if err != nil {
						return fmt.Errorf("convert message %s: %w", m.ID, err)
					}
					doc, err := blocks.MarshalBlocks(parsed)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, doc)
				} else {
					fmt.Fprintln(out, m.Content)
				}
				fmt.Fprintln(out)
			}
			return nil
		})
	},
}

var modelCmd = &cobra.Command{
	Use:   "model [provider] [model]",
	Short: "Show or change the provider and model of the active conversation",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				conv, _ := a.repo.Active()
				fmt.Fprintf(out, "%s/%s\n\n", conv.Provider, conv.Model)
				for _, p := range models.Providers() {
					fmt.Fprintf(out, "%s:\n", p.DisplayName())
					for _, m := range p.Models() {
						fmt.Fprintf(out, "  %-28s %s\n", m.Value, m.Label)
					}
				}
				return nil
			}

			p, err := models.ParseProvider(args[0])
			if err != nil {
				return err
			}
			update := conversation.SettingsUpdate{Provider: p}
			if len(args) == 2 {
				update.Model = args[1]
			}
			id := a.repo.ActiveID()
			if err := a.repo.UpdateConversationSettings(ctx, id, update); err != nil {
				return err
			}
			conv, _ := a.repo.Get(id)
			fmt.Fprintf(out, "%s/%s\n", conv.Provider, conv.Model)
			return nil
		})
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage provider API keys",
}

var keysSetCmd = &cobra.Command{
	Use:   "set <provider> [key]",
	Short: "Store an API key (empty clears it)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := models.ParseProvider(args[0])
		if err != nil {
			return err
		}
		secret := ""
		if len(args) == 2 {
			secret = args[1]
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.creds.Set(ctx, p, secret)
		})
	},
}

var keysShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show which API keys are configured",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			out := cmd.OutOrStdout()
			for _, p := range models.Providers() {
				secret, _ := a.creds.Get(p)
				fmt.Fprintf(out, "%-10s %s\n", p, credentials.Mask(secret))
			}
			if u := a.creds.AnthropicBaseURL(); u != "" {
				fmt.Fprintf(out, "anthropic base url: %s\n", u)
			}
			return nil
		})
	},
}

var keysBaseURLCmd = &cobra.Command{
	Use:   "base-url [url]",
	Short: "Set the Anthropic base URL (empty restores the default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := ""
		if len(args) == 1 {
			url = args[0]
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.creds.SetAnthropicBaseURL(ctx, url)
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local streaming proxy for OpenAI",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(true)
		if err != nil {
			return err
		}
		defer logger.Sync()

		upstream := proxy.NewOpenAIUpstream(cfg.OpenAI.BaseURL, nil, logger)
		handler := proxy.NewServer(proxy.Config{
			APIKey:       cfg.Proxy.APIKey,
			OpenAIAPIKey: cfg.OpenAI.APIKey,
			Mode:         cfg.Proxy.Mode,
		}, upstream, logger)

		srv := &http.Server{
			Addr:              cfg.Proxy.Listen,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errc := make(chan error, 1)
		go func() {
			logger.Info("Proxy listening", zap.String("addr", cfg.Proxy.Listen))
			errc <- srv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("Shutting down proxy")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// imageDataURI reads an image file into a base64 data URI.
func imageDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", path, mediaType)
	}
	return models.DataURI{MediaType: mediaType, Data: base64.StdEncoding.EncodeToString(data)}.String(), nil
}
