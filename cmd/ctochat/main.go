// Command ctochat is a terminal chat client that talks to the upstream
// service directly, using the same credential and streaming pipeline as the
// bridge server. Useful for poking at the upstream without an OpenAI client.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	log "github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ctobridge/ctobridge/pkg/cache"
	"github.com/ctobridge/ctobridge/pkg/config"
	"github.com/ctobridge/ctobridge/pkg/credentials"
	"github.com/ctobridge/ctobridge/pkg/engine"
	"github.com/ctobridge/ctobridge/pkg/logutil"
	"github.com/ctobridge/ctobridge/pkg/version"
)

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	replyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	noticeStyle = lipgloss.NewStyle().Faint(true)
)

func main() {
	_ = godotenv.Load()

	var (
		configPath string
		cachePath  string
		model      string
		newChat    bool
		logLevel   string
	)

	root := &cobra.Command{
		Use:     "ctochat",
		Short:   "Interactive chat against the cto.new upstream",
		Version: version.String(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logutil.Configure(logLevel); err != nil {
				return err
			}
			cfg, err := config.LoadOrCreateServerConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.ApplyEnvOverrides()
			return runChat(cmd.Context(), cfg, cachePath, model, newChat)
		},
	}
	root.SilenceUsage = true
	root.Flags().StringVar(&configPath, "config", config.DefaultServerConfigPath(), "Config TOML path")
	root.Flags().StringVar(&cachePath, "chat-cache", config.DefaultChatCachePath(), "Chat-id cache file for resuming a conversation")
	root.Flags().StringVar(&model, "model", "", "Model name to chat with (default: configured default adapter)")
	root.Flags().BoolVar(&newChat, "new", false, "Start a fresh chat instead of resuming the cached one")
	root.Flags().StringVar(&logLevel, "loglevel", "warn", "Log level (debug, info, warn, error)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runChat(ctx context.Context, cfg *config.ServerConfig, cachePath, model string, newChat bool) error {
	adapter := cfg.DefaultAdapter
	if strings.TrimSpace(model) != "" {
		adapter = cfg.AdapterFor(model)
	}

	pool := credentials.NewPool(cfg.CookiesFile)
	cookie, err := pool.Next()
	if err != nil {
		return err
	}

	eng := engine.NewClient(cfg.Upstream, cfg.Stream)
	identity, err := eng.ResolveIdentity(ctx, cookie)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}
	token, err := eng.MintToken(ctx, identity.SessionID, cookie)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	chatID := ""
	if !newChat {
		if st, err := cache.LoadChatState(cachePath); err == nil {
			chatID = st.ChatID
			fmt.Println(noticeStyle.Render("resuming chat " + chatID))
		} else if !errors.Is(err, cache.ErrNotFound) {
			log.Warn("chat cache unreadable, starting fresh", "err", err)
		}
	}

	fmt.Println(noticeStyle.Render("adapter: " + adapter + " (empty line or exit/quit to leave)"))
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print(promptStyle.Render("You: "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" || prompt == "exit" || prompt == "quit" {
			return nil
		}

		if chatID == "" {
			chatID, err = eng.OpenChat(ctx, token, prompt, adapter)
			if err != nil {
				return fmt.Errorf("open chat: %w", err)
			}
			if err := cache.SaveChatState(cachePath, cache.ChatState{ChatID: chatID, Adapter: adapter}); err != nil {
				log.Warn("save chat cache", "err", err)
			}
		} else {
			if err := eng.SendMessage(ctx, token, chatID, prompt, adapter); err != nil {
				return fmt.Errorf("send message: %w", err)
			}
		}

		err = eng.Stream(ctx, chatID, identity.UserToken, func(fragment string) error {
			fmt.Print(replyStyle.Render(fragment))
			return nil
		})
		fmt.Println()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("stream reply", "err", err)
		}
	}
}
