package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ctobridge/ctobridge/pkg/config"
	"github.com/ctobridge/ctobridge/pkg/credentials"
	"github.com/ctobridge/ctobridge/pkg/engine"
	"github.com/ctobridge/ctobridge/pkg/logutil"
	"github.com/ctobridge/ctobridge/pkg/proxy"
)

var (
	serveConfigPath          string
	serveListenAddrOverride  string
	serveCookiesFileOverride string
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrCreateServerConfig(serveConfigPath)
			if err != nil {
				return fmt.Errorf("load server config: %w", err)
			}
			cfg.ApplyEnvOverrides()
			if cmd.Flags().Changed("listen-addr") {
				cfg.ListenAddr = serveListenAddrOverride
			}
			if cmd.Flags().Changed("cookies") {
				cfg.CookiesFile = serveCookiesFileOverride
			}
			if rootLogLevel == "" {
				if err := logutil.Configure(cfg.LogLevel); err != nil {
					return err
				}
			}

			pool := credentials.NewPool(cfg.CookiesFile)
			if _, err := pool.Next(); err != nil {
				// Surface a dead credential store at startup instead of on
				// the first request.
				return err
			}
			log.Info("credential pool ready", "file", cfg.CookiesFile, "size", pool.Size())

			eng := engine.NewClient(cfg.Upstream, cfg.Stream)
			srv := proxy.NewServer(cfg, pool, eng)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return srv.Run(ctx)
		},
	}
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultServerConfigPath(), "Server config TOML path")
	serveCmd.Flags().StringVar(&serveListenAddrOverride, "listen-addr", "", "Override listen address from config (e.g. 127.0.0.1:8000)")
	serveCmd.Flags().StringVar(&serveCookiesFileOverride, "cookies", "", "Override credential store path from config")
	rootCmd.AddCommand(serveCmd)
}
