package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ctobridge/ctobridge/pkg/logutil"
	"github.com/ctobridge/ctobridge/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:     "ctobridge",
	Short:   "OpenAI-compatible bridge to the cto.new chat service",
	Long:    "ctobridge exposes a cookie-authenticated browser chat service through the standard OpenAI /v1/chat/completions contract.",
	Version: version.String(),
}

var rootLogLevel string

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "loglevel", "", "Log level (debug, info, warn, error); overrides config")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if rootLogLevel == "" {
			return nil
		}
		return logutil.Configure(rootLogLevel)
	}
}
