package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lastmile-ai/aiconfig-sub000/internal/logger"
	"github.com/lastmile-ai/aiconfig-sub000/internal/model"
	"github.com/lastmile-ai/aiconfig-sub000/internal/parsers"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "aiconfig",
	Short: "aiconfig runtime and editor server",
	Long: `aiconfig manages parameterized, versioned AI configuration documents.

Commands:
  aiconfig run      Run a prompt from a configuration file
  aiconfig editor   Serve the websocket editor backend
  aiconfig models   List registered model parsers`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logger.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
		parsers.RegisterDefaults(model.Default())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info",
		"Log level: trace, debug, info, warn, error, fatal, panic")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
