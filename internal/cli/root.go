package cli

import (
	"os"

	"github.com/lazypower/recall/internal/config"
	"github.com/lazypower/recall/internal/logging"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded once per invocation before any command runs.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "A personal assistant that remembers what you tell it",
	Long: "Recall stores facts you give it and answers questions from them. " +
		"Prompts are split into sub-queries, matched against stored memories by embedding " +
		"similarity, filtered by a relevance check, and answered with the survivors as context.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.recall/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(memorizeCmd)
	rootCmd.AddCommand(memoriesCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}

	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	cfg = loaded

	logging.SetDefault(logging.New(cfg.Log.Level, os.Stderr))
	return nil
}
