package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/segdl/internal/config"
	"github.com/NamanBalaji/segdl/internal/logger"
)

var Version = "dev"

var (
	debug bool
	cfg   *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "segdl",
	Short:         "segdl is a segmented, resumable, mirror-aware downloader",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		cfg, err = config.GetConfig()
		if err != nil {
			return fmt.Errorf("reading %s: %w", config.Path(), err)
		}

		return logger.InitLogging(debug, cfg.LogPath)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Close()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging to the log file")

	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newHistoryCmd())
}
