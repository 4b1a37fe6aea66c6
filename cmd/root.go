package cmd

import (
	"fmt"
	"os"

	"Kickfolio/config"
	"Kickfolio/logger"
	"Kickfolio/server"

	"github.com/spf13/cobra"
)

// cfg 由 PersistentPreRun 加载，所有子命令共用
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "kickfolio",
	Short: "Kickfolio is a music portfolio whose visuals pulse on every kick drum.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		logger.InitLogger(logger.Config{
			Level:       logger.LogLevel(cfg.LogLevel),
			OutputPath:  cfg.LogFile,
			MaxSize:     cfg.LogMaxSizeMB,
			MaxBackups:  cfg.LogMaxBackups,
			MaxAge:      cfg.LogMaxAgeDays,
			Compress:    true,
			Development: cfg.Environment == "development",
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Start(cfg)
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
