package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gigasphere/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "gigasphere",
	Short: "Evidence coverage scoring and adjudication pipeline",
	Long: "Scores ledger evidence coverage per entity and dataset, gates measurement against the canon, " +
		"and decides AUTH, HOLD or BLOCK for every entity. Every stage reads and writes flat tables.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
