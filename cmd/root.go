package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/txlens/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "txlens",
	Short: "Explain EVM transactions, calldata and signature requests",
	Long:  "Classifies a raw input, resolves contract ABIs through a fallback chain, decodes and analyzes the call, and reports assets, risk and a step-by-step trace.",
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
