package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/txlens/internal/monitoring"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recent analyses",
	Long:  "Prints partial and unresolved rates, source wins, risk levels and explanation cost over a lookback window. With --alert the configured thresholds are checked and alerts delivered.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mcfg := cfg.Monitoring
		if lookback, _ := cmd.Flags().GetInt("lookback"); lookback > 0 {
			mcfg.LookbackWindowHours = lookback
		}
		collector := monitoring.NewCollector(st)

		if alert, _ := cmd.Flags().GetBool("alert"); alert {
			alerts, err := monitoring.NewChecker(collector, monitoring.NewAlerter(mcfg), mcfg).Check(ctx)
			if err != nil {
				return eris.Wrap(err, "stats alert")
			}
			if alerts == nil {
				alerts = []monitoring.Alert{}
			}
			return writeJSON(os.Stdout, alerts, false)
		}

		snap, err := collector.Collect(ctx, mcfg.LookbackWindowHours)
		if err != nil {
			return eris.Wrap(err, "stats")
		}
		return writeJSON(os.Stdout, snap, false)
	},
}

func init() {
	statsCmd.Flags().Int("lookback", 0, "lookback window in hours (default from config)")
	statsCmd.Flags().Bool("alert", false, "evaluate alert thresholds and deliver alerts")
	rootCmd.AddCommand(statsCmd)
}
