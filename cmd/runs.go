package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/resilience"
	"github.com/sells-group/txlens/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect saved analyses",
	Long:  "Commands for listing and viewing saved analyses and the dead letter queue.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved analyses",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		kind, _ := cmd.Flags().GetString("kind")
		chain, _ := cmd.Flags().GetInt64("chain")
		partial, _ := cmd.Flags().GetBool("partial")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.AnalysisFilter{
			Kind:        model.InputKind(kind),
			ChainID:     chain,
			PartialOnly: partial,
			Limit:       limit,
		}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		recs, err := st.ListAnalyses(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No analyses found.")
			return nil
		}

		formatAnalysisList(os.Stdout, recs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <analysis-id>",
	Short: "Show the full result of a saved analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetAnalysis(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		return writeJSON(os.Stdout, rec, false)
	},
}

// -- runs dlq --

var runsDLQCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List inputs waiting in the dead letter queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if count, _ := cmd.Flags().GetBool("count"); count {
			n, err := st.CountDLQ(ctx)
			if err != nil {
				return eris.Wrap(err, "runs dlq")
			}
			fmt.Fprintln(os.Stdout, n)
			return nil
		}

		errType, _ := cmd.Flags().GetString("error-type")
		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{ErrorType: errType, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs dlq")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No due entries.")
			return nil
		}
		formatDLQList(os.Stdout, entries)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("kind", "", "filter by input kind (tx_hash, calldata, signature, unknown)")
	runsListCmd.Flags().Int64("chain", 0, "filter by chain id")
	runsListCmd.Flags().Bool("partial", false, "only show analyses with an error summary")
	runsListCmd.Flags().Duration("since", 0, "only show analyses newer than this (e.g. 24h)")
	runsListCmd.Flags().Int("limit", 50, "max number of analyses to display")

	runsDLQCmd.Flags().String("error-type", "", "filter by error type (transient, permanent)")
	runsDLQCmd.Flags().Int("limit", 50, "max number of entries to display")
	runsDLQCmd.Flags().Bool("count", false, "print only the queue depth")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDLQCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatAnalysisList writes a tabular list of analyses to w.
func formatAnalysisList(out io.Writer, recs []model.AnalysisRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCHAIN\tKIND\tRISK\tABI_SOURCE\tPARTIAL\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-----\t----\t----\t----------\t-------\t-------")

	for _, r := range recs {
		risk, source, partial := "", "", false
		if r.Result != nil {
			risk = string(r.Result.RiskLevel)
			source = r.Result.Diagnostics.AbiSource
			partial = r.Result.Partial()
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%t\t%s\n",
			truncateID(r.ID),
			r.ChainID,
			r.Kind,
			risk,
			source,
			partial,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatDLQList writes a tabular list of dead letter entries to w.
func formatDLQList(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tINPUT\tTYPE\tRETRIES\tNEXT_RETRY\tERROR")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			truncateID(e.ID),
			truncate(e.Input, 20),
			e.ErrorType,
			e.RetryCount,
			e.MaxRetries,
			e.NextRetryAt.Format("2006-01-02 15:04"),
			truncate(e.Error, 60),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
