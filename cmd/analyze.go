package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/pipeline"
	"github.com/sells-group/txlens/internal/store"
)

// analyzeRequest is one analysis as requested over HTTP or assembled from
// CLI flags.
type analyzeRequest struct {
	Input    string `json:"input"`
	ChainID  int64  `json:"chain_id,omitempty"`
	Explain  bool   `json:"explain,omitempty"`
	Trace    bool   `json:"trace,omitempty"`
	Language string `json:"language,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Value    string `json:"value,omitempty"`
	ABI      string `json:"abi,omitempty"`
}

// chain returns the requested chain or def when unset.
func (r analyzeRequest) chain(def int64) int64 {
	if r.ChainID > 0 {
		return r.ChainID
	}
	return def
}

func (r analyzeRequest) options() pipeline.Options {
	opts := pipeline.Options{
		IncludeExplanation: r.Explain,
		IncludeTrace:       r.Trace,
		Language:           r.Language,
		UserABI:            r.ABI,
	}
	if r.From != "" || r.To != "" || r.Value != "" {
		opts.Context = &model.TxContext{From: r.From, To: r.To, Value: r.Value}
	}
	return opts
}

// analyzer is the part of pipeline.Analyzer the commands use.
type analyzer interface {
	Analyze(ctx context.Context, raw string, chainID int64, opts pipeline.Options) (*model.AnalysisResult, error)
}

// runAnalysis analyzes req and, when st is non-nil, persists the result.
// Canceled analyses are not persisted.
func runAnalysis(ctx context.Context, a analyzer, st store.Store, req analyzeRequest, defaultChain int64) (*model.AnalysisResult, error) {
	res, err := a.Analyze(ctx, req.Input, req.chain(defaultChain), req.options())
	if err != nil {
		return res, err
	}
	if st != nil {
		if err := st.SaveAnalysis(ctx, store.NewRecord(req.Input, res, time.Now())); err != nil {
			return res, eris.Wrap(err, "persist analysis")
		}
	}
	return res, nil
}

func writeJSON(w io.Writer, v any, compact bool) error {
	enc := json.NewEncoder(w)
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <tx-hash|calldata|typed-data-json>",
	Short: "Analyze one transaction hash, calldata blob or signature request",
	Long:  "Analyze one input. Pass '-' to read it from stdin (useful for EIP-712 JSON).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req, err := analyzeRequestFromFlags(cmd, args[0], os.Stdin)
		if err != nil {
			return err
		}
		persist, _ := cmd.Flags().GetBool("persist")
		compact, _ := cmd.Flags().GetBool("compact")

		env, err := initEnv(ctx, "analyze", persist)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := runAnalysis(ctx, env.Analyzer, env.Store, req, cfg.RPC.DefaultChainID)
		if res != nil {
			if wErr := writeJSON(os.Stdout, res, compact); wErr != nil {
				return eris.Wrap(wErr, "write result")
			}
		}
		return err
	},
}

// analyzeRequestFromFlags builds a request from the analyze flags. An input
// of "-" is read from stdin and the --abi flag names a file.
func analyzeRequestFromFlags(cmd *cobra.Command, input string, stdin io.Reader) (analyzeRequest, error) {
	if input == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return analyzeRequest{}, eris.Wrap(err, "read stdin")
		}
		input = string(data)
	}

	req := analyzeRequest{Input: strings.TrimSpace(input)}
	req.ChainID, _ = cmd.Flags().GetInt64("chain")
	req.Explain, _ = cmd.Flags().GetBool("explain")
	req.Trace, _ = cmd.Flags().GetBool("trace")
	req.Language, _ = cmd.Flags().GetString("lang")
	req.From, _ = cmd.Flags().GetString("from")
	req.To, _ = cmd.Flags().GetString("to")
	req.Value, _ = cmd.Flags().GetString("value")

	if path, _ := cmd.Flags().GetString("abi"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return analyzeRequest{}, eris.Wrapf(err, "read abi file %s", path)
		}
		req.ABI = string(data)
	}
	return req, nil
}

func addAnalyzeFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("chain", 0, "chain id (default from config)")
	cmd.Flags().Bool("explain", false, "request a natural-language explanation")
	cmd.Flags().Bool("trace", true, "include the step trace in the output")
	cmd.Flags().String("lang", "", "explanation language as a BCP 47 tag (default en)")
}

func init() {
	addAnalyzeFlags(analyzeCmd)
	analyzeCmd.Flags().String("from", "", "sender address for raw calldata")
	analyzeCmd.Flags().String("to", "", "target contract for raw calldata")
	analyzeCmd.Flags().String("value", "", "native value in wei for raw calldata")
	analyzeCmd.Flags().String("abi", "", "path to a JSON ABI tried first during resolution")
	analyzeCmd.Flags().Bool("persist", false, "save the analysis to the store")
	analyzeCmd.Flags().Bool("compact", false, "print compact JSON")
	rootCmd.AddCommand(analyzeCmd)
}
