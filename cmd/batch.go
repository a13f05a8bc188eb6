package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/resilience"
	"github.com/sells-group/txlens/internal/store"
)

// batchItem is one input line of a batch file.
type batchItem struct {
	Input   string
	ChainID int64
	dlqID   string
	retries int
}

// parseBatchInput reads one input per line. Blank lines and lines starting
// with '#' are skipped. A line may lead with a decimal chain id followed by
// whitespace; JSON lines are taken whole.
func parseBatchInput(r io.Reader) ([]batchItem, error) {
	var items []batchItem
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		item := batchItem{Input: line}
		if !strings.HasPrefix(line, "{") {
			if fields := strings.Fields(line); len(fields) == 2 {
				if id, err := strconv.ParseInt(fields[0], 10, 64); err == nil && id > 0 {
					item = batchItem{Input: fields[1], ChainID: id}
				}
			}
		}
		items = append(items, item)
	}
	return items, eris.Wrap(sc.Err(), "batch: read input")
}

// batchStore is the part of store.Store the batch runner writes to.
type batchStore interface {
	SaveAnalyses(ctx context.Context, recs []model.AnalysisRecord) (int64, error)
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
}

// batchRunner analyzes items concurrently, saves the results and routes
// transient failures to the dead letter queue.
type batchRunner struct {
	analyzer     analyzer
	store        batchStore
	concurrency  int
	itemTimeout  time.Duration
	defaultChain int64
	maxRetries   int
	retry        resilience.RetryPolicy
	explain      bool
	language     string
	now          func() time.Time
}

// batchSummary counts batch outcomes.
type batchSummary struct {
	Total    int   `json:"total"`
	Complete int64 `json:"complete"`
	Partial  int64 `json:"partial"`
	Invalid  int64 `json:"invalid"`
	Queued   int64 `json:"dead_lettered"`
	Saved    int64 `json:"saved"`
}

func (b *batchRunner) run(ctx context.Context, items []batchItem) (batchSummary, error) {
	sum := batchSummary{Total: len(items)}
	if len(items) == 0 {
		zap.L().Info("batch: no inputs")
		return sum, nil
	}

	zap.L().Info("batch: processing",
		zap.Int("inputs", len(items)),
		zap.Int("concurrency", b.concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	var (
		mu      sync.Mutex
		records []model.AnalysisRecord
		complete, partial, invalid, queued atomic.Int64
	)

	for _, item := range items {
		g.Go(func() error {
			res, failure := b.analyzeOne(gctx, item)
			switch {
			case res != nil && res.InputKind == model.InputKindUnknown:
				invalid.Add(1)
				zap.L().Warn("batch: unrecognized input", zap.String("input", truncate(item.Input, 80)))
			case failure != nil:
				queued.Add(1)
				b.deadLetter(ctx, item, failure)
			case res.Partial():
				partial.Add(1)
			default:
				complete.Add(1)
			}
			if failure == nil && item.dlqID != "" {
				if err := b.store.RemoveDLQ(context.WithoutCancel(ctx), item.dlqID); err != nil {
					zap.L().Warn("batch: remove dlq entry", zap.String("id", item.dlqID), zap.Error(err))
				}
			}
			if res != nil && failure == nil {
				rec := store.NewRecord(item.Input, res, b.now())
				mu.Lock()
				records = append(records, rec)
				mu.Unlock()
			}
			return nil // one input never aborts the batch
		})
	}
	if err := g.Wait(); err != nil {
		return sum, eris.Wrap(err, "batch processing")
	}

	sum.Complete = complete.Load()
	sum.Partial = partial.Load()
	sum.Invalid = invalid.Load()
	sum.Queued = queued.Load()

	saved, err := b.store.SaveAnalyses(context.WithoutCancel(ctx), records)
	sum.Saved = saved
	if err != nil {
		return sum, eris.Wrap(err, "batch: save analyses")
	}

	zap.L().Info("batch: complete",
		zap.Int64("complete", sum.Complete),
		zap.Int64("partial", sum.Partial),
		zap.Int64("invalid", sum.Invalid),
		zap.Int64("dead_lettered", sum.Queued),
		zap.Int64("saved", sum.Saved),
	)
	return sum, ctx.Err()
}

// itemFailure describes why an input belongs in the dead letter queue.
type itemFailure struct {
	step  string
	msg   string
	class string
}

// analyzeOne runs one analysis. It returns a failure when the analysis was
// canceled or a step failed for a transient reason worth retrying.
func (b *batchRunner) analyzeOne(ctx context.Context, item batchItem) (*model.AnalysisResult, *itemFailure) {
	if b.itemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.itemTimeout)
		defer cancel()
	}

	chainID := item.ChainID
	if chainID <= 0 {
		chainID = b.defaultChain
	}
	res, err := b.analyzer.Analyze(ctx, item.Input, chainID, analyzeRequest{
		Explain:  b.explain,
		Language: b.language,
		Trace:    true,
	}.options())
	if err != nil {
		return res, &itemFailure{msg: err.Error(), class: resilience.ErrorTypeTransient}
	}
	return res, transientFailure(res)
}

// transientFailure returns the first failed step whose reason is transient.
// Resolver steps are skipped: a later source may have covered them.
func transientFailure(res *model.AnalysisResult) *itemFailure {
	for _, s := range res.Trace {
		if s.Status != model.StepStatusFailed || s.Phase == model.PhaseSourceResolution {
			continue
		}
		if resilience.ClassifyReason(s.Reason) == resilience.ErrorTypeTransient {
			return &itemFailure{step: s.Name, msg: s.Name + ": " + s.Reason, class: resilience.ErrorTypeTransient}
		}
	}
	return nil
}

func (b *batchRunner) deadLetter(ctx context.Context, item batchItem, f *itemFailure) {
	ctx = context.WithoutCancel(ctx)
	now := b.now()
	log := zap.L().With(zap.String("input", truncate(item.Input, 80)), zap.String("error", f.msg))

	if item.dlqID != "" {
		entry := resilience.DLQEntry{RetryCount: item.retries}
		if err := b.store.IncrementDLQRetry(ctx, item.dlqID, entry.NextRetry(now, b.retry), f.msg); err != nil {
			log.Error("batch: update dlq entry", zap.Error(err))
		}
		return
	}

	entry := resilience.DLQEntry{
		Input:        item.Input,
		ChainID:      item.ChainID,
		Error:        f.msg,
		ErrorType:    f.class,
		FailedStep:   f.step,
		MaxRetries:   b.maxRetries,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	entry.NextRetryAt = entry.NextRetry(now, b.retry)
	if err := b.store.EnqueueDLQ(ctx, entry); err != nil {
		log.Error("batch: enqueue dlq", zap.Error(err))
		return
	}
	log.Warn("batch: dead-lettered input")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var batchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Analyze many inputs concurrently",
	Long:  "Analyze one input per line from a file or stdin, save the results, and dead-letter inputs that failed for transient reasons. --retry-dlq re-runs due dead-lettered inputs instead.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "batch", true)
		if err != nil {
			return err
		}
		defer env.Close()

		retryDLQ, _ := cmd.Flags().GetBool("retry-dlq")
		limit, _ := cmd.Flags().GetInt("limit")

		var items []batchItem
		if retryDLQ {
			items, err = dlqItems(ctx, env.Store, limit)
		} else {
			items, err = readBatchItems(args)
			if limit > 0 && len(items) > limit {
				items = items[:limit]
			}
		}
		if err != nil {
			return err
		}

		runner := newBatchRunner(env.Analyzer, env.Store)
		runner.explain, _ = cmd.Flags().GetBool("explain")
		runner.language, _ = cmd.Flags().GetString("lang")
		if chain, _ := cmd.Flags().GetInt64("chain"); chain > 0 {
			runner.defaultChain = chain
		}

		sum, err := runner.run(ctx, items)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, sum, true)
	},
}

func newBatchRunner(a analyzer, st batchStore) *batchRunner {
	return &batchRunner{
		analyzer:     a,
		store:        st,
		concurrency:  cfg.Batch.MaxConcurrent,
		itemTimeout:  time.Duration(cfg.Batch.ItemTimeoutS) * time.Second,
		defaultChain: cfg.RPC.DefaultChainID,
		maxRetries:   cfg.Batch.DLQMaxRetries,
		retry:        retryPolicy(cfg.Resilience.Retry),
		now:          time.Now,
	}
}

func readBatchItems(args []string) ([]batchItem, error) {
	if len(args) == 0 || args[0] == "-" {
		return parseBatchInput(os.Stdin)
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, eris.Wrapf(err, "batch: open %s", args[0])
	}
	defer f.Close() //nolint:errcheck
	return parseBatchInput(f)
}

// dlqItems loads due transient dead-letter entries as batch items.
func dlqItems(ctx context.Context, st store.Store, limit int) ([]batchItem, error) {
	entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{ErrorType: resilience.ErrorTypeTransient, Limit: limit})
	if err != nil {
		return nil, eris.Wrap(err, "batch: dequeue dlq")
	}
	items := make([]batchItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, batchItem{Input: e.Input, ChainID: e.ChainID, dlqID: e.ID, retries: e.RetryCount})
	}
	return items, nil
}

func init() {
	addAnalyzeFlags(batchCmd)
	batchCmd.Flags().Int("limit", 0, "max number of inputs to process (0 = all)")
	batchCmd.Flags().Bool("retry-dlq", false, "re-run due dead-lettered inputs")
	rootCmd.AddCommand(batchCmd)
}
