// Package store persists analyses, cached explorer ABIs and the batch dead
// letter queue in SQLite or PostgreSQL.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/txlens/internal/config"
	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/resilience"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// AnalysisFilter specifies criteria for listing analyses.
type AnalysisFilter struct {
	Kind        model.InputKind `json:"kind,omitempty"`
	ChainID     int64           `json:"chain_id,omitempty"`
	PartialOnly bool            `json:"partial_only,omitempty"`
	Since       time.Time       `json:"since,omitempty"`
	Limit       int             `json:"limit,omitempty"`
	Offset      int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for analyses.
type Store interface {
	// Analyses
	SaveAnalysis(ctx context.Context, rec model.AnalysisRecord) error
	SaveAnalyses(ctx context.Context, recs []model.AnalysisRecord) (int64, error)
	GetAnalysis(ctx context.Context, id string) (*model.AnalysisRecord, error)
	ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.AnalysisRecord, error)

	// Explorer ABI cache
	GetCachedABI(ctx context.Context, chainID int64, address string) (*model.CachedABI, error)
	SetCachedABI(ctx context.Context, entry model.CachedABI) error

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// NewRecord wraps a finished analysis for persistence.
func NewRecord(input string, res *model.AnalysisResult, createdAt time.Time) model.AnalysisRecord {
	return model.AnalysisRecord{
		ID:        res.ID,
		Input:     input,
		ChainID:   res.ChainID,
		Kind:      res.InputKind,
		Result:    res,
		CreatedAt: createdAt.UTC(),
	}
}

// Open connects to the configured backend and applies migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	case "sqlite", "":
		st, err = NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

const defaultListLimit = 100

// explanationCost returns the recorded explanation cost of a result.
func explanationCost(res *model.AnalysisResult) float64 {
	if res == nil || res.Explanation == nil {
		return 0
	}
	return res.Explanation.CostUSD
}
