package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/txlens/internal/config"
	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/monitoring"
	"github.com/sells-group/txlens/internal/pipeline"
	"github.com/sells-group/txlens/internal/store"
)

var servePort int

const defaultMaxBodyBytes = 1 << 20

// server holds the dependencies of the HTTP handlers.
type server struct {
	analyzer     analyzer
	store        store.Store
	collector    *monitoring.Collector
	defaultChain int64
	maxBody      int64
	timeout      time.Duration
	lookback     int
}

// newRouter builds the HTTP API. st may be nil, in which case analyses are
// not persisted and the history endpoints answer 503.
func newRouter(a analyzer, st store.Store, c *config.Config) http.Handler {
	s := &server{
		analyzer:     a,
		store:        st,
		defaultChain: c.RPC.DefaultChainID,
		maxBody:      c.Server.MaxBodyBytes,
		timeout:      time.Duration(c.Server.RequestTimeoutS) * time.Second,
		lookback:     c.Monitoring.LookbackWindowHours,
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBodyBytes
	}
	if st != nil {
		s.collector = monitoring.NewCollector(st)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: c.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/classify", s.handleClassify)
		r.Get("/analyses", s.handleListAnalyses)
		r.Get("/analyses/{id}", s.handleGetAnalysis)
		r.Get("/stats", s.handleStats)
	})
	return r
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Input == "" {
		respondError(w, http.StatusBadRequest, "input is required")
		return
	}
	if req.ChainID < 0 {
		respondError(w, http.StatusBadRequest, "chain_id must be positive")
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := runAnalysis(ctx, s.analyzer, s.store, req, s.defaultChain)
	if err != nil {
		zap.L().Warn("serve: analysis incomplete",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		if res == nil {
			respondError(w, http.StatusInternalServerError, "analysis failed")
			return
		}
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input string `json:"input"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"kind": string(pipeline.Classify(req.Input))})
}

func (s *server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	rec, err := s.store.GetAnalysis(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "analysis not found")
			return
		}
		zap.L().Error("serve: get analysis", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	filter, err := parseAnalysisFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := s.store.ListAnalyses(r.Context(), filter)
	if err != nil {
		zap.L().Error("serve: list analyses", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if recs == nil {
		recs = []model.AnalysisRecord{}
	}
	respondJSON(w, http.StatusOK, recs)
}

// parseAnalysisFilter reads kind, chain_id, partial, since (a duration such
// as 24h), limit and offset from the query string.
func parseAnalysisFilter(r *http.Request) (store.AnalysisFilter, error) {
	q := r.URL.Query()
	f := store.AnalysisFilter{Kind: model.InputKind(q.Get("kind"))}

	intParam := func(name string, dst *int) error {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return eris.Errorf("invalid %s", name)
			}
			*dst = n
		}
		return nil
	}
	if v := q.Get("chain_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return f, eris.New("invalid chain_id")
		}
		f.ChainID = id
	}
	if v := q.Get("partial"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, eris.New("invalid partial")
		}
		f.PartialOnly = b
	}
	if v := q.Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return f, eris.New("invalid since")
		}
		f.Since = time.Now().Add(-d)
	}
	if err := intParam("limit", &f.Limit); err != nil {
		return f, err
	}
	if err := intParam("offset", &f.Offset); err != nil {
		return f, err
	}
	return f, nil
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		respondError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	lookback := s.lookback
	if lookback <= 0 {
		lookback = 24
	}
	if v := r.URL.Query().Get("lookback_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid lookback_hours")
			return
		}
		lookback = n
	}
	snap, err := s.collector.Collect(r.Context(), lookback)
	if err != nil {
		zap.L().Error("serve: collect stats", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// resolvePort prefers the --port flag over the configured port.
func resolvePort(flagPort int, c *config.Config) int {
	if flagPort > 0 {
		return flagPort
	}
	return c.Server.Port
}

// startServer serves handler on port until ctx is canceled, then shuts down
// gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return eris.Wrap(err, "server listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve", true)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		return startServer(ctx, newRouter(env.Analyzer, env.Store, cfg), resolvePort(servePort, cfg))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
