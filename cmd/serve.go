package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/gigasphere/internal/adjudicate"
	"github.com/sells-group/gigasphere/internal/canon"
	"github.com/sells-group/gigasphere/internal/model"
	"github.com/sells-group/gigasphere/internal/monitoring"
	"github.com/sells-group/gigasphere/internal/pipeline"
	"github.com/sells-group/gigasphere/internal/store"
	"github.com/sells-group/gigasphere/internal/tabular"
)

const maxRequestBytes = 32 << 20

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for the scoring stages and run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		c, err := loadCanon(canon.PartAll)
		if err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(c, st, cfg.Pipeline.Workers, cfg.Server.RequestsPerSecond),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("serve: shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("serve: starting server",
			zap.Int("port", cfg.Server.Port),
			zap.String("canon_hash", c.Hash()),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// api serves the stages over HTTP against one canon. Requests are stateless:
// nothing posted to a stage endpoint is recorded.
type api struct {
	canon   *canon.Canon
	store   store.Store
	workers int
}

// buildRouter wires the API routes. A nil store disables the run endpoints.
func buildRouter(c *canon.Canon, st store.Store, workers int, rps float64) http.Handler {
	a := &api{canon: c, store: st, workers: workers}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(rateLimit(rps))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "canon_hash": c.Hash()})
	})

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/coverage", a.handleCoverage)
		v1.Post("/measure", a.handleStage(pipeline.ModuleOne))
		v1.Post("/decide", a.handleStage(pipeline.ModuleTwo))
		v1.Post("/classify", a.handleStage(pipeline.Classify))

		v1.Get("/runs", a.listRuns)
		v1.Get("/runs/{id}", a.getRun)
		v1.Get("/stats", a.stats)
	})
	return r
}

// rateLimit rejects requests above rps with 429.
func rateLimit(rps float64) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, eris.New("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// stageResponse is the JSON body returned by the stage endpoints.
type stageResponse struct {
	Stage    string                  `json:"stage"`
	RowsIn   int                     `json:"rows_in"`
	Rows     any                     `json:"rows"`
	Excluded []model.RowError        `json:"excluded"`
	Outcomes map[string]int          `json:"outcomes,omitempty"`
	States   []adjudicate.StateCount `json:"states,omitempty"`
}

type stageFunc func(ctx context.Context, c *canon.Canon, workers int, in *tabular.Table) (*pipeline.Output, error)

func (a *api) handleStage(fn stageFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, ok := readTableBody(w, r)
		if !ok {
			return
		}
		out, err := fn(r.Context(), a.canon, a.workers, in)
		if err != nil {
			writeStageError(w, err)
			return
		}
		writeStage(w, r, out)
	}
}

func (a *api) handleCoverage(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseAsOf(r.URL.Query().Get("as_of"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if asOf.IsZero() {
		writeError(w, http.StatusBadRequest, eris.New("as_of query parameter is required"))
		return
	}
	in, ok := readTableBody(w, r)
	if !ok {
		return
	}
	out, err := pipeline.Coverage(r.Context(), a.workers, in, asOf)
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeStage(w, r, out)
}

// readTableBody parses a CSV request body.
func readTableBody(w http.ResponseWriter, r *http.Request) (*tabular.Table, bool) {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	in, err := tabular.Read(r.Context(), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid CSV body"))
		return nil, false
	}
	return in, true
}

// writeStage renders a stage output as CSV when the client accepts it, JSON
// otherwise.
func writeStage(w http.ResponseWriter, r *http.Request, out *pipeline.Output) {
	if r.Header.Get("Accept") == "text/csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		if err := tabular.Write(w, out.Table); err != nil {
			zap.L().Warn("serve: write csv response", zap.Error(err))
		}
		return
	}

	resp := stageResponse{
		Stage:    out.Stage,
		RowsIn:   out.RowsIn,
		Excluded: out.RowErrors,
		Outcomes: out.Outcomes(),
		States:   out.States(),
	}
	if resp.Excluded == nil {
		resp.Excluded = []model.RowError{}
	}
	switch out.Stage {
	case model.StageCoverage:
		resp.Rows = out.Coverage
	case model.StageModuleOne:
		resp.Rows = out.Measurements
	case model.StageModuleTwo:
		resp.Rows = out.Decisions
	case model.StageClassify:
		resp.Rows = out.Classifications
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeStageError(w http.ResponseWriter, err error) {
	if eris.Is(err, tabular.ErrMissingColumns) {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	zap.L().Error("serve: stage failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err)
}

func (a *api) requireStore(w http.ResponseWriter) bool {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, eris.New("run history is disabled"))
		return false
	}
	return true
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	q := r.URL.Query()
	filter := store.RunFilter{
		Status:  model.RunStatus(q.Get("status")),
		Command: q.Get("command"),
	}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid limit"))
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid offset"))
		return
	}

	runs, err := a.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *api) getRun(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	detail, err := loadRunDetail(r.Context(), a.store, chi.URLParam(r, "id"))
	switch {
	case eris.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, detail)
	}
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid hours"))
			return
		}
		hours = n
	}
	snap, err := monitoring.NewCollector(a.store).Collect(r.Context(), hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, eris.Errorf("must be >= 0, got %d", n)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("serve: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
