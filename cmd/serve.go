package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/monitoring"
	"github.com/sells-group/entity-resolver/internal/pipeline"
	"github.com/sells-group/entity-resolver/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the resolution HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initRunner(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		staleAfter := time.Duration(cfg.Pipeline.StaleAfterSecs) * time.Second
		router := newRouter(serverDeps{
			baseCtx: ctx,
			store:   env.Store,
			resolve: func(ctx context.Context, req pipeline.Request) (*model.ProcessingResult, error) {
				return env.Runner.Resolve(ctx, req)
			},
			collector:  monitoring.NewCollector(env.Store, staleAfter),
			staleAfter: staleAfter,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// serverDeps carries everything the HTTP handlers need. baseCtx outlives
// individual requests so async resolutions survive client disconnects.
type serverDeps struct {
	baseCtx    context.Context
	store      store.Store
	resolve    resolveFunc
	collector  *monitoring.Collector
	staleAfter time.Duration
}

func newRouter(d serverDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/process", d.handleProcess)
	r.Get("/status/{runID}", d.handleStatus)
	r.Get("/runs", d.handleRuns)
	r.Get("/metrics", d.handleMetrics)

	return r
}

func (d serverDeps) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Domain == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "domain is required"})
		return
	}
	if req.HTML == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "html is required"})
		return
	}

	req.RunID = uuid.NewString()

	// Resolution continues after the client disconnects.
	go func() {
		res, err := d.resolve(d.baseCtx, req)
		switch {
		case eris.Is(err, pipeline.ErrNoClaims):
			zap.L().Warn("async resolution produced no claims", zap.String("domain", req.Domain))
		case err != nil:
			zap.L().Error("async resolution failed", zap.String("domain", req.Domain), zap.Error(err))
		default:
			zap.L().Info("async resolution complete",
				zap.String("domain", req.Domain),
				zap.String("run_id", res.RunID),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": req.RunID,
		"status": "accepted",
	})
}

// statusResponse is the compact run view returned by GET /status/{runID}.
type statusResponse struct {
	RunID  string `json:"run_id"`
	Domain string `json:"domain"`
	Status string `json:"status"`
	Stale  bool   `json:"stale,omitempty"`
	Entity string `json:"entity,omitempty"`
	Grade  string `json:"grade,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (d serverDeps) handleStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := d.store.GetProcessingResult(r.Context(), runID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store lookup failed"})
		return
	}
	if run == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}

	entity, grade := topEntity(run.FinalResult)
	writeJSON(w, http.StatusOK, statusResponse{
		RunID:  run.RunID,
		Domain: run.Domain,
		Status: string(run.Status),
		Stale:  pipeline.IsStale(run, d.staleAfter),
		Entity: entity,
		Grade:  grade,
		Error:  run.ErrorMessage,
	})
}

func (d serverDeps) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
	}

	runs, err := d.store.ListProcessingResults(r.Context(), store.Filter{
		Status: model.ProcessingStatus(r.URL.Query().Get("status")),
		Domain: r.URL.Query().Get("domain"),
		Limit:  limit,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store lookup failed"})
		return
	}

	out := make([]statusResponse, 0, len(runs))
	for i := range runs {
		run := &runs[i]
		entity, grade := topEntity(run.FinalResult)
		out = append(out, statusResponse{
			RunID:  run.RunID,
			Domain: run.Domain,
			Status: string(run.Status),
			Stale:  pipeline.IsStale(run, d.staleAfter),
			Entity: entity,
			Grade:  grade,
			Error:  run.ErrorMessage,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (d serverDeps) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := d.collector.Collect(r.Context(), 24)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "metrics collection failed"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
