// Package httpserver exposes the strategy engine over HTTP: snapshot
// intake, run control, status polling, and a server-sent event stream
// of phase transitions.
package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/roadmind/strategy-engine/internal/model"
	"github.com/roadmind/strategy-engine/internal/runner"
	"github.com/roadmind/strategy-engine/internal/store"
	"github.com/roadmind/strategy-engine/internal/telemetry"
)

// Server wires the runner and store into HTTP handlers.
type Server struct {
	runner *runner.Runner
	store  store.Store
}

// New creates a Server.
func New(r *runner.Runner, st store.Store) *Server {
	return &Server{runner: r, store: st}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		telemetry.GetRegistry(), promhttp.HandlerOpts{},
	))

	r.Route("/api", func(r chi.Router) {
		r.Post("/snapshots", s.handleCreateSnapshot)
		r.Get("/providers/health", s.handleProviderHealth)
		r.Get("/runs", s.handleListRuns)

		r.Route("/strategy/{snapshotID}", func(r chi.Router) {
			r.Post("/run", s.handleStartRun)
			r.Get("/status", s.handleStatus)
			r.Get("/events", s.handleEvents)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_runs": s.runner.ActiveRuns(),
		"time":        time.Now().UTC(),
	})
}

type snapshotRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Locality  string  `json:"locality"`
	Market    string  `json:"market"`
	Timezone  string  `json:"timezone"`
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		respondError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}

	id, err := s.store.CreateSnapshot(r.Context(), model.Snapshot{
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		Locality:   req.Locality,
		Market:     req.Market,
		Timezone:   req.Timezone,
		CapturedAt: time.Now().UTC(),
	})
	if err != nil {
		zap.L().Error("create snapshot", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not persist snapshot")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"snapshot_id": id})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	snapshotID := chi.URLParam(r, "snapshotID")

	run, started, err := s.runner.StartRun(r.Context(), snapshotID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "snapshot not found")
			return
		}
		zap.L().Error("start run", zap.String("snapshot_id", snapshotID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not start run")
		return
	}

	status := http.StatusAccepted
	if !started {
		// An identical request is already in flight; hand back its state.
		status = http.StatusOK
	}
	respondJSON(w, status, run)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshotID := chi.URLParam(r, "snapshotID")

	run, err := s.runner.Status(r.Context(), snapshotID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "no runs for snapshot")
			return
		}
		zap.L().Error("run status", zap.String("snapshot_id", snapshotID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not read run state")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// handleEvents streams phase transitions for the snapshot's active run
// as server-sent events, ending when the run reaches a terminal state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	snapshotID := chi.URLParam(r, "snapshotID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch, cancel, active := s.runner.Subscribe(snapshotID)
	if !active {
		respondError(w, http.StatusNotFound, "no active run for snapshot")
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case run, open := <-ch:
			if !open {
				fmt.Fprint(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			payload, err := json.Marshal(run)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: phase\ndata: %s\n\n", payload)
			flusher.Flush()
			if run.Phase.Terminal() {
				return
			}
		}
	}
}

func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, telemetry.ProviderHealthSnapshot())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		SnapshotID: r.URL.Query().Get("snapshot_id"),
		Status:     model.RunStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("list runs", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	if runs == nil {
		runs = []*model.PipelineRun{}
	}
	respondJSON(w, http.StatusOK, runs)
}

// metricsMiddleware records request counts and latency per route
// pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}
		telemetry.RecordHTTPRequest(pattern, r.Method,
			strconv.Itoa(ww.Status()), float64(time.Since(start).Milliseconds()))
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
