// Package server exposes the audit operations over HTTP. Handlers only
// decode, dispatch, and encode; all behavior lives in the core packages.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/material-audit/internal/audit"
	"github.com/sells-group/material-audit/internal/history"
	"github.com/sells-group/material-audit/internal/model"
	"github.com/sells-group/material-audit/internal/store"
)

// Runner is the orchestrator surface the server dispatches to.
type Runner interface {
	Run(ctx context.Context, projectID int64, req model.MatchingScope) (*audit.Report, error)
	RunMatch(ctx context.Context, projectID int64, req model.MatchingScope) (*audit.Report, error)
	RunAnalyze(ctx context.Context, projectID int64, req model.MatchingScope) (*audit.Report, error)
}

// Server wires the HTTP routes.
type Server struct {
	st     store.Store
	runner Runner
	trail  *history.Log
}

// New creates a server over the store and orchestrator.
func New(st store.Store, runner Runner) *Server {
	return &Server{st: st, runner: runner, trail: history.NewLog(st, nil)}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/projects/{projectID}", func(r chi.Router) {
		r.Get("/", s.handleGetProject)
		r.Post("/match", s.runHandler(func(ctx context.Context, id int64, sc model.MatchingScope) (*audit.Report, error) {
			return s.runner.RunMatch(ctx, id, sc)
		}))
		r.Post("/analyze", s.runHandler(func(ctx context.Context, id int64, sc model.MatchingScope) (*audit.Report, error) {
			return s.runner.RunAnalyze(ctx, id, sc)
		}))
		r.Post("/audit", s.runHandler(func(ctx context.Context, id int64, sc model.MatchingScope) (*audit.Report, error) {
			return s.runner.Run(ctx, id, sc)
		}))
	})
	r.Get("/materials/{materialID}/history", s.handleHistory)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// scopeRequest is the JSON body accepted by the run endpoints.
type scopeRequest struct {
	PriceDate string `json:"price_date"`
	Province  string `json:"province"`
	City      string `json:"city"`
	District  string `json:"district"`
}

func (s *Server) runHandler(run func(ctx context.Context, id int64, sc model.MatchingScope) (*audit.Report, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ok := pathID(w, r, "projectID")
		if !ok {
			return
		}

		var req scopeRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		report, err := run(r.Context(), projectID, model.MatchingScope{
			PriceDate: req.PriceDate,
			Province:  req.Province,
			City:      req.City,
			District:  req.District,
		})
		if err != nil {
			writeKindError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	p, err := s.st.GetProject(r.Context(), projectID)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	materialID, ok := pathID(w, r, "materialID")
	if !ok {
		return
	}
	page := store.HistoryPage{
		Limit:  intQuery(r, "limit", 50),
		Offset: intQuery(r, "offset", 0),
	}
	snaps, err := s.trail.List(r.Context(), materialID, page)
	if err != nil {
		writeKindError(w, err)
		return
	}
	if snaps == nil {
		snaps = []model.AnalysisSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func intQuery(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeKindError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch model.KindOf(err) {
	case model.KindInvalidInput, model.KindUnitIncompatible:
		status = http.StatusBadRequest
	case model.KindScopeEmpty:
		status = http.StatusUnprocessableEntity
	case model.KindCancelled:
		status = http.StatusRequestTimeout
	}
	zap.L().Warn("request failed", zap.Int("status", status), zap.Error(err))
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
