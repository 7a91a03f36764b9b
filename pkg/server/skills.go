package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/ravenlabs/raven/pkg/agentclient"
	"github.com/ravenlabs/raven/pkg/config"
	"github.com/ravenlabs/raven/pkg/observability"
	"github.com/ravenlabs/raven/pkg/skills"
)

// SkillRunner is what the skills HTTP surface needs from the engine.
type SkillRunner interface {
	Run(ctx context.Context, req skills.RunRequest) (*skills.RunResponse, error)
	Feedback(ctx context.Context, req skills.FeedbackRequest) (*skills.FeedbackResponse, error)
}

// SkillsServer serves the skill engine endpoints.
type SkillsServer struct {
	engine  SkillRunner
	cfg     *config.SkillsConfig
	metrics *observability.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewSkillsServer builds the skill engine HTTP surface.
func NewSkillsServer(engine SkillRunner, cfg *config.SkillsConfig, metrics *observability.Metrics, tracer trace.Tracer, logger *slog.Logger) *SkillsServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SkillsServer{
		engine:  engine,
		cfg:     cfg,
		metrics: metrics,
		tracer:  tracer,
		logger:  logger,
	}
}

// Router assembles the skill engine routes.
func (s *SkillsServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID(s.logger))
	r.Use(observability.HTTPMiddleware(s.tracer, s.metrics))

	r.Get("/health", s.handleHealth)
	if s.cfg.MetricsEnabled && s.metrics != nil {
		r.Method(http.MethodGet, s.cfg.MetricsPath, s.metrics.Handler())
	}
	r.Post("/run", s.handleRun)
	r.Post("/feedback", s.handleFeedback)
	return r
}

func (s *SkillsServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *SkillsServer) handleRun(w http.ResponseWriter, r *http.Request) {
	var req skills.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid_request")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "model_required")
		return
	}

	resp, err := s.engine.Run(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, err, "skills_failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *SkillsServer) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req skills.FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid_request")
		return
	}
	if strings.TrimSpace(req.RunID) == "" || strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Rating) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid_request")
		return
	}

	resp, err := s.engine.Feedback(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, err, "feedback_failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeEngineError maps engine failures: validation sentinels answer
// with short string details, agent call failures pass through with the
// upstream status.
func (s *SkillsServer) writeEngineError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, skills.ErrAPIKeyRequired):
		writeDetail(w, http.StatusBadRequest, "openai_key_required")
	case errors.Is(err, skills.ErrPoolUnavailable):
		writeDetail(w, http.StatusServiceUnavailable, "skills_pool_unavailable")
	case errors.Is(err, skills.ErrRunNotFound):
		writeDetail(w, http.StatusNotFound, "skill_run_not_found")
	default:
		var callErr *agentclient.CallError
		if errors.As(err, &callErr) {
			writeDetail(w, callErr.Status, errorDetail{Error: callErr.Code, Message: callErr.Message})
			return
		}
		writeDetail(w, http.StatusInternalServerError, errorDetail{Error: fallback, Message: err.Error()})
	}
}
