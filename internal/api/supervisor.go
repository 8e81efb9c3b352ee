package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/scems-network/scems/internal/domain"
	"github.com/scems-network/scems/internal/protocol"
	"github.com/scems-network/scems/internal/supervisor"
)

// SupervisorServer exposes a Supervisor over HTTP.
type SupervisorServer struct {
	sup            *supervisor.Supervisor
	log            zerolog.Logger
	metricsEnabled bool
	started        time.Time
}

// NewSupervisorServer creates the supervisor's HTTP API.
func NewSupervisorServer(sup *supervisor.Supervisor, log zerolog.Logger) *SupervisorServer {
	return &SupervisorServer{
		sup:     sup,
		log:     log.With().Str("component", "api").Logger(),
		started: time.Now(),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *SupervisorServer) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *SupervisorServer) Handler() http.Handler {
	r := newRouter(RoleSupervisor, s.log, s.metricsEnabled)

	r.Get("/health", s.handleHealth)
	r.Get("/health/aggregate", s.handleAggregateHealth)
	r.Get("/registry", s.handleRegistry)
	r.Post("/register", s.handleRegister)
	r.Post("/query", s.handleQuery)
	r.Post("/reports", s.handleDeliverReport)
	r.Get("/reports/{messageID}", s.handleGetReport)

	return r
}

func (s *SupervisorServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"name":              s.sup.Name(),
		"registered_agents": s.sup.Registry().Len(),
		"uptime":            time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *SupervisorServer) handleAggregateHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.AggregateHealth(r.Context()))
}

func (s *SupervisorServer) handleRegistry(w http.ResponseWriter, r *http.Request) {
	agents := s.sup.Registry().List()
	if agents == nil {
		agents = []domain.AgentRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents": agents,
		"total":  len(agents),
	})
}

func (s *SupervisorServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var rec domain.AgentRecord
	if err := decodeJSON(r, &rec); err != nil {
		writeError(w, err)
		return
	}
	stored, err := s.sup.Register(rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "registered",
		"agent":  stored,
	})
}

type queryRequest struct {
	UserID string `json:"user_id"`
	Prompt string `json:"prompt"`
}

func (s *SupervisorServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		writeError(w, domain.Invalid("prompt", "must not be empty"))
		return
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}

	if r.URL.Query().Get("mode") == "async" {
		res, err := s.sup.QueryAsync(r.Context(), req.Prompt, req.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"agent":      res.Agent,
			"capability": res.Capability,
			"parameters": res.Parameters,
			"routing":    res.Routing,
			"ack":        res.Ack,
			"timestamp":  time.Now().UTC(),
		})
		return
	}

	res, err := s.sup.Query(r.Context(), req.Prompt, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agent":      res.Agent,
		"capability": res.Capability,
		"parameters": res.Parameters,
		"response":   res.Response,
		"timestamp":  time.Now().UTC(),
	})
}

func (s *SupervisorServer) handleDeliverReport(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := protocol.DecodeReport(body)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.sup.DeliverReport(report); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "received",
		"message_id": report.RelatedMessageID,
	})
}

func (s *SupervisorServer) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.sup.Report(chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
