package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/scems-network/scems/internal/protocol"
	"github.com/scems-network/scems/internal/worker"
)

// WorkerServer exposes a worker Agent over HTTP.
type WorkerServer struct {
	agent          *worker.Agent
	log            zerolog.Logger
	metricsEnabled bool
}

// NewWorkerServer creates the worker's HTTP API.
func NewWorkerServer(agent *worker.Agent, log zerolog.Logger) *WorkerServer {
	return &WorkerServer{agent: agent, log: log.With().Str("component", "api").Logger()}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *WorkerServer) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *WorkerServer) Handler() http.Handler {
	r := newRouter(RoleWorker, s.log, s.metricsEnabled)

	r.Get("/health", s.handleHealth)
	r.Get("/capabilities", s.handleCapabilities)
	r.Post("/task", s.handleTask)
	r.Post("/task/sync", s.handleTaskSync)
	r.Get("/ltm", s.handleLTMQuery)
	r.Post("/ltm/sweep", s.handleLTMSweep)

	return r
}

func (s *WorkerServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "up",
		"agent":       s.agent.Name(),
		"ltm_backend": s.agent.Executor().CacheBackend(),
	})
}

func (s *WorkerServer) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"capabilities": s.agent.Capabilities(),
	})
}

// decodeTask accepts any capability name; ones the agent does not
// implement are answered with a FAILURE report rather than rejected.
func decodeTask(r *http.Request) (protocol.TaskEnvelope, error) {
	body, err := readBody(r)
	if err != nil {
		return protocol.TaskEnvelope{}, err
	}
	return protocol.DecodeTask(body, func(string) bool { return true })
}

func (s *WorkerServer) handleTask(w http.ResponseWriter, r *http.Request) {
	env, err := decodeTask(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ack, err := s.agent.Submit(env)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

func (s *WorkerServer) handleTaskSync(w http.ResponseWriter, r *http.Request) {
	env, err := decodeTask(r)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := s.agent.HandleTask(r.Context(), env)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type ltmEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func (s *WorkerServer) handleLTMQuery(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	entries, err := s.agent.Executor().Memory(prefix)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]ltmEntry, 0, len(entries))
	for _, e := range entries {
		value := json.RawMessage(e.Value)
		if !json.Valid(value) {
			quoted, _ := json.Marshal(string(e.Value))
			value = quoted
		}
		out = append(out, ltmEntry{Key: e.Key, Value: value, CreatedAt: e.CreatedAt, ExpiresAt: e.ExpiresAt()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backend": s.agent.Executor().CacheBackend(),
		"prefix":  prefix,
		"entries": out,
		"total":   len(out),
	})
}

func (s *WorkerServer) handleLTMSweep(w http.ResponseWriter, r *http.Request) {
	n, err := s.agent.Executor().Sweep()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}
