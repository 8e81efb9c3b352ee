package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scems-network/scems/internal/client"
	"github.com/scems-network/scems/internal/dispatch"
	"github.com/scems-network/scems/internal/domain"
	"github.com/scems-network/scems/internal/intent"
	"github.com/scems-network/scems/internal/ltm"
	"github.com/scems-network/scems/internal/protocol"
	"github.com/scems-network/scems/internal/registry"
	"github.com/scems-network/scems/internal/supervisor"
	"github.com/scems-network/scems/internal/worker"
)

const testWorker = "SmartCampusEnergyAgent"

// stack is a supervisor and one worker, each behind its own test server,
// talking to each other over real HTTP.
type stack struct {
	sup       *httptest.Server
	worker    *httptest.Server
	agent     *worker.Agent
	supClient *client.Client
	wrkClient *client.Client
}

func newStack(t *testing.T) stack {
	t.Helper()
	log := zerolog.Nop()

	var supHandler http.Handler
	supSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		supHandler.ServeHTTP(w, r)
	}))
	t.Cleanup(supSrv.Close)

	reg := registry.New(registry.Options{Logger: log})
	d := dispatch.New(dispatch.NewHTTPTransport(nil), dispatch.Options{
		Sender:  supervisor.DefaultName,
		Timeout: 5 * time.Second,
		ReplyTo: supSrv.URL + "/reports",
		Toucher: reg,
		Logger:  log,
	})
	sup := supervisor.New(reg, intent.NewRouter(intent.DefaultRules(), nil), d, supervisor.Options{Logger: log})
	ss := NewSupervisorServer(sup, log)
	ss.EnableMetrics()
	supHandler = ss.Handler()

	cache := ltm.New(ltm.NewMemoryBackend(), nil, ltm.Options{Logger: log})
	t.Cleanup(func() { cache.Close() })
	agent := worker.NewAgent(worker.NewExecutor(cache, worker.ExecutorOptions{Logger: log}), worker.AgentOptions{
		Name:     testWorker,
		Reporter: client.New(supSrv.URL, nil),
		Logger:   log,
	})
	t.Cleanup(func() { _ = agent.Close(context.Background()) })
	wrkSrv := httptest.NewServer(NewWorkerServer(agent, log).Handler())
	t.Cleanup(wrkSrv.Close)

	return stack{
		sup:       supSrv,
		worker:    wrkSrv,
		agent:     agent,
		supClient: client.New(supSrv.URL, nil),
		wrkClient: client.New(wrkSrv.URL, nil),
	}
}

func (s stack) register(t *testing.T, capabilities ...string) {
	t.Helper()
	if len(capabilities) == 0 {
		capabilities = s.agent.Capabilities()
	}
	_, err := s.supClient.Register(context.Background(), domain.AgentRecord{
		Name:         testWorker,
		BaseURL:      s.worker.URL,
		Capabilities: capabilities,
	})
	require.NoError(t, err)
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func get(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func errorBody(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error object, got %v", body)
	return e
}

// ─── Supervisor ─────────────────────────────────────────────────────────────

func TestSupervisor_Health(t *testing.T) {
	s := newStack(t)
	s.register(t)

	resp, body := get(t, s.sup.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, supervisor.DefaultName, body["name"])
	assert.Equal(t, 1.0, body["registered_agents"])
}

func TestSupervisor_RegisterAndRegistry(t *testing.T) {
	s := newStack(t)
	s.register(t, "cost_estimation")

	reg, err := s.supClient.Registry(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, reg.Total)
	assert.Equal(t, testWorker, reg.Agents[0].Name)
	assert.Equal(t, []string{"cost_estimation"}, reg.Agents[0].Capabilities)
	assert.Equal(t, s.worker.URL+"/health", reg.Agents[0].HealthURL)
}

func TestSupervisor_RegisterValidation(t *testing.T) {
	s := newStack(t)

	resp, body := post(t, s.sup.URL+"/register", `{"name":"","base_url":"localhost:9"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	e := errorBody(t, body)
	assert.Equal(t, domain.CodeValidation, e["code"])
	assert.Equal(t, "name", e["field"])

	resp, body = post(t, s.sup.URL+"/register", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "body", errorBody(t, body)["field"])
}

func TestSupervisor_QuerySync(t *testing.T) {
	s := newStack(t)
	s.register(t)

	res, err := s.supClient.Query(context.Background(), "u1", "What will the bill cost for 2000 kWh at $0.15?")
	require.NoError(t, err)
	assert.Equal(t, testWorker, res.Agent)
	assert.Equal(t, "cost_estimation", res.Capability)
	assert.Equal(t, protocol.StatusSuccess, res.Response.Status)
	assert.False(t, res.Timestamp.IsZero())

	var data map[string]any
	require.NoError(t, json.Unmarshal(res.Response.Results.Data, &data))
	assert.Equal(t, 300.0, data["total_cost_usd"])

	again, err := s.supClient.Query(context.Background(), "u1", "What will the bill cost for 2000 kWh at $0.15?")
	require.NoError(t, err)
	assert.True(t, again.Response.Results.LTMHit)
}

func TestSupervisor_QueryErrors(t *testing.T) {
	s := newStack(t)
	s.register(t, "cost_estimation")

	resp, body := post(t, s.sup.URL+"/query", `{"user_id":"u","prompt":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "prompt", errorBody(t, body)["field"])

	resp, body = post(t, s.sup.URL+"/query", `{"user_id":"u","prompt":"tell me a joke"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	e := errorBody(t, body)
	assert.Equal(t, domain.CodeNoMatch, e["code"])
	assert.NotEmpty(t, e["suggestions"])

	_, err := s.supClient.Query(context.Background(), "u", "estimate solar panel generation")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnavailableWorker))
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
}

func TestSupervisor_QueryAsyncDeliversReport(t *testing.T) {
	s := newStack(t)
	s.register(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := s.supClient.QueryAsync(ctx, "u", "forecast the peak load for the next 12 hours")
	require.NoError(t, err)
	assert.Equal(t, "accepted", res.Ack.Status)
	assert.Equal(t, "peak_load_forecasting", res.Capability)

	report, err := s.supClient.WaitReport(ctx, res.Ack.MessageID, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, res.Ack.MessageID, report.RelatedMessageID)
	assert.Equal(t, protocol.StatusSuccess, report.Status)
	assert.Equal(t, testWorker, report.Sender)
}

func TestSupervisor_ReportEndpoints(t *testing.T) {
	s := newStack(t)

	resp, body := get(t, s.sup.URL+"/reports/unknown-id")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, domain.CodeNotFound, errorBody(t, body)["code"])

	resp, body = post(t, s.sup.URL+"/reports", `{"message_id":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, domain.CodeProtocol, errorBody(t, body)["code"])
}

func TestSupervisor_AggregateHealth(t *testing.T) {
	s := newStack(t)
	s.register(t)

	agg, err := s.supClient.AggregateHealth(context.Background())
	require.NoError(t, err)
	require.Len(t, agg.Agents, 1)
	assert.Equal(t, testWorker, agg.Agents[0].Name)
}

func TestSupervisor_Metrics(t *testing.T) {
	s := newStack(t)
	_, _ = get(t, s.sup.URL+"/health")

	resp, err := http.Get(s.sup.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// ─── Worker ─────────────────────────────────────────────────────────────────

func TestWorker_HealthAndCapabilities(t *testing.T) {
	s := newStack(t)

	resp, body := get(t, s.worker.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "up", body["status"])
	assert.Equal(t, testWorker, body["agent"])
	assert.Equal(t, ltm.BackendMemory, body["ltm_backend"])

	caps, err := s.wrkClient.Capabilities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.agent.Capabilities(), caps)
}

func TestWorker_TaskSync(t *testing.T) {
	s := newStack(t)
	env := protocol.MustNewTask(supervisor.DefaultName, testWorker, "solar_energy_estimation",
		map[string]any{"panel_capacity_kw": 250, "hours": 6}, 2)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	resp, body := post(t, s.worker.URL+"/task/sync", string(raw))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, protocol.StatusSuccess, body["status"])
	assert.Equal(t, env.MessageID, body["related_message_id"])

	// Same message id again is a duplicate.
	resp, body = post(t, s.worker.URL+"/task/sync", string(raw))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, domain.CodeDuplicate, errorBody(t, body)["code"])
}

func TestWorker_TaskRejections(t *testing.T) {
	s := newStack(t)

	resp, body := post(t, s.worker.URL+"/task/sync", `{"message_id":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, domain.CodeProtocol, errorBody(t, body)["code"])

	env := protocol.MustNewTask(supervisor.DefaultName, "SomeoneElse", "cost_estimation", nil, 2)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	resp, _ = post(t, s.worker.URL+"/task/sync", string(raw))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWorker_UnsupportedCapabilityIsFailureReport(t *testing.T) {
	s := newStack(t)
	env := protocol.MustNewTask(supervisor.DefaultName, testWorker, "teleportation", nil, 2)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	resp, body := post(t, s.worker.URL+"/task/sync", string(raw))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, protocol.StatusFailure, body["status"])
}

func TestWorker_TaskAsyncAck(t *testing.T) {
	s := newStack(t)
	env := protocol.MustNewTask(supervisor.DefaultName, testWorker, "cost_estimation", nil, 2)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	resp, body := post(t, s.worker.URL+"/task", string(raw))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, env.MessageID, body["message_id"])
}

func TestWorker_LTMQueryAndSweep(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.agent.Executor().Execute(ctx, "cost_estimation", map[string]any{"hour": 10})
	require.NoError(t, err)
	_, err = s.agent.Executor().Execute(ctx, "solar_energy_estimation", nil)
	require.NoError(t, err)

	all, err := s.wrkClient.LTMQuery(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, all.Total)
	assert.Equal(t, ltm.BackendMemory, all.Backend)

	costs, err := s.wrkClient.LTMQuery(ctx, ltm.CapabilityPrefix("cost_estimation"))
	require.NoError(t, err)
	require.Equal(t, 1, costs.Total)
	var data map[string]any
	require.NoError(t, json.Unmarshal(costs.Entries[0].Value, &data))
	assert.Contains(t, data, "total_cost_usd")

	removed, err := s.wrkClient.LTMSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestCORS_Preflight(t *testing.T) {
	s := newStack(t)
	req, err := http.NewRequest(http.MethodOptions, s.worker.URL+"/task", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
