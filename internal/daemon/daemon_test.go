package daemon

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scems-network/scems/internal/domain"
	"github.com/scems-network/scems/internal/ltm"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	home := t.TempDir()
	t.Setenv(EnvHome, home)
	cfg := DefaultConfig()
	cfg.LTM.Backend = ltm.BackendMemory
	cfg.Worker.AutoRegister = false
	return cfg
}

func TestNewWorker_Wiring(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.Name = "EastCampusAgent"
	cfg.Worker.BaseURL = "localhost:9101"

	w, err := NewWorker(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, ltm.BackendMemory, w.Cache.Backend())
	rec := w.Record()
	assert.Equal(t, "EastCampusAgent", rec.Name)
	assert.Len(t, rec.Capabilities, 6)
	require.NoError(t, rec.Validate())
	assert.Equal(t, "http://localhost:9101", rec.BaseURL)

	srv := httptest.NewServer(w.Server.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewWorker_UnopenableBackendFallsBack(t *testing.T) {
	cfg := testConfig(t)
	cfg.LTM.Backend = "sqlite"
	// The parent of the database path is a regular file.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))
	cfg.LTM.Path = filepath.Join(blocker, "ltm.db")

	w, err := NewWorker(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	assert.True(t, w.Cache.Degraded())
	assert.Equal(t, ltm.BackendMemory, w.Cache.Backend())
	_, err = w.Agent.Executor().Execute(context.Background(), string(domain.CapSolarEnergyEstimation), nil)
	assert.NoError(t, err)
}

func TestNewSupervisor_PersistsRegistry(t *testing.T) {
	cfg := testConfig(t)
	cfg.Supervisor.RegistryDBDir = filepath.Join(t.TempDir(), "registry")

	s, err := NewSupervisor(cfg, zerolog.Nop())
	require.NoError(t, err)
	_, err = s.Supervisor.Register(domain.AgentRecord{
		Name:         "W",
		BaseURL:      "localhost:8001",
		Capabilities: []string{"cost_estimation"},
	})
	require.NoError(t, err)
	s.Close()

	again, err := NewSupervisor(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer again.Close()
	rec, ok := again.Registry.Get("W")
	require.True(t, ok)
	assert.Equal(t, []string{"cost_estimation"}, rec.Capabilities)
}

func TestSupervisorServe_PortInUseReleasesResources(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Supervisor.RegistryDBDir = t.TempDir()
	cfg.Supervisor.Host = "127.0.0.1"
	cfg.Supervisor.Port = ln.Addr().(*net.TCPAddr).Port

	s, err := NewSupervisor(cfg, zerolog.Nop())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(context.Background()) }()
	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the listener failed")
	}
	assert.Error(t, s.DB.Ping(), "registry database should be closed")
}

func TestAdvertisedURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8000", advertisedURL("0.0.0.0", 8000))
	assert.Equal(t, "http://localhost:8000", advertisedURL("", 8000))
	assert.Equal(t, "http://10.0.0.5:8001", advertisedURL("10.0.0.5", 8001))
}
