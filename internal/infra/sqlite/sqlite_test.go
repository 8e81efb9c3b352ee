package sqlite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scems-network/scems/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// ─── Database Lifecycle ─────────────────────────────────────────────────────

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, "state.db")); os.IsNotExist(err) {
		t.Error("state.db should exist")
	}
}

func TestOpenPath_NestedDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker", "ltm.db")
	db, err := OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath() error: %v", err)
	}
	defer db.Close()
	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

func TestOpen_MigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		db, err := Open(dir)
		if err != nil {
			t.Fatalf("Open() #%d error: %v", i, err)
		}
		db.Close()
	}
}

// ─── Agent CRUD ─────────────────────────────────────────────────────────────

func TestUpsertAgent_InsertAndReplace(t *testing.T) {
	db := newTestDB(t)
	seen := time.Date(2025, 11, 22, 18, 0, 0, 0, time.UTC)

	rec := domain.AgentRecord{
		Name:         "SmartCampusEnergyAgent",
		BaseURL:      "http://localhost:8001",
		HealthURL:    "http://localhost:8001/health",
		Capabilities: []string{"building_energy_analysis", "cost_estimation"},
		LastSeen:     seen,
	}
	if err := db.UpsertAgent(rec); err != nil {
		t.Fatalf("UpsertAgent() error: %v", err)
	}

	rec.Capabilities = []string{"solar_energy_estimation"}
	rec.Status = domain.HealthHealthy
	if err := db.UpsertAgent(rec); err != nil {
		t.Fatalf("second UpsertAgent() error: %v", err)
	}

	agents, err := db.ListAgents()
	if err != nil {
		t.Fatalf("ListAgents() error: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("ListAgents() = %d, want 1", len(agents))
	}
	got := agents[0]
	if len(got.Capabilities) != 1 || got.Capabilities[0] != "solar_energy_estimation" {
		t.Errorf("Capabilities = %v", got.Capabilities)
	}
	if !got.LastSeen.Equal(seen) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, seen)
	}
	if got.Status != domain.HealthHealthy {
		t.Errorf("Status = %q", got.Status)
	}
}

func TestGetAgent_NotFound(t *testing.T) {
	db := newTestDB(t)
	got, err := db.GetAgent("nobody")
	if err != nil {
		t.Fatalf("GetAgent() error: %v", err)
	}
	if got != nil {
		t.Error("GetAgent() should return nil for unknown agent")
	}
}

func TestDeleteAgent(t *testing.T) {
	db := newTestDB(t)
	_ = db.UpsertAgent(domain.AgentRecord{Name: "W", Capabilities: []string{"x"}})

	if err := db.DeleteAgent("W"); err != nil {
		t.Fatalf("DeleteAgent() error: %v", err)
	}
	if err := db.DeleteAgent("W"); err != domain.ErrAgentNotFound {
		t.Errorf("DeleteAgent() twice = %v, want ErrAgentNotFound", err)
	}
}

// ─── LTM ────────────────────────────────────────────────────────────────────

func TestLTM_PutGet(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()

	row := LTMRow{Key: "k", Value: []byte(`{"a":1}`), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := db.PutLTM(row); err != nil {
		t.Fatalf("PutLTM() error: %v", err)
	}

	got, ok, err := db.GetLTM("k")
	if err != nil || !ok {
		t.Fatalf("GetLTM() = %v, %v", ok, err)
	}
	if string(got.Value) != `{"a":1}` {
		t.Errorf("Value = %s", got.Value)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}

	if _, ok, _ := db.GetLTM("missing"); ok {
		t.Error("GetLTM(missing) should report absent")
	}
}

func TestLTM_PrefixOrderAndExpiry(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := []LTMRow{
		{Key: "cost:b", Value: []byte("2"), CreatedAt: base.Add(2 * time.Second), ExpiresAt: base.Add(time.Hour)},
		{Key: "cost:a", Value: []byte("1"), CreatedAt: base.Add(1 * time.Second), ExpiresAt: base.Add(time.Hour)},
		{Key: "cost:old", Value: []byte("0"), CreatedAt: base, ExpiresAt: base.Add(time.Minute)},
		{Key: "solar:a", Value: []byte("3"), CreatedAt: base, ExpiresAt: base.Add(time.Hour)},
		{Key: "cost_%", Value: []byte("4"), CreatedAt: base, ExpiresAt: base.Add(time.Hour)},
	}
	for _, r := range rows {
		if err := db.PutLTM(r); err != nil {
			t.Fatalf("PutLTM(%s) error: %v", r.Key, err)
		}
	}

	got, err := db.QueryLTMPrefix("cost:", base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("QueryLTMPrefix() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("QueryLTMPrefix() = %d rows, want 2", len(got))
	}
	if got[0].Key != "cost:a" || got[1].Key != "cost:b" {
		t.Errorf("order = %s, %s; want oldest first", got[0].Key, got[1].Key)
	}

	n, err := db.SweepLTM(base.Add(10 * time.Minute))
	if err != nil {
		t.Fatalf("SweepLTM() error: %v", err)
	}
	if n != 1 {
		t.Errorf("SweepLTM() = %d, want 1", n)
	}
	if _, ok, _ := db.GetLTM("cost:old"); ok {
		t.Error("expired entry survived sweep")
	}
}
