package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Supervisor.Port != 8000 {
		t.Errorf("Supervisor.Port = %d, want %d", cfg.Supervisor.Port, 8000)
	}
	if cfg.Worker.Port != 8001 {
		t.Errorf("Worker.Port = %d, want %d", cfg.Worker.Port, 8001)
	}
	if cfg.Dispatch.TimeoutDuration() != 10*time.Second {
		t.Errorf("Dispatch timeout = %v, want 10s", cfg.Dispatch.TimeoutDuration())
	}
	if cfg.Health.PruneAfterDuration() != 0 {
		t.Errorf("pruning should be disabled by default, got %v", cfg.Health.PruneAfterDuration())
	}
	if cfg.LTM.DefaultTTLDuration() != 720*time.Hour {
		t.Errorf("LTM default ttl = %v, want 720h", cfg.LTM.DefaultTTLDuration())
	}
	if cfg.LTM.Backend != "sqlite" {
		t.Errorf("LTM.Backend = %q, want sqlite", cfg.LTM.Backend)
	}
}

func TestLoadConfigFile_Missing(t *testing.T) {
	t.Setenv(EnvHome, t.TempDir())

	cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Worker.Name != "SmartCampusEnergyAgent" {
		t.Errorf("Worker.Name = %q", cfg.Worker.Name)
	}
}

func TestLoadConfigFile_OverridesAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHome, home)
	t.Setenv(EnvLTMBackend, "LevelDB")
	t.Setenv(EnvSupervisorURL, "http://sup.internal:9000")

	path := filepath.Join(home, "config.toml")
	body := `
[supervisor]
port = 9000

[worker]
name = "EastCampusAgent"
auto_register = false

[dispatch]
timeout = "3s"

[health]
interval = "15s"
prune_after = "1h"

[ltm]
backend = "file"
default_ttl = "garbage"
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Supervisor.Port != 9000 {
		t.Errorf("Supervisor.Port = %d, want 9000", cfg.Supervisor.Port)
	}
	if cfg.Worker.Name != "EastCampusAgent" || cfg.Worker.AutoRegister {
		t.Errorf("worker section not applied: %+v", cfg.Worker)
	}
	if cfg.Worker.Port != 8001 {
		t.Errorf("unset fields keep defaults, Worker.Port = %d", cfg.Worker.Port)
	}
	if cfg.Dispatch.TimeoutDuration() != 3*time.Second {
		t.Errorf("timeout = %v, want 3s", cfg.Dispatch.TimeoutDuration())
	}
	if cfg.Health.IntervalDuration() != 15*time.Second {
		t.Errorf("interval = %v, want 15s", cfg.Health.IntervalDuration())
	}
	if cfg.Health.PruneAfterDuration() != time.Hour {
		t.Errorf("prune_after = %v, want 1h", cfg.Health.PruneAfterDuration())
	}
	if cfg.LTM.DefaultTTLDuration() != 720*time.Hour {
		t.Errorf("bad duration should fall back, got %v", cfg.LTM.DefaultTTLDuration())
	}
	if cfg.LTM.Backend != "leveldb" {
		t.Errorf("env override: LTM.Backend = %q, want leveldb", cfg.LTM.Backend)
	}
	if cfg.Worker.SupervisorURL != "http://sup.internal:9000" {
		t.Errorf("env override: SupervisorURL = %q", cfg.Worker.SupervisorURL)
	}
}

func TestLoadConfigFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[worker\nname="), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	t.Setenv(EnvHome, t.TempDir())

	cfg := DefaultConfig()
	cfg.Worker.MaxConcurrent = 3
	cfg.Telemetry.Prometheus = true
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Worker.MaxConcurrent != 3 || !got.Telemetry.Prometheus {
		t.Errorf("round trip lost fields: %+v %+v", got.Worker, got.Telemetry)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"10s", 10 * time.Second},
		{"0", 0},
		{"", time.Minute},
		{"soon", time.Minute},
		{"-5s", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseDuration(tt.input, time.Minute); got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
