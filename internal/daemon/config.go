// Package daemon manages the lifecycle and configuration of the two SCEMS
// roles: the supervisor and the energy worker.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment overrides, applied after the config file.
const (
	EnvHome          = "SCEMS_HOME"
	EnvLogLevel      = "SCEMS_LOG_LEVEL"
	EnvSupervisorURL = "SCEMS_SUPERVISOR_URL"
	EnvWorkerBaseURL = "SCEMS_WORKER_BASE_URL"
	EnvLTMBackend    = "SCEMS_LTM_BACKEND"
)

// Config holds all daemon configuration.
type Config struct {
	Supervisor SupervisorConfig `toml:"supervisor"`
	Worker     WorkerConfig     `toml:"worker"`
	Dispatch   DispatchConfig   `toml:"dispatch"`
	Health     HealthConfig     `toml:"health"`
	LTM        LTMConfig        `toml:"ltm"`
	Logging    LoggingConfig    `toml:"logging"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
}

// SupervisorConfig controls the supervisor's HTTP API and registry store.
type SupervisorConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Name          string `toml:"name"`
	RegistryDBDir string `toml:"registry_db_dir"`
}

// WorkerConfig controls the energy worker.
type WorkerConfig struct {
	Name          string `toml:"name"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	BaseURL       string `toml:"base_url"` // advertised to the supervisor
	SupervisorURL string `toml:"supervisor_url"`
	AutoRegister  bool   `toml:"auto_register"`
	MaxConcurrent int    `toml:"max_concurrent"`
	DataDir       string `toml:"data_dir"` // holds building_energy.csv
}

// DispatchConfig controls supervisor to worker delivery.
type DispatchConfig struct {
	Timeout  string `toml:"timeout"`
	Priority int    `toml:"priority"`

	// Consecutive transport failures that open a worker's circuit; 0 disables.
	BreakerThreshold int    `toml:"breaker_threshold"`
	BreakerReset     string `toml:"breaker_reset"`
}

// HealthConfig controls the periodic health loop.
type HealthConfig struct {
	Interval     string `toml:"interval"`
	ProbeTimeout string `toml:"probe_timeout"`
	PruneAfter   string `toml:"prune_after"` // "0" disables pruning
}

// LTMConfig selects the worker's long-term memory store.
type LTMConfig struct {
	Backend       string `toml:"backend"`  // sqlite | leveldb | file | memory
	Path          string `toml:"path"`
	Fallback      string `toml:"fallback"` // memory | file
	DefaultTTL    string `toml:"default_ttl"`
	SweepInterval string `toml:"sweep_interval"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console | json
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	homeDir := scemsHome()
	return Config{
		Supervisor: SupervisorConfig{
			Host:          "127.0.0.1",
			Port:          8000,
			Name:          "SupervisorAgent_Main",
			RegistryDBDir: homeDir,
		},
		Worker: WorkerConfig{
			Name:          "SmartCampusEnergyAgent",
			Host:          "127.0.0.1",
			Port:          8001,
			BaseURL:       "http://localhost:8001",
			SupervisorURL: "http://localhost:8000",
			AutoRegister:  true,
			MaxConcurrent: 8,
			DataDir:       filepath.Join(homeDir, "data"),
		},
		Dispatch: DispatchConfig{
			Timeout:          "10s",
			Priority:         2,
			BreakerThreshold: 5,
			BreakerReset:     "30s",
		},
		Health: HealthConfig{
			Interval:     "60s",
			ProbeTimeout: "5s",
			PruneAfter:   "0",
		},
		LTM: LTMConfig{
			Backend:       "sqlite",
			Path:          filepath.Join(homeDir, "ltm", "ltm.db"),
			Fallback:      "memory",
			DefaultTTL:    "720h",
			SweepInterval: "10m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads $SCEMS_HOME/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFile(filepath.Join(scemsHome(), "config.toml"))
}

// LoadConfigFile reads the config at path. A missing file yields defaults.
// Environment overrides are applied either way.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvSupervisorURL); v != "" {
		c.Worker.SupervisorURL = v
	}
	if v := os.Getenv(EnvWorkerBaseURL); v != "" {
		c.Worker.BaseURL = v
	}
	if v := os.Getenv(EnvLTMBackend); v != "" {
		c.LTM.Backend = strings.ToLower(v)
	}
}

// SaveConfig writes the config to $SCEMS_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(scemsHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// ─── Parsed Durations ───────────────────────────────────────────────────────

func (c DispatchConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

func (c DispatchConfig) BreakerResetDuration() time.Duration {
	return parseDuration(c.BreakerReset, 30*time.Second)
}

func (c HealthConfig) IntervalDuration() time.Duration {
	return parseDuration(c.Interval, 60*time.Second)
}

func (c HealthConfig) ProbeTimeoutDuration() time.Duration {
	return parseDuration(c.ProbeTimeout, 5*time.Second)
}

// PruneAfterDuration is zero when pruning is disabled.
func (c HealthConfig) PruneAfterDuration() time.Duration {
	return parseDuration(c.PruneAfter, 0)
}

func (c LTMConfig) DefaultTTLDuration() time.Duration {
	return parseDuration(c.DefaultTTL, 720*time.Hour)
}

func (c LTMConfig) SweepIntervalDuration() time.Duration {
	return parseDuration(c.SweepInterval, 10*time.Minute)
}

// parseDuration parses a duration string, returning a fallback on error.
// A bare "0" is accepted by time.ParseDuration.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// scemsHome returns the SCEMS data directory.
func scemsHome() string {
	if env := os.Getenv(EnvHome); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".scems")
}

// Home is exported for use by other packages.
func Home() string {
	return scemsHome()
}
