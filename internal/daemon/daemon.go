package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/scems-network/scems/internal/api"
	"github.com/scems-network/scems/internal/client"
	"github.com/scems-network/scems/internal/dispatch"
	"github.com/scems-network/scems/internal/domain"
	"github.com/scems-network/scems/internal/health"
	"github.com/scems-network/scems/internal/infra/logging"
	"github.com/scems-network/scems/internal/infra/sqlite"
	"github.com/scems-network/scems/internal/intent"
	"github.com/scems-network/scems/internal/ltm"
	"github.com/scems-network/scems/internal/registry"
	"github.com/scems-network/scems/internal/supervisor"
	"github.com/scems-network/scems/internal/worker"
)

// inboxPurgeInterval is how often stale async dispatch slots are dropped.
const inboxPurgeInterval = time.Minute

// NewLogger builds the process logger from the logging section.
func NewLogger(app string, cfg Config) zerolog.Logger {
	return logging.Init(app, logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
}

// ─── Supervisor ─────────────────────────────────────────────────────────────

// Supervisor is the supervisor runtime. It wires together the registry,
// intent router, dispatcher and HTTP API.
type Supervisor struct {
	Config     Config
	DB         *sqlite.DB
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Supervisor *supervisor.Supervisor
	Health     *health.Checker
	Server     *api.SupervisorServer
	log        zerolog.Logger
	cancel     context.CancelFunc
}

// NewSupervisor creates a supervisor with all services wired.
func NewSupervisor(cfg Config, logger zerolog.Logger) (*Supervisor, error) {
	dbDir := cfg.Supervisor.RegistryDBDir
	if dbDir == "" {
		dbDir = scemsHome()
	}
	db, err := sqlite.Open(dbDir)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}

	probeTimeout := cfg.Health.ProbeTimeoutDuration()
	reg := registry.New(registry.Options{
		Store:        db,
		Prober:       health.NewHTTPProber(probeTimeout),
		ProbeTimeout: probeTimeout,
		Logger:       logger,
	})
	if err := reg.Load(); err != nil {
		logger.Warn().Err(err).Msg("registry snapshot unreadable, starting empty")
	}

	d := dispatch.New(dispatch.NewHTTPTransport(nil), dispatch.Options{
		Sender:  cfg.Supervisor.Name,
		Timeout: cfg.Dispatch.TimeoutDuration(),
		ReplyTo: advertisedURL(cfg.Supervisor.Host, cfg.Supervisor.Port) + "/reports",
		Toucher: reg,
		Breaker: dispatch.BreakerConfig{
			FailureThreshold: cfg.Dispatch.BreakerThreshold,
			ResetTimeout:     cfg.Dispatch.BreakerResetDuration(),
		},
		Logger: logger,
	})
	sup := supervisor.New(reg, intent.NewRouter(intent.DefaultRules(), nil), d, supervisor.Options{
		Name:     cfg.Supervisor.Name,
		Priority: cfg.Dispatch.Priority,
		Logger:   logger,
	})

	srv := api.NewSupervisorServer(sup, logger)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	return &Supervisor{
		Config:     cfg,
		DB:         db,
		Registry:   reg,
		Dispatcher: d,
		Supervisor: sup,
		Health: health.NewChecker(cfg.Health.IntervalDuration(), logger,
			health.DatabaseCheck("registry_db", db),
			health.AgentsCheck(reg, cfg.Health.PruneAfterDuration()),
		),
		Server: srv,
		log:    logger,
	}, nil
}

// Serve starts the HTTP server and blocks until shutdown.
func (s *Supervisor) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go s.Health.Run(ctx)
	go s.Dispatcher.Inbox().Run(ctx, inboxPurgeInterval)

	addr := fmt.Sprintf("%s:%d", s.Config.Supervisor.Host, s.Config.Supervisor.Port)
	s.log.Info().
		Str("addr", addr).
		Int("agents", s.Registry.Len()).
		Bool("metrics", s.Config.Telemetry.Prometheus).
		Msg("supervisor serving")

	return serve(ctx, addr, s.Server.Handler(), s.log, func(context.Context) {
		cancel()
		_ = s.DB.Close()
	})
}

// Close shuts down all supervisor resources.
func (s *Supervisor) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.DB != nil {
		_ = s.DB.Close()
	}
}

// ─── Worker ─────────────────────────────────────────────────────────────────

// Worker is the energy worker runtime: LTM, executor, agent and HTTP API.
type Worker struct {
	Config Config
	Cache  *ltm.Cache
	Agent  *worker.Agent
	Health *health.Checker
	Server *api.WorkerServer
	log    zerolog.Logger
	cancel context.CancelFunc
}

// NewWorker creates a worker with all services wired. A durable LTM store
// that cannot be opened is not fatal; the worker runs on the fallback.
func NewWorker(cfg Config, logger zerolog.Logger) (*Worker, error) {
	ltmPath := cfg.LTM.Path
	if ltmPath == "" {
		ltmPath = filepath.Join(scemsHome(), "ltm", "ltm.db")
	}
	cache := ltm.Open(ltm.Config{
		Backend:    cfg.LTM.Backend,
		Path:       ltmPath,
		Fallback:   cfg.LTM.Fallback,
		DefaultTTL: cfg.LTM.DefaultTTLDuration(),
	}, logger, nil)

	var source domain.ConsumptionSource
	if cfg.Worker.DataDir != "" {
		source = worker.NewCSVSource(cfg.Worker.DataDir)
	}
	exec := worker.NewExecutor(cache, worker.ExecutorOptions{
		Source:     source,
		DefaultTTL: cfg.LTM.DefaultTTLDuration(),
		Logger:     logger,
	})
	agent := worker.NewAgent(exec, worker.AgentOptions{
		Name:          cfg.Worker.Name,
		MaxConcurrent: cfg.Worker.MaxConcurrent,
		Reporter:      client.New(cfg.Worker.SupervisorURL, nil),
		Logger:        logger,
	})

	srv := api.NewWorkerServer(agent, logger)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	return &Worker{
		Config: cfg,
		Cache:  cache,
		Agent:  agent,
		Health: health.NewChecker(cfg.Health.IntervalDuration(), logger, health.LTMCheck(cache)),
		Server: srv,
		log:    logger,
	}, nil
}

// Record is the registration this worker advertises.
func (w *Worker) Record() domain.AgentRecord {
	base := w.Config.Worker.BaseURL
	if base == "" {
		base = advertisedURL(w.Config.Worker.Host, w.Config.Worker.Port)
	}
	return domain.AgentRecord{
		Name:         w.Agent.Name(),
		BaseURL:      base,
		Capabilities: w.Agent.Capabilities(),
	}
}

// Serve starts the HTTP server and blocks until shutdown. Registration with
// the supervisor runs in the background and never stops the worker.
func (w *Worker) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.Health.Run(ctx)
	go w.Cache.Run(ctx, w.Config.LTM.SweepIntervalDuration())
	if w.Config.Worker.AutoRegister && w.Config.Worker.SupervisorURL != "" {
		go w.register(ctx)
	}

	addr := fmt.Sprintf("%s:%d", w.Config.Worker.Host, w.Config.Worker.Port)
	w.log.Info().
		Str("addr", addr).
		Str("agent", w.Agent.Name()).
		Str("ltm_backend", w.Cache.Backend()).
		Strs("capabilities", w.Agent.Capabilities()).
		Msg("worker serving")

	return serve(ctx, addr, w.Server.Handler(), w.log, func(shutdownCtx context.Context) {
		cancel()
		if err := w.Agent.Close(shutdownCtx); err != nil {
			w.log.Warn().Err(err).Msg("in-flight tasks abandoned")
		}
		_ = w.Cache.Close()
	})
}

func (w *Worker) register(ctx context.Context) {
	c := client.New(w.Config.Worker.SupervisorURL, nil)
	rec := w.Record()
	if _, err := c.RegisterWithRetry(ctx, rec, client.DefaultRetryConfig(), w.log); err != nil {
		w.log.Error().Err(err).Str("supervisor", c.BaseURL()).Msg("giving up on registration")
		return
	}
	w.log.Info().Str("supervisor", c.BaseURL()).Str("base_url", rec.BaseURL).Msg("registered with supervisor")
}

// Close shuts down all worker resources.
func (w *Worker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.Agent != nil {
		_ = w.Agent.Close(context.Background())
	}
	if w.Cache != nil {
		_ = w.Cache.Close()
	}
}

// ─── Shared ─────────────────────────────────────────────────────────────────

// serve runs an HTTP server until a signal arrives, ctx ends or the listener
// fails, then calls cleanup with a bounded shutdown context.
func serve(ctx context.Context, addr string, handler http.Handler, log zerolog.Logger, cleanup func(context.Context)) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	listenFailed := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
		case <-ctx.Done():
		case <-listenFailed:
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
		cleanup(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		close(listenFailed)
		<-done
		return err
	}
	<-done
	return nil
}

// advertisedURL turns a listen address into one peers can dial.
func advertisedURL(host string, port int) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}
