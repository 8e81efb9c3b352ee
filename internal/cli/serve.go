package cli

import (
	"github.com/spf13/cobra"

	"github.com/scems-network/scems/internal/daemon"
)

func init() {
	supervisorCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	supervisorCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(supervisorCmd)

	workerCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	workerCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	workerCmd.Flags().StringVar(&workerSupervisor, "supervisor", "", "Supervisor URL to register with (overrides config)")
	rootCmd.AddCommand(workerCmd)
}

var (
	serveHost        string
	servePort        int
	workerSupervisor string
)

var supervisorCmd = &cobra.Command{
	Use:   "supervisor",
	Short: "Start the supervisor API server",
	Long:  `Start the supervisor: capability registry, intent routing and dispatch, on localhost:8000 by default.`,
	RunE:  runSupervisor,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the energy worker agent",
	Long: `Start the SmartCampusEnergyAgent worker on localhost:8001 by default.
It registers with the supervisor in the background unless auto_register is off.`,
	RunE: runWorker,
}

func runSupervisor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.Supervisor.Host = serveHost
	}
	if servePort > 0 {
		cfg.Supervisor.Port = servePort
	}

	s, err := daemon.NewSupervisor(cfg, daemon.NewLogger("scems-supervisor", cfg))
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Serve(cmd.Context())
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.Worker.Host = serveHost
	}
	if servePort > 0 {
		cfg.Worker.Port = servePort
	}
	// A default advertised URL follows the listen address.
	if (serveHost != "" || servePort > 0) && cfg.Worker.BaseURL == daemon.DefaultConfig().Worker.BaseURL {
		cfg.Worker.BaseURL = ""
	}
	if workerSupervisor != "" {
		cfg.Worker.SupervisorURL = workerSupervisor
	}

	w, err := daemon.NewWorker(cfg, daemon.NewLogger("scems-worker", cfg))
	if err != nil {
		return err
	}
	defer w.Close()
	return w.Serve(cmd.Context())
}
