package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	healthCmd.Flags().StringVar(&healthSupervisor, "supervisor", "", "Supervisor URL (overrides config)")
	rootCmd.AddCommand(healthCmd)
}

var healthSupervisor string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe every registered agent and show the aggregate health",
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	c, err := supervisorClient(healthSupervisor)
	if err != nil {
		return err
	}

	agg, err := c.AggregateHealth(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("supervisor: %s (%d/%d agents healthy)\n", agg.SupervisorStatus, agg.HealthyAgents, agg.TotalAgents)
	if len(agg.Agents) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tLATENCY\tLAST SEEN\tERROR")
	for _, a := range agg.Agents {
		latency := "-"
		if a.ResponseTimeMS != nil {
			latency = fmt.Sprintf("%.0fms", *a.ResponseTimeMS)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.Name,
			a.Status,
			latency,
			a.LastSeen.Local().Format("2006-01-02 15:04:05"),
			a.Error,
		)
	}
	return w.Flush()
}
