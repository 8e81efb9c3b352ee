package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	ltmCmd.PersistentFlags().StringVar(&ltmWorker, "worker", "", "Worker URL (overrides config)")
	ltmQueryCmd.Flags().BoolVar(&ltmValues, "values", false, "Print stored values")
	ltmCmd.AddCommand(ltmQueryCmd, ltmSweepCmd)
	rootCmd.AddCommand(ltmCmd)
}

var (
	ltmWorker string
	ltmValues bool
)

var ltmCmd = &cobra.Command{
	Use:   "ltm",
	Short: "Inspect a worker's long-term memory",
}

var ltmQueryCmd = &cobra.Command{
	Use:   "query [PREFIX]",
	Short: "List fresh LTM entries whose key starts with PREFIX",
	Long: `List fresh LTM entries. Keys look like <capability>:<building>:<hash>,
so "cost_estimation:" lists every cached cost estimate and
"cost_estimation:Building-B:" narrows it to one building.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLTMQuery,
}

var ltmSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired LTM entries now",
	Args:  cobra.NoArgs,
	RunE:  runLTMSweep,
}

func runLTMQuery(cmd *cobra.Command, args []string) error {
	c, err := workerClient(ltmWorker)
	if err != nil {
		return err
	}
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}

	res, err := c.LTMQuery(cmd.Context(), prefix)
	if err != nil {
		return err
	}

	if res.Total == 0 {
		fmt.Printf("No entries under %q (backend %s).\n", prefix, res.Backend)
		return nil
	}

	if ltmValues {
		for _, e := range res.Entries {
			fmt.Println(e.Key)
			fmt.Println(indentJSON(e.Value))
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSIZE\tCREATED\tEXPIRES IN")
	for _, e := range res.Entries {
		fmt.Fprintf(w, "%s\t%dB\t%s\t%s\n",
			e.Key,
			len(e.Value),
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			time.Until(e.ExpiresAt).Round(time.Minute),
		)
	}
	fmt.Fprintf(w, "\n%d entries (backend %s)\n", res.Total, res.Backend)
	return w.Flush()
}

func runLTMSweep(cmd *cobra.Command, args []string) error {
	c, err := workerClient(ltmWorker)
	if err != nil {
		return err
	}
	n, err := c.LTMSweep(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d expired entries.\n", n)
	return nil
}
