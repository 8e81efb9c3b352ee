package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	registryCmd.Flags().StringVar(&registrySupervisor, "supervisor", "", "Supervisor URL (overrides config)")
	rootCmd.AddCommand(registryCmd)
}

var registrySupervisor string

var registryCmd = &cobra.Command{
	Use:     "registry",
	Aliases: []string{"ls"},
	Short:   "List the agents registered with the supervisor",
	RunE:    runRegistry,
}

func runRegistry(cmd *cobra.Command, args []string) error {
	c, err := supervisorClient(registrySupervisor)
	if err != nil {
		return err
	}

	reg, err := c.Registry(cmd.Context())
	if err != nil {
		return err
	}

	if reg.Total == 0 {
		fmt.Println("No agents registered. Start one with 'scems worker'.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tBASE URL\tLAST SEEN\tCAPABILITIES")
	for _, a := range reg.Agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.Name,
			a.Status,
			a.BaseURL,
			a.LastSeen.Local().Format("2006-01-02 15:04"),
			strings.Join(a.Capabilities, ","),
		)
	}
	return w.Flush()
}
