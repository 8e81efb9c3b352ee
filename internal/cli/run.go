package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/scems-network/scems/internal/client"
	"github.com/scems-network/scems/internal/domain"
	"github.com/scems-network/scems/internal/protocol"
)

func init() {
	queryCmd.Flags().StringVar(&queryUser, "user", "cli", "User id sent with the query")
	queryCmd.Flags().StringVar(&querySupervisor, "supervisor", "", "Supervisor URL (overrides config)")
	queryCmd.Flags().BoolVar(&queryAsync, "async", false, "Dispatch asynchronously and poll for the report")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Print the raw response as JSON")
	queryCmd.Flags().DurationVar(&queryWait, "wait", 2*time.Minute, "How long to wait for an async report")
	rootCmd.AddCommand(queryCmd)
}

var (
	queryUser       string
	querySupervisor string
	queryAsync      bool
	queryJSON       bool
	queryWait       time.Duration
)

var queryCmd = &cobra.Command{
	Use:   "query [PROMPT...]",
	Short: "Ask the supervisor an energy question",
	Long: `Route a natural-language question to the worker that offers the matching
capability. Without a prompt, starts an interactive session.`,
	RunE: runQuery,
}

func runQuery(cmd *cobra.Command, args []string) error {
	c, err := supervisorClient(querySupervisor)
	if err != nil {
		return err
	}

	if len(args) > 0 {
		// Single-shot mode
		return askAndPrint(cmd.Context(), c, strings.Join(args, " "))
	}

	// Interactive mode
	return interactiveQuery(cmd.Context(), c)
}

func askAndPrint(ctx context.Context, c *client.Client, prompt string) error {
	if queryAsync {
		return askAsync(ctx, c, prompt)
	}
	res, err := c.Query(ctx, queryUser, prompt)
	if err != nil {
		return explainQueryError(err)
	}
	if queryJSON {
		return printJSON(res)
	}
	printReport(res.Agent, res.Capability, res.Response)
	return nil
}

func askAsync(ctx context.Context, c *client.Client, prompt string) error {
	res, err := c.QueryAsync(ctx, queryUser, prompt)
	if err != nil {
		return explainQueryError(err)
	}
	if res.Ack.Status != "accepted" {
		return fmt.Errorf("dispatch to %s failed: %s", res.Agent, res.Ack.Message)
	}

	ctx, cancel := context.WithTimeout(ctx, queryWait)
	defer cancel()
	wait := startWait(res.Agent, res.Capability)
	report, err := c.WaitReport(ctx, res.Ack.MessageID, 250*time.Millisecond)
	if err != nil {
		wait.finish("timeout")
		return fmt.Errorf("no report for %s: %w", res.Ack.MessageID, err)
	}
	wait.finish("done")

	if queryJSON {
		return printJSON(report)
	}
	printReport(res.Agent, res.Capability, report)
	return nil
}

func printReport(agent, capability string, r protocol.CompletionReport) {
	fmt.Printf("%s → %s (%s)\n", capability, agent, r.Status)
	if r.Results.LTMHit {
		fmt.Println("  served from long-term memory")
	}
	for _, line := range r.Results.Explainability {
		fmt.Printf("  • %s\n", line)
	}
	if r.Error != "" {
		fmt.Printf("  error: %s\n", r.Error)
	}
	if len(r.Results.Data) > 0 {
		fmt.Println(indentJSON(r.Results.Data))
	}
}

// explainQueryError adds routing suggestions to a no-match error.
func explainQueryError(err error) error {
	var nm *domain.NoMatchError
	if errors.As(err, &nm) && len(nm.Suggestions) > 0 {
		stderrf("Could not route the question. Try one of:\n")
		for _, s := range nm.Suggestions {
			stderrf("  - %s\n", s)
		}
	}
	return err
}

func interactiveQuery(ctx context.Context, c *client.Client) error {
	fmt.Printf(">>> Asking %s (type /bye to exit)\n", c.BaseURL())

	scanner := newLineScanner(os.Stdin)
	for {
		fmt.Print(">>> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())

		if input == "/bye" || input == "/exit" || input == "/quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		if input == "" {
			continue
		}

		if err := askAndPrint(ctx, c, input); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	return scanner.Err()
}
