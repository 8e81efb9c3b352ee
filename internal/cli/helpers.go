package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/scems-network/scems/internal/client"
)

// newLineScanner creates a line scanner from a reader.
func newLineScanner(r io.Reader) *bufio.Scanner {
	return bufio.NewScanner(r)
}

// supervisorClient targets --supervisor, else the configured supervisor URL.
func supervisorClient(override string) (*client.Client, error) {
	if override != "" {
		return client.New(override, nil), nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return client.New(cfg.Worker.SupervisorURL, nil), nil
}

// workerClient targets --worker, else the configured worker base URL.
func workerClient(override string) (*client.Client, error) {
	if override != "" {
		return client.New(override, nil), nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return client.New(cfg.Worker.BaseURL, nil), nil
}

// printJSON writes v indented to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// indentJSON re-indents raw JSON for display, returning it unchanged when
// it does not parse.
func indentJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func stderrf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}
