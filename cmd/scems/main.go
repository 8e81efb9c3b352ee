// Package main is the single-binary entrypoint for SCEMS. The same binary
// runs the supervisor, the energy worker and the client commands.
package main

import "github.com/scems-network/scems/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
