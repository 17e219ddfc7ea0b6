// Package main provides the stackctl binary: validate, resolve, render and
// apply deployment topologies.
//
// Usage:
//
//	stackctl <command> [flags]
//
// Commands:
//
//	validate  - Check a topology for schema and semantic problems
//	resolve   - Print the activation set in start order
//	render    - Emit the deployable document for a profile/variable selection
//	apply     - Start the environment on a Docker engine (local or via SSH)
//	down      - Tear the environment down
//	status    - Show aggregate health of a running environment
//	logs      - Show recent logs of one service
//	catalog   - List the built-in environments
//	init      - Write a built-in environment manifest to a file
//	version   - Show version information
//
// Exit codes: 0 success, 1 schema or validation failure, 2 dependency
// cycle, 3 render failure, 4 engine failure, 5 usage error.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/artpar/stackctl/internal/core/render"
	"github.com/artpar/stackctl/internal/core/topology"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess    = 0
	ExitValidation = 1 // schema or semantic validation failure
	ExitCycle      = 2 // dependency cycle
	ExitRender     = 3 // unresolved variables
	ExitEngine     = 4 // engine or remote failure
	ExitUsage      = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return ExitUsage
	}

	cmd := args[0]
	rest := args[1:]

	switch cmd {
	case "validate":
		return validateCmd(rest)
	case "resolve":
		return resolveCmd(rest)
	case "render":
		return renderCmd(rest)
	case "apply":
		return applyCmd(rest)
	case "down":
		return downCmd(rest)
	case "status":
		return statusCmd(rest)
	case "logs":
		return logsCmd(rest)
	case "catalog":
		return catalogCmd(rest)
	case "init":
		return initCmd(rest)
	case "version":
		fmt.Printf("stackctl %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	case "help", "-h", "--help":
		usage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		return ExitUsage
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: stackctl <command> [flags]

Commands:
  validate   Check a topology for schema and semantic problems
  resolve    Print the activation set in start order
  render     Emit the deployable document
  apply      Start the environment on a Docker engine
  down       Tear the environment down
  status     Show aggregate health of a running environment
  logs       Show recent logs of one service
  catalog    List the built-in environments
  init       Write a built-in environment manifest to a file
  version    Show version information

Run 'stackctl <command> -h' for command flags.
`)
}

// classifyExit maps a pipeline error to the exit code class it belongs to.
func classifyExit(err error) int {
	var schemaErr *topology.SchemaError
	var validationErr *topology.ValidationError
	var cycleErr *topology.CycleError
	var renderErr *render.RenderError

	switch {
	case errors.As(err, &cycleErr):
		return ExitCycle
	case errors.As(err, &renderErr):
		return ExitRender
	case errors.As(err, &schemaErr), errors.As(err, &validationErr):
		return ExitValidation
	default:
		return ExitValidation
	}
}
