package main

import (
	"fmt"
	"os"
)

const usage = `nodegraph executes node graphs.

Usage:
  nodegraph serve     [-listen-addr addr] [-no-scheduler]
  nodegraph run       [-query jq] [-graph id] [file]
  nodegraph validate  file
  nodegraph diagram   [-format ascii|mermaid|svg|png|dot] [-run id] [-graph id] [-o out] [file]
  nodegraph mcp
  nodegraph init      [flags]
  nodegraph version

Graph files are JSON or YAML ({"nodes": [...], "initialContext": {...}});
"-" reads JSON from stdin. Configuration is read from ~/.nodegraph/settings.yaml
(or settings.json) and NODEGRAPH_* environment variables.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "serve":
		runServe(args)
	case "run":
		runRun(args)
	case "validate":
		runValidate(args)
	case "diagram":
		runDiagram(args)
	case "mcp":
		runMCP(args)
	case "init":
		runInit(args)
	case "version", "-v", "--version":
		printVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}
