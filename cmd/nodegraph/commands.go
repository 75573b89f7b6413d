package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/nodegraph/internal/diagram"
	"github.com/rendis/nodegraph/internal/engine"
	"github.com/rendis/nodegraph/internal/store"
	"github.com/rendis/nodegraph/pkg/mcp"
	"github.com/rendis/nodegraph/pkg/schema"
)

func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	query := fs.String("query", "", "jq expression applied to the result")
	graphID := fs.String("graph", "", "run a saved graph instead of a file")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a := mustApp(ctx, os.Stderr)
	defer a.Close()

	opts := engine.RunOptions{Source: store.SourceCLI}
	var req *schema.ExecuteRequest
	if *graphID != "" {
		g, err := a.store.GetGraph(ctx, *graphID)
		if err != nil {
			exitWithError(err)
		}
		req = &schema.ExecuteRequest{Nodes: g.Nodes, InitialContext: g.InitialContext}
		opts.GraphID = g.ID
	} else {
		req = a.loadRequest(fileArg(fs))
	}

	res, err := a.executor.Execute(ctx, *req, opts)
	if err != nil {
		var runErr *engine.RunError
		if errors.As(err, &runErr) {
			printJSON(os.Stdout, runErr.Response())
			os.Exit(1)
		}
		exitWithError(err)
	}

	var out any = res.Response()
	if *query != "" {
		out, err = a.projector.Project(ctx, *query, out)
		if err != nil {
			exitWithError(err)
		}
	}
	printJSON(os.Stdout, out)
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	raw, err := readGraphFile(fileArg(fs))
	if err != nil {
		fatalf("%v", err)
	}
	a := mustApp(context.Background(), os.Stderr)
	defer a.Close()

	result := a.validator.ValidateJSON(raw)
	printJSON(os.Stdout, map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
	if !result.Valid() {
		os.Exit(1)
	}
}

func runDiagram(args []string) {
	fs := flag.NewFlagSet("diagram", flag.ExitOnError)
	format := fs.String("format", "ascii", "output format: ascii, mermaid, svg, png, dot")
	runID := fs.String("run", "", "draw the graph of a recorded run with its trace")
	graphID := fs.String("graph", "", "draw a saved graph")
	output := fs.String("o", "", "write to file instead of stdout")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx := context.Background()
	a := mustApp(ctx, os.Stderr)
	defer a.Close()

	var (
		title   string
		nodes   []schema.Node
		overlay *diagram.Overlay
	)
	switch {
	case *runID != "":
		run, err := a.store.GetRun(ctx, *runID)
		if err != nil {
			exitWithError(err)
		}
		title = "run " + run.ID
		nodes = run.Nodes
		overlay = diagram.OverlayFromRun(run)
	case *graphID != "":
		g, err := a.store.GetGraph(ctx, *graphID)
		if err != nil {
			exitWithError(err)
		}
		title = g.Name
		nodes = g.Nodes
	default:
		nodes = a.loadRequest(fileArg(fs)).Nodes
	}

	model, err := diagram.Build(title, nodes, overlay)
	if err != nil {
		exitWithError(err)
	}

	var data []byte
	switch *format {
	case "ascii":
		data = []byte(diagram.RenderASCII(model))
	case "mermaid":
		data = []byte(diagram.RenderMermaid(model))
	default:
		data, err = diagram.RenderImage(ctx, model, *format)
		if err != nil {
			fatalf("%v", err)
		}
	}

	if *output == "" {
		os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(*output, data, 0o644); err != nil {
		fatalf("cannot write %s: %v", *output, err)
	}
	fmt.Fprintf(os.Stderr, "Diagram written to %s\n", *output)
}

func runMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// stdout carries the protocol.
	a := mustApp(ctx, os.Stderr)
	defer a.Close()

	srv := mcp.NewServer(mcp.ServerDeps{
		Runner:    a.executor,
		Validator: a.validator,
		Runs:      a.store,
		Graphs:    a.store,
		Projector: a.projector,
		Logger:    a.logger,
		Version:   version,
	})
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatalf("mcp: %v", err)
	}
}

// loadRequest reads, validates and decodes a graph file, exiting with the
// validation issues on rejection.
func (a *app) loadRequest(path string) *schema.ExecuteRequest {
	raw, err := readGraphFile(path)
	if err != nil {
		fatalf("%v", err)
	}
	if result := a.validator.ValidateJSON(raw); !result.Valid() {
		printJSON(os.Stdout, map[string]any{
			"valid":    false,
			"errors":   result.Errors,
			"warnings": result.Warnings,
		})
		os.Exit(1)
	} else {
		for _, w := range result.Warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s: %s\n", w.Path, w.Message)
		}
	}
	var req schema.ExecuteRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		exitWithError(err)
	}
	return &req
}

func fileArg(fs *flag.FlagSet) string {
	if fs.NArg() != 1 {
		fatalf("%s: expected one graph file (or - for stdin)", fs.Name())
	}
	return fs.Arg(0)
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// exitWithError prints err as an error response and exits.
func exitWithError(err error) {
	resp := schema.ErrorResponse{Error: err.Error()}
	var nErr *schema.Error
	if errors.As(err, &nErr) {
		resp.Error = nErr.Message
		resp.Code = nErr.Code
	}
	printJSON(os.Stdout, resp)
	os.Exit(1)
}
