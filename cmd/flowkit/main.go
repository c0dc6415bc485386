// Command flowkit validates, runs, and schedules workflow definitions from
// the command line. Agent and retrieval ports are bound to echo
// implementations and tool steps to the built-in registry, so definitions can
// be exercised end to end without external services.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/flowkit/internal/engine"
	"github.com/rendis/flowkit/internal/logging"
	"github.com/rendis/flowkit/internal/scheduler"
	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/internal/tools"
	"github.com/rendis/flowkit/internal/validation"
	"github.com/rendis/flowkit/pkg/schema"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		err = runValidate(os.Args[2:])
	case "run":
		err = runExecute(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  flowkit validate <workflow.json>
  flowkit run [-input '{"k":"v"}'] [-db path] [-v] <workflow.json>
  flowkit serve [-db path] [-v] <workflow.json> [workflow.json ...]`)
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		usage()
		return fmt.Errorf("validate expects exactly one workflow file")
	}

	wf, err := loadWorkflow(fs.Arg(0))
	if err != nil {
		return err
	}

	validator, err := validation.NewWorkflowValidator()
	if err != nil {
		return err
	}
	result := validator.ValidateWorkflow(wf)
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s: %s\n", w.Path, w.Message)
	}
	for _, e := range result.Errors {
		fmt.Printf("error: %s: %s\n", e.Path, e.Message)
	}
	if !result.Valid() {
		return fmt.Errorf("workflow %q is invalid (%d errors)", wf.ID, len(result.Errors))
	}

	fmt.Printf("workflow %q is valid (%d steps)\n", wf.ID, len(wf.Steps))
	return nil
}

func runExecute(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	inputJSON := fs.String("input", "", "initial variables as a JSON object")
	dbPath := fs.String("db", "", "libSQL database path (default: in-memory store)")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		usage()
		return fmt.Errorf("run expects exactly one workflow file")
	}

	wf, err := loadWorkflow(fs.Arg(0))
	if err != nil {
		return err
	}

	validator, err := validation.NewWorkflowValidator()
	if err != nil {
		return err
	}
	if result := validator.ValidateWorkflow(wf); !result.Valid() {
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "error: %s: %s\n", e.Path, e.Message)
		}
		return fmt.Errorf("workflow %q is invalid", wf.ID)
	}

	var input map[string]any
	if *inputJSON != "" {
		if err := json.Unmarshal([]byte(*inputJSON), &input); err != nil {
			return fmt.Errorf("parse -input: %w", err)
		}
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	handler := logging.NewCorrelationHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	logger := slog.New(handler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workflows, executions, closeStore, err := openStores(ctx, *dbPath)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := workflows.Save(ctx, wf); err != nil {
		return err
	}

	eng, err := engine.New(engine.DefaultConfig(), engine.Deps{
		Workflows:  workflows,
		Executions: executions,
		Agents:     echoPorts{},
		Tools:      tools.NewDefaultRegistry(),
		Retriever:  echoPorts{},
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer eng.Shutdown()

	exec, err := eng.Execute(ctx, wf.ID, input)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(exec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if exec.Status == schema.ExecutionStatusFailed {
		return fmt.Errorf("execution %s failed: %s", exec.ID, exec.Error.Error())
	}
	return nil
}

// runServe loads one or more workflow definitions and keeps the process
// alive, firing their cron triggers through the engine until interrupted.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dbPath := fs.String("db", "", "libSQL database path (default: in-memory store)")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		usage()
		return fmt.Errorf("serve expects at least one workflow file")
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	handler := logging.NewCorrelationHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	logger := slog.New(handler)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workflows, executions, closeStore, err := openStores(ctx, *dbPath)
	if err != nil {
		return err
	}
	defer closeStore()

	validator, err := validation.NewWorkflowValidator()
	if err != nil {
		return err
	}
	triggered := 0
	for _, path := range fs.Args() {
		wf, err := loadWorkflow(path)
		if err != nil {
			return err
		}
		if result := validator.ValidateWorkflow(wf); !result.Valid() {
			for _, e := range result.Errors {
				fmt.Fprintf(os.Stderr, "error: %s: %s\n", e.Path, e.Message)
			}
			return fmt.Errorf("workflow %q is invalid", wf.ID)
		}
		if err := workflows.Save(ctx, wf); err != nil {
			return err
		}
		for _, t := range wf.Triggers {
			if t.Type == "cron" && t.Enabled {
				triggered++
			}
		}
	}
	if triggered == 0 {
		return fmt.Errorf("none of the given workflows has an enabled cron trigger")
	}

	eng, err := engine.New(engine.DefaultConfig(), engine.Deps{
		Workflows:  workflows,
		Executions: executions,
		Agents:     echoPorts{},
		Tools:      tools.NewDefaultRegistry(),
		Retriever:  echoPorts{},
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer eng.Shutdown()

	sched := scheduler.New(workflows, eng, logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	logger.Info("scheduler started",
		slog.Int("workflows", fs.NArg()), slog.Int("cron_triggers", triggered))

	<-ctx.Done()
	return sched.Stop()
}

func openStores(ctx context.Context, dbPath string) (store.WorkflowRepository, store.ExecutionStore, func(), error) {
	if dbPath == "" {
		mem := store.NewMemoryStore()
		return mem, mem.Executions(), func() {}, nil
	}

	db, err := store.NewLibSQLStore("file:" + dbPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return db, db.Executions(), func() { db.Close() }, nil
}

func loadWorkflow(path string) (*schema.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	wf := &schema.Workflow{}
	if err := json.Unmarshal(data, wf); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", path, err)
	}
	return wf, nil
}

// echoPorts satisfies the engine's agent and retrieval ports by echoing
// inputs back, so workflows can be dry-run end to end.
type echoPorts struct{}

func (echoPorts) ExecuteAgent(ctx context.Context, agentID string, input any) (any, error) {
	return map[string]any{"agent": agentID, "echo": input}, nil
}

func (echoPorts) Retrieve(ctx context.Context, pipelineID, query string, topK int) ([]schema.Document, error) {
	return []schema.Document{{
		ID:      pipelineID + ":echo",
		Content: query,
		Score:   1.0,
	}}, nil
}
