package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aristath/dagrun/internal/audit"
	"github.com/aristath/dagrun/internal/config"
	"github.com/aristath/dagrun/internal/events"
	"github.com/aristath/dagrun/internal/executor"
	"github.com/aristath/dagrun/internal/persistence"
	"github.com/aristath/dagrun/internal/runner"
	"github.com/aristath/dagrun/internal/scheduler"
	"github.com/aristath/dagrun/internal/tui"
)

const snapshotInterval = 5 * time.Second

func main() {
	graphPath := flag.String("graph", "", "path to the JSON graph spec")
	resume := flag.Bool("resume", false, "resume the run persisted in the snapshot store")
	useTUI := flag.Bool("tui", false, "attach the interactive status view")
	flag.Parse()

	if *graphPath == "" && !*resume {
		fmt.Fprintln(os.Stderr, "usage: dagrun -graph <spec.json> [-tui] | dagrun -resume [-tui]")
		os.Exit(2)
	}

	// Signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	bus := events.NewBus()
	defer bus.Close()

	if cfg.AuditLog != "" {
		logger, err := audit.NewLogger(cfg.AuditLog, os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening audit log: %v\n", err)
			os.Exit(1)
		}
		go logger.Consume(bus.SubscribeAll(256))
	}

	store, err := persistence.NewSQLiteStore(ctx, cfg.SnapshotDB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening snapshot store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	graph, locks, err := assembleGraph(ctx, store, *graphPath, *resume)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ProcessManager for subprocess tracking during shutdown
	pm := executor.NewProcessManager()
	registry := executor.NewRegistry()
	for kind, ec := range cfg.Executors {
		cmdExec := executor.NewCommandExecutor(ec.Command, ec.Args, pm)
		cmdExec.WorkDir = ec.WorkDir
		registry.Register(kind, cmdExec)
	}

	policy := scheduler.NewRetryPolicy(cfg.Retry.MaxAttempts, cfg.Retry.Default)
	router := scheduler.NewMessageRouter(graph, cfg.Scheduler.StallThreshold)
	run := runner.New(runner.Config{
		Concurrency: cfg.Scheduler.Concurrency,
		NodeTimeout: time.Duration(cfg.Scheduler.NodeTimeoutSeconds) * time.Second,
	}, graph, locks, policy, router, registry, bus)

	// Periodic snapshots make the run resumable after a crash.
	snapCtx, snapCancel := context.WithCancel(context.Background())
	defer snapCancel()
	go snapshotLoop(snapCtx, store, graph, locks)

	runErr := make(chan error, 1)
	go func() {
		runErr <- run.Run(ctx)
	}()

	if *useTUI {
		err = runWithTUI(ctx, stop, bus, run, pm, runErr)
	} else {
		err = runHeadless(ctx, stop, bus, pm, runErr)
	}

	// Final snapshot captures the terminal states.
	snapCancel()
	saveSnapshot(store, graph, locks)
	printSummary(graph)

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// assembleGraph builds the graph from the spec file, or restores it from
// the snapshot store when resuming.
func assembleGraph(ctx context.Context, store persistence.Store, graphPath string, resume bool) (*scheduler.TaskGraph, *scheduler.ResourceLockTable, error) {
	if resume {
		snap, err := store.LoadSnapshot(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("loading snapshot: %w", err)
		}
		if len(snap.Nodes) == 0 {
			return nil, nil, fmt.Errorf("snapshot store is empty; nothing to resume")
		}
		return snap.Restore()
	}

	graph, err := loadGraphSpec(graphPath)
	if err != nil {
		return nil, nil, err
	}
	return graph, scheduler.NewResourceLockTable(), nil
}

// runHeadless prints node activity to stderr via the standard logger and
// waits for the run to finish or a shutdown signal.
func runHeadless(ctx context.Context, stop context.CancelFunc, bus *events.Bus, pm *executor.ProcessManager, runErr <-chan error) error {
	sub := bus.SubscribeAll(256)
	go func() {
		for ev := range sub {
			if id := ev.NodeID(); id != "" {
				log.Printf("%s %s", ev.EventType(), id)
			} else {
				log.Printf("%s", ev.EventType())
			}
		}
	}()

	select {
	case err := <-runErr:
		return err
	case <-ctx.Done():
		// Restore default signal handling so a second Ctrl+C force-exits.
		stop()
		log.Println("Shutdown signal received, cleaning up...")
		if err := pm.KillAll(); err != nil {
			log.Printf("Error killing subprocesses: %v", err)
		}
		return waitWithTimeout(runErr)
	}
}

// runWithTUI drives the Bubble Tea status view alongside the run.
func runWithTUI(ctx context.Context, stop context.CancelFunc, bus *events.Bus, run *runner.Runner, pm *executor.ProcessManager, runErr <-chan error) error {
	p := tea.NewProgram(tui.New(bus, run), tea.WithAltScreen())

	tuiErr := make(chan error, 1)
	go func() {
		_, err := p.Run()
		tuiErr <- err
	}()

	var result error
	select {
	case result = <-runErr:
		// Run finished; leave the TUI up until the operator quits.
		if err := <-tuiErr; err != nil {
			log.Printf("TUI exit error: %v", err)
		}
	case err := <-tuiErr:
		// Operator quit the TUI first; abort the run.
		if err != nil {
			log.Printf("TUI exit error: %v", err)
		}
		run.Abort("status view closed")
		result = waitWithTimeout(runErr)
	case <-ctx.Done():
		stop()
		if err := pm.KillAll(); err != nil {
			log.Printf("Error killing subprocesses: %v", err)
		}
		p.Quit()
		result = waitWithTimeout(runErr)
	}
	return result
}

// waitWithTimeout collects the run result, bounded so a stuck executor
// cannot hang shutdown forever.
func waitWithTimeout(runErr <-chan error) error {
	select {
	case err := <-runErr:
		return err
	case <-time.After(10 * time.Second):
		log.Println("Shutdown timeout exceeded, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// snapshotLoop saves the run state on a fixed cadence until cancelled.
func snapshotLoop(ctx context.Context, store persistence.Store, graph *scheduler.TaskGraph, locks *scheduler.ResourceLockTable) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			saveSnapshot(store, graph, locks)
		case <-ctx.Done():
			return
		}
	}
}

func saveSnapshot(store persistence.Store, graph *scheduler.TaskGraph, locks *scheduler.ResourceLockTable) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.SaveSnapshot(ctx, persistence.Capture(graph, locks)); err != nil {
		log.Printf("WARNING: snapshot save failed: %v", err)
	}
}

// printSummary writes the per-node outcome table to stdout.
func printSummary(graph *scheduler.TaskGraph) {
	fmt.Println()
	fmt.Println("Run summary:")
	for _, node := range graph.Nodes() {
		line := fmt.Sprintf("  %-11s %s (%s, %d attempt(s))", node.State, node.ID, node.Kind, node.Attempt)
		if node.State == scheduler.StateEscalated && node.BlockReason != "" {
			line += ": " + node.BlockReason
		}
		if node.State == scheduler.StateSuperseded && node.SupersededBy != "" {
			line += " -> " + node.SupersededBy
		}
		fmt.Println(line)
	}
}
