package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

// CommandExecutor runs a configured subprocess per request. The node's
// payload is written to the command's stdin; stdout becomes the result
// output. A non-zero exit is a work failure, not an infrastructure
// error, so it flows through the retry policy rather than aborting the
// run.
type CommandExecutor struct {
	Command string
	Args    []string
	WorkDir string
	pm      *ProcessManager
}

// NewCommandExecutor creates a subprocess-backed executor. pm may be nil
// if shutdown tracking is not needed.
func NewCommandExecutor(command string, args []string, pm *ProcessManager) *CommandExecutor {
	return &CommandExecutor{
		Command: command,
		Args:    args,
		pm:      pm,
	}
}

// Execute runs the command with process-group isolation so cancellation
// kills the whole subprocess tree, not just the immediate child.
func (e *CommandExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // New process group for clean tree termination
	}
	if e.WorkDir != "" {
		cmd.Dir = e.WorkDir
	}
	cmd.Stdin = strings.NewReader(req.Payload)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}

	stdout, stderr, err := drainCommand(cmd, e.pm)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		// Work failure: report through the result so the retry policy
		// decides, and keep whatever output was produced for tag parsing.
		return Result{
			Success:     false,
			Output:      string(stdout),
			ErrorReason: fmt.Sprintf("%v: %s", err, strings.TrimSpace(string(stderr))),
		}, nil
	}

	return Result{Success: true, Output: string(stdout)}, nil
}

// drainCommand starts the command and reads stdout and stderr
// concurrently before calling Wait. Draining both pipes first prevents a
// deadlock when subprocess output exceeds the pipe buffer.
func drainCommand(cmd *exec.Cmd, pm *ProcessManager) (stdout, stderr []byte, err error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("starting command: %w", err)
	}
	if pm != nil {
		pm.Track(cmd)
		defer pm.Untrack(cmd)
	}

	var wg sync.WaitGroup
	var stdoutBuf, stderrBuf bytes.Buffer
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&stdoutBuf, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&stderrBuf, stderrPipe)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), waitErr
}

// killProcessGroup kills the entire process group associated with the
// command (negative PID), preventing orphaned grandchildren.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("killing process group: %w", err)
	}
	return nil
}

// ProcessManager tracks running subprocesses so shutdown can terminate
// them all.
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates a new ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		procs: make(map[int]*exec.Cmd),
	}
}

// Track registers a subprocess after cmd.Start().
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
}

// Untrack removes a subprocess after cmd.Wait() completes.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll terminates all tracked subprocesses. Called during shutdown.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("killing process %d: %w", pid, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors killing processes: %v", errs)
	}
	return nil
}

// Count returns the number of tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
