package pyharbor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// PackageAction selects the package-manager operation a request performs.
type PackageAction string

const (
	// ActionInstall installs a package into the environment.
	ActionInstall PackageAction = "install"
	// ActionRemove removes a package from the environment.
	ActionRemove PackageAction = "remove"
	// ActionUpdate upgrades a package to its latest version.
	ActionUpdate PackageAction = "update"
	// ActionUpgradeManager upgrades the package manager itself.
	ActionUpgradeManager PackageAction = "upgrade-manager"
	// ActionInstallManager bootstraps the package manager into the environment.
	ActionInstallManager PackageAction = "install-manager"
)

// DefaultOperationTimeout bounds a package operation's wall-clock time when
// the request does not specify one.
const DefaultOperationTimeout = 120 * time.Second

// OperationState is a package operation's position in its lifecycle:
// Pending -> Running -> {Completed, TimedOut, Failed, Cancelled}.
type OperationState int32

const (
	OpPending OperationState = iota
	OpRunning
	OpCompleted
	OpTimedOut
	OpFailed
	OpCancelled
)

func (s OperationState) String() string {
	switch s {
	case OpPending:
		return "pending"
	case OpRunning:
		return "running"
	case OpCompleted:
		return "completed"
	case OpTimedOut:
		return "timed-out"
	case OpFailed:
		return "failed"
	case OpCancelled:
		return "cancelled"
	}
	return "unknown"
}

// PackageRequest is a transient description of one package operation. It is
// never persisted.
type PackageRequest struct {
	// Env is the target environment.
	Env *Environment

	// Package is the package name or specifier. Ignored by the manager
	// actions, which have fixed targets.
	Package string

	// Action selects the operation.
	Action PackageAction

	// Kind overrides the tooling flavor; the zero value inherits Env.Kind.
	Kind InstallKind

	// Timeout bounds the operation; zero means DefaultOperationTimeout.
	Timeout time.Duration
}

// Operation is one in-flight or finished package operation.
type Operation struct {
	state atomic.Int32
	done  chan struct{}
	lines []string
	err   error
}

// State returns the operation's current lifecycle state.
func (op *Operation) State() OperationState {
	return OperationState(op.state.Load())
}

// Wait blocks until the operation finishes and returns the collected output
// lines and the final error, if any.
func (op *Operation) Wait() ([]string, error) {
	<-op.done
	return op.lines, op.err
}

func (op *Operation) finish(state OperationState, err error) {
	op.state.Store(int32(state))
	op.err = err
}

// Runner spawns package-manager child processes, streams their combined
// stdout/stderr lines to a progress sink as they arrive, and enforces a
// wall-clock timeout with forcible termination.
//
// A per-environment mutex guarantees at most one concurrent package
// operation per environment; operations on different environments proceed
// independently, with no cross-operation ordering guarantee.
type Runner struct {
	store *Store
}

// NewRunner creates a runner backed by the given store for package-list
// refreshes. The store may be nil, which disables refreshes.
func NewRunner(store *Store) *Runner {
	return &Runner{store: store}
}

// Run executes a package operation synchronously. It is Start followed by
// Wait on the returned operation.
func (r *Runner) Run(ctx context.Context, req PackageRequest, sink ProgressSink) ([]string, error) {
	return r.Start(ctx, req, sink).Wait()
}

// Start launches a package operation and returns immediately. Progress-sink
// notifications are delivered in the order lines were read from the child's
// output; the relative order of stdout versus stderr lines is the arrival
// order, with no stronger guarantee.
func (r *Runner) Start(ctx context.Context, req PackageRequest, sink ProgressSink) *Operation {
	op := &Operation{done: make(chan struct{})}
	go r.execute(ctx, req, sink, op)
	return op
}

// commandArgs maps (kind, action, package) to the tool name and argv for
// the package-manager invocation. The table is fixed; no shell text is ever
// assembled.
func commandArgs(kind InstallKind, action PackageAction, pkg string) (string, []string, error) {
	if kind == InstallKindConda {
		switch action {
		case ActionInstall:
			return "conda", []string{"install", "-y", pkg}, nil
		case ActionRemove:
			return "conda", []string{"remove", "-y", pkg}, nil
		case ActionUpdate:
			return "conda", []string{"update", "-y", pkg}, nil
		case ActionUpgradeManager:
			return "conda", []string{"update", "-y", "conda"}, nil
		case ActionInstallManager:
			return "conda", []string{"install", "-y", "pip"}, nil
		}
		return "", nil, fmt.Errorf("unknown package action %q", action)
	}

	switch action {
	case ActionInstall:
		return "pip", []string{"install", "--no-warn-script-location", pkg}, nil
	case ActionRemove:
		return "pip", []string{"uninstall", "-y", pkg}, nil
	case ActionUpdate:
		return "pip", []string{"install", "--upgrade", pkg}, nil
	case ActionUpgradeManager:
		return "python", []string{"-m", "pip", "install", "--upgrade", "pip"}, nil
	case ActionInstallManager:
		return "python", []string{"-m", "ensurepip", "--upgrade"}, nil
	}
	return "", nil, fmt.Errorf("unknown package action %q", action)
}

// lookPathPrefer resolves tool, preferring the environment's bin directory
// over the host PATH so the environment's own tooling wins.
func lookPathPrefer(binDir, tool string) (string, error) {
	name := tool
	if runtime.GOOS == "windows" {
		name = tool + ".exe"
	}
	candidate := filepath.Join(binDir, name)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() && canExecute(candidate) {
		return candidate, nil
	}
	return exec.LookPath(tool)
}

// prefixPath returns environ with binDir prepended to PATH.
func prefixPath(environ []string, binDir string) []string {
	out := make([]string, 0, len(environ)+1)
	found := false
	for _, kv := range environ {
		if strings.HasPrefix(kv, "PATH=") {
			out = append(out, "PATH="+binDir+string(os.PathListSeparator)+kv[len("PATH="):])
			found = true
			continue
		}
		out = append(out, kv)
	}
	if !found {
		out = append(out, "PATH="+binDir)
	}
	return out
}

func (r *Runner) execute(ctx context.Context, req PackageRequest, sink ProgressSink, op *Operation) {
	defer close(op.done)

	env := req.Env
	if env == nil {
		op.finish(OpFailed, fmt.Errorf("%w: no target environment", ErrOperationFailed))
		return
	}

	// at most one concurrent operation per environment
	env.opMu.Lock()
	defer env.opMu.Unlock()

	kind := req.Kind
	if kind == "" {
		kind = env.Kind
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}

	tool, args, err := commandArgs(kind, req.Action, req.Package)
	if err != nil {
		op.finish(OpFailed, fmt.Errorf("%w: %v", ErrOperationFailed, err))
		return
	}
	exe, err := lookPathPrefer(env.BinPath(), tool)
	if err != nil {
		op.finish(OpFailed, fmt.Errorf("%w: resolving %s: %v", ErrOperationFailed, tool, err))
		return
	}

	cmd := exec.Command(exe, args...)
	cmd.Env = prefixPath(os.Environ(), env.BinPath())
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		op.finish(OpFailed, fmt.Errorf("%w: %v", ErrOperationFailed, err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		op.finish(OpFailed, fmt.Errorf("%w: %v", ErrOperationFailed, err))
		return
	}

	if err := cmd.Start(); err != nil {
		op.finish(OpFailed, fmt.Errorf("%w: starting %s: %v", ErrOperationFailed, tool, err))
		return
	}
	op.state.Store(int32(OpRunning))
	start := time.Now()

	// stdout and stderr drain on dedicated loops into one ordered channel
	lines := make(chan string, 64)
	var drainWG sync.WaitGroup
	drainWG.Add(2)
	drain := func(rd io.Reader) {
		defer drainWG.Done()
		scanner := bufio.NewScanner(rd)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}
	go drain(stdout)
	go drain(stderr)
	go func() {
		drainWG.Wait()
		close(lines)
	}()

	// whichever side settles first owns the outcome: a watchdog firing after
	// the child has already been reaped must not reclassify a completed run
	var timedOut, cancelled, settled atomic.Bool
	watchdogDone := make(chan struct{})
	watchdogExited := make(chan struct{})
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	go func() {
		defer close(watchdogExited)
		select {
		case <-timer.C:
			if settled.CompareAndSwap(false, true) {
				timedOut.Store(true)
				_ = killProcessTree(cmd)
			}
		case <-ctx.Done():
			if settled.CompareAndSwap(false, true) {
				// timeout takes precedence when both could apply
				if time.Since(start) >= timeout {
					timedOut.Store(true)
				} else {
					cancelled.Store(true)
				}
				_ = killProcessTree(cmd)
			}
		case <-watchdogDone:
		}
	}()

	var collected []string
	for line := range lines {
		if timedOut.Load() || cancelled.Load() {
			// a kill is in flight; stop forwarding to the sink
			continue
		}
		collected = append(collected, line)
		notify(sink, Progress{Message: line, Phase: string(req.Action), Numerator: int64(len(collected)), Denominator: -1})
	}
	waitErr := cmd.Wait()
	if !settled.CompareAndSwap(false, true) {
		// the watchdog claimed the outcome; wait for its verdict flags
		<-watchdogExited
	}
	close(watchdogDone)

	label := req.Package
	if label == "" {
		label = tool
	}

	switch {
	case timedOut.Load():
		line := fmt.Sprintf("timeout expired after %s", timeout)
		notify(sink, Progress{Message: line, Phase: string(req.Action), Denominator: -1})
		op.lines = []string{line}
		op.finish(OpTimedOut, fmt.Errorf("%w: %s %s on %s: %s", ErrOperationTimedOut, req.Action, label, env.Name, line))
	case cancelled.Load():
		op.lines = collected
		op.finish(OpCancelled, fmt.Errorf("%w: %s %s on %s", ErrOperationCancelled, req.Action, label, env.Name))
	case waitErr != nil:
		reason := waitErr.Error()
		if n := len(collected); n > 0 {
			reason = collected[n-1]
		}
		op.lines = collected
		op.finish(OpFailed, fmt.Errorf("%w: %s %s on %s: %s", ErrOperationFailed, req.Action, label, env.Name, reason))
	default:
		op.lines = collected
		op.finish(OpCompleted, nil)
		if req.Action != ActionInstallManager {
			go r.refreshPackages(env, kind)
		}
	}
}

// refreshPackages re-reads the environment's installed-package list after a
// successful operation. Failures are logged, never surfaced: the original
// operation already succeeded.
func (r *Runner) refreshPackages(env *Environment, kind InstallKind) {
	if r.store == nil {
		return
	}

	var tool string
	var args []string
	if kind == InstallKindConda {
		tool = "conda"
		args = []string{"list", "-p", env.Path, "--json"}
	} else {
		tool = "pip"
		args = []string{"list", "--format=json"}
	}
	exe, err := lookPathPrefer(env.BinPath(), tool)
	if err != nil {
		log.Printf("pyharbor: package refresh for %s: %v", env.Name, err)
		return
	}

	cmd := exec.Command(exe, args...)
	cmd.Env = prefixPath(os.Environ(), env.BinPath())
	out, err := cmd.Output()
	if err != nil {
		log.Printf("pyharbor: package refresh for %s: %v", env.Name, err)
		return
	}

	var pkgs []PackageRecord
	if err := json.Unmarshal(out, &pkgs); err != nil {
		log.Printf("pyharbor: package refresh for %s: decoding %s output: %v", env.Name, tool, err)
		return
	}

	r.store.SetPackages(env.ID, pkgs)
	r.store.Touch(env.ID)
	if err := r.store.Save(); err != nil {
		log.Printf("pyharbor: persisting catalogue after refresh of %s: %v", env.Name, err)
	}
}
