package pyharbor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Mode selects how the orchestrator binds callers to sessions.
type Mode string

const (
	// ModeSingleUser maintains exactly one current environment/session pair.
	ModeSingleUser Mode = "single-user"

	// ModeMultiUser maintains one session per caller username.
	ModeMultiUser Mode = "multi-user"
)

// ManagerState is the orchestrator's lifecycle position:
// Uninitialized -> Initializing -> Ready -> {Reinitializing -> Ready, Disposed}.
type ManagerState int32

const (
	StateUninitialized ManagerState = iota
	StateInitializing
	StateReady
	StateReinitializing
	StateDisposed
)

func (s ManagerState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateReinitializing:
		return "reinitializing"
	case StateDisposed:
		return "disposed"
	}
	return "unknown"
}

// adminEnvName is the name of the dedicated management environment the
// orchestrator provisions at initialization.
const adminEnvName = "admin"

// sharedEnvName is the default workspace environment multi-user sessions
// bind to when the caller does not name one.
const sharedEnvName = "shared"

// baseManagerPackages are installed into the admin environment right after
// it is provisioned: the environment tool and the isolation tool, on top of
// a package-manager upgrade.
var baseManagerPackages = []string{"virtualenv", "pipenv"}

// Manager is the top-level facade: it selects the operating mode, provisions
// the dedicated admin environment, and coordinates the store, provisioner,
// registry, scope binder, gate and runner to hand callers ready sessions.
//
// Mode is fixed at Initialize and changes only through a full Reinitialize;
// there is no in-place mode mutation and mode is never inferred from
// creator identities.
type Manager struct {
	cfg    Config
	inst   *InterpreterInstallation
	interp Interpreter
	sink   ProgressSink

	store    *Store
	gate     *Gate
	binder   *ScopeBinder
	registry *Registry
	prov     *Provisioner
	runner   *Runner

	mu             sync.Mutex
	state          ManagerState
	mode           Mode
	adminEnv       *Environment
	current        *Environment
	currentSession *Session
	userSessions   map[string]*Session
}

// NewManager assembles a manager over an interpreter installation and a
// running interpreter. The sink may be nil.
func NewManager(cfg Config, inst *InterpreterInstallation, interp Interpreter, sink ProgressSink) *Manager {
	store := NewStore(cfg.StorePath)
	gate := NewGate()
	binder := NewScopeBinder(gate, interp)
	registry := NewRegistry(store, binder)
	return &Manager{
		cfg:          cfg,
		inst:         inst,
		interp:       interp,
		sink:         sink,
		store:        store,
		gate:         gate,
		binder:       binder,
		registry:     registry,
		prov:         NewProvisioner(store, registry, binder, sink),
		runner:       NewRunner(store),
		state:        StateUninitialized,
		userSessions: make(map[string]*Session),
	}
}

// State returns the manager's lifecycle state.
func (m *Manager) State() ManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Mode returns the operating mode chosen at initialization.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// AdminEnvironment returns the dedicated management environment.
func (m *Manager) AdminEnvironment() *Environment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adminEnv
}

// Store exposes the environment catalogue.
func (m *Manager) Store() *Store {
	return m.store
}

// Registry exposes the session registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Initialize loads the catalogue, provisions the admin environment and
// moves the manager to Ready in the given mode.
func (m *Manager) Initialize(mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateUninitialized {
		return fmt.Errorf("%w: cannot initialize from state %s", ErrNotReady, m.state)
	}
	m.state = StateInitializing
	if err := m.initLocked(mode); err != nil {
		m.state = StateUninitialized
		return err
	}
	m.state = StateReady
	return nil
}

func (m *Manager) initLocked(mode Mode) error {
	if mode != ModeSingleUser && mode != ModeMultiUser {
		return fmt.Errorf("unknown mode %q", mode)
	}
	m.mode = mode

	if err := m.store.Load(); err != nil {
		// recovered locally: empty catalogue plus a warning
		notify(m.sink, Progress{Message: "environment catalogue could not be read; starting empty", Phase: "init", Denominator: -1})
	}

	adminPath := filepath.Join(m.cfg.RootDir, "envs", adminEnvName)
	env, err := m.prov.CreateEnvironment(m.inst, adminPath, adminEnvName, AdminUsername)
	if err != nil {
		notify(m.sink, Progress{Message: fmt.Sprintf("admin environment setup failed: %v", err), Phase: "init", Denominator: -1})
		return err
	}
	m.adminEnv = env

	// seed the admin environment: manager upgrade plus the base tools;
	// failures are reported, not fatal
	m.seedAdminEnvLocked(env)
	return nil
}

func (m *Manager) seedAdminEnvLocked(env *Environment) {
	ctx := context.Background()
	if _, err := m.runner.Run(ctx, PackageRequest{Env: env, Action: ActionUpgradeManager, Timeout: m.cfg.OperationTimeout}, m.sink); err != nil {
		notify(m.sink, Progress{Message: fmt.Sprintf("package-manager upgrade failed: %v", err), Phase: "init", Denominator: -1})
	}
	for _, pkg := range baseManagerPackages {
		if _, err := m.runner.Run(ctx, PackageRequest{Env: env, Package: pkg, Action: ActionInstall, Timeout: m.cfg.OperationTimeout}, m.sink); err != nil {
			notify(m.sink, Progress{Message: fmt.Sprintf("installing %s failed: %v", pkg, err), Phase: "init", Denominator: -1})
		}
	}
}

// Reinitialize tears down every session, clears mode state and re-runs
// initialization in the given mode. It is the only way to change mode.
func (m *Manager) Reinitialize(mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return fmt.Errorf("%w: cannot reinitialize from state %s", ErrNotReady, m.state)
	}
	m.state = StateReinitializing

	if err := m.registry.TerminateAll(); err != nil {
		log.Printf("pyharbor: terminating sessions during reinitialize: %v", err)
	}
	m.adminEnv = nil
	m.current = nil
	m.currentSession = nil
	m.userSessions = make(map[string]*Session)

	if err := m.initLocked(mode); err != nil {
		m.state = StateUninitialized
		return err
	}
	m.state = StateReady
	return nil
}

// Shutdown disposes the manager: every session is force-terminated, the
// interpreter is closed and the catalogue is persisted. The manager cannot
// be reused afterwards.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDisposed {
		return nil
	}
	m.state = StateDisposed

	if err := m.registry.TerminateAll(); err != nil {
		log.Printf("pyharbor: terminating sessions during shutdown: %v", err)
	}
	if m.interp != nil {
		if err := m.interp.Close(); err != nil {
			log.Printf("pyharbor: closing interpreter: %v", err)
		}
	}
	return m.store.Save()
}

// CreateEnvironment provisions (or adopts) an environment at path.
func (m *Manager) CreateEnvironment(path, name, creator string) (*Environment, error) {
	if err := m.requireReady(); err != nil {
		return nil, err
	}
	env, err := m.prov.CreateEnvironment(m.inst, path, name, creator)
	if err != nil {
		notify(m.sink, Progress{Message: err.Error(), Phase: "provision", Denominator: -1})
	}
	return env, err
}

// SetCurrentEnvironment switches single-user mode's current environment.
// A fresh session is always created for the new environment; the previous
// session is superseded, never reused.
func (m *Manager) SetCurrentEnvironment(envID string) (*Session, error) {
	if err := m.requireReady(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != ModeSingleUser {
		return nil, fmt.Errorf("current environment is a single-user concept (mode is %s)", m.mode)
	}
	env := m.store.ByID(envID)
	if env == nil {
		return nil, fmt.Errorf("%w: %s", ErrEnvironmentNotFound, envID)
	}

	if m.currentSession != nil {
		m.registry.Supersede(m.currentSession.ID)
	}
	sess, err := m.registry.CreateSession(m.cfg.SingleUsername, env)
	if err != nil {
		return nil, err
	}
	m.current = env
	m.currentSession = sess
	m.store.Touch(env.ID)
	return sess, nil
}

// CurrentSession returns single-user mode's current session, if any.
func (m *Manager) CurrentSession() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentSession
}

// SessionFor hands a multi-user caller a ready session. An existing session
// for the username is reused only while it is still Active; anything else
// is replaced with a fresh session bound to the shared workspace
// environment.
func (m *Manager) SessionFor(username string) (*Session, error) {
	if err := m.requireReady(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != ModeMultiUser {
		return nil, fmt.Errorf("per-user sessions are a multi-user concept (mode is %s)", m.mode)
	}

	if existing := m.userSessions[username]; existing != nil && m.registry.IsActive(existing.ID) {
		return existing, nil
	}

	env, err := m.sharedEnvLocked()
	if err != nil {
		return nil, err
	}
	sess, err := m.registry.CreateSession(username, env)
	if err != nil {
		return nil, err
	}
	m.userSessions[username] = sess
	m.store.Touch(env.ID)
	return sess, nil
}

// sharedEnvLocked lazily provisions the shared workspace environment.
func (m *Manager) sharedEnvLocked() (*Environment, error) {
	path := filepath.Join(m.cfg.RootDir, "envs", sharedEnvName)
	return m.prov.CreateEnvironment(m.inst, path, sharedEnvName, AdminUsername)
}

// DeleteEnvironment removes an environment from the catalogue and from
// disk. The admin environment and, in single-user mode, the current
// environment are guarded: callers must switch away first. All non-admin
// sessions bound to the environment are terminated before removal.
func (m *Manager) DeleteEnvironment(envID string) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	env := m.store.ByID(envID)
	if env == nil {
		return fmt.Errorf("%w: %s", ErrEnvironmentNotFound, envID)
	}
	if m.adminEnv != nil && env.ID == m.adminEnv.ID {
		return fmt.Errorf("%w: %s is the management environment", ErrEnvironmentGuarded, env.Name)
	}
	if m.mode == ModeSingleUser && m.current != nil && env.ID == m.current.ID {
		return fmt.Errorf("%w: %s is the current environment; switch away first", ErrEnvironmentGuarded, env.Name)
	}

	if err := m.registry.TerminateEnvironmentSessions(env.ID, true); err != nil {
		return err
	}
	m.store.Remove(env.ID)
	if err := os.RemoveAll(env.Path); err != nil {
		log.Printf("pyharbor: removing %s from disk: %v", env.Path, err)
	}
	if err := m.store.Save(); err != nil {
		log.Printf("pyharbor: persisting catalogue after deleting %s: %v", env.Name, err)
	}
	return nil
}

// RunScript executes opaque script text inside a session's namespace and
// returns the captured output plus a success flag. Script semantics are the
// interpreter's business; a raised exception comes back as ok=false with
// the exception text appended to the output.
func (m *Manager) RunScript(sessionID, code string) (string, bool, error) {
	if err := m.requireReady(); err != nil {
		return "", false, err
	}
	sess, err := m.registry.Get(sessionID)
	if err != nil {
		return "", false, err
	}
	if !m.registry.IsActive(sessionID) {
		return "", false, fmt.Errorf("%w: session %s is not active", ErrSessionNotFound, sessionID)
	}
	m.store.Touch(sess.EnvironmentID)

	res, err := m.binder.Exec(sess, code)
	if err != nil {
		return "", false, err
	}
	output := res.Output
	if res.Err != nil {
		if output != "" {
			output += "\n"
		}
		output += res.Err.Error()
	}
	return output, res.OK, nil
}

// RunPackageOperation runs a package operation against an environment
// through its administrative session. Failures are forwarded to the sink as
// human-readable messages and returned to the caller; timeouts remain
// distinguishable from cancellations so only timeouts warrant a retry.
func (m *Manager) RunPackageOperation(ctx context.Context, envID, pkg string, action PackageAction) ([]string, error) {
	if err := m.requireReady(); err != nil {
		return nil, err
	}
	env := m.store.ByID(envID)
	if env == nil {
		return nil, fmt.Errorf("%w: %s", ErrEnvironmentNotFound, envID)
	}
	if _, err := m.registry.GetOrCreateAdminSession(env); err != nil {
		return nil, err
	}
	m.store.Touch(env.ID)

	lines, err := m.runner.Run(ctx, PackageRequest{
		Env:     env,
		Package: pkg,
		Action:  action,
		Timeout: m.cfg.OperationTimeout,
	}, m.sink)
	if err != nil {
		notify(m.sink, Progress{Message: err.Error(), Phase: string(action), Denominator: -1})
	}
	return lines, err
}

// TerminateSession ends a caller's session.
func (m *Manager) TerminateSession(sessionID string) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	return m.registry.TerminateSession(sessionID)
}

func (m *Manager) requireReady() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return fmt.Errorf("%w: state is %s", ErrNotReady, m.state)
	}
	return nil
}

// IsRetryable reports whether a failed package operation may be retried:
// only timeouts qualify, cancellations and hard failures do not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOperationTimedOut)
}
