package pyharbor

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PackageRecord is one entry of an environment's cached installed-package
// list, refreshed asynchronously after successful package operations.
type PackageRecord struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Environment is an isolated, named installation of packages rooted at a
// filesystem path. At most one Environment exists per distinct path
// (case-insensitive) in a Store.
//
// Environments are created by provisioning or by adopting an existing
// directory, mutated by package operations (the installed-package cache) and
// session binding, and removed by explicit deletion after all non-admin
// sessions bound to them have been terminated.
type Environment struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Path             string          `json:"path"`
	InstallationID   string          `json:"installation_id"`
	Kind             InstallKind     `json:"kind"`
	PythonVersion    string          `json:"python_version,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	CreatedBy        string          `json:"created_by,omitempty"`
	SessionIDs       []string        `json:"sessions,omitempty"`
	Packages         []PackageRecord `json:"packages,omitempty"`
	RequirementsPath string          `json:"requirements_path,omitempty"`
	LastUsed         time.Time       `json:"last_used"`

	// adminSession caches the environment's administrative session. It lives
	// on the environment rather than in any manager-wide singleton so two
	// environments can never alias each other's admin session.
	adminSession *Session

	// opMu serializes package operations on this environment: at most one
	// concurrent package operation per environment.
	opMu sync.Mutex
}

// BinPath returns the directory holding the environment's executables.
func (e *Environment) BinPath() string {
	if runtime.GOOS == "windows" {
		if e.Kind == InstallKindConda {
			return e.Path
		}
		return filepath.Join(e.Path, "Scripts")
	}
	return filepath.Join(e.Path, "bin")
}

// PythonPath returns the environment's interpreter executable path.
func (e *Environment) PythonPath() string {
	name := "python"
	if runtime.GOOS == "windows" {
		name = "python.exe"
	}
	return filepath.Join(e.BinPath(), name)
}

// PipPath returns the environment's pip executable path.
func (e *Environment) PipPath() string {
	name := "pip"
	if runtime.GOOS == "windows" {
		name = "pip.exe"
	}
	return filepath.Join(e.BinPath(), name)
}

// HasPackage reports whether the cached package list contains name
// (case-insensitive). The cache trails reality until the next refresh.
func (e *Environment) HasPackage(name string) bool {
	for _, p := range e.Packages {
		if strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

// Provisioner creates isolated environments by invoking the external
// environment-creation tooling and registering the result in the store.
// Creation also establishes the environment's administrative session and its
// interpreter scope so package operations can proceed immediately.
type Provisioner struct {
	store    *Store
	registry *Registry
	binder   *ScopeBinder
	sink     ProgressSink

	// mu makes the exists-check and registration one critical section, so a
	// path is never provisioned twice concurrently.
	mu sync.Mutex
}

// NewProvisioner wires a provisioner to its store, registry and scope binder.
// The sink may be nil.
func NewProvisioner(store *Store, registry *Registry, binder *ScopeBinder, sink ProgressSink) *Provisioner {
	return &Provisioner{
		store:    store,
		registry: registry,
		binder:   binder,
		sink:     sink,
	}
}

// CreateEnvironment ensures an isolated environment exists at path.
//
// The call is idempotent on path: if the store already tracks an environment
// there (exact, case-insensitive match) it is returned unchanged and no
// creation command runs. A directory that exists on disk but is untracked is
// adopted as-is. Otherwise the creation tool is spawned: "python -m venv"
// for plain installations, "conda create" for conda-style ones. The child's
// combined output is captured after exit; exit code 0 is the sole success
// signal, and a non-zero exit surfaces the captured stderr wrapped in
// ErrProvisioningFailed with nothing registered.
func (p *Provisioner) CreateEnvironment(inst *InterpreterInstallation, path, name, creator string) (*Environment, error) {
	if err := inst.Validate(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving environment path %q: %w", path, err)
	}
	if name == "" {
		name = filepath.Base(abs)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing := p.store.ByPath(abs); existing != nil {
		p.store.Touch(existing.ID)
		return existing, nil
	}

	adopted := false
	if _, err := os.Stat(abs); err == nil {
		// Directory already on disk but untracked: adopt without running
		// any creation command.
		adopted = true
	} else {
		notify(p.sink, Progress{Message: fmt.Sprintf("Creating environment %s", name), Phase: "provision", Denominator: -1})
		if err := p.runCreationTool(inst, abs); err != nil {
			return nil, err
		}
	}

	env := &Environment{
		ID:             uuid.NewString(),
		Name:           name,
		Path:           abs,
		InstallationID: inst.ID,
		Kind:           inst.Kind,
		CreatedAt:      time.Now(),
		CreatedBy:      creator,
	}
	if !inst.Version.IsZero() {
		env.PythonVersion = inst.Version.String()
	}

	registered, existed := p.store.Register(env)
	if existed {
		return registered, nil
	}
	p.store.Touch(env.ID)
	if err := p.store.Save(); err != nil {
		log.Printf("pyharbor: persisting catalogue after provisioning %s: %v", name, err)
	}

	if adopted {
		notify(p.sink, Progress{Message: fmt.Sprintf("Adopted existing environment at %s", abs), Phase: "provision", Numerator: 100, Denominator: 100})
	} else {
		notify(p.sink, Progress{Message: fmt.Sprintf("Environment %s created", name), Phase: "provision", Numerator: 100, Denominator: 100})
	}

	if err := p.ensureAdminSession(env); err != nil {
		log.Printf("pyharbor: admin session for %s: %v", name, err)
	}

	return env, nil
}

// runCreationTool spawns the environment-creation command and waits for it.
func (p *Provisioner) runCreationTool(inst *InterpreterInstallation, path string) error {
	var cmd *exec.Cmd
	switch inst.Kind {
	case InstallKindConda:
		args := []string{"create", "-p", path, "-y"}
		if !inst.Version.IsZero() {
			args = append(args, "python="+inst.Version.MinorString())
		}
		cmd = exec.Command(inst.ExePath, args...)
	default:
		cmd = exec.Command(inst.ExePath, "-m", "venv", path)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		reason := strings.TrimSpace(stderr.String())
		if reason == "" {
			reason = strings.TrimSpace(stdout.String())
		}
		if reason == "" {
			reason = err.Error()
		}
		return fmt.Errorf("%w: %s", ErrProvisioningFailed, reason)
	}
	return nil
}

// ensureAdminSession creates the administrative session and its scope for a
// freshly registered environment.
func (p *Provisioner) ensureAdminSession(env *Environment) error {
	if p.registry == nil {
		return nil
	}
	admin, err := p.registry.GetOrCreateAdminSession(env)
	if err != nil {
		return err
	}
	if p.binder == nil || p.binder.HasScope(admin) {
		return nil
	}
	return p.binder.BindScope(admin)
}
