package pyharbor

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeInterpreter records scope and exec traffic without any subprocess.
type fakeInterpreter struct {
	mu     sync.Mutex
	scopes map[string]bool
	execs  []string
	result *ExecResult
	closed bool
}

func newFakeInterpreter() *fakeInterpreter {
	return &fakeInterpreter{
		scopes: make(map[string]bool),
		result: &ExecResult{OK: true},
	}
}

func (f *fakeInterpreter) CreateScope(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scopes[name] = true
	return nil
}

func (f *fakeInterpreter) DropScope(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.scopes, name)
	return nil
}

func (f *fakeInterpreter) Exec(scope, code string) (*ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, code)
	res := *f.result
	return &res, nil
}

func (f *fakeInterpreter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeInterpreter) hasScope(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scopes[name]
}

func (f *fakeInterpreter) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// skipOnWindows guards tests that rely on shell-script stub executables.
func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a POSIX shell")
	}
}

// writeStub writes an executable shell script.
func writeStub(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
}

// stubPipEnv builds an environment directory whose bin/pip is the given
// script body.
func stubPipEnv(t *testing.T, pipBody string) *Environment {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	writeStub(t, filepath.Join(bin, "pip"), pipBody)
	return &Environment{
		ID:   uuid.NewString(),
		Name: filepath.Base(dir),
		Path: dir,
		Kind: InstallKindPlain,
	}
}

// stubInstallation builds a fake interpreter installation whose executable,
// when invoked as "python -m venv <path>", creates the target directory with
// pip and python stubs inside and appends a line to a call-count file.
func stubInstallation(t *testing.T) (*InterpreterInstallation, string) {
	t.Helper()
	dir := t.TempDir()
	countFile := filepath.Join(dir, "calls")
	exe := filepath.Join(dir, "python")
	writeStub(t, exe, `echo run >> `+countFile+`
case "$2" in
venv)
  mkdir -p "$3/bin"
  cat > "$3/bin/pip" <<'PIP'
#!/bin/sh
if [ "$1" = "list" ]; then echo '[]'; fi
exit 0
PIP
  chmod +x "$3/bin/pip"
  cp "$3/bin/pip" "$3/bin/python"
  ;;
esac
exit 0
`)
	return &InterpreterInstallation{
		ID:      uuid.NewString(),
		RootDir: dir,
		ExePath: exe,
		Version: Version{Major: 3, Minor: 11, Patch: 4},
		Bits:    64,
		Kind:    InstallKindPlain,
	}, countFile
}

// toolCalls counts how many times a stub installation's executable ran.
func toolCalls(t *testing.T, countFile string) int {
	t.Helper()
	data, err := os.ReadFile(countFile)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}

// memoryHarness wires a store, binder and registry over a fake interpreter.
type memoryHarness struct {
	store  *Store
	gate   *Gate
	interp *fakeInterpreter
	binder *ScopeBinder
	reg    *Registry
}

func newMemoryHarness() *memoryHarness {
	store := NewStore("")
	gate := NewGate()
	interp := newFakeInterpreter()
	binder := NewScopeBinder(gate, interp)
	return &memoryHarness{
		store:  store,
		gate:   gate,
		interp: interp,
		binder: binder,
		reg:    NewRegistry(store, binder),
	}
}

// addEnv registers a throwaway environment in the harness store.
func (h *memoryHarness) addEnv(name string) *Environment {
	env := &Environment{
		ID:   uuid.NewString(),
		Name: name,
		Path: filepath.Join("/tmp", "pyharbor-test", name),
		Kind: InstallKindPlain,
	}
	h.store.Register(env)
	return env
}
