package pyharbor

import (
	"fmt"
	"sync"
)

// Interpreter is the narrow surface the rest of pyharbor needs from the
// embedded interpreter: persistent namespace management and script
// execution. The production implementation is Kernel; tests substitute
// fakes.
//
// Implementations are not required to be safe for concurrent use. Callers
// reach an Interpreter only while holding the Gate.
type Interpreter interface {
	// CreateScope creates a persistent, empty namespace.
	CreateScope(name string) error

	// DropScope destroys a namespace and everything it holds.
	DropScope(name string) error

	// Exec runs code inside the named namespace and returns the captured
	// output and result. A Python exception is reported inside ExecResult,
	// not as the error return; the error return is reserved for transport
	// and process failures.
	Exec(scope, code string) (*ExecResult, error)

	// Close shuts the interpreter down.
	Close() error
}

// ScopeBinder creates and retrieves the persistent execution namespace each
// session owns inside the shared interpreter. Namespaces are created lazily
// on first use and destroyed when their session terminates; a namespace is
// never shared between two concurrently active regular sessions.
type ScopeBinder struct {
	gate   *Gate
	interp Interpreter

	mu    sync.Mutex
	bound map[string]bool
}

// NewScopeBinder wires a binder to the gate and interpreter.
func NewScopeBinder(gate *Gate, interp Interpreter) *ScopeBinder {
	return &ScopeBinder{
		gate:   gate,
		interp: interp,
		bound:  make(map[string]bool),
	}
}

// scopeName derives the interpreter-side namespace key for a session.
func scopeName(s *Session) string {
	return "scope_" + s.ID
}

// HasScope reports whether the session already owns a namespace.
func (b *ScopeBinder) HasScope(s *Session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bound[s.ID]
}

// BindScope creates the session's namespace. Creation runs under the
// interpreter gate; binding an already-bound session is a no-op.
func (b *ScopeBinder) BindScope(s *Session) error {
	b.mu.Lock()
	if b.bound[s.ID] {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	err := b.gate.With(func() error {
		return b.interp.CreateScope(scopeName(s))
	})
	if err != nil {
		return fmt.Errorf("%w: creating namespace for session %s: %v", ErrScopeUnavailable, s.ID, err)
	}

	b.mu.Lock()
	b.bound[s.ID] = true
	b.mu.Unlock()
	return nil
}

// DropScope destroys the session's namespace if one is bound.
func (b *ScopeBinder) DropScope(s *Session) error {
	b.mu.Lock()
	if !b.bound[s.ID] {
		b.mu.Unlock()
		return nil
	}
	delete(b.bound, s.ID)
	b.mu.Unlock()

	return b.gate.With(func() error {
		return b.interp.DropScope(scopeName(s))
	})
}

// Exec runs code in the session's namespace under the gate, binding the
// namespace first if the session does not have one yet.
func (b *ScopeBinder) Exec(s *Session, code string) (*ExecResult, error) {
	if !b.HasScope(s) {
		if err := b.BindScope(s); err != nil {
			return nil, err
		}
	}
	var res *ExecResult
	err := b.gate.With(func() error {
		var execErr error
		res, execErr = b.interp.Exec(scopeName(s), code)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
