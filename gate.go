package pyharbor

import "sync"

// Gate is the interpreter access serializer: the process-global mutual
// exclusion boundary around every interpreter call. The embedded interpreter
// is a single shared, effectively single-threaded resource, so the gate
// serializes across every environment and every session.
//
// All namespace creation, script execution and value marshalling into or out
// of the interpreter must run inside With. Long-running native work such as
// package-manager subprocesses is explicitly kept outside the gate; it is
// held only for marshalling and result retrieval.
//
// With is not re-entrant. A function running inside the gate must not call
// With again on the same gate.
type Gate struct {
	mu sync.Mutex
}

// NewGate returns a gate ready for use.
func NewGate() *Gate {
	return &Gate{}
}

// With acquires exclusive interpreter access, runs fn, and releases on every
// exit path, including panics.
func (g *Gate) With(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}
