package pyharbor

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AdminUsername is the reserved identity of the administrative session each
// environment carries for package-management operations.
const AdminUsername = "pyharbor-admin"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	// SessionActive means the session can execute scripts.
	SessionActive SessionStatus = "active"

	// SessionIdle means the session has been superseded but not destroyed.
	SessionIdle SessionStatus = "idle"

	// SessionTerminated means the session has ended and its scope is gone.
	SessionTerminated SessionStatus = "terminated"
)

// Session is a logical execution context for one caller: an identity, an
// owning username, and a binding to one environment. Regular sessions are
// 1:1 with an interpreter namespace. The administrative session is
// long-lived and refreshed rather than destroyed while other sessions on
// its environment remain active.
type Session struct {
	ID            string        `json:"id"`
	Username      string        `json:"username"`
	EnvironmentID string        `json:"environment_id"`
	CreatedAt     time.Time     `json:"created_at"`
	EndedAt       time.Time     `json:"ended_at,omitempty"`
	Status        SessionStatus `json:"status"`

	// LastNote records the success or failure of the session's last
	// lifecycle operation, for diagnostics.
	LastNote string `json:"last_note,omitempty"`
}

// IsAdmin reports whether this is an environment's administrative session.
func (s *Session) IsAdmin() bool {
	return s.Username == AdminUsername
}

// Registry tracks every logical session and its binding to an environment.
// Registry bookkeeping runs under its own coarse lock, separate from the
// interpreter gate: adding or removing a session does not touch the
// interpreter. Scope destruction, which does, happens after the bookkeeping
// lock is released.
type Registry struct {
	store  *Store
	binder *ScopeBinder

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a session registry over a store and scope binder.
func NewRegistry(store *Store, binder *ScopeBinder) *Registry {
	return &Registry{
		store:    store,
		binder:   binder,
		sessions: make(map[string]*Session),
	}
}

// CreateSession registers a new active session for username on env.
func (r *Registry) CreateSession(username string, env *Environment) (*Session, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: no environment", ErrSessionNotFound)
	}
	s := &Session{
		ID:            uuid.NewString(),
		Username:      username,
		EnvironmentID: env.ID,
		CreatedAt:     time.Now(),
		Status:        SessionActive,
		LastNote:      "created",
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	r.store.attachSession(env.ID, s.ID)
	return s, nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// GetOrCreateAdminSession resolves the administrative session for env.
// Resolution order: the environment's cached reference while it is still
// active and bound to the same environment; an existing active session with
// the reserved admin identity; a newly constructed session registered both
// on the environment and here.
func (r *Registry) GetOrCreateAdminSession(env *Environment) (*Session, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: no environment", ErrSessionNotFound)
	}

	r.mu.Lock()
	if cached := env.adminSession; cached != nil &&
		cached.Status == SessionActive && cached.EnvironmentID == env.ID {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	// the environment's session list belongs to the store's lock
	ids := r.store.sessionIDs(env.ID)

	r.mu.Lock()
	for _, id := range ids {
		if s, ok := r.sessions[id]; ok && s.Status == SessionActive && s.IsAdmin() {
			env.adminSession = s
			r.mu.Unlock()
			return s, nil
		}
	}
	r.mu.Unlock()

	s, err := r.CreateSession(AdminUsername, env)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	env.adminSession = s
	r.mu.Unlock()
	return s, nil
}

// IsActive reports whether the session exists and is still Active. Session
// status is guarded by the registry lock; callers holding other locks read it
// through this accessor.
func (r *Registry) IsActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return ok && s.Status == SessionActive
}

// ActiveSessions returns the active sessions bound to an environment.
func (r *Registry) ActiveSessions(envID string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.EnvironmentID == envID && s.Status == SessionActive {
			out = append(out, s)
		}
	}
	return out
}

// anyOtherActive reports whether any active environment-bound session other
// than exclude exists. Callers hold r.mu.
func (r *Registry) anyOtherActive(exclude string) bool {
	for _, s := range r.sessions {
		if s.ID != exclude && s.Status == SessionActive && s.EnvironmentID != "" {
			return true
		}
	}
	return false
}

// TerminateSession ends a session: stamps its end time, marks it
// Terminated, and destroys its namespace if one is bound.
//
// For an administrative session, destruction is deferred while any other
// environment-scoped session remains active anywhere; the admin session is
// refreshed rather than torn down so package operations keep working. Actual
// admin destruction also clears the environment's cached reference.
func (r *Registry) TerminateSession(id string) error {
	return r.terminate(id, false)
}

// ForceTerminateSession ends a session unconditionally, skipping the
// administrative deferral. Used when the whole runtime shuts down or an
// environment is deleted.
func (r *Registry) ForceTerminateSession(id string) error {
	return r.terminate(id, true)
}

func (r *Registry) terminate(id string, force bool) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if !force && s.IsAdmin() && r.anyOtherActive(s.ID) {
		s.LastNote = "termination deferred: other sessions active"
		r.mu.Unlock()
		return nil
	}

	s.Status = SessionTerminated
	s.EndedAt = time.Now()
	s.LastNote = "terminated"
	envID := s.EnvironmentID
	r.mu.Unlock()

	if env := r.store.ByID(envID); env != nil {
		// the cached admin reference is guarded by r.mu everywhere
		r.mu.Lock()
		if env.adminSession == s {
			env.adminSession = nil
		}
		r.mu.Unlock()
	}
	r.store.detachSession(envID, id)

	if r.binder != nil {
		if err := r.binder.DropScope(s); err != nil {
			r.mu.Lock()
			s.LastNote = "terminated; scope teardown failed"
			r.mu.Unlock()
			log.Printf("pyharbor: dropping scope for session %s: %v", id, err)
		}
	}
	return nil
}

// TerminateEnvironmentSessions terminates every session bound to an
// environment. When includeAdmin is false the administrative session is left
// alone so package management survives; setting it forces the admin session
// down as well (environment deletion, runtime shutdown).
func (r *Registry) TerminateEnvironmentSessions(envID string, includeAdmin bool) error {
	r.mu.Lock()
	var regular, admin []string
	for _, s := range r.sessions {
		if s.EnvironmentID != envID || s.Status != SessionActive {
			continue
		}
		if s.IsAdmin() {
			if includeAdmin {
				admin = append(admin, s.ID)
			}
			continue
		}
		regular = append(regular, s.ID)
	}
	r.mu.Unlock()

	var firstErr error
	for _, id := range regular {
		if err := r.terminate(id, false); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, id := range admin {
		if err := r.terminate(id, true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Supersede marks a still-active session Idle; its scope stays intact but
// the orchestrator will no longer hand it out.
func (r *Registry) Supersede(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && s.Status == SessionActive {
		s.Status = SessionIdle
		s.LastNote = "superseded"
	}
}

// TerminateAll force-terminates every active session, regular sessions
// first so administrative deferral cannot trigger.
func (r *Registry) TerminateAll() error {
	r.mu.Lock()
	var regular, admin []string
	for _, s := range r.sessions {
		if s.Status != SessionActive {
			continue
		}
		if s.IsAdmin() {
			admin = append(admin, s.ID)
		} else {
			regular = append(regular, s.ID)
		}
	}
	r.mu.Unlock()

	var firstErr error
	for _, id := range append(regular, admin...) {
		if err := r.terminate(id, true); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
