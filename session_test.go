package pyharbor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSessionBindsToEnvironment(t *testing.T) {
	h := newMemoryHarness()
	env := h.addEnv("proj")

	s, err := h.reg.CreateSession("alice", env)
	require.NoError(t, err)
	assert.Equal(t, SessionActive, s.Status)
	assert.Equal(t, env.ID, s.EnvironmentID)
	assert.Contains(t, env.SessionIDs, s.ID)
	assert.False(t, s.IsAdmin())

	got, err := h.reg.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestGetUnknownSession(t *testing.T) {
	h := newMemoryHarness()
	_, err := h.reg.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAdminSessionIsStable(t *testing.T) {
	h := newMemoryHarness()
	env := h.addEnv("proj")

	first, err := h.reg.GetOrCreateAdminSession(env)
	require.NoError(t, err)
	assert.True(t, first.IsAdmin())

	second, err := h.reg.GetOrCreateAdminSession(env)
	require.NoError(t, err)
	assert.Same(t, first, second, "repeated resolution must hand back the same admin session")
}

func TestAdminSessionsDoNotAlias(t *testing.T) {
	h := newMemoryHarness()
	a := h.addEnv("a")
	b := h.addEnv("b")

	adminA, err := h.reg.GetOrCreateAdminSession(a)
	require.NoError(t, err)
	adminB, err := h.reg.GetOrCreateAdminSession(b)
	require.NoError(t, err)

	assert.NotEqual(t, adminA.ID, adminB.ID)
	assert.Equal(t, a.ID, adminA.EnvironmentID)
	assert.Equal(t, b.ID, adminB.EnvironmentID)
}

func TestConcurrentSessionAndAdminResolution(t *testing.T) {
	h := newMemoryHarness()
	env := h.addEnv("proj")

	// session churn on one goroutine while another forces admin-session
	// cache misses: exercises the session-list and status handoff between
	// the store's lock and the registry's lock
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s, err := h.reg.CreateSession("alice", env)
			if !assert.NoError(t, err) {
				return
			}
			_ = h.reg.TerminateSession(s.ID)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			admin, err := h.reg.GetOrCreateAdminSession(env)
			if !assert.NoError(t, err) {
				return
			}
			_ = h.reg.ForceTerminateSession(admin.ID)
		}
	}()
	wg.Wait()

	admin, err := h.reg.GetOrCreateAdminSession(env)
	require.NoError(t, err)
	assert.True(t, h.reg.IsActive(admin.ID))
}

func TestIsActive(t *testing.T) {
	h := newMemoryHarness()
	env := h.addEnv("proj")

	s, err := h.reg.CreateSession("alice", env)
	require.NoError(t, err)
	assert.True(t, h.reg.IsActive(s.ID))
	assert.False(t, h.reg.IsActive("nope"))

	h.reg.Supersede(s.ID)
	assert.False(t, h.reg.IsActive(s.ID))
}

func TestTerminateSessionDropsScope(t *testing.T) {
	h := newMemoryHarness()
	env := h.addEnv("proj")

	s, err := h.reg.CreateSession("alice", env)
	require.NoError(t, err)
	require.NoError(t, h.binder.BindScope(s))
	require.True(t, h.interp.hasScope(scopeName(s)))

	require.NoError(t, h.reg.TerminateSession(s.ID))
	assert.Equal(t, SessionTerminated, s.Status)
	assert.False(t, s.EndedAt.IsZero())
	assert.False(t, h.interp.hasScope(scopeName(s)))
	assert.NotContains(t, env.SessionIDs, s.ID)
}

func TestAdminTerminationDeferredWhileOthersActive(t *testing.T) {
	h := newMemoryHarness()
	env := h.addEnv("proj")

	admin, err := h.reg.GetOrCreateAdminSession(env)
	require.NoError(t, err)
	regular, err := h.reg.CreateSession("alice", env)
	require.NoError(t, err)

	require.NoError(t, h.reg.TerminateSession(admin.ID))
	assert.Equal(t, SessionActive, admin.Status, "admin termination must defer while others are active")

	require.NoError(t, h.reg.TerminateSession(regular.ID))
	require.NoError(t, h.reg.TerminateSession(admin.ID))
	assert.Equal(t, SessionTerminated, admin.Status)
}

func TestForceTerminateSkipsDeferral(t *testing.T) {
	h := newMemoryHarness()
	env := h.addEnv("proj")

	admin, err := h.reg.GetOrCreateAdminSession(env)
	require.NoError(t, err)
	_, err = h.reg.CreateSession("alice", env)
	require.NoError(t, err)

	require.NoError(t, h.reg.ForceTerminateSession(admin.ID))
	assert.Equal(t, SessionTerminated, admin.Status)
}

func TestAdminRecreatedAfterTermination(t *testing.T) {
	h := newMemoryHarness()
	env := h.addEnv("proj")

	first, err := h.reg.GetOrCreateAdminSession(env)
	require.NoError(t, err)
	require.NoError(t, h.reg.ForceTerminateSession(first.ID))

	second, err := h.reg.GetOrCreateAdminSession(env)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, SessionActive, second.Status)
}

func TestTerminateEnvironmentSessions(t *testing.T) {
	h := newMemoryHarness()
	env := h.addEnv("proj")
	other := h.addEnv("other")

	admin, err := h.reg.GetOrCreateAdminSession(env)
	require.NoError(t, err)
	alice, err := h.reg.CreateSession("alice", env)
	require.NoError(t, err)
	bystander, err := h.reg.CreateSession("bob", other)
	require.NoError(t, err)

	// admin survives when not included
	require.NoError(t, h.reg.TerminateEnvironmentSessions(env.ID, false))
	assert.Equal(t, SessionTerminated, alice.Status)
	assert.Equal(t, SessionActive, admin.Status)
	assert.Equal(t, SessionActive, bystander.Status)

	require.NoError(t, h.reg.TerminateEnvironmentSessions(env.ID, true))
	assert.Equal(t, SessionTerminated, admin.Status)
	assert.Equal(t, SessionActive, bystander.Status)
}

func TestSupersede(t *testing.T) {
	h := newMemoryHarness()
	env := h.addEnv("proj")

	s, err := h.reg.CreateSession("alice", env)
	require.NoError(t, err)
	h.reg.Supersede(s.ID)
	assert.Equal(t, SessionIdle, s.Status)

	require.NoError(t, h.reg.ForceTerminateSession(s.ID))

	// superseding a non-active session is a no-op
	h.reg.Supersede(s.ID)
	assert.Equal(t, SessionTerminated, s.Status)
}

func TestTerminateAll(t *testing.T) {
	h := newMemoryHarness()
	env := h.addEnv("proj")

	admin, err := h.reg.GetOrCreateAdminSession(env)
	require.NoError(t, err)
	alice, err := h.reg.CreateSession("alice", env)
	require.NoError(t, err)
	bob, err := h.reg.CreateSession("bob", env)
	require.NoError(t, err)

	require.NoError(t, h.reg.TerminateAll())
	for _, s := range []*Session{admin, alice, bob} {
		assert.Equal(t, SessionTerminated, s.Status)
	}
	assert.Empty(t, h.reg.ActiveSessions(env.ID))
}
