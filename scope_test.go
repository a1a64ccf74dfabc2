package pyharbor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindScopeIsIdempotent(t *testing.T) {
	h := newMemoryHarness()
	env := h.addEnv("proj")
	s, err := h.reg.CreateSession("alice", env)
	require.NoError(t, err)

	require.NoError(t, h.binder.BindScope(s))
	require.NoError(t, h.binder.BindScope(s))
	assert.True(t, h.binder.HasScope(s))
	assert.True(t, h.interp.hasScope(scopeName(s)))
}

func TestDropScopeWithoutBindIsNoOp(t *testing.T) {
	h := newMemoryHarness()
	env := h.addEnv("proj")
	s, err := h.reg.CreateSession("alice", env)
	require.NoError(t, err)

	require.NoError(t, h.binder.DropScope(s))
	assert.False(t, h.binder.HasScope(s))
}

func TestExecBindsLazily(t *testing.T) {
	h := newMemoryHarness()
	env := h.addEnv("proj")
	s, err := h.reg.CreateSession("alice", env)
	require.NoError(t, err)
	require.False(t, h.binder.HasScope(s))

	h.interp.result = &ExecResult{Output: "hi\n", OK: true, Value: Value{Kind: KindString, Str: "hi"}}
	res, err := h.binder.Exec(s, "print('hi')")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "hi\n", res.Output)
	assert.True(t, h.binder.HasScope(s), "exec must create the namespace on first use")
}

func TestScopesAreDistinctPerSession(t *testing.T) {
	h := newMemoryHarness()
	env := h.addEnv("proj")
	a, err := h.reg.CreateSession("alice", env)
	require.NoError(t, err)
	b, err := h.reg.CreateSession("bob", env)
	require.NoError(t, err)

	require.NoError(t, h.binder.BindScope(a))
	require.NoError(t, h.binder.BindScope(b))
	assert.NotEqual(t, scopeName(a), scopeName(b))
	assert.True(t, h.interp.hasScope(scopeName(a)))
	assert.True(t, h.interp.hasScope(scopeName(b)))

	require.NoError(t, h.binder.DropScope(a))
	assert.False(t, h.interp.hasScope(scopeName(a)))
	assert.True(t, h.interp.hasScope(scopeName(b)))
}
