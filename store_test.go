package pyharbor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(name, path string) *Environment {
	return &Environment{
		ID:        uuid.NewString(),
		Name:      name,
		Path:      path,
		Kind:      InstallKindPlain,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope", "environments.json"))
	require.NoError(t, s.Load())
	assert.Empty(t, s.List())
}

func TestStoreLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "environments.json")
	require.NoError(t, os.WriteFile(path, []byte("{this is not json"), 0o644))

	s := NewStore(path)
	err := s.Load()
	assert.ErrorIs(t, err, ErrPersistenceCorrupt)
	assert.Empty(t, s.List())

	// the store stays usable after a corrupt load
	s.Register(testEnv("a", "/envs/a"))
	assert.Len(t, s.List(), 1)
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store", "environments.json")

	s := NewStore(path)
	env := testEnv("proj", "/envs/proj")
	env.PythonVersion = "3.11.4"
	env.Packages = []PackageRecord{{Name: "requests", Version: "2.31.0"}}
	s.Register(env)
	require.NoError(t, s.Save())

	loaded := NewStore(path)
	require.NoError(t, loaded.Load())
	got := loaded.ByID(env.ID)
	require.NotNil(t, got)
	assert.Equal(t, env.Name, got.Name)
	assert.Equal(t, env.Path, got.Path)
	assert.Equal(t, env.PythonVersion, got.PythonVersion)
	assert.Equal(t, env.Packages, got.Packages)
}

func TestStoreRegisterIsIdempotentOnPath(t *testing.T) {
	s := NewStore("")
	first := testEnv("a", "/Envs/Proj")

	registered, existed := s.Register(first)
	assert.False(t, existed)
	assert.Same(t, first, registered)

	// same path with different case resolves to the tracked record
	dup, existed := s.Register(testEnv("b", "/envs/proj"))
	assert.True(t, existed)
	assert.Same(t, first, dup)
	assert.Len(t, s.List(), 1)
}

func TestStoreByPathFoldsCase(t *testing.T) {
	s := NewStore("")
	env := testEnv("a", "/envs/Proj")
	s.Register(env)
	assert.Same(t, env, s.ByPath("/ENVS/PROJ"))
	assert.Nil(t, s.ByPath("/envs/other"))
}

func TestStoreTouch(t *testing.T) {
	s := NewStore("")
	env := testEnv("a", "/envs/a")
	s.Register(env)
	require.True(t, env.LastUsed.IsZero())

	s.Touch(env.ID)
	assert.False(t, env.LastUsed.IsZero())
}

func TestStoreSetPackages(t *testing.T) {
	s := NewStore("")
	env := testEnv("a", "/envs/a")
	s.Register(env)

	pkgs := []PackageRecord{{Name: "numpy", Version: "1.26.0"}}
	s.SetPackages(env.ID, pkgs)
	assert.Equal(t, pkgs, env.Packages)
	assert.True(t, env.HasPackage("NumPy"))
	assert.False(t, env.HasPackage("pandas"))
}

func TestStoreSessionAttachment(t *testing.T) {
	s := NewStore("")
	env := testEnv("a", "/envs/a")
	s.Register(env)

	s.attachSession(env.ID, "s1")
	s.attachSession(env.ID, "s2")
	s.attachSession(env.ID, "s1") // duplicate, ignored
	assert.Equal(t, []string{"s1", "s2"}, env.SessionIDs)

	s.detachSession(env.ID, "s1")
	assert.Equal(t, []string{"s2"}, env.SessionIDs)
}

func TestStoreRemove(t *testing.T) {
	s := NewStore("")
	env := testEnv("a", "/envs/a")
	s.Register(env)

	s.Remove(env.ID)
	assert.Nil(t, s.ByID(env.ID))
	assert.Nil(t, s.ByPath(env.Path))

	// registering at the freed path works again
	_, existed := s.Register(testEnv("b", "/envs/a"))
	assert.False(t, existed)
}
