package pyharbor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want Version
	}{
		{"3.10.5", Version{3, 10, 5}},
		{"3.10", Version{3, 10, -1}},
		{"3", Version{3, -1, -1}},
		{" 3.12.0 ", Version{3, 12, 0}},
		{"23.0.1", Version{23, 0, 1}},
		{"1.0.0-beta", Version{1, 0, 0}},
		{"3.10.5+build7", Version{3, 10, 5}},
	}
	for _, tt := range tests {
		got, err := ParseVersion(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseVersionInvalid(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", ".1.2"} {
		_, err := ParseVersion(in)
		assert.Error(t, err, "%q should not parse", in)
	}
}

func TestParseInterpreterVersion(t *testing.T) {
	v, err := ParseInterpreterVersion("Python 3.10.5\n")
	require.NoError(t, err)
	assert.Equal(t, Version{3, 10, 5}, v)

	_, err = ParseInterpreterVersion("python3: command not found")
	assert.Error(t, err)
}

func TestParsePipVersion(t *testing.T) {
	v, err := ParsePipVersion("pip 23.0.1 from /usr/lib/python3/dist-packages/pip (python 3.10)")
	require.NoError(t, err)
	assert.Equal(t, Version{23, 0, 1}, v)
}

func TestParseCondaVersion(t *testing.T) {
	v, err := ParseCondaVersion("conda 23.1.0")
	require.NoError(t, err)
	assert.Equal(t, Version{23, 1, 0}, v)
}

func TestVersionCompare(t *testing.T) {
	assert.Equal(t, 0, Version{3, 10, 5}.Compare(Version{3, 10, 5}))
	assert.Equal(t, 1, Version{3, 11, 0}.Compare(Version{3, 10, 9}))
	assert.Equal(t, -1, Version{2, 7, 18}.Compare(Version{3, 0, 0}))
	assert.Equal(t, 1, Version{3, 10, 6}.Compare(Version{3, 10, 5}))
}

func TestVersionString(t *testing.T) {
	assert.Equal(t, "3.10.5", Version{3, 10, 5}.String())
	assert.Equal(t, "3.10", Version{3, 10, -1}.String())
	assert.Equal(t, "3", Version{3, -1, -1}.String())
	assert.Equal(t, "3.10", Version{3, 10, 5}.MinorString())
}

func TestVersionIsZero(t *testing.T) {
	assert.True(t, Version{}.IsZero())
	assert.False(t, Version{3, 10, 5}.IsZero())
}
