package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_TOMLOverlaysDefaults(t *testing.T) {
	data := []byte(`
[iteration]
enabled = true
max_iterations = 7
`)
	s, err := Parse(data, ".toml")
	require.NoError(t, err)
	assert.True(t, s.Iteration.Enabled)
	assert.Equal(t, 7, s.Iteration.MaxIterations)
	assert.Equal(t, Default().Iteration.Tolerance, s.Iteration.Tolerance)
	assert.True(t, s.Recalc.RecursiveDirty)
}

func TestParse_YAML(t *testing.T) {
	data := []byte("recalc:\n  recursive_dirty: false\nlog:\n  level: debug\n  format: json\n")
	s, err := Parse(data, ".yml")
	require.NoError(t, err)
	assert.False(t, s.Recalc.RecursiveDirty)
	assert.True(t, s.Recalc.Auto)
	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, "json", s.Log.Format)
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse([]byte("[iteration]\ntolerance = -1\n"), ".toml")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Parse([]byte("log:\n  level: loud\n"), ".yaml")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Parse([]byte("{}"), ".json")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Parse([]byte("[iteration"), ".toml")
	assert.Error(t, err)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte("[recalc]\nauto = false\n"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.False(t, s.Recalc.Auto)

	_, err = Load(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("debug", "json", &buf).Debug("hello", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	NewLogger("warn", "text", &buf).Info("dropped")
	assert.Empty(t, buf.String())
}
