package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	s, err := config.Load(nil)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultServer, s.Server)
	assert.Equal(t, "info", s.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PARLEY_SERVER", "https://chat.example.com")
	t.Setenv("PARLEY_LOG_LEVEL", "debug")

	s, err := config.Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", s.Server)
	assert.Equal(t, "debug", s.LogLevel)
}

func TestLoadFromConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".parley")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "config.yaml"),
		[]byte("server: http://internal:9000\n"),
		0o644,
	))

	s, err := config.Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://internal:9000", s.Server)
}

func TestCredentialsPathOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	s, err := config.Load(nil)
	require.NoError(t, err)
	p, err := s.CredentialsPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), ".parley", "auth.json"), p)

	s.Credentials = "/tmp/other.json"
	p, err = s.CredentialsPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other.json", p)
}
