package profile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shipyard/sandboxd/internal/profile"
)

func TestLoadDefaultsWhenNoFileGiven(t *testing.T) {
	reg, err := profile.Load("")
	require.NoError(t, err)

	p, ok := reg.Get("python-default")
	require.True(t, ok)
	require.Equal(t, "sandboxd/ship:latest", p.Image)
	require.True(t, p.HasCapability("shell"))
	require.False(t, p.HasCapability("browser"))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.json")
	content := `[{"id":"custom","image":"custom:latest","cpus":0.5,"memory_mb":256,"capabilities":["shell"],"idle_timeout_seconds":60,"runtime_port":9000}]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	reg, err := profile.Load(path)
	require.NoError(t, err)

	p, ok := reg.Get("custom")
	require.True(t, ok)
	require.Equal(t, 0.5, p.CPUs)
	require.Equal(t, int64(256<<20), p.MemoryBytes)

	_, ok = reg.Get("python-default")
	require.False(t, ok, "file-provided profiles replace the defaults entirely")
}

func TestGetUnknownProfile(t *testing.T) {
	reg, err := profile.Load("")
	require.NoError(t, err)

	_, ok := reg.Get("does-not-exist")
	require.False(t, ok)
}
