package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func currentPolicy() Policy {
	return Policy{
		RequiredUID: uint32(os.Getuid()),
		RequiredGID: uint32(os.Getgid()),
		MinMode:     0o500,
	}
}

func writeScript(t *testing.T, dir, name string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), mode)
	require.NoError(t, err)
	// umask may have stripped bits, force the mode.
	require.NoError(t, os.Chmod(path, mode))
	return path
}

func TestIsNoWait(t *testing.T) {
	tests := []struct {
		name   string
		nowait bool
	}{
		{"script.sh", false},
		{"script", false},
		{"script-nowait.sh", true},
		{"script-nowait", true},
		{"script.sh-nowait", false},
		{"script.-nowait", false},
		{"script.-nowait.sh", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.nowait, IsNoWait(tt.name), tt.name)
	}
}

func TestScriptsForOrderingAndNoWait(t *testing.T) {
	root := t.TempDir()
	carrierDir := filepath.Join(root, "carrier.d")
	require.NoError(t, os.MkdirAll(carrierDir, 0o755))

	// Created out of order on purpose; discovery must sort by filename.
	writeScript(t, carrierDir, "10-c", 0o755)
	writeScript(t, carrierDir, "00-a", 0o755)
	writeScript(t, carrierDir, "05-b-nowait", 0o755)

	d := NewDiscovery(root)
	d.Policy = currentPolicy()

	scripts, err := d.ScriptsFor("carrier")
	require.NoError(t, err)
	require.Len(t, scripts, 3)

	assert.Equal(t, "00-a", scripts[0].Name)
	assert.Equal(t, "05-b-nowait", scripts[1].Name)
	assert.Equal(t, "10-c", scripts[2].Name)

	assert.False(t, scripts[0].NoWait)
	assert.True(t, scripts[1].NoWait)
	assert.False(t, scripts[2].NoWait)
}

func TestCollectSecurityFilter(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "routable.d")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	writeScript(t, dir, "00-no-exec", 0o444)
	writeScript(t, dir, "10-readable-exec", 0o555)
	writeScript(t, dir, "20-owner-exec", 0o500)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "30-subdir"), 0o755))

	d := NewDiscovery(root)
	d.Policy = currentPolicy()

	scripts, err := d.ScriptsFor("routable")
	require.NoError(t, err)
	require.Len(t, scripts, 2)
	assert.Equal(t, "10-readable-exec", scripts[0].Name)
	assert.Equal(t, "20-owner-exec", scripts[1].Name)
}

func TestCollectRejectsWrongOwner(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "routable.d")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeScript(t, dir, "00-script", 0o755)

	d := NewDiscovery(root)
	d.Policy = currentPolicy()
	d.Policy.RequiredUID++ // nobody on this box owns files with that uid

	scripts, err := d.ScriptsFor("routable")
	require.NoError(t, err)
	assert.Empty(t, scripts)

	d.Policy = currentPolicy()
	d.Policy.RequiredGID++
	scripts, err = d.ScriptsFor("routable")
	require.NoError(t, err)
	assert.Empty(t, scripts)
}

func TestMissingDirectory(t *testing.T) {
	d := NewDiscovery(t.TempDir())
	d.Policy = currentPolicy()

	// Default policy: no hooks for this state, not an error.
	scripts, err := d.ScriptsFor("degraded")
	require.NoError(t, err)
	assert.Empty(t, scripts)

	// Strict mode surfaces the missing directory explicitly.
	d.Strict = true
	_, err = d.ScriptsFor("degraded")
	require.ErrorIs(t, err, ErrNoPathFound)
}

func TestStateDir(t *testing.T) {
	d := NewDiscovery("/etc/networkd/broker.d")
	assert.Equal(t, "/etc/networkd/broker.d/routable.d", d.StateDir("routable"))
}
