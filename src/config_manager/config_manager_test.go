package config_manager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "broker.json")
}

func TestMissingFileCreatesDefaults(t *testing.T) {
	path := configPath(t)

	cm, err := NewConfigManager(path)
	require.NoError(t, err)

	config := cm.GetConfig()
	assert.Equal(t, CurrentConfigVersion, config.ConfigVersion)
	assert.Equal(t, "/etc/networkd/broker.d", config.ScriptDir)
	assert.Equal(t, uint64(20), config.TimeoutSeconds)
	assert.Equal(t, ResolverDBus, config.Resolver)
	assert.True(t, config.PassJSON)

	// The defaults were persisted so the deployment can edit them.
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestSaveAndReload(t *testing.T) {
	path := configPath(t)

	cm, err := NewConfigManager(path)
	require.NoError(t, err)

	config := cm.GetConfig()
	config.ScriptDir = "/opt/hooks"
	config.TimeoutSeconds = 45
	config.Resolver = ResolverNetlink
	require.NoError(t, cm.SaveConfig(config))

	reloaded, err := NewConfigManager(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/hooks", reloaded.GetConfig().ScriptDir)
	assert.Equal(t, uint64(45), reloaded.GetConfig().TimeoutSeconds)
	assert.Equal(t, ResolverNetlink, reloaded.GetConfig().Resolver)
}

func TestNewerVersionRejected(t *testing.T) {
	path := configPath(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"config_version":"v9.9.9"}`), 0o644))

	_, err := NewConfigManager(path)
	assert.Error(t, err)
}

func TestOlderVersionAccepted(t *testing.T) {
	path := configPath(t)
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"config_version":"v0.0.1","script_dir":"/opt/hooks"}`), 0o644))

	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/hooks", cm.GetConfig().ScriptDir)
}

func TestMissingVersionAssumesCurrent(t *testing.T) {
	path := configPath(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"script_dir":"/opt/hooks"}`), 0o644))

	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	assert.Equal(t, CurrentConfigVersion, cm.GetConfig().ConfigVersion)
}

func TestFallbacksFillZeroValues(t *testing.T) {
	path := configPath(t)
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"config_version":"v0.1.0","queue_size":0}`), 0o644))

	cm, err := NewConfigManager(path)
	require.NoError(t, err)

	config := cm.GetConfig()
	assert.Equal(t, "/etc/networkd/broker.d", config.ScriptDir)
	assert.Equal(t, uint64(20), config.TimeoutSeconds)
	assert.Equal(t, uint64(10), config.DescribeTimeoutSeconds)
	assert.Equal(t, "warn", config.LogLevel)
	assert.Equal(t, 1024, config.QueueSize)
}

func TestMalformedConfigRejected(t *testing.T) {
	path := configPath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewConfigManager(path)
	assert.Error(t, err)
}
