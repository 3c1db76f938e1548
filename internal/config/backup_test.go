package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withFakeHome(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", "")
}

func TestBackupUserConfigNoExistingFile(t *testing.T) {
	withFakeHome(t, t.TempDir())
	path, err := BackupUserConfig()
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestBackupAndRestoreUserConfig(t *testing.T) {
	home := t.TempDir()
	withFakeHome(t, home)

	cfg := NewConfig()
	cfg.Host = "original"
	require.NoError(t, os.MkdirAll(GetUserConfigDir(), 0o755))
	require.NoError(t, cfg.WriteYAML(GetUserConfigPath()))

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)

	modified := NewConfig()
	modified.Host = "changed"
	require.NoError(t, modified.WriteYAML(GetUserConfigPath()))

	require.NoError(t, RestoreUserConfig(backupPath))

	restored := NewConfig()
	require.NoError(t, restored.loadYAML(GetUserConfigPath()))
	assert.Equal(t, "original", restored.Host)
}

func TestListUserConfigBackupsEmptyWhenNoDir(t *testing.T) {
	withFakeHome(t, t.TempDir())
	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestCleanupKeepsOnlyMaxBackups(t *testing.T) {
	home := t.TempDir()
	withFakeHome(t, home)

	cfg := NewConfig()
	require.NoError(t, os.MkdirAll(GetUserConfigDir(), 0o755))
	require.NoError(t, cfg.WriteYAML(GetUserConfigPath()))

	for i := 0; i < MaxBackups+2; i++ {
		_, err := BackupUserConfig()
		require.NoError(t, err)
	}

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), MaxBackups)
}
