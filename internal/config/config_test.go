package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	require.Equal(t, "infod3.db", cfg.StorePath)
	require.Equal(t, "/run/infod3.sock", cfg.UnixPath)
}

func TestLoadMergesFileThenFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "infod.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// listen on the RAM disk
		"store_path": "/dev/shm/infod3.db",
		"max_sockets": 64,
	}`), 0o644))

	overrides, flagsSet, configPath, err := ParseFlags([]string{"-c", path, "--tcp", "127.0.0.1:9000"})
	require.NoError(t, err)
	require.Equal(t, path, configPath)

	cfg, err := Load(configPath, overrides, flagsSet)
	require.NoError(t, err)
	require.Equal(t, "/dev/shm/infod3.db", cfg.StorePath)
	require.Equal(t, 64, cfg.MaxSockets)
	require.Equal(t, "127.0.0.1:9000", cfg.TCPAddr)
}

func TestFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "infod.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"store_path": "/from/file.db"}`), 0o644))

	overrides, flagsSet, configPath, err := ParseFlags([]string{"-c", path, "-f", "/from/flag.db"})
	require.NoError(t, err)

	cfg, err := Load(configPath, overrides, flagsSet)
	require.NoError(t, err)
	require.Equal(t, "/from/flag.db", cfg.StorePath)
}

func TestLoadWithNoFileUsesDefaults(t *testing.T) {
	overrides, flagsSet, configPath, err := ParseFlags(nil)
	require.NoError(t, err)
	require.Empty(t, configPath)

	cfg, err := Load(configPath, overrides, flagsSet)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestParseFlagsSyslogAndVerbose(t *testing.T) {
	overrides, flagsSet, _, err := ParseFlags([]string{"-s", "-v"})
	require.NoError(t, err)
	require.True(t, flagsSet["syslog"])
	require.True(t, flagsSet["verbose"])
	require.True(t, overrides.Syslog)
	require.True(t, overrides.Verbose)
}
