package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"boulder/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, config.Default().Validate())
}

func TestValidateRejectsUnknownMethod(t *testing.T) {
	c := config.Default()
	c.IOMethod = "carrier-pigeon"
	require.Error(t, c.Validate())
}

func TestValidateRejectsNonPositiveConcurrency(t *testing.T) {
	c := config.Default()
	c.IOMaxConcurrency = 0
	require.Error(t, c.Validate())
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aio.yaml")
	require.NoError(t, os.WriteFile(path, []byte("io_method: worker\nworker_pool_size: 8\n"), 0644))

	c, err := config.Load(path, "")
	require.NoError(t, err)
	require.Equal(t, "worker", c.IOMethod)
	require.Equal(t, 8, c.WorkerPoolSize)
	// Unset fields keep their defaults.
	require.Equal(t, config.Default().BufferIOSize, c.BufferIOSize)
}

func TestLoadMissingYAMLFallsBackToDefaults(t *testing.T) {
	c, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.NoError(t, err)
	require.Equal(t, config.Default(), c)
}

func TestEnvOverrideWinsOverYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aio.yaml")
	require.NoError(t, os.WriteFile(path, []byte("io_method: sync\n"), 0644))

	t.Setenv("AIO_IO_METHOD", "io_uring")
	c, err := config.Load(path, "")
	require.NoError(t, err)
	require.Equal(t, "io_uring", c.IOMethod)
}
