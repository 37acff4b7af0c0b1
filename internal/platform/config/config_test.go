package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("SEGTX_TEST_STR", "value")
	assert.Equal(t, "value", GetEnv("SEGTX_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", GetEnv("SEGTX_TEST_UNSET", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("SEGTX_TEST_INT", "12")
	t.Setenv("SEGTX_TEST_BAD_INT", "twelve")
	assert.Equal(t, 12, GetEnvInt("SEGTX_TEST_INT", 4))
	assert.Equal(t, 4, GetEnvInt("SEGTX_TEST_BAD_INT", 4))
	assert.Equal(t, 4, GetEnvInt("SEGTX_TEST_UNSET", 4))
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("SEGTX_TEST_DUR", "1500ms")
	t.Setenv("SEGTX_TEST_SECS", "30")
	t.Setenv("SEGTX_TEST_BAD_DUR", "soon")
	assert.Equal(t, 1500*time.Millisecond, GetEnvDuration("SEGTX_TEST_DUR", time.Second))
	assert.Equal(t, 30*time.Second, GetEnvDuration("SEGTX_TEST_SECS", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("SEGTX_TEST_BAD_DUR", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("SEGTX_TEST_UNSET", time.Second))
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("SEGTX_TEST_BOOL", "true")
	t.Setenv("SEGTX_TEST_BAD_BOOL", "maybe")
	assert.True(t, GetEnvBool("SEGTX_TEST_BOOL", false))
	assert.False(t, GetEnvBool("SEGTX_TEST_BAD_BOOL", false))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SEGTX_TEST_FROM_FILE=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SEGTX_TEST_FROM_FILE") })

	require.NoError(t, Load(path))
	assert.Equal(t, "loaded", GetEnv("SEGTX_TEST_FROM_FILE", ""))

	assert.Error(t, Load(filepath.Join(t.TempDir(), "missing.env")))
}
