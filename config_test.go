package hotpatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hotpatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, defaultArenaSize, cfg.ArenaSize)
}

func TestLoadConfig(t *testing.T) {
	assert := assert.New(t)

	path := writeConfig(t, "log_level: debug\narena_size: 8192\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal("debug", cfg.LogLevel)
	assert.Equal(8192, cfg.ArenaSize)
	assert.Equal("json", cfg.LogFormat)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("HOTPATCH_LOG_LEVEL", "error")

	cfg, err := LoadConfig(writeConfig(t, "log_level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"bad level", "log_level: chatty\n", "log_level"},
		{"bad format", "log_format: xml\n", "log_format"},
		{"bad arena", "arena_size: -1\n", "arena_size"},
		{"bad yaml", "log_level: [\n", "parse config"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewEngineFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogFormat = "console"
	cfg.ArenaSize = 4096

	e, err := NewEngineFromConfig(cfg, WithBackend(newFakeBackend(testOrig)))
	require.NoError(t, err)

	original, err := e.Create(testTarget, testDetour)
	require.NoError(t, err)
	assert.Equal(t, testOrig, original)

	cfg.ArenaSize = 0
	_, err = NewEngineFromConfig(cfg)
	assert.Error(t, err)
}
