package scalpscan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 33*time.Millisecond, cfg.Controller.MaxFrameTime)
	assert.Equal(t, 3, cfg.Recovery.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Recovery.ThrottleWindow)
	assert.Equal(t, time.Second, cfg.Monitor.Interval)
	assert.Greater(t, cfg.Mesh.Assess.NeighborRadius, 0.0)
}

func TestLoadConfigPartialOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
controller:
  max_frame_time: 50ms
recovery:
  max_attempts: 5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 50*time.Millisecond, cfg.Controller.MaxFrameTime)
	assert.Equal(t, 5, cfg.Recovery.MaxAttempts)

	// Everything the file does not name keeps its default.
	def := DefaultConfig()
	assert.Equal(t, def.Controller.MaxMemoryUsage, cfg.Controller.MaxMemoryUsage)
	assert.Equal(t, def.Recovery.ThrottleWindow, cfg.Recovery.ThrottleWindow)
	assert.Equal(t, def.Mesh, cfg.Mesh)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("controller: ["), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyOverrides(map[string]interface{}{
		"controller": map[string]interface{}{
			"max_memory_usage": "0.9",
			"max_frame_time":   "25ms",
		},
		"recovery": map[string]interface{}{
			"max_attempts": 2,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Controller.MaxMemoryUsage)
	assert.Equal(t, 25*time.Millisecond, cfg.Controller.MaxFrameTime)
	assert.Equal(t, 2, cfg.Recovery.MaxAttempts)
}

func TestApplyOverridesEmpty(t *testing.T) {
	cfg := DefaultConfig()
	before := cfg
	require.NoError(t, cfg.ApplyOverrides(nil))
	assert.Equal(t, before, cfg)
}
