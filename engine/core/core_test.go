package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vkcore.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[application]
name = "demo"
log_level = "warn"

[renderer]
virtual_frames = 2
fence_timeout = "250ms"
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Application.Name)
	assert.Equal(t, uint32(2), cfg.Renderer.VirtualFrames)
	assert.Equal(t, Duration(250*time.Millisecond), cfg.Renderer.FenceTimeout)
	assert.Equal(t, "pipelineCache.bin", cfg.Renderer.PipelineCachePath)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"syntax":    "[renderer\nvirtual_frames = 3",
		"frames":    "[renderer]\nvirtual_frames = 0",
		"log level": "[application]\nlog_level = \"loud\"",
		"duration":  "[renderer]\nfence_timeout = \"soon\"",
		"transient": "[renderer]\nvirtual_frames = 3\ntransient_memory_per_frame = 2147483648",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".toml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := LoadConfig(path)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestConfigSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.toml")
	cfg := DefaultConfig()
	cfg.Shaders.HotReload = false
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.False(t, loaded.Shaders.HotReload)
	assert.Equal(t, cfg.Renderer, loaded.Renderer)
}

func TestParseLogLevel(t *testing.T) {
	lvl, err := ParseLogLevel("ERROR")
	require.NoError(t, err)
	assert.Equal(t, LogLevelError, lvl)
}

func TestEventsFireStopsWhenHandled(t *testing.T) {
	ev := NewEvents()
	var calls []string
	first, second := "first", "second"
	require.True(t, ev.Register(EVENT_CODE_RESIZED, first, func(_ SystemEventCode, _, l interface{}, d EventContext) bool {
		calls = append(calls, l.(string))
		return d.Data.U32[0] == 0
	}))
	require.True(t, ev.Register(EVENT_CODE_RESIZED, second, func(_ SystemEventCode, _, l interface{}, _ EventContext) bool {
		calls = append(calls, l.(string))
		return true
	}))
	assert.False(t, ev.Register(EVENT_CODE_RESIZED, first, func(SystemEventCode, interface{}, interface{}, EventContext) bool { return false }))

	var data EventContext
	data.Data.U32[0] = 640
	assert.True(t, ev.Fire(EVENT_CODE_RESIZED, nil, data))
	assert.Equal(t, []string{"first", "second"}, calls)

	assert.True(t, ev.Unregister(EVENT_CODE_RESIZED, second))
	assert.False(t, ev.Fire(EVENT_CODE_RESIZED, nil, data))
}

func TestMetricsFPS(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 70; i++ {
		m.Update(16 * time.Millisecond)
	}
	assert.InDelta(t, 16.0, m.FrameTime(), 0.001)
	assert.Equal(t, 62.0, m.FPS())
}
