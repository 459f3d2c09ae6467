package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadSystemConfig(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg := LoadSystemConfig(filepath.Join(t.TempDir(), "nope.json"))
		assert.Equal(t, DefaultSystemConfig(), cfg)
		assert.Equal(t, 5, cfg.MaxIterations)
		assert.Equal(t, RetryPolicyFallback, cfg.RetryPolicy)
		assert.Equal(t, time.Second, cfg.FallbackCooldown())
	})

	t.Run("corrupt file yields defaults", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "system.json", "{not json")
		assert.Equal(t, DefaultSystemConfig(), LoadSystemConfig(p))
	})

	t.Run("partial file keeps other defaults", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "system.json", `{"max_iterations": 8, "strict_tools": true}`)
		cfg := LoadSystemConfig(p)
		assert.Equal(t, 8, cfg.MaxIterations)
		assert.True(t, cfg.StrictTools)
		assert.True(t, cfg.SurfaceIterationLimit)
		assert.Equal(t, 3, cfg.MaxRetries)
	})

	t.Run("invalid values are normalized", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "system.json",
			`{"max_iterations": 0, "retry_policy": "BACKOFF", "fallback_cooldown_ms": -5, "max_retries": -1}`)
		cfg := LoadSystemConfig(p)
		assert.Equal(t, 5, cfg.MaxIterations)
		assert.Equal(t, RetryPolicyBackoff, cfg.RetryPolicy)
		assert.Equal(t, 0, cfg.FallbackCooldownMs)
		assert.Equal(t, 3, cfg.MaxRetries)
	})

	t.Run("max retries is capped", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "system.json", `{"retry_policy": "backoff", "max_retries": 70}`)
		assert.Equal(t, MaxRetriesLimit, LoadSystemConfig(p).MaxRetries)
	})

	t.Run("unknown policy falls back", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "system.json", `{"retry_policy": "yolo"}`)
		assert.Equal(t, RetryPolicyFallback, LoadSystemConfig(p).RetryPolicy)
	})
}

func TestLoad(t *testing.T) {
	t.Run("missing config.json", func(t *testing.T) {
		_, _, err := Load(t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("missing llm section", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "config.json", `{"channels": {}}`)
		_, _, err := Load(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "llm")
	})

	t.Run("valid config", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "config.json", `{
			"llm": [{"type": "gemini", "models": ["gemini-2.5-flash"]}],
			"channels": {"web": {"port": 9453}},
			"system_instruction": "be brief"
		}`)
		writeFile(t, dir, "system.json", `{"parallel_tools": true}`)

		cfg, sys, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "be brief", cfg.SystemInstruction)
		assert.Contains(t, cfg.Channels, "web")
		assert.True(t, sys.ParallelTools)
	})
}

func TestWatchSystemConfig(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "system.json", `{"max_iterations": 5}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *SystemConfig, 4)
	done := make(chan error, 1)
	go func() {
		done <- WatchSystemConfig(ctx, p, func(c *SystemConfig) { got <- c })
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte(`{"max_iterations": 9}`), 0o644))

	select {
	case c := <-got:
		assert.Equal(t, 9, c.MaxIterations)
	case <-time.After(5 * time.Second):
		t.Fatal("reload was not observed")
	}

	cancel()
	require.NoError(t, <-done)
}
