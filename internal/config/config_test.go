package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Printf(format string, args ...any) {
	l.lines = append(l.lines, format)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bodiless.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.True(t, cfg.Editor.SaveEnabled)
	assert.Equal(t, 2*time.Second, cfg.Editor.DebounceDelay)
	assert.Equal(t, 10*time.Second, cfg.Editor.LockDuration)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), nil)
	require.Error(t, err)
}

func TestLoadReadsToml(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = "127.0.0.1:9000"
content_dsn = "sqlite:///tmp/content.db"
schema_file = "schema.json"
origin_patterns = ["localhost:*"]
watch = false

[editor]
backend_url = "http://localhost:9000"
save_enabled = false
debounce_delay = "500ms"
lock_duration = "3s"
poll_jitter = 4.0
default_content_depth = 2
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "sqlite:///tmp/content.db", cfg.Server.ContentDSN)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "schema.json"), cfg.Server.SchemaFile)
	assert.Equal(t, []string{"localhost:*"}, cfg.Server.OriginPatterns)
	assert.False(t, cfg.Server.Watch)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)

	assert.Equal(t, "http://localhost:9000", cfg.Editor.BackendURL)
	assert.False(t, cfg.Editor.SaveEnabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Editor.DebounceDelay)
	assert.Equal(t, 3*time.Second, cfg.Editor.LockDuration)
	assert.Equal(t, 30*time.Second, cfg.Editor.SaveTimeout)
	assert.Equal(t, 1.0, cfg.Editor.PollJitter)
	assert.Equal(t, 2, cfg.Editor.DefaultContentDepth)
}

func TestLoadRejectsBadToml(t *testing.T) {
	_, err := Load(writeConfig(t, "[server\naddr = 1"), nil)
	require.Error(t, err)

	_, err = Load(writeConfig(t, "[editor]\ndebounce_delay = \"soon\"\n"), nil)
	require.ErrorContains(t, err, "editor.debounce_delay")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[server]
addr = ":9000"

[editor]
save_enabled = false
`)
	t.Setenv("BODILESS_ADDR", ":7000")
	t.Setenv("BODILESS_BACKEND_SAVE_ENABLED", "1")
	t.Setenv("BODILESS_DEBOUNCE_DELAY", "250ms")
	t.Setenv("BODILESS_ORIGIN_PATTERNS", "a.example, b.example,")
	t.Setenv("BODILESS_MAX_BODY_BYTES", "2048")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.True(t, cfg.Editor.SaveEnabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Editor.DebounceDelay)
	assert.Equal(t, []string{"a.example", "b.example"}, cfg.Server.OriginPatterns)
	assert.Equal(t, int64(2048), cfg.Server.MaxBodyBytes)
}

func TestSaveEnabledEnvOnlyAcceptsOne(t *testing.T) {
	chdir(t, t.TempDir())
	for _, value := range []string{"0", "true", "yes"} {
		t.Setenv("BODILESS_BACKEND_SAVE_ENABLED", value)
		cfg, err := Load("", nil)
		require.NoError(t, err)
		assert.False(t, cfg.Editor.SaveEnabled, "value %q", value)
	}

	t.Setenv("BODILESS_BACKEND_SAVE_ENABLED", "")
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.True(t, cfg.Editor.SaveEnabled)
}

func TestInvalidEnvFallsBackAndLogs(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("BODILESS_LOCK_DURATION", "forever")
	t.Setenv("BODILESS_DEFAULT_CONTENT_DEPTH", "deep")
	t.Setenv("BODILESS_POLL_JITTER", "lots")
	logger := &recordingLogger{}

	cfg, err := Load("", logger)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Editor.LockDuration)
	assert.Equal(t, 1, cfg.Editor.DefaultContentDepth)
	assert.Equal(t, 0.2, cfg.Editor.PollJitter)
	assert.Len(t, logger.lines, 3)
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
