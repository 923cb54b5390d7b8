package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/dvbsched/internal/conflict"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := NewLoader("", "test").Load()
	require.NoError(t, err)
	assert.Equal(t, "dbus", cfg.Backend)
	assert.Equal(t, time.Hour, cfg.Sched.Grace)
	assert.Equal(t, "single-tuner", cfg.Sched.Policy)
	assert.Equal(t, "test", cfg.Version)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
backend: memory
memory:
  groups:
    - id: 1
      channels: [100, 200]
scheduler:
  grace: 30m
  policy: same-channel
api:
  listenAddr: "127.0.0.1:9000"
`)
	t.Setenv("DVBSCHED_LISTEN", ":9100")
	t.Setenv("DVBSCHED_GRACE", "45m")

	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, []MemoryGroup{{ID: 1, Channels: []uint32{100, 200}}}, cfg.Memory.Groups)
	assert.Equal(t, "same-channel", cfg.Sched.Policy)
	assert.Equal(t, 45*time.Minute, cfg.Sched.Grace, "env overrides file")
	assert.Equal(t, ":9100", cfg.API.ListenAddr)
}

func TestLoad_InvalidEnvKeepsValue(t *testing.T) {
	t.Setenv("DVBSCHED_BREAKER_THRESHOLD", "many")
	cfg, err := NewLoader("", "").Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults().Breaker.Threshold, cfg.Breaker.Threshold)
}

func TestLoad_StrictParsing(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "backend: dbus\nbogus: 1\n", "strict config parse error"},
		{"multiple documents", "backend: dbus\n---\nbackend: memory\n", "multiple documents"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(writeConfig(t, tt.body), "").Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_RejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only YAML supported")
}

func TestValidate_ReportsAllFields(t *testing.T) {
	cfg := Defaults()
	cfg.Backend = "memory"
	cfg.Sched.Policy = "round-robin"
	cfg.Sched.Grace = -time.Minute
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "zipkin"

	err := Validate(cfg)
	require.Error(t, err)
	for _, field := range []string{"memory.groups", "scheduler.policy", "scheduler.grace", "tracing.exporter"} {
		assert.Contains(t, err.Error(), field)
	}

	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestValidate_DuplicateGroup(t *testing.T) {
	cfg := Defaults()
	cfg.Backend = "memory"
	cfg.Memory.Groups = []MemoryGroup{{ID: 1}, {ID: 1}}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate group id")
}

func TestChecker(t *testing.T) {
	cfg := Defaults()
	cfg.Sched.Grace = 10 * time.Minute
	cfg.Sched.Policy = "same-channel"
	assert.Equal(t, conflict.New(10*time.Minute, conflict.PolicySameChannel), cfg.Checker())
}

func TestConfigHolder_ReloadNotifies(t *testing.T) {
	path := writeConfig(t, "scheduler:\n  grace: 1h\n")
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewConfigHolder(initial, loader)
	ch := make(chan AppConfig, 1)
	h.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  grace: 20m\n"), 0o600))
	require.NoError(t, h.Reload(context.Background()))

	assert.Equal(t, 20*time.Minute, h.Get().Sched.Grace)
	select {
	case got := <-ch:
		assert.Equal(t, 20*time.Minute, got.Sched.Grace)
	default:
		t.Fatal("listener not notified")
	}
}

func TestConfigHolder_FailedReloadKeepsCurrent(t *testing.T) {
	path := writeConfig(t, "scheduler:\n  policy: single-tuner\n")
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)
	h := NewConfigHolder(initial, loader)

	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  policy: nope\n"), 0o600))
	require.Error(t, h.Reload(context.Background()))
	assert.Equal(t, "single-tuner", h.Get().Sched.Policy)
}

func TestConfigHolder_WatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "logLevel: info\n")
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewConfigHolder(initial, loader)
	h.debounce = 10 * time.Millisecond
	ch := make(chan AppConfig, 4)
	h.RegisterListener(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.StartWatcher(ctx))

	require.NoError(t, os.WriteFile(path, []byte("logLevel: debug\n"), 0o600))

	select {
	case got := <-ch:
		assert.Equal(t, "debug", got.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
}

func TestConfigHolder_NoFileNoWatcher(t *testing.T) {
	h := NewConfigHolder(Defaults(), NewLoader("", ""))
	require.NoError(t, h.StartWatcher(context.Background()))
	h.Stop()
}
