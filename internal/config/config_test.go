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

func TestParseYAML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data.db
engine:
  poll_interval: 5s
  retain_runs: 3
scheduler:
  enabled: true
recipe:
  file: recipe.yaml
  watch: true
`)
	cfg, err := NewConfigManager(p).Parse()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "5s", cfg.Engine.PollInterval)
	assert.Equal(t, 3, cfg.Engine.RetainRuns)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.True(t, cfg.Recipe.Watch)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.json", `{"engine":{"workers":4}}`)
	_, err := NewConfigManager(p).Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers")
}

func TestParseRejectsTrailingData(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.json", `{} {}`)
	_, err := NewConfigManager(p).Parse()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"empty", Config{}, true},
		{"bad driver", Config{Storage: StorageConfig{Driver: "mongo"}}, false},
		{"postgres without dsn", Config{Storage: StorageConfig{Driver: "postgres"}}, false},
		{"bad duration", Config{Engine: EngineConfig{PollInterval: "ten"}}, false},
		{"negative duration", Config{Engine: EngineConfig{PollInterval: "-1s"}}, false},
		{"bad timezone", Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}, false},
		{"bad env", Config{Engine: EngineConfig{Env: []string{"NOPE"}}}, false},
		{"watch without file", Config{Recipe: RecipeConfig{Watch: true}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)

	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationOrDefault("x", "soon", time.Second)
	assert.Error(t, err)
}

func TestReloadSkipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"engine":{"retain_runs":2}}`)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	published, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, published)

	writeFile(t, dir, "config.json", `{"engine":{"retain_runs":5}}`)
	published, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.True(t, published)

	select {
	case cfg := <-ch:
		assert.Equal(t, 5, cfg.Engine.RetainRuns)
	default:
		t.Fatal("expected published config")
	}
	assert.Equal(t, 5, m.Get().Engine.RetainRuns)
}

func TestReloadValidatorRejects(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{}`)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Engine.RetainRuns > 100 {
			return assert.AnError
		}
		return nil
	})

	writeFile(t, dir, "config.json", `{"engine":{"retain_runs":1000}}`)
	published, err := m.Reload(context.Background())
	require.Error(t, err)
	assert.False(t, published)
	assert.Equal(t, 0, m.Get().Engine.RetainRuns)
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Engine: EngineConfig{RetainRuns: 1}}
	newCfg := &Config{Engine: EngineConfig{RetainRuns: 2}, Metrics: MetricsConfig{Enabled: true, Token: "secret"}}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"engine", "metrics"}, changed)
	assert.NotEmpty(t, attrs)
}
