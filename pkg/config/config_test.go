package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerr "github.com/logflow/svctools/pkg/errors"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "repeat-calls", cfg.Analysis.Preset)
	assert.Equal(t, "dmy", cfg.Analysis.DateOrder)
	assert.Equal(t, "localhost:8080", cfg.Server.Addr())
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestManager_LayeredFiles(t *testing.T) {
	dir := t.TempDir()
	user := writeFile(t, dir, "user.yaml", `
analysis:
  preset: unreturned
  window_days: 7
server:
  port: 9000
watch:
  debounce: 500ms
`)
	project := writeFile(t, dir, "project.yaml", `
analysis:
  window_days: 90
logging:
  level: debug
presets:
  files: [custom.yaml]
`)

	m := NewManager(WithPaths(filepath.Join(dir, "missing.yaml"), user, project), WithEnvFile(""))
	require.NoError(t, m.Load())
	cfg := m.Get()

	assert.Equal(t, []string{user, project}, m.GetPaths())
	assert.Equal(t, "unreturned", cfg.Analysis.Preset)
	assert.Equal(t, 90, cfg.Analysis.WindowDays)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host, "absent keys keep defaults")
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"custom.yaml"}, cfg.Presets.Files)
}

func TestManager_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "config.yaml", "server:\n  port: 9000\n")
	env := writeFile(t, dir, ".env", "SVCTOOLS_LOG_FORMAT=json\nSVCTOOLS_PORT=7000\n")

	t.Setenv("SVCTOOLS_PORT", "7100")
	t.Setenv("SVCTOOLS_WINDOW_DAYS", "14")
	t.Setenv("SVCTOOLS_TELEMETRY", "true")
	t.Setenv("SVCTOOLS_LOG_FORMAT", "")
	require.NoError(t, os.Unsetenv("SVCTOOLS_LOG_FORMAT"))

	m := NewManager(WithPaths(file), WithEnvFile(env))
	require.NoError(t, m.Load())
	cfg := m.Get()

	assert.Equal(t, 7100, cfg.Server.Port, "process env wins over .env")
	assert.Equal(t, 14, cfg.Analysis.WindowDays)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestManager_Errors(t *testing.T) {
	dir := t.TempDir()

	bad := writeFile(t, dir, "bad.yaml", "analysis: [")
	err := NewManager(WithPaths(bad), WithEnvFile("")).Load()
	assert.True(t, svcerr.IsCode(err, svcerr.CodeParseFailed))

	invalid := writeFile(t, dir, "invalid.yaml", "analysis:\n  date_order: ymd\n")
	err = NewManager(WithPaths(invalid), WithEnvFile("")).Load()
	assert.True(t, svcerr.IsCode(err, svcerr.CodeInvalidParams))

	t.Setenv("SVCTOOLS_PORT", "eighty")
	err = NewManager(WithPaths(), WithEnvFile("")).Load()
	assert.True(t, svcerr.IsCode(err, svcerr.CodeInvalidParams))
}

func TestManager_SaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(WithPaths(), WithEnvFile(""))
	require.NoError(t, m.Load())
	m.Get().Analysis.WindowDays = 45

	path := filepath.Join(dir, "nested", "config.yaml")
	require.NoError(t, m.Save(path))

	again := NewManager(WithPaths(path), WithEnvFile(""))
	require.NoError(t, again.Load())
	assert.Equal(t, 45, again.Get().Analysis.WindowDays)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"100MB", 100 << 20},
		{"1.5gb", 3 << 29},
		{"4096", 4096},
		{"64 KB", 64 << 10},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseSize("lots")
	assert.Error(t, err)
	_, err = ParseSize("0")
	assert.Error(t, err)
}

func TestAnalysisConfig_Location(t *testing.T) {
	loc, err := AnalysisConfig{Timezone: "Asia/Jerusalem"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jerusalem", loc.String())

	_, err = AnalysisConfig{Timezone: "Mars/Base"}.Location()
	assert.Error(t, err)
}
