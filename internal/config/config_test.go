package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "carecover", cfg.App.Name)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 0.5, cfg.Engine.Alert.CriticalBelow)
	assert.Equal(t, 0.75, cfg.Engine.Alert.HighBelow)
	assert.Equal(t, 0.9, cfg.Engine.Alert.MediumBelow)
	assert.Equal(t, 3, cfg.Engine.Alert.RecommendationLimit)
	assert.Equal(t, 30*time.Second, cfg.Engine.BatchTimeout)
	assert.Equal(t, 366, cfg.Engine.MaxRangeDays)
	assert.Equal(t, 10, cfg.Report.TopGaps)
	assert.Equal(t, 20, cfg.Report.TopOptions)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	content := `
app:
  port: 9000
engine:
  alert:
    critical_below: 0.4
    high_below: 0.6
  batch_timeout: 5s
  lock_backend: redis
report:
  workers: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.App.Port)
	assert.Equal(t, 0.4, cfg.Engine.Alert.CriticalBelow)
	assert.Equal(t, 0.6, cfg.Engine.Alert.HighBelow)
	assert.Equal(t, 0.9, cfg.Engine.Alert.MediumBelow, "未配置的键保留默认值")
	assert.Equal(t, 5*time.Second, cfg.Engine.BatchTimeout)
	assert.Equal(t, "redis", cfg.Engine.LockBackend)
	assert.Equal(t, 2, cfg.Report.Workers)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ENGINE_ALERT_MEDIUM_BELOW", "0.95")
	t.Setenv("DATABASE_DRIVER", "postgres")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 0.95, cfg.Engine.Alert.MediumBelow)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestLoad_InvalidThresholds(t *testing.T) {
	t.Setenv("ENGINE_ALERT_CRITICAL_BELOW", "0.8")

	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestLoad_InvalidDriver(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")

	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestLoad_InvalidMaxRangeDays(t *testing.T) {
	t.Setenv("ENGINE_MAX_RANGE_DAYS", "0")

	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestDispatcherConfig(t *testing.T) {
	t.Setenv("ENGINE_GAP_LOOKBACK_DAYS", "21")
	t.Setenv("ENGINE_AUTO_RESOLVE_THRESHOLD", "0.8")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	dc := cfg.DispatcherConfig()
	assert.Equal(t, 21, dc.Scoring.GapLookbackDays)
	assert.Equal(t, 7, dc.Scoring.BatchLookbackDays)
	assert.Equal(t, 0.8, dc.AutoResolveThreshold)
}
