package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pointsd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, "Asia/Bangkok", cfg.Scheduler.Timezone)
	assert.False(t, cfg.Kafka.Enabled())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	// GIVEN: A file that sets some keys and leaves others out
	path := writeConfig(t, `
database:
  path: /var/lib/pointsd/points.db
scheduler:
  interval: 5m
  active_from_hour: 6
log:
  format: json
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
`)

	// WHEN
	cfg, err := Load(path)

	// THEN: Set keys win, the rest keep their defaults
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/pointsd/points.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 6, cfg.Scheduler.ActiveFromHour)
	assert.Equal(t, 20, cfg.Scheduler.ActiveToHour)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, "points.ledger", cfg.Kafka.Topic)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "database: [", "parse config"},
		{"inverted hours", "scheduler:\n  active_from_hour: 21\n  active_to_hour: 5\n", "after active_to_hour"},
		{"hour out of range", "scheduler:\n  active_to_hour: 24\n", "0-23"},
		{"zero interval", "scheduler:\n  interval: 0s\n", "interval must be positive"},
		{"unknown timezone", "scheduler:\n  timezone: Mars/Olympus\n", "timezone"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad format", "log:\n  format: xml\n", "log.format"},
		{"kafka without topic", "kafka:\n  brokers: [k:9092]\n  topic: \"\"\n", "kafka.topic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSchedulerLocation(t *testing.T) {
	loc, err := Default().Scheduler.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Bangkok", loc.String())
}
