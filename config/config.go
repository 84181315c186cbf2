/*
config.go - Service configuration

PURPOSE:
  Loads pointsd settings from a YAML file, fills in defaults for anything
  left out and validates the result before the service starts.

FILE FORMAT:
  database:
    path: ./data/points.db
  http:
    addr: ":8080"
    allowed_origins: ["http://localhost:5173"]
  scheduler:
    enabled: true
    interval: 30m
    active_from_hour: 5
    active_to_hour: 20
    timezone: Asia/Bangkok
  log:
    level: info
    format: console
  kafka:
    brokers: ["localhost:9092"]
    topic: points.ledger

  A missing file is not an error: Load returns the defaults.

SEE ALSO:
  - cmd/pointsd: Flag overrides on top of the file
*/
package config

import (
	"os"
	"time"
	_ "time/tzdata"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the full pointsd configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	HTTP      HTTPConfig      `yaml:"http"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Log       LogConfig       `yaml:"log"`
	Kafka     KafkaConfig     `yaml:"kafka"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SchedulerConfig controls the periodic batch pass. The pass only fires
// while the local hour is within [ActiveFromHour, ActiveToHour].
type SchedulerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	ActiveFromHour int           `yaml:"active_from_hour"`
	ActiveToHour   int           `yaml:"active_to_hour"`
	Timezone       string        `yaml:"timezone"`
}

// Location resolves Timezone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", s.Timezone)
	}
	return loc, nil
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// KafkaConfig enables ledger event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: "points.db"},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			Interval:       30 * time.Minute,
			ActiveFromHour: 5,
			ActiveToHour:   20,
			Timezone:       "Asia/Bangkok",
		},
		Log:   LogConfig{Level: "info", Format: "console"},
		Kafka: KafkaConfig{Topic: "points.ledger"},
	}
}

// Load reads path over the defaults. An empty path or a missing file
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}

	s := c.Scheduler
	if s.Enabled && s.Interval <= 0 {
		return errors.Errorf("scheduler.interval must be positive, got %s", s.Interval)
	}
	if s.ActiveFromHour < 0 || s.ActiveFromHour > 23 || s.ActiveToHour < 0 || s.ActiveToHour > 23 {
		return errors.Errorf("scheduler hours must be within 0-23, got %d-%d", s.ActiveFromHour, s.ActiveToHour)
	}
	if s.ActiveFromHour > s.ActiveToHour {
		return errors.Errorf("scheduler.active_from_hour %d is after active_to_hour %d",
			s.ActiveFromHour, s.ActiveToHour)
	}
	if _, err := s.Location(); err != nil {
		return err
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(err, "log.level")
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return errors.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}

	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when kafka.brokers is set")
	}
	return nil
}
