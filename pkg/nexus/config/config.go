// Package config loads the settings of the nexus command.
//
// A config file is YAML or JSON:
//
//	event_log:
//	  path: events.jsonl
//	  sync: false
//	  index: events.db
//	retry:
//	  base: 1s
//	  factor: 2
//	  max: 1m
//	  jitter: 0
//	logging:
//	  level: info
//	  format: text
//	telemetry:
//	  metrics: false
//	  tracing: false
//	dead_letter:
//	  max_size: 1000
//	  threshold: 3
//	  window: 1h
//	dags:
//	  - pipeline.yaml
//
// Missing keys keep their defaults. Environment variables override the
// file; see ApplyEnv.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/randalmurphal/nexus/pkg/nexus/retry"
)

// Environment variables read by ApplyEnv.
const (
	EnvEventLog  = "NEXUS_EVENT_LOG"
	EnvIndex     = "NEXUS_INDEX"
	EnvLogLevel  = "NEXUS_LOG_LEVEL"
	EnvLogFormat = "NEXUS_LOG_FORMAT"
)

// EventLog configures the append-only event log.
type EventLog struct {
	Path  string `validate:"required"`
	Sync  bool
	Index string
}

// Retry configures task retry delays.
type Retry struct {
	Base   time.Duration `validate:"gt=0"`
	Factor float64       `validate:"gte=1"`
	Max    time.Duration `validate:"gte=0"`
	Jitter float64       `validate:"gte=0,lte=1"`
}

// Backoff returns the retry policy.
func (r Retry) Backoff() retry.Backoff {
	return retry.New(
		retry.WithBase(r.Base),
		retry.WithFactor(r.Factor),
		retry.WithMax(r.Max),
		retry.WithJitter(r.Jitter),
	)
}

// Logging configures the slog handler.
type Logging struct {
	Level  string `validate:"oneof=debug info warn warning error"`
	Format string `validate:"oneof=text json"`
}

// Telemetry enables the OpenTelemetry SDK providers.
type Telemetry struct {
	Metrics bool
	Tracing bool
}

// DeadLetter configures the queue of failures nothing retries on its own.
type DeadLetter struct {
	MaxSize   int           `validate:"gte=1"`
	Threshold int           `validate:"gte=1"`
	Window    time.Duration `validate:"gt=0"`
}

// Config is the full nexus configuration.
type Config struct {
	EventLog   EventLog
	Retry      Retry
	Logging    Logging
	Telemetry  Telemetry
	DeadLetter DeadLetter
	DAGs       []string `validate:"dive,required"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		EventLog: EventLog{Path: "events.jsonl"},
		Retry: Retry{
			Base:   retry.DefaultBackoff.Base,
			Factor: retry.DefaultBackoff.Factor,
		},
		Logging:    Logging{Level: "info", Format: "text"},
		DeadLetter: DeadLetter{MaxSize: 1000, Threshold: 3, Window: time.Hour},
	}
}

// FromValues overlays v on the defaults.
func FromValues(v Values) Config {
	d := Default()
	return Config{
		EventLog: EventLog{
			Path:  v.String("event_log.path", d.EventLog.Path),
			Sync:  v.Bool("event_log.sync", d.EventLog.Sync),
			Index: v.String("event_log.index", d.EventLog.Index),
		},
		Retry: Retry{
			Base:   v.Duration("retry.base", d.Retry.Base),
			Factor: v.Float("retry.factor", d.Retry.Factor),
			Max:    v.Duration("retry.max", d.Retry.Max),
			Jitter: v.Float("retry.jitter", d.Retry.Jitter),
		},
		Logging: Logging{
			Level:  v.String("logging.level", d.Logging.Level),
			Format: v.String("logging.format", d.Logging.Format),
		},
		Telemetry: Telemetry{
			Metrics: v.Bool("telemetry.metrics", d.Telemetry.Metrics),
			Tracing: v.Bool("telemetry.tracing", d.Telemetry.Tracing),
		},
		DeadLetter: DeadLetter{
			MaxSize:   v.Int("dead_letter.max_size", d.DeadLetter.MaxSize),
			Threshold: v.Int("dead_letter.threshold", d.DeadLetter.Threshold),
			Window:    v.Duration("dead_letter.window", d.DeadLetter.Window),
		},
		DAGs: v.StringSlice("dags", d.DAGs),
	}
}

// Load reads the config file at path. An empty path yields the defaults.
// The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		v, err := ReadValues(path)
		if err != nil {
			return Config{}, err
		}
		cfg = FromValues(v)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables found by lookup
// (usually os.LookupEnv). Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvEventLog, &c.EventLog.Path)
	set(EnvIndex, &c.EventLog.Index)
	set(EnvLogLevel, &c.Logging.Level)
	set(EnvLogFormat, &c.Logging.Format)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks value ranges.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
