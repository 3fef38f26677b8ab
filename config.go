package signflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the engine's tunable policy. Zero values are filled
// from DefaultConfig at construction, so a partial config is fine.
type Config struct {
	// Platform names the issuing platform in signature metadata and
	// outbound mail.
	Platform string `yaml:"platform"`

	// TSAEndpoints is the ordered timestamp authority preference list.
	// The first endpoint that answers at startup is used for every
	// signature.
	TSAEndpoints []string `yaml:"tsa_endpoints"`

	// ReminderFallbackHours is the ladder of offsets before token
	// expiry used when the reminder cadence point has already passed.
	ReminderFallbackHours []int `yaml:"reminder_fallback_hours"`

	// LockTTL bounds every distributed lock lease.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// SchedulerPoll is how often the job runner looks for due work.
	SchedulerPoll time.Duration `yaml:"scheduler_poll"`

	// RetryDelay and MaxRetries govern scheduled job retries.
	RetryDelay time.Duration `yaml:"retry_delay"`
	MaxRetries int           `yaml:"max_retries"`

	// CounterWorkers bounds the pool recomputing tenant-wide counters.
	CounterWorkers int `yaml:"counter_workers"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Platform:              "signflow",
		ReminderFallbackHours: []int{12, 6, 3},
		LockTTL:               15 * time.Second,
		SchedulerPoll:         5 * time.Second,
		RetryDelay:            15 * time.Minute,
		MaxRetries:            3,
		CounterWorkers:        4,
	}
}

// LoadConfig reads a YAML config file, filling unset fields with
// defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Platform == "" {
		c.Platform = def.Platform
	}
	if len(c.ReminderFallbackHours) == 0 {
		c.ReminderFallbackHours = def.ReminderFallbackHours
	}
	if c.LockTTL <= 0 {
		c.LockTTL = def.LockTTL
	}
	if c.SchedulerPoll <= 0 {
		c.SchedulerPoll = def.SchedulerPoll
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.CounterWorkers <= 0 {
		c.CounterWorkers = def.CounterWorkers
	}
	return c
}
