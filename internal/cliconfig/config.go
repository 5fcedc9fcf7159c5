package cliconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Modes of operation.
const (
	ModeBatch      = "batch"
	ModeContinuous = "continuous"
)

// Config holds CLI configuration for seedship.
type Config struct {
	ServerAddr string
	Inputs     []string

	StateFile string
	WorkDir   string
	Mode      string
	MaxDepth  int

	MaxRate          int64
	Ack              bool
	QuitOnError      bool
	ReconnectDelay   time.Duration
	TransportTimeout time.Duration

	SelectionFile string
	Include       []string
	Reject        []string

	QuietThreshold    time.Duration
	IdleThreshold     time.Duration
	IdleDelayPasses   int
	ScanInterval      time.Duration
	SaveInterval      time.Duration
	MaxRecordsPerPass int

	IOStatsInterval time.Duration
	SyncFile        bool

	Verbosity int
	Quiet     bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		WorkDir:          ".",
		Mode:             ModeBatch,
		MaxDepth:         -1, // unlimited
		ReconnectDelay:   10 * time.Second,
		TransportTimeout: 15 * time.Second,
		QuietThreshold:   2 * time.Hour,
		IdleThreshold:    10 * time.Minute,
		IdleDelayPasses:  10,
		ScanInterval:     500 * time.Millisecond,
		SaveInterval:     10 * time.Second,
		SyncFile:         true,
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address is required")
	}
	if c.StateFile == "" {
		return fmt.Errorf("state-file is required")
	}
	if c.Mode != ModeBatch && c.Mode != ModeContinuous {
		return fmt.Errorf("mode must be %q or %q", ModeBatch, ModeContinuous)
	}
	if len(c.Inputs) == 0 {
		return fmt.Errorf("at least one file or directory to send is required")
	}

	if c.WorkDir == "" {
		c.WorkDir = "."
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive")
	}
	if c.MaxRate < 0 {
		return fmt.Errorf("max rate must not be negative")
	}

	if c.Mode == ModeContinuous {
		if c.ScanInterval <= 0 {
			return fmt.Errorf("scan interval must be positive")
		}
		if c.QuietThreshold <= 0 || c.IdleThreshold <= 0 {
			return fmt.Errorf("quiet and idle thresholds must be positive")
		}
		if c.IdleThreshold >= c.QuietThreshold {
			return fmt.Errorf("idle threshold must be below the quiet threshold")
		}
	}
	return nil
}

// configSetter helps apply configuration values while respecting flag
// precedence. It only applies values if the corresponding flag hasn't been
// explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setStrings sets a string slice if non-empty and flag not changed.
func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt64 sets an int64 value if positive and flag not changed.
func (s *configSetter) setInt64(flag string, value int64, dst *int64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setIntPtr sets an int value from a pointer if not nil and flag not
// changed. Unlike setInt it applies zero and negative values, for settings
// where they carry meaning.
func (s *configSetter) setIntPtr(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setDuration parses and sets a duration from string if valid and flag not
// changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if
// valid. Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setIntSignedFromString parses a string to int and sets the destination,
// applying zero and negative values too. Used for environment variables
// behind settings where they carry meaning.
func (s *configSetter) setIntSignedFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = i
	return nil
}

// setInt64FromString parses a string to int64 and sets the destination if
// valid. Used for environment variables that come as strings.
func (s *configSetter) setInt64FromString(flag, value string, dst *int64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false. Used for
// environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}

// setStringsFromString splits a comma-separated list and sets the
// destination. Used for environment variables that come as strings.
func (s *configSetter) setStringsFromString(flag, value string, dst *[]string) {
	if value == "" || s.changed[flag] {
		return
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
