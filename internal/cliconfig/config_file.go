package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML
// friendly.
type FileConfig struct {
	ServerAddr string `toml:"server_addr"`

	StateFile string `toml:"state_file"`
	WorkDir   string `toml:"work_dir"`
	Mode      string `toml:"mode"`
	// MaxDepth is a pointer so the file can express 0 (no recursion) and
	// -1 (unlimited) as well as positive limits.
	MaxDepth *int `toml:"max_depth"`

	MaxRate          int64  `toml:"max_rate"`
	Ack              *bool  `toml:"ack"`
	QuitOnError      *bool  `toml:"quit_on_error"`
	ReconnectDelay   string `toml:"reconnect_delay"`
	TransportTimeout string `toml:"transport_timeout"`

	SelectionFile string   `toml:"selection_file"`
	Include       []string `toml:"include"`
	Reject        []string `toml:"reject"`

	QuietThreshold    string `toml:"quiet_threshold"`
	IdleThreshold     string `toml:"idle_threshold"`
	IdleDelayPasses   int    `toml:"idle_delay_passes"`
	ScanInterval      string `toml:"scan_interval"`
	SaveInterval      string `toml:"save_interval"`
	MaxRecordsPerPass int    `toml:"max_records_per_pass"`

	IOStatsInterval string `toml:"iostats_interval"`
	SyncFile        *bool  `toml:"sync_file"`

	Verbosity int   `toml:"verbosity"`
	Quiet     *bool `toml:"quiet"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path,
// ~/.seedship/config.toml, if the user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".seedship", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("server", fc.ServerAddr, &cfg.ServerAddr)
	s.setString("state-file", fc.StateFile, &cfg.StateFile)
	s.setString("work-dir", fc.WorkDir, &cfg.WorkDir)
	s.setString("mode", fc.Mode, &cfg.Mode)
	s.setString("selection", fc.SelectionFile, &cfg.SelectionFile)

	s.setIntPtr("max-depth", fc.MaxDepth, &cfg.MaxDepth)
	s.setInt64("max-rate", fc.MaxRate, &cfg.MaxRate)
	s.setInt("idle-delay-passes", fc.IdleDelayPasses, &cfg.IdleDelayPasses)
	s.setInt("max-records-per-pass", fc.MaxRecordsPerPass, &cfg.MaxRecordsPerPass)
	s.setInt("verbose", fc.Verbosity, &cfg.Verbosity)

	s.setStrings("include", fc.Include, &cfg.Include)
	s.setStrings("reject", fc.Reject, &cfg.Reject)

	if err := s.setDuration("reconnect-delay", fc.ReconnectDelay, &cfg.ReconnectDelay); err != nil {
		return err
	}
	if err := s.setDuration("timeout", fc.TransportTimeout, &cfg.TransportTimeout); err != nil {
		return err
	}
	if err := s.setDuration("quiet-threshold", fc.QuietThreshold, &cfg.QuietThreshold); err != nil {
		return err
	}
	if err := s.setDuration("idle-threshold", fc.IdleThreshold, &cfg.IdleThreshold); err != nil {
		return err
	}
	if err := s.setDuration("scan-interval", fc.ScanInterval, &cfg.ScanInterval); err != nil {
		return err
	}
	if err := s.setDuration("save-interval", fc.SaveInterval, &cfg.SaveInterval); err != nil {
		return err
	}
	if err := s.setDuration("iostats-interval", fc.IOStatsInterval, &cfg.IOStatsInterval); err != nil {
		return err
	}

	s.setBool("ack", fc.Ack, &cfg.Ack)
	s.setBool("quit-on-error", fc.QuitOnError, &cfg.QuitOnError)
	s.setBool("sync", fc.SyncFile, &cfg.SyncFile)
	s.setBool("quiet", fc.Quiet, &cfg.Quiet)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
