package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables
// (SEEDSHIP_*). It respects flags that have been explicitly set (changed
// map). Environment variables have lower precedence than flags but higher
// than the config file.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("server", os.Getenv("SEEDSHIP_SERVER_ADDR"), &cfg.ServerAddr)
	s.setString("state-file", os.Getenv("SEEDSHIP_STATE_FILE"), &cfg.StateFile)
	s.setString("work-dir", os.Getenv("SEEDSHIP_WORK_DIR"), &cfg.WorkDir)
	s.setString("mode", os.Getenv("SEEDSHIP_MODE"), &cfg.Mode)
	s.setString("selection", os.Getenv("SEEDSHIP_SELECTION_FILE"), &cfg.SelectionFile)

	if err := s.setIntSignedFromString("max-depth", os.Getenv("SEEDSHIP_MAX_DEPTH"), &cfg.MaxDepth); err != nil {
		return err
	}
	if err := s.setInt64FromString("max-rate", os.Getenv("SEEDSHIP_MAX_RATE"), &cfg.MaxRate); err != nil {
		return err
	}
	if err := s.setIntFromString("idle-delay-passes", os.Getenv("SEEDSHIP_IDLE_DELAY_PASSES"), &cfg.IdleDelayPasses); err != nil {
		return err
	}
	if err := s.setIntFromString("max-records-per-pass", os.Getenv("SEEDSHIP_MAX_RECORDS_PER_PASS"), &cfg.MaxRecordsPerPass); err != nil {
		return err
	}
	if err := s.setIntFromString("verbose", os.Getenv("SEEDSHIP_VERBOSITY"), &cfg.Verbosity); err != nil {
		return err
	}

	s.setStringsFromString("include", os.Getenv("SEEDSHIP_INCLUDE"), &cfg.Include)
	s.setStringsFromString("reject", os.Getenv("SEEDSHIP_REJECT"), &cfg.Reject)

	if err := s.setDuration("reconnect-delay", os.Getenv("SEEDSHIP_RECONNECT_DELAY"), &cfg.ReconnectDelay); err != nil {
		return err
	}
	if err := s.setDuration("timeout", os.Getenv("SEEDSHIP_TRANSPORT_TIMEOUT"), &cfg.TransportTimeout); err != nil {
		return err
	}
	if err := s.setDuration("quiet-threshold", os.Getenv("SEEDSHIP_QUIET_THRESHOLD"), &cfg.QuietThreshold); err != nil {
		return err
	}
	if err := s.setDuration("idle-threshold", os.Getenv("SEEDSHIP_IDLE_THRESHOLD"), &cfg.IdleThreshold); err != nil {
		return err
	}
	if err := s.setDuration("scan-interval", os.Getenv("SEEDSHIP_SCAN_INTERVAL"), &cfg.ScanInterval); err != nil {
		return err
	}
	if err := s.setDuration("save-interval", os.Getenv("SEEDSHIP_SAVE_INTERVAL"), &cfg.SaveInterval); err != nil {
		return err
	}
	if err := s.setDuration("iostats-interval", os.Getenv("SEEDSHIP_IOSTATS_INTERVAL"), &cfg.IOStatsInterval); err != nil {
		return err
	}

	s.setBoolFromString("ack", os.Getenv("SEEDSHIP_ACK"), &cfg.Ack)
	s.setBoolFromString("quit-on-error", os.Getenv("SEEDSHIP_QUIT_ON_ERROR"), &cfg.QuitOnError)
	s.setBoolFromString("sync", os.Getenv("SEEDSHIP_SYNC_FILE"), &cfg.SyncFile)
	s.setBoolFromString("quiet", os.Getenv("SEEDSHIP_QUIET"), &cfg.Quiet)

	return nil
}
