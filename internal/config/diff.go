package config

import "slices"

// ConfigDiff describes what changed between two configs and how each
// change must be applied.
type ConfigDiff struct {
	// LogLevelChanged is applied in place through the logger's level var.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CaptureChanged requires closing the microphone, reconfiguring it and
	// opening it again.
	CaptureChanged bool

	// BackendChanged is set when the backend or fallback list differs. The
	// backend chain must be rebuilt before the microphone is reopened.
	BackendChanged bool

	// SinkChanged requires the sink to be closed and rebuilt.
	SinkChanged bool

	// RestartRequired lists changed sections that are only read at start-up.
	RestartRequired []string
}

// Changed reports whether d carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.CaptureChanged || d.SinkChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.LogFile != new.Server.LogFile {
		d.RestartRequired = append(d.RestartRequired, "server.log_file")
	}
	if old.Recovery != new.Recovery {
		d.RestartRequired = append(d.RestartRequired, "recovery")
	}

	d.BackendChanged = old.Capture.Backend != new.Capture.Backend ||
		!slices.Equal(old.Capture.Fallbacks, new.Capture.Fallbacks)
	d.CaptureChanged = d.BackendChanged || old.Capture.Engine() != new.Capture.Engine()

	d.SinkChanged = old.Sink != new.Sink

	return d
}
