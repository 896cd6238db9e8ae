package config

// Config is the on-disk configuration of lockstepd.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Timers    TimersConfig    `json:"timers"`

	// Jobs maps recurring job names to their schedules. A job registered in
	// code runs only when its name appears here; the schedule accepts cron
	// lines and descriptors ("@every 5m", "@hourly").
	Jobs map[string]JobConfig `json:"jobs,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level,omitempty"`
	Console *bool          `json:"console,omitempty"`
	File    FileLogConfig  `json:"file,omitempty"`
	Alert   AlertLogConfig `json:"alert,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type AlertLogConfig struct {
	Enabled    bool   `json:"enabled,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type SchedulerConfig struct {
	// Name distinguishes this instance's log lines.
	Name string `json:"name,omitempty"`
	// Timezone is an IANA TZ (e.g. "Asia/Jakarta") used by recurring
	// schedules. Empty means the local timezone.
	Timezone string `json:"timezone,omitempty"`
}

type TimersConfig struct {
	// Path of the sqlite database holding persisted one-shot timers.
	Path string `json:"path,omitempty"`
}

type JobConfig struct {
	Schedule string `json:"schedule"`
	// Timeout bounds one run. "0s" or omitted disables the bound.
	Timeout string `json:"timeout,omitempty"`
}

func (c *Config) ConsoleEnabled() bool {
	if c == nil || c.Logging.Console == nil {
		return true
	}
	return *c.Logging.Console
}
