package config

// Config is the on-disk configuration (JSON or YAML).
//
// Every section is optional. An empty file, or running without -config at all,
// yields Default(), which watches `zpool events` and calls the ntfy script.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	// EnvFile is loaded (godotenv) before env overrides are applied.
	EnvFile string `json:"env_file,omitempty"`

	Logging   LoggingConfig   `json:"logging"`
	Source    SourceConfig    `json:"source"`
	Intake    IntakeConfig    `json:"intake"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notifier  NotifierConfig  `json:"notifier"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Systemd   SystemdConfig   `json:"systemd"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

// LoggingFile controls the JSON file sink; rotation is size based.
type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// SourceConfig holds the argv of the external zpool commands.
//
// Defaults:
//   - snapshot_cmd: ["zpool", "events", "-H"]
//   - follow_cmd:   ["zpool", "events", "-f", "-H"]
//   - status_cmd:   ["zpool", "status"]
//   - status_timeout: "30s"
type SourceConfig struct {
	SnapshotCmd   []string `json:"snapshot_cmd,omitempty"`
	FollowCmd     []string `json:"follow_cmd,omitempty"`
	StatusCmd     []string `json:"status_cmd,omitempty"`
	StatusTimeout string   `json:"status_timeout,omitempty"`
}

// IntakeConfig controls event filtering. Hot-reloadable.
//
// Ignore is a list of substrings; a record containing any of them is dropped.
// A nil list means the built-in default list, an explicit empty list disables
// ignoring.
type IntakeConfig struct {
	Ignore      []string `json:"ignore"`
	ScrubFinish string   `json:"scrub_finish,omitempty"`
}

// SchedulerConfig controls the coalescing backoff scheduler.
//
// Defaults:
//   - ladder: ["30s", "5m", "30m", "2h", "12h", "24h", "48h"]
//   - max_quiet: "1440h" (60 days)
//   - on_failure: "fatal"
//   - shutdown_flush_timeout: "30s"
type SchedulerConfig struct {
	Ladder               []string `json:"ladder,omitempty"`
	MaxQuiet             string   `json:"max_quiet,omitempty"`
	OnFailure            string   `json:"on_failure,omitempty"`
	ShutdownFlushTimeout string   `json:"shutdown_flush_timeout,omitempty"`
}

// NotifierConfig selects and configures the notification driver.
//
// Drivers: "command" (default), "telegram", "log".
type NotifierConfig struct {
	Driver      string         `json:"driver,omitempty"`
	Timeout     string         `json:"timeout,omitempty"`
	StartupText string         `json:"startup_text,omitempty"`
	Command     []string       `json:"command,omitempty"`
	Telegram    TelegramConfig `json:"telegram"`
}

// TelegramConfig is used by the "telegram" driver.
//
// Security note: prefer ZPOOLWATCH_TELEGRAM_TOKEN (or an env_file) over putting
// the token in the config file. The token is never logged.
type TelegramConfig struct {
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	APIURL     string `json:"api_url,omitempty"`
}

// HeartbeatConfig controls the optional "watcher alive" notice.
//
// Schedule accepts 5 or 6 field cron specs and descriptors ("@weekly").
type HeartbeatConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// SystemdConfig toggles sd_notify integration. Both are no-ops when the
// process is not started by systemd.
type SystemdConfig struct {
	Notify   *bool `json:"notify,omitempty"`
	Watchdog *bool `json:"watchdog,omitempty"`
}

const (
	DefaultStartupText  = "zpool monitor script start"
	DefaultScrubFinish  = "sysevent.fs.zfs.scrub_finish"
	DefaultNotifyScript = "/root/ntfy/send_zpool_status.sh"
)

// DefaultLadder is the stock escalation ladder: 30s up to 48h.
var DefaultLadder = []string{"30s", "5m", "30m", "2h", "12h", "24h", "48h"}

// DefaultIgnore lists events that never warrant a notification.
var DefaultIgnore = []string{
	"sysevent.fs.zfs.history_event",
	"sysevent.fs.zfs.trim_start",
	"sysevent.fs.zfs.trim_finish",
	"sysevent.fs.zfs.scrub_start",
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "debug", Console: true},
		Source: SourceConfig{
			SnapshotCmd:   []string{"zpool", "events", "-H"},
			FollowCmd:     []string{"zpool", "events", "-f", "-H"},
			StatusCmd:     []string{"zpool", "status"},
			StatusTimeout: "30s",
		},
		Intake: IntakeConfig{
			Ignore:      append([]string(nil), DefaultIgnore...),
			ScrubFinish: DefaultScrubFinish,
		},
		Scheduler: SchedulerConfig{
			Ladder:               append([]string(nil), DefaultLadder...),
			MaxQuiet:             "1440h",
			OnFailure:            "fatal",
			ShutdownFlushTimeout: "30s",
		},
		Notifier: NotifierConfig{
			Driver:      "command",
			Timeout:     "2m",
			StartupText: DefaultStartupText,
			Command:     []string{DefaultNotifyScript},
			Telegram:    TelegramConfig{RatePerSec: 1},
		},
		Heartbeat: HeartbeatConfig{
			Schedule: "@weekly",
			Prefix:   "zpool watcher alive",
		},
	}
}
