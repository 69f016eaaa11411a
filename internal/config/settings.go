package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "zpoolwatch/pkg/logx"
)

// ErrInvalid wraps every validation failure returned by Resolve.
var ErrInvalid = errors.New("invalid config")

// Settings is the validated, typed form of Config that components consume.
type Settings struct {
	Logging   logx.Config
	Source    SourceSettings
	Intake    IntakeSettings
	Scheduler SchedulerSettings
	Notifier  NotifierSettings
	Heartbeat HeartbeatSettings
	Systemd   SystemdSettings
}

type SourceSettings struct {
	SnapshotCmd   []string
	FollowCmd     []string
	StatusCmd     []string
	StatusTimeout time.Duration
}

type IntakeSettings struct {
	Ignore      []string
	ScrubFinish string
}

type SchedulerSettings struct {
	Ladder               []time.Duration
	MaxQuiet             time.Duration
	OnFailure            string
	ShutdownFlushTimeout time.Duration
}

type NotifierSettings struct {
	Driver      string
	Timeout     time.Duration
	StartupText string
	Command     []string
	Telegram    TelegramConfig
}

type HeartbeatSettings struct {
	Enabled  bool
	Schedule string
	Timezone string
	Prefix   string
}

type SystemdSettings struct {
	Notify   bool
	Watchdog bool
}

// Resolve validates cfg and fills defaults for anything left empty.
func Resolve(cfg *Config) (Settings, error) {
	if cfg == nil {
		cfg = Default()
	}
	def := Default()
	var out Settings

	// Logging
	if !logx.ValidLevel(cfg.Logging.Level) {
		return Settings{}, invalid("logging.level: unknown level %q", cfg.Logging.Level)
	}
	out.Logging = logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:    cfg.Logging.File.Enabled,
			Path:       strings.TrimSpace(cfg.Logging.File.Path),
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAgeDays: cfg.Logging.File.MaxAgeDays,
			Compress:   cfg.Logging.File.Compress,
		},
	}

	// Source
	st, err := ParseDurationOrDefault("source.status_timeout", cfg.Source.StatusTimeout, 30*time.Second)
	if err != nil {
		return Settings{}, invalid("%v", err)
	}
	out.Source = SourceSettings{
		SnapshotCmd:   argvOrDefault(cfg.Source.SnapshotCmd, def.Source.SnapshotCmd),
		FollowCmd:     argvOrDefault(cfg.Source.FollowCmd, def.Source.FollowCmd),
		StatusCmd:     argvOrDefault(cfg.Source.StatusCmd, def.Source.StatusCmd),
		StatusTimeout: st,
	}

	// Intake
	out.Intake = ResolveIntake(cfg.Intake)

	// Scheduler
	ladderRaw := cfg.Scheduler.Ladder
	if len(ladderRaw) == 0 {
		ladderRaw = DefaultLadder
	}
	ladder, err := ParseLadder("scheduler.ladder", ladderRaw)
	if err != nil {
		return Settings{}, invalid("%v", err)
	}
	maxQuiet, err := ParseDurationOrDefault("scheduler.max_quiet", cfg.Scheduler.MaxQuiet, 60*24*time.Hour)
	if err != nil {
		return Settings{}, invalid("%v", err)
	}
	flushTimeout, err := ParseDurationOrDefault("scheduler.shutdown_flush_timeout", cfg.Scheduler.ShutdownFlushTimeout, 30*time.Second)
	if err != nil {
		return Settings{}, invalid("%v", err)
	}
	onFailure := strings.ToLower(strings.TrimSpace(cfg.Scheduler.OnFailure))
	switch onFailure {
	case "":
		onFailure = "fatal"
	case "fatal", "log":
	default:
		return Settings{}, invalid("scheduler.on_failure: must be \"fatal\" or \"log\", got %q", cfg.Scheduler.OnFailure)
	}
	out.Scheduler = SchedulerSettings{
		Ladder:               ladder,
		MaxQuiet:             maxQuiet,
		OnFailure:            onFailure,
		ShutdownFlushTimeout: flushTimeout,
	}

	// Notifier
	timeout, err := ParseDurationOrDefault("notifier.timeout", cfg.Notifier.Timeout, 2*time.Minute)
	if err != nil {
		return Settings{}, invalid("%v", err)
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Notifier.Driver))
	if driver == "" {
		driver = "command"
	}
	tg := cfg.Notifier.Telegram
	if tg.RatePerSec <= 0 {
		tg.RatePerSec = 1
	}
	switch driver {
	case "command", "log":
	case "telegram":
		if strings.TrimSpace(tg.Token) == "" {
			return Settings{}, invalid("notifier.telegram.token is required for the telegram driver")
		}
		if tg.ChatID == 0 {
			return Settings{}, invalid("notifier.telegram.chat_id is required for the telegram driver")
		}
	default:
		return Settings{}, invalid("notifier.driver: unknown driver %q", cfg.Notifier.Driver)
	}
	startup := cfg.Notifier.StartupText
	if strings.TrimSpace(startup) == "" {
		startup = DefaultStartupText
	}
	out.Notifier = NotifierSettings{
		Driver:      driver,
		Timeout:     timeout,
		StartupText: startup,
		Command:     argvOrDefault(cfg.Notifier.Command, def.Notifier.Command),
		Telegram:    tg,
	}

	// Heartbeat
	hb := HeartbeatSettings{
		Enabled:  cfg.Heartbeat.Enabled,
		Schedule: strings.TrimSpace(cfg.Heartbeat.Schedule),
		Timezone: strings.TrimSpace(cfg.Heartbeat.Timezone),
		Prefix:   strings.TrimSpace(cfg.Heartbeat.Prefix),
	}
	if hb.Schedule == "" {
		hb.Schedule = def.Heartbeat.Schedule
	}
	if hb.Prefix == "" {
		hb.Prefix = def.Heartbeat.Prefix
	}
	if hb.Timezone != "" {
		if _, err := time.LoadLocation(hb.Timezone); err != nil {
			return Settings{}, invalid("heartbeat.timezone: %v", err)
		}
	}
	out.Heartbeat = hb

	out.Systemd = SystemdSettings{
		Notify:   boolOr(cfg.Systemd.Notify, true),
		Watchdog: boolOr(cfg.Systemd.Watchdog, true),
	}
	return out, nil
}

// ResolveIntake converts the intake section. It cannot fail, so it is also
// used directly on hot reload.
func ResolveIntake(ic IntakeConfig) IntakeSettings {
	ignore := ic.Ignore
	if ignore == nil {
		ignore = DefaultIgnore
	}
	clean := make([]string, 0, len(ignore))
	for _, s := range ignore {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}
	scrub := strings.TrimSpace(ic.ScrubFinish)
	if scrub == "" {
		scrub = DefaultScrubFinish
	}
	return IntakeSettings{Ignore: clean, ScrubFinish: scrub}
}

func argvOrDefault(v, def []string) []string {
	out := make([]string, 0, len(v))
	for _, s := range v {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), def...)
	}
	return out
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
