package config

import (
	"reflect"
	"sort"
	"strings"

	logx "zpoolwatch/pkg/logx"
)

// hotSections are applied without a restart.
var hotSections = map[string]bool{"logging": true, "intake": true}

// SummarizeChange returns (1) the sorted list of changed top-level sections,
// (2) those among them that only take effect after a restart, and (3) safe
// structured attrs for logging. Secrets (telegram token) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 8)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Intake, newCfg.Intake) {
		changed = append(changed, "intake")
		attrs = append(attrs, logx.Int("intake.ignore_count", len(newCfg.Intake.Ignore)))
	}
	if !reflect.DeepEqual(oldCfg.Source, newCfg.Source) {
		changed = append(changed, "source")
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.ladder", strings.Join(newCfg.Scheduler.Ladder, ",")))
	}
	on, nn := oldCfg.Notifier, newCfg.Notifier
	tokenChanged := on.Telegram.Token != nn.Telegram.Token
	on.Telegram.Token, nn.Telegram.Token = "", ""
	if tokenChanged || !reflect.DeepEqual(on, nn) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.String("notifier.driver", nn.Driver),
			logx.Bool("notifier.token_changed", tokenChanged),
		)
	}
	if !reflect.DeepEqual(oldCfg.Heartbeat, newCfg.Heartbeat) {
		changed = append(changed, "heartbeat")
	}
	if !reflect.DeepEqual(oldCfg.Systemd, newCfg.Systemd) {
		changed = append(changed, "systemd")
	}
	if oldCfg.EnvFile != newCfg.EnvFile {
		changed = append(changed, "env_file")
	}

	sort.Strings(changed)
	restart := make([]string, 0, len(changed))
	for _, c := range changed {
		if !hotSections[c] {
			restart = append(restart, c)
		}
	}
	return changed, restart, attrs
}
