package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvLogLevel       = "ZPOOLWATCH_LOG_LEVEL"
	EnvTelegramToken  = "ZPOOLWATCH_TELEGRAM_TOKEN"
	EnvTelegramChatID = "ZPOOLWATCH_TELEGRAM_CHAT_ID"
)

// applyEnv loads cfg.EnvFile (if any) and applies environment overrides in place.
//
// Variables already present in the process environment win over the env file
// (godotenv.Load never overwrites).
func applyEnv(cfg *Config, baseDir string) error {
	if f := strings.TrimSpace(cfg.EnvFile); f != "" {
		if !filepath.IsAbs(f) && baseDir != "" {
			f = filepath.Join(baseDir, f)
		}
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("env_file %q: %w", f, err)
		}
	}

	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelegramToken)); v != "" {
		cfg.Notifier.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelegramChatID)); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTelegramChatID, err)
		}
		cfg.Notifier.Telegram.ChatID = id
	}
	return nil
}
