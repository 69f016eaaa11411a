package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "zpoolwatch/pkg/logx"
)

var ErrUnknownDriver = errors.New("unknown notifier driver")

// Notifier sends one text notification.
type Notifier interface {
	Notify(ctx context.Context, text string) error
	Name() string
}

type TelegramConfig struct {
	Token      string
	ChatID     int64
	ThreadID   int
	RatePerSec float64
	APIURL     string
}

type Config struct {
	Driver   string
	Timeout  time.Duration
	Command  []string
	Telegram TelegramConfig
}

// Open builds the driver named by cfg.Driver and wraps it with the per-call
// timeout.
func Open(cfg Config, log logx.Logger) (Notifier, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "notifier"))

	var (
		n   Notifier
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "command":
		n, err = NewCommand(cfg.Command, log)
	case "telegram":
		n, err = NewTelegram(cfg.Telegram, log)
	case "log":
		n = NewLog(log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	log.Debug("notifier ready", logx.String("driver", n.Name()), logx.Duration("timeout", cfg.Timeout))
	return WithTimeout(n, cfg.Timeout), nil
}

type timeoutNotifier struct {
	next    Notifier
	timeout time.Duration
}

// WithTimeout bounds every Notify call on n. A non-positive d returns n as is.
func WithTimeout(n Notifier, d time.Duration) Notifier {
	if d <= 0 {
		return n
	}
	return &timeoutNotifier{next: n, timeout: d}
}

func (t *timeoutNotifier) Name() string { return t.next.Name() }

func (t *timeoutNotifier) Notify(ctx context.Context, text string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Notify(ctx, text)
}
