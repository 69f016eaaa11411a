package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "zpoolwatch/pkg/logx"
)

// Telegram posts notifications to one chat through the Bot API. The bot is
// created offline: it never polls and does not call getMe on startup.
type Telegram struct {
	bot      *tele.Bot
	chat     tele.ChatID
	threadID int
	limiter  *rate.Limiter
	log      logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("notifier: telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notifier: telegram chat id is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: 30 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("notifier: telegram: %w", err)
	}
	return &Telegram{
		bot:      b,
		chat:     tele.ChatID(cfg.ChatID),
		threadID: cfg.ThreadID,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		log:      log,
	}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notifier: telegram: %w", err)
	}
	opts := &tele.SendOptions{
		ThreadID:              t.threadID,
		DisableWebPagePreview: true,
	}

	// Send has no context parameter; the call is abandoned, not aborted, when
	// ctx ends first.
	type result struct {
		msg *tele.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := t.bot.Send(t.chat, text, opts)
		done <- result{msg: msg, err: err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("notifier: telegram: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("notifier: telegram: %w", r.err)
		}
		fields := []logx.Field{logx.Int64("chat_id", int64(t.chat))}
		if r.msg != nil {
			fields = append(fields, logx.Int("message_id", r.msg.ID))
		}
		t.log.Debug("telegram notification sent", fields...)
		return nil
	}
}
