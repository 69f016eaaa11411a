package notifier

import (
	"context"

	logx "zpoolwatch/pkg/logx"
)

// Log only records notifications in the process log. Useful for dry runs.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.log.Info("notification", logx.String("text", text))
	return nil
}
