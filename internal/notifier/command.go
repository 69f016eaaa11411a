package notifier

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	logx "zpoolwatch/pkg/logx"
)

// maxOutputInError caps how much program output is copied into an error.
const maxOutputInError = 512

// Command runs an external program per notification, e.g.
// "/root/ntfy/send_zpool_status.sh <text>".
type Command struct {
	argv []string
	log  logx.Logger
}

func NewCommand(argv []string, log logx.Logger) (*Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("notifier: command driver needs a program")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Command{argv: append([]string(nil), argv...), log: log}, nil
}

func (c *Command) Name() string { return "command" }

func (c *Command) Notify(ctx context.Context, text string) error {
	args := append(append([]string(nil), c.argv[1:]...), text)
	cmd := exec.CommandContext(ctx, c.argv[0], args...)
	cmd.WaitDelay = time.Second

	start := time.Now()
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > maxOutputInError {
			msg = msg[:maxOutputInError] + "..."
		}
		if msg != "" {
			return fmt.Errorf("notifier: %s: %w: %s", c.argv[0], err, msg)
		}
		return fmt.Errorf("notifier: %s: %w", c.argv[0], err)
	}
	c.log.Debug("command notification sent",
		logx.String("program", c.argv[0]),
		logx.Duration("took", time.Since(start)),
	)
	return nil
}
