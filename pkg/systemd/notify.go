// Package systemd speaks the sd_notify protocol for Type=notify units.
//
// Every call is a no-op when the process was not started by systemd
// (NOTIFY_SOCKET unset), so callers never need to check.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "zpoolwatch/pkg/logx"
)

type Notifier struct {
	log     logx.Logger
	enabled bool
}

func New(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{log: log, enabled: enabled}
}

func (n *Notifier) send(state string) bool {
	if n == nil || !n.enabled {
		return false
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return sent
}

// Ready reports startup completion. The result tells whether a socket was
// actually notified.
func (n *Notifier) Ready() bool { return n.send(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() bool { return n.send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) bool {
	return n.send("STATUS=" + fmt.Sprintf(format, args...))
}

// WatchdogInterval returns half of WATCHDOG_USEC, or 0 when the watchdog is
// not enabled for this process.
func (n *Notifier) WatchdogInterval() time.Duration {
	if n == nil || !n.enabled {
		return 0
	}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog settings unreadable", logx.Err(err))
		return 0
	}
	return d / 2
}

// Watchdog pings systemd every interval while healthy reports true, until
// ctx is done. A false health check skips the ping so systemd restarts a
// wedged process.
func (n *Notifier) Watchdog(ctx context.Context, interval time.Duration, healthy func() bool) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	n.log.Debug("watchdog started", logx.Duration("interval", interval))
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy != nil && !healthy() {
				n.log.Warn("watchdog ping skipped, unhealthy")
				continue
			}
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
