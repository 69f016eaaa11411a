// Package heartbeat periodically reports that the watcher is still alive, so
// a silent notifier channel can be told apart from a dead watcher.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"zpoolwatch/internal/scheduler"
	logx "zpoolwatch/pkg/logx"
)

// Status exposes the scheduler state a heartbeat reports.
type Status interface {
	Snapshot() scheduler.Snapshot
}

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Config struct {
	// Schedule accepts 5 or 6 field cron specs and descriptors like "@weekly".
	Schedule string
	Timezone string
	Prefix   string
	Timeout  time.Duration
}

type Service struct {
	cfg    Config
	status Status
	notify Notifier
	log    logx.Logger
	now    func() time.Time

	parser cron.Parser
	loc    *time.Location

	mu    sync.Mutex
	c     *cron.Cron
	entry cron.EntryID
}

func New(cfg Config, status Status, n Notifier, log logx.Logger) (*Service, error) {
	if status == nil || n == nil {
		return nil, errors.New("heartbeat: status and notifier are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("heartbeat: timezone: %w", err)
		}
		loc = l
	}
	s := &Service{
		cfg:    cfg,
		status: status,
		notify: n,
		log:    log,
		now:    time.Now,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    loc,
	}
	if _, err := s.parser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("heartbeat: schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start registers the cron entry. Ticks stop when ctx is done or Stop is
// called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	id, err := c.AddFunc(s.cfg.Schedule, func() { s.Beat(ctx) })
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	c.Start()
	s.c, s.entry = c, id
	s.log.Info("heartbeat scheduled",
		logx.String("schedule", s.cfg.Schedule),
		logx.String("tz", s.loc.String()),
		logx.Time("next", c.Entry(id).Next),
	)
	return nil
}

// Stop halts the cron and waits for a running beat, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next scheduled beat, zero when not started.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// Beat sends one heartbeat now. Failures are logged and never propagate.
func (s *Service) Beat(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	text := s.Text()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.notify.Notify(ctx, text); err != nil {
		s.log.Warn("heartbeat failed", logx.Err(err))
		return
	}
	s.log.Debug("heartbeat sent", logx.String("text", text))
}

// Text renders the heartbeat line, e.g.
// "zpool watcher alive: idle, pending 0, last notification 3h0m0s ago".
func (s *Service) Text() string {
	snap := s.status.Snapshot()
	last := "never"
	if !snap.LastFlush.IsZero() {
		last = s.now().Sub(snap.LastFlush).Round(time.Second).String() + " ago"
	}
	phase := snap.Phase.String()
	if snap.Phase == scheduler.PhaseEscalated {
		phase = fmt.Sprintf("%s(%d)", phase, snap.Level)
	}
	return fmt.Sprintf("%s: %s, pending %d, last notification %s", s.cfg.Prefix, phase, snap.Events, last)
}
