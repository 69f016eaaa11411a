package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	logx "zpoolwatch/pkg/logx"
)

var (
	ErrStopped        = errors.New("scheduler stopped")
	ErrAlreadyRunning = errors.New("scheduler already running")
)

// Notifier delivers one formatted notification.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, text string) error

func (f NotifierFunc) Notify(ctx context.Context, text string) error { return f(ctx, text) }

// FailurePolicy decides what a failed notification does to the worker.
type FailurePolicy string

const (
	// FailFatal stops Run with the delivery error.
	FailFatal FailurePolicy = "fatal"
	// FailLog logs the error, drops the batch and escalates as if it was sent.
	FailLog FailurePolicy = "log"
)

type Config struct {
	Ladder               []time.Duration
	MaxQuiet             time.Duration
	OnFailure            FailurePolicy
	ShutdownFlushTimeout time.Duration
}

func (c Config) validate() (Config, error) {
	if len(c.Ladder) == 0 {
		return c, errors.New("scheduler: empty ladder")
	}
	for i, d := range c.Ladder {
		if d <= 0 {
			return c, fmt.Errorf("scheduler: ladder[%d] must be positive, got %s", i, d)
		}
		if i > 0 && d < c.Ladder[i-1] {
			return c, fmt.Errorf("scheduler: ladder[%d]=%s is shorter than ladder[%d]=%s", i, d, i-1, c.Ladder[i-1])
		}
	}
	if c.MaxQuiet <= 0 {
		return c, fmt.Errorf("scheduler: max quiet must be positive, got %s", c.MaxQuiet)
	}
	switch c.OnFailure {
	case "":
		c.OnFailure = FailFatal
	case FailFatal, FailLog:
	default:
		return c, fmt.Errorf("scheduler: unknown failure policy %q", c.OnFailure)
	}
	if c.ShutdownFlushTimeout <= 0 {
		c.ShutdownFlushTimeout = 30 * time.Second
	}
	c.Ladder = append([]time.Duration(nil), c.Ladder...)
	return c, nil
}

// Snapshot is a read-only view of the worker state, refreshed on every loop
// iteration.
type Snapshot struct {
	Running bool
	Phase   Phase
	// Level is the ladder index in use, -1 while Idle.
	Level    int
	Wait     time.Duration
	Deadline time.Time
	// Pending is the number of distinct labels waiting; Events counts repeats.
	Pending   int
	Events    int
	Flushes   uint64
	Failures  uint64
	LastFlush time.Time
}

// Scheduler is the coalescing worker. Submit may be called from any
// goroutine; Run must be called exactly once.
type Scheduler struct {
	cfg      Config
	notifier Notifier
	log      logx.Logger

	box     *mailbox
	running atomic.Bool
	snap    atomic.Pointer[Snapshot]

	flushes   atomic.Uint64
	failures  atomic.Uint64
	lastFlush atomic.Int64
}

func New(cfg Config, n Notifier, log logx.Logger) (*Scheduler, error) {
	if n == nil {
		return nil, errors.New("scheduler: nil notifier")
	}
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{cfg: cfg, notifier: n, log: log, box: newMailbox()}
	s.snap.Store(&Snapshot{Phase: PhaseIdle, Level: idleLevel, Wait: cfg.MaxQuiet})
	return s, nil
}

// Submit queues a label for the next notification. It never blocks and never
// drops; it only fails with ErrStopped once Run has returned.
func (s *Scheduler) Submit(label string) error {
	return s.box.put(label)
}

func (s *Scheduler) Snapshot() Snapshot {
	return *s.snap.Load()
}

// Run drives the state machine until ctx is done or a notification fails
// under FailFatal. On cancellation the pending batch, plus anything still in
// the mailbox, is flushed once with a fresh context bounded by
// ShutdownFlushTimeout.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.box.close()

	m := newMachine(s.cfg.Ladder, s.cfg.MaxQuiet, time.Now())
	timer := time.NewTimer(m.wait(time.Now()))
	defer timer.Stop()

	s.log.Debug("scheduler started",
		logx.Int("rungs", len(s.cfg.Ladder)),
		logx.Duration("first", s.cfg.Ladder[0]),
		logx.Duration("max_quiet", s.cfg.MaxQuiet),
		logx.String("on_failure", string(s.cfg.OnFailure)),
	)

	for {
		s.publish(m, true)

		select {
		case <-ctx.Done():
			return s.shutdown(m)

		case <-s.box.ready:
			now := time.Now()
			for _, label := range s.box.drain() {
				wasIdle := m.phase() == PhaseIdle
				m.add(label, now)
				if wasIdle {
					s.log.Debug("armed", logx.String("label", label), logx.Duration("wait", m.currentWait()))
				}
			}
			timer.Reset(m.wait(now))

		case <-timer.C:
			now := time.Now()
			if !m.due(now) {
				timer.Reset(m.wait(now))
				continue
			}
			batch, ok := m.take(now)
			if !ok {
				s.log.Trace("quiet period elapsed, idle")
				timer.Reset(m.wait(now))
				continue
			}
			if err := s.send(ctx, batch); err != nil {
				if ctx.Err() != nil {
					m.restore(batch)
					return s.shutdown(m)
				}
				s.failures.Add(1)
				if s.cfg.OnFailure == FailFatal {
					s.publish(m, false)
					return fmt.Errorf("scheduler: notify: %w", err)
				}
				s.log.Error("notification failed, batch dropped",
					logx.Err(err),
					logx.Strings("labels", batch.Labels()),
				)
			}
			now = time.Now()
			m.escalate(now)
			s.log.Debug("escalated", logx.Int("level", m.level), logx.Duration("wait", m.currentWait()))
			timer.Reset(m.wait(now))
		}
	}
}

func (s *Scheduler) send(ctx context.Context, b Batch) error {
	text := b.Format()
	start := time.Now()
	if err := s.notifier.Notify(ctx, text); err != nil {
		return err
	}
	s.flushes.Add(1)
	s.lastFlush.Store(time.Now().UnixNano())
	s.log.Info("notification sent",
		logx.String("text", text),
		logx.Int("labels", len(b)),
		logx.Int("events", b.Total()),
		logx.Duration("took", time.Since(start)),
	)
	return nil
}

func (s *Scheduler) shutdown(m *machine) error {
	now := time.Now()
	for _, label := range s.box.close() {
		m.add(label, now)
	}
	defer s.publish(m, false)

	if len(m.pending) == 0 {
		s.log.Debug("scheduler stopped, nothing pending")
		return nil
	}
	batch, _ := m.take(now)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownFlushTimeout)
	defer cancel()
	s.log.Info("flushing pending batch before exit", logx.Int("labels", len(batch)))
	if err := s.send(ctx, batch); err != nil {
		s.failures.Add(1)
		if s.cfg.OnFailure == FailFatal {
			return fmt.Errorf("scheduler: shutdown flush: %w", err)
		}
		s.log.Error("shutdown flush failed", logx.Err(err), logx.Strings("labels", batch.Labels()))
	}
	return nil
}

func (s *Scheduler) publish(m *machine, running bool) {
	snap := &Snapshot{
		Running:  running,
		Phase:    m.phase(),
		Level:    m.level,
		Wait:     m.currentWait(),
		Deadline: m.deadline,
		Pending:  len(m.pending),
		Events:   m.pending.Total(),
		Flushes:  s.flushes.Load(),
		Failures: s.failures.Load(),
	}
	if ns := s.lastFlush.Load(); ns != 0 {
		snap.LastFlush = time.Unix(0, ns)
	}
	s.snap.Store(snap)
}
