// Package intake filters raw zpool event records and turns the survivors
// into scheduler labels.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	logx "zpoolwatch/pkg/logx"
)

// ErrStreamEnded is returned by Run when the producer stops before ctx is done.
var ErrStreamEnded = errors.New("event stream ended")

// Submitter receives accepted labels.
type Submitter interface {
	Submit(label string) error
}

// ScrubOracle reports whether a scrub is currently running on any pool.
type ScrubOracle interface {
	ScrubInProgress(ctx context.Context) (bool, error)
}

// Stream is a blocking source of raw records. Next returns io.EOF when the
// producer is done. Close must unblock a pending Next.
type Stream interface {
	Next() (string, error)
	Close() error
}

type Config struct {
	// Ignore lists substrings; a record containing any of them is dropped.
	Ignore []string
	// ScrubFinish marks the record suppressed while another scrub runs.
	ScrubFinish string
}

// Decision is the outcome of evaluating one record.
type Decision int

const (
	Accept Decision = iota
	Blank
	Ignored
	ScrubActive
	Replay

	numDecisions
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Blank:
		return "blank"
	case Ignored:
		return "ignored"
	case ScrubActive:
		return "scrub-active"
	case Replay:
		return "replay"
	default:
		return "unknown"
	}
}

// Sample line: "Feb  5 2023 00:24:01.695934806  sysevent.fs.zfs.trim_start".
var timestampPrefix = regexp.MustCompile(`^\w{3}\s+\d{1,2}\s+\d{4}\s+\d{2}:\d{2}:\d{2}\.\d{9}\s+`)

// Normalize strips the leading event timestamp. Records without one are
// returned unchanged.
func Normalize(record string) string {
	return timestampPrefix.ReplaceAllString(record, "")
}

// Stats counts decisions since start.
type Stats struct {
	Accepted    uint64
	Blank       uint64
	Ignored     uint64
	ScrubActive uint64
	Replay      uint64
}

type Intake struct {
	log    logx.Logger
	sub    Submitter
	oracle ScrubOracle

	cfg atomic.Pointer[Config]

	snapMu   sync.RWMutex
	snapshot map[string]struct{}

	oracleWarn rate.Sometimes
	counts     [numDecisions]atomic.Uint64
}

func New(cfg Config, sub Submitter, oracle ScrubOracle, log logx.Logger) *Intake {
	if log.IsZero() {
		log = logx.Nop()
	}
	in := &Intake{
		log:        log,
		sub:        sub,
		oracle:     oracle,
		snapshot:   map[string]struct{}{},
		oracleWarn: rate.Sometimes{First: 1, Interval: time.Minute},
	}
	in.Apply(cfg)
	return in
}

// Apply swaps the filter settings. Safe to call while Run is active.
func (in *Intake) Apply(cfg Config) {
	c := Config{
		Ignore:      append([]string(nil), cfg.Ignore...),
		ScrubFinish: cfg.ScrubFinish,
	}
	in.cfg.Store(&c)
}

// SetSnapshot records the events that already existed when watching began.
// Those records are replayed by the follow stream and must not alert again.
func (in *Intake) SetSnapshot(records []string) {
	m := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r = strings.TrimSpace(r); r != "" {
			m[r] = struct{}{}
		}
	}
	in.snapMu.Lock()
	in.snapshot = m
	in.snapMu.Unlock()
}

func (in *Intake) inSnapshot(record string) bool {
	in.snapMu.RLock()
	_, ok := in.snapshot[record]
	in.snapMu.RUnlock()
	return ok
}

// Evaluate classifies one raw record. The label is only meaningful for Accept.
func (in *Intake) Evaluate(ctx context.Context, record string) (string, Decision) {
	record = strings.TrimSpace(record)
	if record == "" {
		return "", Blank
	}
	cfg := in.cfg.Load()
	for _, s := range cfg.Ignore {
		if strings.Contains(record, s) {
			return "", Ignored
		}
	}
	if cfg.ScrubFinish != "" && in.oracle != nil && strings.Contains(record, cfg.ScrubFinish) {
		running, err := in.oracle.ScrubInProgress(ctx)
		switch {
		case err != nil:
			in.oracleWarn.Do(func() {
				in.log.Warn("scrub status check failed, not suppressing", logx.Err(err))
			})
		case running:
			return "", ScrubActive
		}
	}
	if in.inSnapshot(record) {
		return "", Replay
	}
	return Normalize(record), Accept
}

// Handle evaluates record and submits the label when accepted.
func (in *Intake) Handle(ctx context.Context, record string) error {
	label, d := in.Evaluate(ctx, record)
	in.counts[d].Add(1)
	switch d {
	case Accept:
		in.log.Info("event accepted", logx.String("label", label))
		if err := in.sub.Submit(label); err != nil {
			return fmt.Errorf("submit %q: %w", label, err)
		}
	case Blank:
	case ScrubActive:
		in.log.Info("scrub finish ignored, another scrub in progress", logx.String("record", strings.TrimSpace(record)))
	default:
		in.log.Debug("event dropped", logx.String("reason", d.String()), logx.String("record", strings.TrimSpace(record)))
	}
	return nil
}

// Run consumes stream until it ends or ctx is done, and always closes it.
// Cancellation returns nil; anything else that stops the stream is fatal.
func (in *Intake) Run(ctx context.Context, stream Stream) error {
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()
	defer stream.Close()

	for {
		record, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return ErrStreamEnded
			}
			return fmt.Errorf("%w: %w", ErrStreamEnded, err)
		}
		in.log.Debug("event", logx.String("record", record))
		if err := in.Handle(ctx, record); err != nil {
			// The scheduler closes its mailbox on the same cancellation.
			if ctx.Err() != nil {
				in.log.Debug("record dropped during shutdown", logx.String("record", record), logx.Err(err))
				return nil
			}
			return err
		}
	}
}

func (in *Intake) Stats() Stats {
	return Stats{
		Accepted:    in.counts[Accept].Load(),
		Blank:       in.counts[Blank].Load(),
		Ignored:     in.counts[Ignored].Load(),
		ScrubActive: in.counts[ScrubActive].Load(),
		Replay:      in.counts[Replay].Load(),
	}
}
