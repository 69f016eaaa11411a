// Package zpool runs the zpool CLI: the event backlog, the live event
// follower and the scrub status query.
package zpool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	logx "zpoolwatch/pkg/logx"
)

const maxLineBytes = 1 << 20

// scrubMarker is the zpool status line fragment for a running scrub.
const scrubMarker = "scrub in progress"

type Config struct {
	SnapshotCmd   []string
	FollowCmd     []string
	StatusCmd     []string
	StatusTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		SnapshotCmd:   []string{"zpool", "events", "-H"},
		FollowCmd:     []string{"zpool", "events", "-f", "-H"},
		StatusCmd:     []string{"zpool", "status"},
		StatusTimeout: 30 * time.Second,
	}
}

type Client struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	def := DefaultConfig()
	if len(cfg.SnapshotCmd) == 0 {
		cfg.SnapshotCmd = def.SnapshotCmd
	}
	if len(cfg.FollowCmd) == 0 {
		cfg.FollowCmd = def.FollowCmd
	}
	if len(cfg.StatusCmd) == 0 {
		cfg.StatusCmd = def.StatusCmd
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = def.StatusTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, log: log}
}

// Snapshot returns the records zpool already knows about.
func (c *Client) Snapshot(ctx context.Context) ([]string, error) {
	out, err := c.output(ctx, c.cfg.SnapshotCmd)
	if err != nil {
		return nil, fmt.Errorf("zpool snapshot: %w", err)
	}
	lines := splitLines(out)
	c.log.Debug("event snapshot taken", logx.Int("records", len(lines)))
	return lines, nil
}

// ScrubInProgress reports whether the status output mentions a running scrub
// on any pool.
func (c *Client) ScrubInProgress(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StatusTimeout)
	defer cancel()
	out, err := c.output(ctx, c.cfg.StatusCmd)
	if err != nil {
		return false, fmt.Errorf("zpool status: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, scrubMarker) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) output(ctx context.Context, argv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return nil, fmt.Errorf("%s: %w", argv[0], err)
	}
	return out, nil
}

func splitLines(b []byte) []string {
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// EventStream is a running follow command.
type EventStream struct {
	cmd *exec.Cmd
	sc  *bufio.Scanner
	log logx.Logger

	closeOnce sync.Once
	waitOnce  sync.Once
	waitErr   error
}

// Follow starts the follow command. The process lives until Close, the
// command exits on its own, or ctx is done.
func (c *Client) Follow(ctx context.Context) (*EventStream, error) {
	argv := c.cfg.FollowCmd
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("zpool follow: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("zpool follow: start %s: %w", argv[0], err)
	}
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	c.log.Info("following events", logx.Strings("cmd", argv), logx.Int("pid", cmd.Process.Pid))
	return &EventStream{cmd: cmd, sc: sc, log: c.log}, nil
}

// Next blocks for the next line. When output ends it returns io.EOF if the
// command exited cleanly, or the exit error otherwise.
func (s *EventStream) Next() (string, error) {
	if s.sc.Scan() {
		return strings.TrimSpace(s.sc.Text()), nil
	}
	scanErr := s.sc.Err()
	waitErr := s.wait()
	switch {
	case scanErr != nil:
		return "", fmt.Errorf("zpool follow: read: %w", scanErr)
	case waitErr != nil:
		return "", fmt.Errorf("zpool follow: %w", waitErr)
	default:
		return "", io.EOF
	}
}

// Close kills the follow process and reaps it. Safe to call more than once
// and concurrently with Next.
func (s *EventStream) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				s.log.Debug("kill follow process", logx.Err(err))
			}
			go s.wait()
		}
	})
	return nil
}

func (s *EventStream) wait() error {
	s.waitOnce.Do(func() { s.waitErr = s.cmd.Wait() })
	return s.waitErr
}
