package zpool

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"reflect"
	"strings"
	"testing"
	"time"

	logx "zpoolwatch/pkg/logx"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func sh(script string) []string { return []string{"sh", "-c", script} }

func TestSnapshotSplitsAndTrims(t *testing.T) {
	t.Parallel()
	requireShell(t)
	c := New(Config{SnapshotCmd: sh(`printf 'a  one\n\n  b two  \n'`)}, logx.Nop())
	got, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if want := []string{"a  one", "b two"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Snapshot() = %q, want %q", got, want)
	}
}

func TestSnapshotFailureCarriesStderr(t *testing.T) {
	t.Parallel()
	requireShell(t)
	c := New(Config{SnapshotCmd: sh(`echo "no pools available" >&2; exit 1`)}, logx.Nop())
	_, err := c.Snapshot(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no pools available") {
		t.Fatalf("Snapshot() error = %v", err)
	}
}

func TestScrubInProgress(t *testing.T) {
	t.Parallel()
	requireShell(t)
	tests := []struct {
		name   string
		script string
		want   bool
		err    bool
	}{
		{name: "running", script: `printf '  pool: tank\n scan: scrub in progress since Sun Feb  5 00:24:01 2023\n'`, want: true},
		{name: "finished", script: `printf '  pool: tank\n scan: scrub repaired 0B in 01:02:03 with 0 errors\n'`},
		{name: "failure", script: `exit 2`, err: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := New(Config{StatusCmd: sh(tt.script)}, logx.Nop())
			got, err := c.ScrubInProgress(context.Background())
			if (err != nil) != tt.err {
				t.Fatalf("error = %v, want error %v", err, tt.err)
			}
			if got != tt.want {
				t.Fatalf("ScrubInProgress() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScrubStatusTimeout(t *testing.T) {
	t.Parallel()
	requireShell(t)
	c := New(Config{StatusCmd: sh(`exec sleep 5`), StatusTimeout: 50 * time.Millisecond}, logx.Nop())
	start := time.Now()
	if _, err := c.ScrubInProgress(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("status command was not bounded by the timeout")
	}
}

func TestFollowYieldsLinesThenEOF(t *testing.T) {
	t.Parallel()
	requireShell(t)
	c := New(Config{FollowCmd: sh(`printf 'first\nsecond  \n'`)}, logx.Nop())
	s, err := c.Follow(context.Background())
	if err != nil {
		t.Fatalf("Follow() error: %v", err)
	}
	defer s.Close()

	for _, want := range []string{"first", "second"} {
		got, err := s.Next()
		if err != nil || got != want {
			t.Fatalf("Next() = (%q, %v), want %q", got, err, want)
		}
	}
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() at end = %v, want io.EOF", err)
	}
}

func TestFollowExitErrorIsReported(t *testing.T) {
	t.Parallel()
	requireShell(t)
	c := New(Config{FollowCmd: sh(`echo one; exit 3`)}, logx.Nop())
	s, err := c.Follow(context.Background())
	if err != nil {
		t.Fatalf("Follow() error: %v", err)
	}
	defer s.Close()
	if _, err := s.Next(); err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	_, err = s.Next()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Fatalf("Next() at end = %v, want exit status 3", err)
	}
}

func TestFollowCloseUnblocksNext(t *testing.T) {
	t.Parallel()
	requireShell(t)
	c := New(Config{FollowCmd: sh(`echo ready; exec sleep 30`)}, logx.Nop())
	s, err := c.Follow(context.Background())
	if err != nil {
		t.Fatalf("Follow() error: %v", err)
	}
	if got, err := s.Next(); err != nil || got != "ready" {
		t.Fatalf("Next() = (%q, %v)", got, err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Next()
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Next() after Close returned no error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Next() still blocked after Close")
	}
	_ = s.Close()
}
