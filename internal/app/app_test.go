package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"zpoolwatch/internal/intake"
)

type fakeStream struct {
	lines     chan string
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{lines: make(chan string, 16), closed: make(chan struct{})}
}

func (s *fakeStream) Next() (string, error) {
	select {
	case l, ok := <-s.lines:
		if !ok {
			return "", io.EOF
		}
		return l, nil
	case <-s.closed:
		return "", errors.New("closed")
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type fakeSource struct {
	known   []string
	stream  *fakeStream
	scrub   bool
	follows int
}

func (f *fakeSource) Snapshot(context.Context) ([]string, error) { return f.known, nil }
func (f *fakeSource) Follow(context.Context) (intake.Stream, error) {
	f.follows++
	return f.stream, nil
}
func (f *fakeSource) ScrubInProgress(context.Context) (bool, error) { return f.scrub, nil }

type recordingNotifier struct {
	out  chan string
	fail error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{out: make(chan string, 16)}
}

func (r *recordingNotifier) Name() string { return "recording" }
func (r *recordingNotifier) Notify(_ context.Context, text string) error {
	if r.fail != nil {
		return r.fail
	}
	r.out <- text
	return nil
}

func (r *recordingNotifier) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-r.out:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("no notification")
		return ""
	}
}

func (r *recordingNotifier) none(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case s := <-r.out:
		t.Fatalf("unexpected notification %q", s)
	case <-time.After(within):
	}
}

const testConfig = `{
  "logging": {"level": "error"},
  "scheduler": {"ladder": ["100ms", "200ms"], "max_quiet": "1h", "shutdown_flush_timeout": "1s"},
  "notifier": {"driver": "log"},
  "systemd": {"notify": false}
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "zpoolwatch.json")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func startApp(t *testing.T, cfgPath string, src *fakeSource, n *recordingNotifier) (*App, context.CancelFunc, <-chan error) {
	t.Helper()
	a, err := New(cfgPath, WithSource(src), WithNotifier(n))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	return a, cancel, done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRunFiltersCoalescesAndStopsCleanly(t *testing.T) {
	const ts = "Feb  5 2023 00:24:01.695934806  "
	src := &fakeSource{known: []string{ts + "ereport.fs.zfs.old"}, stream: newFakeStream()}
	n := newRecordingNotifier()
	_, cancel, done := startApp(t, writeConfig(t, testConfig), src, n)

	if got := n.next(t); got != "zpool monitor script start" {
		t.Fatalf("first notification = %q", got)
	}

	src.stream.lines <- ts + "sysevent.fs.zfs.trim_start"
	src.stream.lines <- ts + "ereport.fs.zfs.old"
	n.none(t, 250*time.Millisecond)

	src.stream.lines <- ts + "pool_fault"
	src.stream.lines <- ts + "pool_fault"
	if got := n.next(t); got != "pool_fault:2" {
		t.Fatalf("notification = %q", got)
	}

	cancel()
	if err := waitRun(t, done); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if src.follows != 1 {
		t.Fatalf("follow started %d times", src.follows)
	}
}

func TestRunStreamEndIsFatalAndFlushes(t *testing.T) {
	cfg := `{
  "logging": {"level": "error"},
  "scheduler": {"ladder": ["1h"], "max_quiet": "2h", "shutdown_flush_timeout": "1s"},
  "systemd": {"notify": false}
}`
	src := &fakeSource{stream: newFakeStream()}
	n := newRecordingNotifier()
	_, _, done := startApp(t, writeConfig(t, cfg), src, n)
	n.next(t)

	src.stream.lines <- "vdev_remove"
	close(src.stream.lines)

	err := waitRun(t, done)
	if !errors.Is(err, intake.ErrStreamEnded) {
		t.Fatalf("Run() = %v, want ErrStreamEnded", err)
	}
	if got := n.next(t); got != "vdev_remove" {
		t.Fatalf("shutdown flush = %q", got)
	}
}

func TestRunStartupFailureIsFatal(t *testing.T) {
	src := &fakeSource{stream: newFakeStream()}
	n := newRecordingNotifier()
	n.fail = errors.New("ntfy unreachable")
	_, _, done := startApp(t, writeConfig(t, testConfig), src, n)

	err := waitRun(t, done)
	if err == nil || !errors.Is(err, n.fail) {
		t.Fatalf("Run() = %v", err)
	}
	if src.follows != 0 {
		t.Fatal("event stream started after a failed startup notification")
	}
}

func TestRunStartupFailureLoggedUnderLogPolicy(t *testing.T) {
	cfg := `{
  "logging": {"level": "error"},
  "scheduler": {"ladder": ["100ms"], "max_quiet": "1h", "on_failure": "log"},
  "systemd": {"notify": false}
}`
	src := &fakeSource{stream: newFakeStream()}
	n := newRecordingNotifier()
	n.fail = errors.New("ntfy unreachable")
	a, cancel, done := startApp(t, writeConfig(t, cfg), src, n)

	deadline := time.Now().Add(3 * time.Second)
	for !a.Scheduler().Snapshot().Running {
		if time.Now().After(deadline) {
			t.Fatal("scheduler never started")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := waitRun(t, done); err != nil {
		t.Fatalf("Run() = %v", err)
	}
}

const ignorePoolFaultConfig = `{
  "logging": {"level": "error"},
  "intake": {"ignore": ["pool_fault"]},
  "scheduler": {"ladder": ["100ms", "200ms"], "max_quiet": "1h", "shutdown_flush_timeout": "1s"},
  "notifier": {"driver": "log"},
  "systemd": {"notify": false}
}`

func waitIgnored(t *testing.T, a *App, label string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, d := a.intake.Evaluate(context.Background(), label); d == intake.Ignored {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("ignore list was not applied")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunAppliesConfigReloadedBeforeStart(t *testing.T) {
	path := writeConfig(t, testConfig)
	src := &fakeSource{stream: newFakeStream()}
	n := newRecordingNotifier()
	a, err := New(path, WithSource(src), WithNotifier(n))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := os.WriteFile(path, []byte(ignorePoolFaultConfig), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if _, err := a.cfgm.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	n.next(t)

	waitIgnored(t, a, "pool_fault")

	cancel()
	if err := waitRun(t, done); err != nil {
		t.Fatalf("Run() = %v", err)
	}
}

func TestRunHotReloadsIgnoreList(t *testing.T) {
	path := writeConfig(t, testConfig)
	src := &fakeSource{stream: newFakeStream()}
	n := newRecordingNotifier()
	a, cancel, done := startApp(t, path, src, n)
	n.next(t)

	if err := os.WriteFile(path, []byte(ignorePoolFaultConfig), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if _, err := a.cfgm.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	waitIgnored(t, a, "pool_fault")

	src.stream.lines <- "pool_fault"
	src.stream.lines <- "sysevent.fs.zfs.trim_start"
	if got := n.next(t); got != "sysevent.fs.zfs.trim_start" {
		t.Fatalf("notification = %q", got)
	}

	cancel()
	if err := waitRun(t, done); err != nil {
		t.Fatalf("Run() = %v", err)
	}
}
