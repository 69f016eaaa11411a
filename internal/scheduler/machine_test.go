package scheduler

import (
	"testing"
	"time"
)

var testLadder = []time.Duration{
	30 * time.Second,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
	48 * time.Hour,
}

const testMaxQuiet = 60 * 24 * time.Hour

var t0 = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// flush runs the expiry path the worker runs and returns the sent text.
func flush(t *testing.T, m *machine, now time.Time) (string, bool) {
	t.Helper()
	if !m.due(now) {
		t.Fatalf("flush at %v before deadline %v", now, m.deadline)
	}
	b, ok := m.take(now)
	if !ok {
		return "", false
	}
	m.escalate(now)
	return b.Format(), true
}

func TestMachineStartsIdle(t *testing.T) {
	t.Parallel()
	m := newMachine(testLadder, testMaxQuiet, t0)
	if m.phase() != PhaseIdle {
		t.Fatalf("phase = %v", m.phase())
	}
	if got := m.wait(t0); got != testMaxQuiet {
		t.Fatalf("wait = %v, want %v", got, testMaxQuiet)
	}
}

func TestMachineSingleEventFlushesAfterFirstRung(t *testing.T) {
	t.Parallel()
	m := newMachine(testLadder, testMaxQuiet, t0)
	m.add("pool_fault", t0)
	if m.phase() != PhaseArmed {
		t.Fatalf("phase = %v, want armed", m.phase())
	}
	if m.due(t0.Add(29 * time.Second)) {
		t.Fatal("due before 30s")
	}

	at := t0.Add(30 * time.Second)
	text, ok := flush(t, m, at)
	if !ok || text != "pool_fault" {
		t.Fatalf("flush = (%q, %v)", text, ok)
	}
	if m.phase() != PhaseEscalated {
		t.Fatalf("phase = %v, want escalated", m.phase())
	}
	if want := at.Add(300 * time.Second); !m.deadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", m.deadline, want)
	}
}

func TestMachineRepeatsWithinArmWindowCoalesce(t *testing.T) {
	t.Parallel()
	m := newMachine(testLadder, testMaxQuiet, t0)
	m.add("pool_fault", t0)
	m.add("pool_fault", t0.Add(12*time.Second))
	if want := t0.Add(30 * time.Second); !m.deadline.Equal(want) {
		t.Fatalf("second arrival moved the deadline to %v", m.deadline)
	}
	text, _ := flush(t, m, t0.Add(30*time.Second))
	if text != "pool_fault:2" {
		t.Fatalf("text = %q", text)
	}
}

func TestMachineArrivalDoesNotResetEscalatedDeadline(t *testing.T) {
	t.Parallel()
	m := newMachine(testLadder, testMaxQuiet, t0)
	m.add("a", t0)
	first := t0.Add(30 * time.Second)
	flush(t, m, first)

	m.add("b", first.Add(10*time.Second))
	if want := first.Add(300 * time.Second); !m.deadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", m.deadline, want)
	}
	if m.due(first.Add(299 * time.Second)) {
		t.Fatal("due before the 300s mark")
	}
	text, _ := flush(t, m, first.Add(300*time.Second))
	if text != "b" {
		t.Fatalf("text = %q", text)
	}
}

func TestMachineSaturatesAtLastRung(t *testing.T) {
	t.Parallel()
	m := newMachine(testLadder, testMaxQuiet, t0)
	now := t0
	m.add("storm", now)
	for i := 0; i < 10; i++ {
		now = m.deadline
		if _, ok := flush(t, m, now); !ok {
			t.Fatalf("flush %d sent nothing", i)
		}
		m.add("storm", now)
	}
	if m.level != len(testLadder)-1 {
		t.Fatalf("level = %d", m.level)
	}
	if got := m.currentWait(); got != 48*time.Hour {
		t.Fatalf("wait after saturation = %v", got)
	}
}

func TestMachineWaitsAreMonotonic(t *testing.T) {
	t.Parallel()
	m := newMachine(testLadder, testMaxQuiet, t0)
	now := t0
	m.add("x", now)
	var prev time.Duration
	for i := 0; i < 12; i++ {
		now = m.deadline
		flush(t, m, now)
		w := m.deadline.Sub(now)
		if w < prev {
			t.Fatalf("flush %d: wait %v shorter than previous %v", i, w, prev)
		}
		if w > testLadder[len(testLadder)-1] {
			t.Fatalf("flush %d: wait %v beyond last rung", i, w)
		}
		prev = w
		m.add("x", now.Add(time.Second))
	}
}

func TestMachineQuietDeadlineReturnsToIdle(t *testing.T) {
	t.Parallel()
	m := newMachine(testLadder, testMaxQuiet, t0)
	m.add("a", t0)
	now := m.deadline
	flush(t, m, now)
	m.add("a", now)
	now = m.deadline
	flush(t, m, now)
	if m.level != 2 {
		t.Fatalf("level = %d, want 2", m.level)
	}

	// Nothing arrived during the rung: expiry goes Idle.
	now = m.deadline
	if _, ok := flush(t, m, now); ok {
		t.Fatal("empty expiry must not send")
	}
	if m.phase() != PhaseIdle {
		t.Fatalf("phase = %v, want idle", m.phase())
	}

	later := now.Add(testMaxQuiet + time.Hour)
	m.add("b", later)
	if m.phase() != PhaseArmed {
		t.Fatalf("phase = %v, want armed", m.phase())
	}
	if want := later.Add(testLadder[0]); !m.deadline.Equal(want) {
		t.Fatalf("re-armed deadline = %v, want %v", m.deadline, want)
	}
}

func TestMachineIdleExpiryRearmsQuietPeriod(t *testing.T) {
	t.Parallel()
	m := newMachine(testLadder, testMaxQuiet, t0)
	now := t0.Add(testMaxQuiet)
	if _, ok := flush(t, m, now); ok {
		t.Fatal("idle expiry must not send")
	}
	if want := now.Add(testMaxQuiet); !m.deadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", m.deadline, want)
	}
}

func TestMachineBurstKeepsEveryLabel(t *testing.T) {
	t.Parallel()
	m := newMachine(testLadder, testMaxQuiet, t0)
	labels := []string{"e1", "e2", "e3", "e4", "e5"}
	for i, l := range labels {
		m.add(l, t0.Add(time.Duration(i)*time.Second))
	}
	text, _ := flush(t, m, t0.Add(30*time.Second))
	if text != "e1, e2, e3, e4, e5" {
		t.Fatalf("text = %q", text)
	}
}

func TestMachineRestore(t *testing.T) {
	t.Parallel()
	m := newMachine(testLadder, testMaxQuiet, t0)
	m.add("a", t0)
	b, _ := m.take(t0.Add(30 * time.Second))
	m.add("a", t0.Add(31*time.Second))
	m.restore(b)
	if got := m.pending.Format(); got != "a:2" {
		t.Fatalf("pending = %q", got)
	}
}
