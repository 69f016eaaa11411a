package scheduler

import "time"

// Phase is the logical scheduler phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseArmed
	PhaseEscalated
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseArmed:
		return "armed"
	case PhaseEscalated:
		return "escalated"
	default:
		return "unknown"
	}
}

// idleLevel marks "no ladder rung in use".
const idleLevel = -1

// machine is the scheduler state: pending batch, ladder position and
// deadline. It is not safe for concurrent use; only the Run goroutine touches
// it. Every method takes the current time explicitly.
type machine struct {
	ladder   []time.Duration
	maxQuiet time.Duration

	level    int
	deadline time.Time
	pending  Batch
}

func newMachine(ladder []time.Duration, maxQuiet time.Duration, now time.Time) *machine {
	m := &machine{ladder: ladder, maxQuiet: maxQuiet}
	m.idle(now)
	return m
}

func (m *machine) idle(now time.Time) {
	m.level = idleLevel
	m.deadline = now.Add(m.maxQuiet)
	m.pending = Batch{}
}

func (m *machine) phase() Phase {
	switch {
	case m.level == idleLevel:
		return PhaseIdle
	case m.level == 0:
		return PhaseArmed
	default:
		return PhaseEscalated
	}
}

// add records one label. Only a label that arrives while Idle moves the
// deadline (to now+ladder[0]); otherwise it joins the current batch.
func (m *machine) add(label string, now time.Time) {
	m.pending.Add(label)
	if m.level == idleLevel {
		m.level = 0
		m.deadline = now.Add(m.ladder[0])
	}
}

// due reports whether the deadline has passed.
func (m *machine) due(now time.Time) bool { return !now.Before(m.deadline) }

// wait returns how long until the deadline (never negative).
func (m *machine) wait(now time.Time) time.Duration {
	d := m.deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// take is called on deadline expiry. With nothing pending it moves to Idle and
// returns false. Otherwise it hands over the batch and leaves an empty one in
// its place; the caller sends it and then calls escalate.
func (m *machine) take(now time.Time) (Batch, bool) {
	if len(m.pending) == 0 {
		m.idle(now)
		return nil, false
	}
	b := m.pending
	m.pending = Batch{}
	return b, true
}

// escalate moves one rung up the ladder (saturating at the top) and sets the
// next deadline from now.
func (m *machine) escalate(now time.Time) {
	if m.level < len(m.ladder)-1 {
		m.level++
	}
	m.deadline = now.Add(m.ladder[m.level])
}

// restore puts back a batch whose delivery was interrupted.
func (m *machine) restore(b Batch) {
	m.pending.Merge(b)
}

// currentWait is the rung the deadline was last set from (MaxQuiet when Idle).
func (m *machine) currentWait() time.Duration {
	if m.level == idleLevel {
		return m.maxQuiet
	}
	return m.ladder[m.level]
}
