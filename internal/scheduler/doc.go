// Package scheduler coalesces event labels into notifications under an
// escalating backoff.
//
// A single worker (Run) owns the pending batch and one deadline. The first
// label after a quiet period arms the deadline with the first ladder rung;
// labels arriving before the deadline are absorbed into the batch without
// moving it. When the deadline expires the batch is sent as one notification
// and the next deadline uses the next (longer) rung, saturating at the last
// one. A deadline that expires with nothing pending returns the scheduler to
// Idle, so the next label starts again at the first rung.
//
// Because arrivals never push the deadline out, a continuous event storm still
// produces a notification at least once per current rung.
//
// # Phases
//
//   - Idle: nothing pending; deadline is now+MaxQuiet.
//   - Armed: first label received; waiting Ladder[0].
//   - Escalated(k): a notification was sent; waiting Ladder[k].
//
// Submit is safe for concurrent use and never blocks or drops; labels go
// through an unbounded mailbox that only the worker drains.
package scheduler
