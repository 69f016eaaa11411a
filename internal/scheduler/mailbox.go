package scheduler

import "sync"

// mailbox is the unbounded handoff between Submit callers and the worker.
//
// put never blocks: it appends under the lock and leaves a token in the
// 1-slot ready channel. The worker drains everything queued on each token.
type mailbox struct {
	mu     sync.Mutex
	items  []string
	closed bool
	ready  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (b *mailbox) put(label string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrStopped
	}
	b.items = append(b.items, label)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
	return nil
}

func (b *mailbox) drain() []string {
	b.mu.Lock()
	items := b.items
	b.items = nil
	b.mu.Unlock()
	return items
}

// close rejects further puts and returns whatever is still queued.
func (b *mailbox) close() []string {
	b.mu.Lock()
	b.closed = true
	items := b.items
	b.items = nil
	b.mu.Unlock()
	return items
}
