// Package blocking implements the coordinator behind BLPOP/BRPOP and
// XREAD BLOCK: clients register interest in one or more keys and block on
// a channel until storage.Store reports a mutation, a deadline expires,
// or the connection disconnects. Waiters for the same key wake in FIFO
// registration order, matching spec.md's blocking semantics.
package blocking

import (
	"container/list"
	"sync"
	"time"
)

// Coordinator implements storage.Notifier.
type Coordinator struct {
	mu      sync.Mutex
	waiters map[string]*list.List // key -> *list.List of *waiter
}

type waiter struct {
	wake chan struct{}
	done bool
}

func New() *Coordinator {
	return &Coordinator{waiters: make(map[string]*list.List)}
}

// Ticket represents one registration across possibly many keys; Cancel
// must be called exactly once, whether or not the waiter fired, to avoid
// leaking list elements.
type Ticket struct {
	c       *Coordinator
	wake    chan struct{}
	entries map[string]*list.Element
}

// Register adds a FIFO waiter on each of keys and returns a Ticket whose
// Wake channel fires (once) the first time any of them is notified.
func (c *Coordinator) Register(keys []string) *Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &waiter{wake: make(chan struct{}, 1)}
	t := &Ticket{c: c, wake: w.wake, entries: make(map[string]*list.Element, len(keys))}
	for _, k := range keys {
		l, ok := c.waiters[k]
		if !ok {
			l = list.New()
			c.waiters[k] = l
		}
		t.entries[k] = l.PushBack(w)
	}
	return t
}

// Wake returns the channel that becomes readable once when this ticket's
// waiter is notified.
func (t *Ticket) Wake() <-chan struct{} { return t.wake }

// Cancel removes the ticket's list entries. Safe to call after the
// ticket has already fired.
func (t *Ticket) Cancel() {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	for k, el := range t.entries {
		l, ok := t.c.waiters[k]
		if !ok {
			continue
		}
		l.Remove(el)
		if l.Len() == 0 {
			delete(t.c.waiters, k)
		}
	}
}

// NotifyKey wakes only the front waiter registered on key, matching
// spec.md's "at most one woken per push" requirement: a push produces
// exactly one element to claim, so waking every waiter would have the
// rest lose the race and loop back empty-handed. A waiter that wakes but
// fails to actually consume anything (lost a race with a non-blocking
// command on the same key) re-registers itself via cmdBPop/cmdXRead's
// retry loop, landing back at the end of the queue. Implements
// storage.Notifier.
func (c *Coordinator) NotifyKey(key string) {
	c.mu.Lock()
	l, ok := c.waiters[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	var target *waiter
	var targetEl *list.Element
	for el := l.Front(); el != nil; el = el.Next() {
		w := el.Value.(*waiter)
		if !w.done {
			w.done = true
			target = w
			targetEl = el
			break
		}
	}
	if targetEl != nil {
		l.Remove(targetEl)
	}
	if l.Len() == 0 {
		delete(c.waiters, key)
	}
	c.mu.Unlock()

	if target != nil {
		select {
		case target.wake <- struct{}{}:
		default:
		}
	}
}

// WaitDeadline computes the deadline for a BLOCK/timeout argument given
// in seconds (BLPOP) as a float, or milliseconds (XREAD BLOCK) as an
// integer; 0 means block forever (zero time.Time).
func WaitDeadline(now time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return now.Add(d)
}
