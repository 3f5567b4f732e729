// Package timerwheel implements the quicconn.TimerWheel collaborator: a
// process-wide min-heap of connections ordered by their next timer
// deadline, driven by a single background goroutine (spec.md §6
// TimerWheel: "re-reads the connection's first timer expiration").
//
// No example repo in the retrieval pack ships a reusable timer-wheel
// primitive, so this is built on container/heap rather than a
// third-party scheduler — the one ambient piece of this module with no
// grounding library to adopt (see DESIGN.md).
package timerwheel

import (
	"container/heap"
	"sync"
	"time"

	"github.com/kryptco/quicconn"
)

type entry struct {
	conn     *quicconn.Connection
	deadline time.Time
	index    int // heap.Interface bookkeeping
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Wheel holds one entry per connection with an armed timer, and wakes a
// background goroutine whenever the earliest deadline changes.
type Wheel struct {
	mu      sync.Mutex
	byConn  map[*quicconn.Connection]*entry
	heap    entryHeap
	wake    chan struct{}
	closing chan struct{}
}

// New starts the wheel's background dispatch goroutine.
func New() *Wheel {
	w := &Wheel{
		byConn:  make(map[*quicconn.Connection]*entry),
		wake:    make(chan struct{}, 1),
		closing: make(chan struct{}),
	}
	go w.run()
	return w
}

// UpdateConnection implements quicconn.TimerWheel: re-read c's earliest
// armed timer and reposition (or remove) its heap slot accordingly.
func (w *Wheel) UpdateConnection(c *quicconn.Connection) {
	deadline, ok := c.NextDeadline()

	w.mu.Lock()
	e, tracked := w.byConn[c]
	switch {
	case !ok && tracked:
		heap.Remove(&w.heap, e.index)
		delete(w.byConn, c)
	case ok && tracked:
		e.deadline = deadline
		heap.Fix(&w.heap, e.index)
	case ok && !tracked:
		e = &entry{conn: c, deadline: deadline}
		heap.Push(&w.heap, e)
		w.byConn[c] = e
	}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Close stops the dispatch goroutine. Outstanding connections are left
// untouched; callers are expected to have already shut them down.
func (w *Wheel) Close() { close(w.closing) }

func (w *Wheel) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		w.mu.Lock()
		var wait time.Duration
		if w.heap.Len() == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(w.heap[0].deadline)
			if wait < 0 {
				wait = 0
			}
		}
		w.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-w.closing:
			return
		case <-w.wake:
			continue
		case now := <-timer.C:
			w.fireDue(now)
		}
	}
}

func (w *Wheel) fireDue(now time.Time) {
	var due []*quicconn.Connection
	w.mu.Lock()
	for w.heap.Len() > 0 && !w.heap[0].deadline.After(now) {
		e := heap.Pop(&w.heap).(*entry)
		delete(w.byConn, e.conn)
		due = append(due, e.conn)
	}
	w.mu.Unlock()

	for _, c := range due {
		c.ExpireTimers(now)
	}
}
