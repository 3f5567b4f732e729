// Package worker implements the quicconn.Worker collaborator: a small
// pool of goroutines draining a shared queue of connections that have
// pending operations (spec.md §5 "the worker is a task scheduler";
// §9 design note's suggested cooperative-task shape).
package worker

import (
	"sync"

	"github.com/kryptco/quicconn"
)

// Pool runs n goroutines pulling connections off a channel and draining
// each exactly once per Queue call; a connection queued while already
// being drained is coalesced by the channel's natural buffering rather
// than deduplicated explicitly, matching spec.md §5's "at most one
// thread is inside the drain loop for a given connection" (enforced by
// Connection's own HandleClosed/flag checks, not by this pool).
type Pool struct {
	work chan *quicconn.Connection
	wg   sync.WaitGroup
}

// New starts n worker goroutines; n <= 0 defaults to 1.
func New(n int) *Pool {
	if n <= 0 {
		n = 1
	}
	p := &Pool{work: make(chan *quicconn.Connection, 1024)}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.loop()
	}
	return p
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for c := range p.work {
		c.Drain()
	}
}

// Queue implements quicconn.Worker.
func (p *Pool) Queue(c *quicconn.Connection) {
	select {
	case p.work <- c:
	default:
		// channel full: spawn a short-lived goroutine rather than block
		// the caller, which may itself be a worker goroutine mid-drain.
		go func() { p.work <- c }()
	}
}

// Close stops accepting new work and waits for in-flight drains to finish.
func (p *Pool) Close() {
	close(p.work)
	p.wg.Wait()
}
