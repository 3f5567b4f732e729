package worker

import (
	"testing"
	"time"

	"github.com/kryptco/quicconn"
)

// newIdleConnection returns a bare Connection with an empty operation
// queue, so Pool.Queue exercises the real Connection.Drain path (it
// drains zero operations and returns) without requiring a fully wired
// connection.
func newIdleConnection() *quicconn.Connection {
	return &quicconn.Connection{}
}

func TestNewWithNonPositiveCountCreatesBufferedPool(t *testing.T) {
	p := New(0)
	defer p.Close()
	if cap(p.work) != 1024 {
		t.Fatalf("expected work channel capacity 1024, got %d", cap(p.work))
	}
}

func TestQueueDrainsConnection(t *testing.T) {
	p := New(2)

	c := newIdleConnection()
	p.Queue(c)

	// Close waits for in-flight work, which is enough synchronization to
	// know Drain() was invoked without panicking.
	done := make(chan struct{})
	go func() { p.Close(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for pool to drain queued work")
	}
}

func TestQueueOverflowDoesNotBlockCaller(t *testing.T) {
	p := &Pool{work: make(chan *quicconn.Connection, 1)}
	c1 := newIdleConnection()
	c2 := newIdleConnection()

	p.work <- c1 // fill the buffer so the next Queue must take the overflow path

	done := make(chan struct{})
	go func() {
		p.Queue(c2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Queue should not block the caller when the channel is full")
	}
}
