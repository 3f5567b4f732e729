package quicconn

import "sync"

// opKind enumerates the operation types from spec.md §4.1 ("Operation
// queue"). Every drain cycle processes one opQueue entry at a time under
// the single-writer rule (spec.md §5).
type opKind int

const (
	opAPICall opKind = iota
	opFlushRecv
	opUnreachable
	opFlushStreamRecv
	opFlushSend
	opTLSComplete
	opTimerExpired
	opTraceRundown
)

func (k opKind) String() string {
	switch k {
	case opAPICall:
		return "API_CALL"
	case opFlushRecv:
		return "FLUSH_RECV"
	case opUnreachable:
		return "UNREACHABLE"
	case opFlushStreamRecv:
		return "FLUSH_STREAM_RECV"
	case opFlushSend:
		return "FLUSH_SEND"
	case opTLSComplete:
		return "TLS_COMPLETE"
	case opTimerExpired:
		return "TIMER_EXPIRED"
	case opTraceRundown:
		return "TRACE_RUNDOWN"
	default:
		return "UNKNOWN"
	}
}

// operation is one queued unit of work (spec.md §4.1). apiCall carries a
// closure for the rare synchronous API calls (e.g. param get/set) that
// need to run on the drain loop and report back.
type operation struct {
	kind      opKind
	timerType timerType
	apiCall   func(c *Connection)
	done      chan struct{}
}

// opQueue is the connection's FIFO work list (spec.md §4.1: "a connection
// processes operations strictly in order, one at a time, never
// concurrently with itself"). Producers (API callers, the datapath, the
// timer wheel) enqueue; exactly one worker goroutine at a time drains.
type opQueue struct {
	mu    sync.Mutex
	items []*operation
}

// enqueue appends to the back of the queue (spec.md §4.1 default
// ordering).
func (q *opQueue) enqueue(op *operation) {
	q.mu.Lock()
	q.items = append(q.items, op)
	q.mu.Unlock()
}

// frontInsert pushes op ahead of every already queued operation. Nothing
// in this module calls it.
func (q *opQueue) frontInsert(op *operation) {
	q.mu.Lock()
	q.items = append([]*operation{op}, q.items...)
	q.mu.Unlock()
}

// drain pops and returns up to max queued operations in order (all of
// them when max <= 0), enforcing spec.md §5's MaxOperationsPerDrain
// budget itself: operations past the budget never leave the queue, so
// they stay ahead of whatever a producer appends meanwhile. hasMore
// reports whether any remain queued.
func (q *opQueue) drain(max int) (batch []*operation, hasMore bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	if max <= 0 || max >= len(q.items) {
		batch = q.items
		q.items = nil
		return batch, false
	}
	batch = q.items[:max]
	q.items = q.items[max:]
	return batch, true
}

func (q *opQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// intakeList is the lock-protected chain of not-yet-processed inbound
// Datagrams (spec.md §4.2 "Receive intake"), capped at
// Config.ReceiveQueueMax to bound memory under a flood (spec.md §8 S5).
type intakeList struct {
	mu    sync.Mutex
	head  *Datagram
	tail  *Datagram
	count int
}

// push appends dg to the tail, dropping it (and logging) if the queue is
// already at capacity. Returns false when dropped.
func (l *intakeList) push(dg *Datagram, max int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if max > 0 && l.count >= max {
		return false
	}
	if l.tail == nil {
		l.head, l.tail = dg, dg
	} else {
		l.tail.Next = dg
		l.tail = dg
	}
	l.count++
	return true
}

// drainAll detaches the whole chain for processing by FLUSH_RECV.
func (l *intakeList) drainAll() *Datagram {
	l.mu.Lock()
	defer l.mu.Unlock()
	head := l.head
	l.head, l.tail, l.count = nil, nil, 0
	return head
}

// QueueRecvDatagrams is the datapath entry point (spec.md §4.2 step 1):
// append the chain to the intake list, then post FLUSH_RECV if this is
// the first datagram since the queue went idle.
func (c *Connection) QueueRecvDatagrams(first *Datagram) {
	postFlush := false
	for dg := first; dg != nil; {
		next := dg.Next
		dg.Next = nil
		if c.intake.push(dg, int(c.config.ReceiveQueueMax)) {
			postFlush = true
		} else {
			c.stats.Recv.DroppedPackets++
			c.log.Debugf("receive queue full, dropping datagram from %v", dg.RemoteAddr)
		}
		dg = next
	}
	if postFlush {
		c.opQueue.enqueue(&operation{kind: opFlushRecv})
		if c.worker != nil {
			c.worker.Queue(c)
		}
	}
}

// drainLoop processes up to Config.MaxOperationsPerDrain queued
// operations in one pass (spec.md §5 "Drain loop"); operations past the
// budget stay queued in FIFO order, and the connection re-queues itself
// with the worker if work remains.
// Drain runs one drain pass; it is the method a Worker collaborator
// calls when it pulls this connection off its queue (spec.md §5).
func (c *Connection) Drain() {
	c.drainLoop()
}

func (c *Connection) drainLoop() {
	if c.flags.has(flagHandleClosed) {
		return
	}
	batch, hasMore := c.opQueue.drain(int(c.config.MaxOperationsPerDrain))
	for _, op := range batch {
		c.processOperation(op)
		if op.done != nil {
			close(op.done)
		}
	}

	// spec.md §4.1 "After the loop": four steps run in order every drain
	// pass, each gated by its own condition.
	if hasMore {
		immediate := false
		for i := range c.spaces {
			if c.spaces[i].ackTracker.takeImmediate() {
				immediate = true
			}
		}
		if immediate && c.send != nil {
			c.send.QueueFlush()
		}
	}
	if c.flags.has(flagSendShutdownCompleteNotif) {
		c.flags.clear(flagSendShutdownCompleteNotif)
		if !c.flags.has(flagHandleClosed) {
			c.onShutdownComplete()
		}
	}
	if c.flags.has(flagHandleClosed) {
		c.Uninitialize()
	}
	if c.streams != nil {
		c.streams.DrainClosed()
	}

	if hasMore && c.worker != nil {
		c.worker.Queue(c)
	}
}

func (c *Connection) processOperation(op *operation) {
	switch op.kind {
	case opAPICall:
		if op.apiCall != nil {
			op.apiCall(c)
		}
	case opFlushRecv:
		c.flushRecv()
	case opFlushStreamRecv:
		if c.streams != nil {
			c.streams.DrainClosed()
		}
	case opFlushSend:
		if c.send != nil {
			c.send.QueueFlush()
		}
	case opTLSComplete:
		c.onTLSComplete()
	case opTimerExpired:
		c.onTimerExpired(op.timerType)
	case opTraceRundown:
		if c.streams != nil {
			c.streams.Rundown()
		}
	case opUnreachable:
		c.onUnreachable()
	}
}
