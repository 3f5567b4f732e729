package quicconn

import (
	"testing"
	"time"
)

type fakeSend struct {
	flags        SendFlag
	initialToken []byte
}

func (f *fakeSend) SetSendFlag(flag SendFlag)      { f.flags |= flag }
func (f *fakeSend) QueueFlush()                    {}
func (f *fakeSend) IncreaseAllowance(bytes uint64)  {}
func (f *fakeSend) HasUnlimitedAllowance() bool     { return true }
func (f *fakeSend) GrantUnlimitedAllowance()        {}
func (f *fakeSend) ProcessDelayedAckTimer()         {}
func (f *fakeSend) ApplyPacing()                    {}
func (f *fakeSend) SetInitialToken(token []byte)   { f.initialToken = append([]byte(nil), token...) }

type fakeStreamSet struct{ shutdown bool }

func (s *fakeStreamSet) Initialize(uint64, uint64)                 {}
func (s *fakeStreamSet) UpdateMaxStreams(bool, uint64) bool        { return false }
func (s *fakeStreamSet) GetOrCreateForPeer(uint64) (bool, error)   { return false, nil }
func (s *fakeStreamSet) Dispatch(uint64, byte, []byte) error       { return nil }
func (s *fakeStreamSet) ShutdownAll(uint64, bool)                  { s.shutdown = true }
func (s *fakeStreamSet) DrainClosed()                              {}
func (s *fakeStreamSet) Rundown()                                  {}

func newTestConnection(role Role) (*Connection, *fakeSend, *[]Event) {
	events := &[]Event{}
	c := &Connection{
		role:    role,
		config:  DefaultConfig(),
		send:    &fakeSend{},
		streams: &fakeStreamSet{},
		callback: func(_ *Connection, ev Event) error {
			*events = append(*events, ev)
			return nil
		},
	}
	c.flags.set(flagExternalOwner)
	c.timers.init()
	fs, _ := c.send.(*fakeSend)
	return c, fs, events
}

func TestTryCloseLocalFirstArmsShutdownAndSetsFlag(t *testing.T) {
	c, fs, _ := newTestConnection(RoleClient)
	c.tryCloseInternal(closeFlags{}, 42, "bye", nil)

	if !c.flags.has(flagClosedLocally) {
		t.Fatalf("expected flagClosedLocally set")
	}
	if fs.flags&SendFlagConnectionClose == 0 {
		t.Fatalf("expected CONNECTION_CLOSE send flag set")
	}
	if _, ok := c.timers.firstExpiration(); !ok {
		t.Fatalf("expected shutdown timer armed")
	}
}

func TestTryCloseRemoteOnUnconfirmedClientIsSilent(t *testing.T) {
	withFixedClock(t, time.Unix(0, 0))
	c, fs, _ := newTestConnection(RoleClient)
	c.tryCloseInternal(closeFlags{remote: true}, 1, "", nil)

	if fs.flags&SendFlagConnectionClose != 0 {
		t.Fatalf("unconfirmed client should not echo CONNECTION_CLOSE")
	}
	exp, ok := c.timers.firstExpiration()
	if !ok || exp != 0 {
		t.Fatalf("expected immediate shutdown timer, got %d ok=%v", exp, ok)
	}
}

func TestTryCloseRepeatSameSideIsNoOp(t *testing.T) {
	c, _, events := newTestConnection(RoleServer)
	c.tryCloseInternal(closeFlags{}, 1, "first", nil)
	firstReason := c.closeState.reason

	c.tryCloseInternal(closeFlags{}, 2, "second", nil)

	if c.closeState.reason != firstReason {
		t.Fatalf("expected closeState to remain from first close, got %q", c.closeState.reason)
	}
	if len(*events) != 1 {
		t.Fatalf("expected exactly one shutdown-initiated event, got %d", len(*events))
	}
}

func TestTryCloseBothSidesClosedServerLingers(t *testing.T) {
	c, _, _ := newTestConnection(RoleServer)
	c.tryCloseInternal(closeFlags{}, 1, "", nil)
	c.tryCloseInternal(closeFlags{remote: true}, 1, "", nil)

	exp, ok := c.timers.firstExpiration()
	if !ok {
		t.Fatalf("expected shutdown timer still armed for trailing drain")
	}
	if exp == 0 {
		t.Fatalf("expected a non-zero trailing drain period for a server")
	}
}

func TestOnShutdownCompleteIsIdempotentAndEmitsOnce(t *testing.T) {
	c, _, events := newTestConnection(RoleClient)
	c.onShutdownComplete()
	c.onShutdownComplete()

	count := 0
	for _, ev := range *events {
		if ev.Kind == EventShutdownComplete {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one ShutdownComplete event, got %d", count)
	}
	if !c.flags.has(flagHandleClosed) {
		t.Fatalf("expected flagHandleClosed set")
	}
}

func TestOnShutdownTimerExpiredRetransmitsThenCompletes(t *testing.T) {
	c, fs, events := newTestConnection(RoleClient)
	c.closeState.ptoRetransmitsRemaining = 1

	c.onShutdownTimerExpired()
	if fs.flags&SendFlagConnectionClose == 0 {
		t.Fatalf("expected retransmit to set CONNECTION_CLOSE")
	}
	if c.flags.has(flagHandleClosed) {
		t.Fatalf("should not be complete yet, one retransmit remaining was consumed")
	}

	c.onShutdownTimerExpired()
	c.Drain()
	found := false
	for _, ev := range *events {
		if ev.Kind == EventShutdownComplete {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ShutdownComplete after retransmits exhausted")
	}
}

func TestDrainPeriodDurationHasFifteenMsFloor(t *testing.T) {
	c := &Connection{}
	if got := c.drainPeriodDuration(); got != 15*time.Millisecond {
		t.Fatalf("expected 15ms floor with zero RTT, got %v", got)
	}
}
