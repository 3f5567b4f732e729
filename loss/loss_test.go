package loss

import (
	"testing"
	"time"

	"github.com/kryptco/quicconn"
)

func TestProcessACKFrameRejectsEmptyRanges(t *testing.T) {
	d := New(func() time.Duration { return 0 })
	wellFormed, violation := d.ProcessACKFrame(quicconn.EncryptionLevel1RTT, nil, 0, nil)
	if wellFormed || !violation {
		t.Fatalf("expected empty ranges to be a protocol violation")
	}
}

func TestProcessACKFrameRejectsInvertedRange(t *testing.T) {
	d := New(func() time.Duration { return 0 })
	ranges := []quicconn.AckRange{{Smallest: 10, Largest: 5}}
	wellFormed, violation := d.ProcessACKFrame(quicconn.EncryptionLevel1RTT, ranges, 0, nil)
	if wellFormed || !violation {
		t.Fatalf("expected smallest > largest to be a protocol violation")
	}
}

func TestProcessACKFrameTracksLargestAcked(t *testing.T) {
	d := New(func() time.Duration { return 0 })
	ranges := []quicconn.AckRange{{Smallest: 5, Largest: 10}}
	wellFormed, violation := d.ProcessACKFrame(quicconn.EncryptionLevel1RTT, ranges, 0, nil)
	if !wellFormed || violation {
		t.Fatalf("expected well-formed, no violation")
	}
	if !d.haveAcked[quicconn.EncryptionLevel1RTT] || d.largestAcked[quicconn.EncryptionLevel1RTT] != 10 {
		t.Fatalf("expected largestAcked=10, got %+v", d)
	}
}

func TestProcessACKFrameToleratesReorderedLowerLargest(t *testing.T) {
	d := New(func() time.Duration { return 0 })
	d.ProcessACKFrame(quicconn.EncryptionLevel1RTT, []quicconn.AckRange{{Smallest: 5, Largest: 10}}, 0, nil)

	wellFormed, violation := d.ProcessACKFrame(quicconn.EncryptionLevel1RTT, []quicconn.AckRange{{Smallest: 1, Largest: 3}}, 0, nil)
	if !wellFormed || violation {
		t.Fatalf("a reordered lower ACK should not be a protocol violation")
	}
	if d.largestAcked[quicconn.EncryptionLevel1RTT] != 10 {
		t.Fatalf("expected largestAcked to remain at the prior high-water mark 10, got %d", d.largestAcked[quicconn.EncryptionLevel1RTT])
	}
}

func TestProbeTimeoutFallsBackWithoutRttSample(t *testing.T) {
	d := New(func() time.Duration { return 0 })
	if got := d.ProbeTimeout(); got != 200*time.Millisecond {
		t.Fatalf("expected 200ms fallback PTO, got %v", got)
	}
}

func TestProbeTimeoutDoublesPerLossTimerExpiry(t *testing.T) {
	d := New(func() time.Duration { return 50 * time.Millisecond })
	base := d.ProbeTimeout()
	if base != 100*time.Millisecond {
		t.Fatalf("expected base PTO=100ms, got %v", base)
	}

	d.OnLossTimerExpired(quicconn.EncryptionLevel1RTT)
	if got := d.ProbeTimeout(); got != 2*base {
		t.Fatalf("expected PTO to double after one timeout, got %v", got)
	}

	d.OnLossTimerExpired(quicconn.EncryptionLevel1RTT)
	if got := d.ProbeTimeout(); got != 4*base {
		t.Fatalf("expected PTO to double again after a second timeout, got %v", got)
	}
}

func TestResetClearsPtoCountAndAckState(t *testing.T) {
	d := New(func() time.Duration { return 50 * time.Millisecond })
	d.ProcessACKFrame(quicconn.EncryptionLevel1RTT, []quicconn.AckRange{{Smallest: 1, Largest: 1}}, 0, nil)
	d.OnLossTimerExpired(quicconn.EncryptionLevel1RTT)

	d.Reset()

	if d.ptoCount != 0 {
		t.Fatalf("expected ptoCount reset to 0, got %d", d.ptoCount)
	}
	if d.haveAcked[quicconn.EncryptionLevel1RTT] {
		t.Fatalf("expected haveAcked cleared")
	}
	base := d.ProbeTimeout()
	if base != 100*time.Millisecond {
		t.Fatalf("expected PTO back to base after reset, got %v", base)
	}
}

func TestCongestionControlApplySettingsAndReset(t *testing.T) {
	cc := NewCongestionControl()
	cc.ApplySettings(12000, 2000)
	if cc.window != 12000 || cc.minWindow != 2000 {
		t.Fatalf("expected window=12000 minWindow=2000, got %+v", cc)
	}

	cc.Reset()
	if cc.window != cc.minWindow {
		t.Fatalf("expected Reset to drop window to minWindow, got window=%d minWindow=%d", cc.window, cc.minWindow)
	}
}
