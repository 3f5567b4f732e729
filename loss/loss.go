// Package loss implements the quicconn.LossDetection and
// quicconn.CongestionControl collaborators: ACK-frame bookkeeping, a
// basic PTO estimate, and a Reno-style congestion window (spec.md §6
// LossDetection/CongestionControl, out of scope for the core itself).
package loss

import (
	"sync"
	"time"

	"github.com/kryptco/quicconn"
)

// Detector is a minimal RFC 9002-flavored loss detector: it validates
// ACK ranges against what it believes has been sent and derives a PTO
// from the connection's RTT estimate via Estimator, without attempting
// the full RFC 9002 state machine (packet-sent bookkeeping, timer
// scheduling) since those live on the Send side, out of this core's
// scope.
type Detector struct {
	mu sync.Mutex

	rttEstimate func() time.Duration
	ptoCount    int

	largestAcked [4]uint64
	haveAcked    [4]bool
}

// New returns a Detector; rttEstimate supplies the current smoothed RTT
// (wired to Connection.UpdateRtt's output by the caller that owns both).
func New(rttEstimate func() time.Duration) *Detector {
	return &Detector{rttEstimate: rttEstimate}
}

func (d *Detector) ProcessACKFrame(level quicconn.EncryptionLevel, ranges []quicconn.AckRange, ackDelay time.Duration, ecn *quicconn.ECNCounts) (wellFormed, protocolViolation bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(ranges) == 0 {
		return false, true
	}
	largest := ranges[0].Largest
	for _, r := range ranges {
		if r.Smallest > r.Largest {
			return false, true
		}
	}
	if d.haveAcked[level] && largest < d.largestAcked[level] {
		// a strictly decreasing largest-acked is not itself a protocol
		// violation (reordered ACKs are legal); just not a new high-water mark.
		return true, false
	}
	d.largestAcked[level] = largest
	d.haveAcked[level] = true
	return true, false
}

// ProbeTimeout implements a simplified RFC 9002 §6.2.1 PTO: smoothed RTT
// plus 4x RTT variance is approximated here as 2x smoothed RTT, doubled
// per consecutive timeout (reset externally via Reset).
func (d *Detector) ProbeTimeout() time.Duration {
	d.mu.Lock()
	count := d.ptoCount
	d.mu.Unlock()
	base := 2 * d.rttEstimate()
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	for i := 0; i < count; i++ {
		base *= 2
	}
	return base
}

func (d *Detector) OnLossTimerExpired(level quicconn.EncryptionLevel) {
	d.mu.Lock()
	d.ptoCount++
	d.mu.Unlock()
}

func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ptoCount = 0
	d.largestAcked = [4]uint64{}
	d.haveAcked = [4]bool{}
}

// CongestionControl is a minimal Reno-like window tracker; it does not
// gate sending (the Send collaborator owns that), it only exposes the
// Reset/ApplySettings surface the core calls during Initialize/Restart.
type CongestionControl struct {
	mu sync.Mutex

	window, minWindow uint64
}

func NewCongestionControl() *CongestionControl { return &CongestionControl{} }

func (cc *CongestionControl) Reset() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.window = cc.minWindow
}

func (cc *CongestionControl) ApplySettings(initialWindow, minWindow uint64) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.window = initialWindow
	cc.minWindow = minWindow
}
