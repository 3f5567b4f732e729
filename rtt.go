package quicconn

import "time"

// UpdateRtt implements spec.md §4.6: RFC 6298-style smoothing with 1/8
// and 1/4 weights. Returns true if SmoothedRtt changed.
func (c *Connection) UpdateRtt(latest time.Duration) bool {
	if c.minRtt == 0 || latest < c.minRtt {
		c.minRtt = latest
	}
	if latest > c.maxRtt {
		c.maxRtt = latest
	}
	c.latestRtt = latest

	if !c.flags.has(flagGotFirstRttSample) {
		c.smoothedRtt = latest
		c.rttVariance = latest / 2
		c.flags.set(flagGotFirstRttSample)
		c.firstRttSampleAt = time.Now()
		c.stats.Rtt.SmoothedRtt = c.smoothedRtt
		c.stats.Rtt.MinRtt = c.minRtt
		c.stats.Rtt.MaxRtt = c.maxRtt
		return true
	}

	diff := c.smoothedRtt - latest
	if diff < 0 {
		diff = -diff
	}
	newVariance := (3*c.rttVariance + diff) / 4
	newSmoothed := (7*c.smoothedRtt + latest) / 8
	changed := newSmoothed != c.smoothedRtt

	c.rttVariance = newVariance
	c.smoothedRtt = newSmoothed
	c.stats.Rtt.SmoothedRtt = c.smoothedRtt
	c.stats.Rtt.MinRtt = c.minRtt
	c.stats.Rtt.MaxRtt = c.maxRtt
	return changed
}

// SmoothedRtt exposes the current RTT estimate for a LossDetection
// collaborator constructed before this Connection (see loss.New's
// rttEstimate callback).
func (c *Connection) SmoothedRtt() time.Duration { return c.smoothedRtt }

// drainPeriodDuration implements the "max(15ms, 2*SmoothedRtt)" figure
// used by both the remote-initiated draining period and the post-ack
// trailing drain (spec.md §4.5 transitions 2 and 4).
func (c *Connection) drainPeriodDuration() time.Duration {
	return maxDuration(15*time.Millisecond, 2*c.smoothedRtt)
}
