package quicconn

import "github.com/kryptco/quicconn/wire"

// handleRetryPacket implements spec.md §4.8: validate, cache the token,
// swap dest CIDs, re-derive Initial keys, and roll every per-level
// collaborator state via Restart(completeReset=false).
func (c *Connection) handleRetryPacket(hdr *wire.LongHeader) {
	if c.flags.has(flagReceivedRetryPacket) {
		return // a second Retry is ignored; spec.md §4.8 is client-side, once
	}
	current := c.cids.firstUsableDestCID()
	if current == nil || !bytesEqual(hdr.DestCID, current.Data) {
		c.log.Debugf("dropping Retry: original destination CID mismatch")
		return
	}
	if len(hdr.Token) < 16 {
		c.log.Debugf("dropping Retry: token too short")
		return
	}

	c.closeState.reason = "" // not a close; reuse nothing from it

	origCID := append([]byte(nil), current.Data...)
	c.cids.origCID = origCID

	if c.send != nil {
		c.send.SetInitialToken(hdr.Token)
	}

	c.UpdateDestCID(hdr.SrcCID)

	c.flags.set(flagReceivedRetryPacket)
	c.flags.set(flagStatelessRetry)

	if c.crypto != nil {
		c.crypto.DiscardKeys(EncryptionLevelInitial)
	}

	if err := c.Restart(false); err != nil {
		c.log.Errorf("restart after retry failed: %v", err)
	}
}

// Restart implements spec.md §4.8 "Restart(completeReset)": rolls every
// packet-number space, resets congestion control and loss detection, and
// re-initializes crypto against the new destination CID, while keeping
// the RTT estimate (a partial reset — completeReset is reserved for a
// hypothetical future full version-negotiation path and is always false
// from the Retry caller today).
func (c *Connection) Restart(completeReset bool) error {
	for i := range c.spaces {
		c.spaces[i] = packetSpace{}
	}
	if completeReset {
		c.smoothedRtt, c.rttVariance, c.minRtt, c.maxRtt = 0, 0, 0, 0
		c.flags = flagSet{bits: c.flags.bits &^ flagGotFirstRttSample}
	}
	if c.cc != nil {
		c.cc.Reset()
	}
	if c.loss != nil {
		c.loss.Reset()
	}

	dest := c.cids.firstUsableDestCID()
	var dcid []byte
	if dest != nil {
		dcid = dest.Data
	}
	if c.crypto != nil {
		if err := c.crypto.Restart(completeReset, dcid); err != nil {
			return err
		}
	}
	return nil
}
