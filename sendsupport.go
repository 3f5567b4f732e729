package quicconn

import "net"

// The methods below are the narrow write-path surface an external Send
// collaborator (see send/ for the concrete implementation) uses to turn
// queued send flags into bytes on the wire, without reaching into
// Connection's unexported state directly — mirroring how recv.go already
// does the inverse (unprotect/decrypt) for the read path.

// RemoteAddr returns the address a datagram for this connection should be
// sent to, or nil before it is known.
func (c *Connection) RemoteAddr() *net.UDPAddr { return c.addrs.remote }

// CurrentSourceCID returns the bytes of this connection's active source
// CID (what the peer addresses us by), or nil if none has been minted.
func (c *Connection) CurrentSourceCID() []byte {
	if c.cids.sourceHead == nil {
		return nil
	}
	return c.cids.sourceHead.Data
}

// CurrentDestCID returns the bytes of the first usable destination CID
// (what outbound packets address the peer by), or nil if none exists.
func (c *Connection) CurrentDestCID() []byte {
	d := c.cids.firstUsableDestCID()
	if d == nil {
		return nil
	}
	return d.Data
}

// NextSendPacketNumber returns and consumes the next packet number in
// level's send packet-number space (spec.md §3 per-level packet spaces).
func (c *Connection) NextSendPacketNumber(level EncryptionLevel) uint64 {
	pn := c.spaces[level].nextSendPacketNumber
	c.spaces[level].nextSendPacketNumber++
	return pn
}

// SealPacket protects one packet's payload at level/phase using this
// connection's Crypto collaborator.
func (c *Connection) SealPacket(level EncryptionLevel, phase KeyPhase, packetNumber uint64, aad, plaintext []byte) ([]byte, error) {
	return c.crypto.Seal(level, phase, packetNumber, aad, plaintext)
}

// HeaderProtectionMaskForSend computes the HP mask for an outbound
// packet's sample, using this connection's Crypto collaborator.
func (c *Connection) HeaderProtectionMaskForSend(level EncryptionLevel, sample []byte) ([16]byte, error) {
	return c.crypto.HeaderProtectionMask(level, sample)
}

// WriteDatagram hands a fully assembled datagram to the Binding
// collaborator for transmission and counts it in Stats.
func (c *Connection) WriteDatagram(b []byte) (int, error) {
	if c.binding == nil {
		return 0, nil
	}
	n, err := c.binding.WriteTo(b, c.addrs.remote)
	if err == nil {
		c.stats.Send.TotalPackets++
	}
	return n, err
}

// HighestAvailableSendLevel returns the most-advanced encryption level
// whose read key is available, defaulting to Initial before any handshake
// progress (spec.md §4.2's level-progression order doubles as send-level
// preference: prefer 1-RTT, then Handshake, then Initial).
func (c *Connection) HighestAvailableSendLevel() EncryptionLevel {
	for _, level := range []EncryptionLevel{EncryptionLevel1RTT, EncryptionLevelHandshake, EncryptionLevelInitial} {
		if c.crypto != nil && c.crypto.ReadKeyAvailable(level) {
			return level
		}
	}
	return EncryptionLevelInitial
}

// CurrentKeyPhase returns the 1-RTT key phase outbound packets should
// currently be sealed under.
func (c *Connection) CurrentKeyPhase() KeyPhase {
	return c.spaces[EncryptionLevel1RTT].currentKeyPhase
}
