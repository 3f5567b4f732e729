package quicconn

import (
	"github.com/kryptco/quicconn/wire"
)

// flushRecv handles a FLUSH_RECV operation (spec.md §4.2): atomically
// detach the intake list, then process every datagram in order.
func (c *Connection) flushRecv() {
	head := c.intake.drainAll()
	c.recvDatagrams(head, false)
}

// recvDatagrams walks a chain of UDP datagrams, each of which may carry
// multiple coalesced QUIC packets (spec.md §4.2 "RecvDatagrams").
func (c *Connection) recvDatagrams(head *Datagram, deferred bool) {
	anyValid := false
	for dg := head; dg != nil; dg = dg.Next {
		if c.recvDatagram(dg, deferred) {
			anyValid = true
		}
	}
	if anyValid {
		c.timerSet(timerIdle, c.config.IdleTimeout)
	}
}

// recvDatagram processes every coalesced QUIC packet inside one datagram,
// returning whether at least one packet was CompletelyValid (spec.md §4.2
// step 6/8, "After the full chain is drained").
func (c *Connection) recvDatagram(dg *Datagram, deferred bool) bool {
	buf := dg.Data
	anyValid := false
	if dg.RemoteAddr != nil && c.addrs.remoteAddrSet && c.addrs.remote != nil &&
		!(dg.RemoteAddr.IP.Equal(c.addrs.remote.IP) && dg.RemoteAddr.Port == c.addrs.remote.Port) {
		// path migration is not supported: a changed remote address is a
		// protocol violation.
		c.abortProtocolViolation("peer remote address changed")
		return false
	}
	for len(buf) > 0 {
		consumed, valid, stop := c.recvPacket(buf, dg, deferred)
		if consumed <= 0 {
			return anyValid
		}
		if valid {
			anyValid = true
		}
		buf = buf[consumed:]
		if stop {
			return anyValid
		}
	}
	return anyValid
}

// recvPacket decodes, decrypts, and dispatches exactly one QUIC packet
// from the front of buf (spec.md §4.2 steps 1-8). It returns the number
// of bytes consumed (<=0 on unrecoverable framing failure, which aborts
// the rest of the datagram), whether the packet was CompletelyValid, and
// whether the caller should stop decoding further packets in this
// datagram (e.g. after a Retry).
func (c *Connection) recvPacket(buf []byte, dg *Datagram, deferred bool) (consumed int, valid bool, stop bool) {
	if len(buf) < 1 {
		return -1, false, true
	}
	isLong := buf[0]&0x80 != 0
	if isLong {
		return c.recvLongHeaderPacket(buf, dg, deferred)
	}
	return c.recvShortHeaderPacket(buf, dg, deferred)
}

func (c *Connection) recvLongHeaderPacket(buf []byte, dg *Datagram, deferred bool) (int, bool, bool) {
	hdr, _, err := wire.ParseLongHeader(buf)
	if err != nil {
		c.log.Debugf("dropping malformed long header: %v", err)
		return -1, false, true
	}

	if hdr.Type == wire.PacketTypeVersionNegotiation {
		// single-version build: silently ignore (spec.md §4.2 step 1,
		// Non-goals).
		return len(buf), false, true
	}
	if hdr.Version != QUICVersion {
		c.log.Debugf("closing on packet with unsupported version 0x%x", hdr.Version)
		c.tryCloseInternal(closeFlags{silent: true}, uint64(StatusVerNegError), "", newStatusErr(StatusVerNegError, nil))
		return len(buf), false, true
	}

	if hdr.Type == wire.PacketTypeRetry {
		if c.role == RoleClient {
			c.handleRetryPacket(hdr)
		}
		return len(buf), false, true // retry processing stops further decoding
	}

	level := levelForLongHeaderType(hdr.Type)

	if c.role == RoleServer && hdr.Type == wire.PacketTypeInitial && !c.flags.has(flagInitialized) {
		// server lazy initialization (spec.md §4.1): the first Initial
		// packet is what tells a server a connection exists at all.
		if err := c.initializeServer(hdr.DestCID); err != nil {
			c.log.Errorf("lazy server initialize failed: %v", err)
			return len(buf), false, true
		}
	}

	if c.role == RoleServer && hdr.Type == wire.PacketTypeInitial && len(hdr.Token) > 0 {
		c.validateRetryToken(hdr.Token)
	}

	if !c.crypto.ReadKeyAvailable(level) {
		if c.crypto.ReadKeyEverAvailable(level) {
			// key discarded already; this packet cannot be decrypted
			return hdr.HeaderLen + int(hdr.Length), false, false
		}
		c.deferDatagram(level, dg)
		return len(buf), false, true
	}

	packetEnd := hdr.HeaderLen + int(hdr.Length)
	if packetEnd > len(buf) {
		return -1, false, true
	}
	pnAndPayload := buf[hdr.HeaderLen:packetEnd]

	pn, payload, ok := c.unprotectAndDecrypt(level, KeyPhaseCurrent, buf[:hdr.HeaderLen], pnAndPayload, true)
	if !ok {
		c.stats.Recv.DecryptionFailures++
		return packetEnd, false, false
	}

	if !c.spaces[level].ackTracker.Add(pn) {
		c.stats.Recv.DuplicatePackets++
		return packetEnd, false, false // duplicate, invariant 9
	}

	if c.role == RoleServer && hdr.Type == wire.PacketTypeInitial && !c.flags.has(flagInitiatedCidUpdate) {
		c.UpdateDestCID(hdr.SrcCID)
	}
	if c.role == RoleServer && hdr.Type == wire.PacketTypeHandshake {
		c.crypto.DiscardKeys(EncryptionLevelInitial)
		c.flags.set(flagSourceAddressValidated)
		if c.send != nil {
			c.send.GrantUnlimitedAllowance()
		}
	}

	immediate, closeAbandon := c.dispatchFrames(level, payload)
	c.spaces[level].nextRecvPacketNumber = maxU64(c.spaces[level].nextRecvPacketNumber, pn+1)
	c.spaces[level].ackTracker.AckPacket(pn, immediate)
	c.setSendFlag(SendFlagAck)
	if immediate {
		c.setSendFlag(SendFlagAckImmediate)
	}
	c.stats.Recv.TotalPackets++
	return packetEnd, true, closeAbandon
}

func (c *Connection) recvShortHeaderPacket(buf []byte, dg *Datagram, deferred bool) (int, bool, bool) {
	cidLen := int(c.config.CIDLength)
	dcid, _, _, err := wire.ParseShortHeaderPrefix(buf, cidLen)
	if err != nil {
		return -1, false, true
	}
	_ = dcid
	level := EncryptionLevel1RTT

	if !c.crypto.ReadKeyAvailable(level) {
		if c.crypto.ReadKeyEverAvailable(level) {
			return -1, false, true
		}
		c.deferDatagram(level, dg)
		return len(buf), false, true
	}

	pn, payload, ok := c.unprotectAndDecrypt(level, c.spaces[level].currentKeyPhase, buf[:1+cidLen], buf[1+cidLen:], false)
	if !ok {
		if c.role == RoleClient && len(buf) >= 16 && c.cids.matchesResetToken(lastSixteen(buf)) {
			c.tryCloseInternal(closeFlags{silent: true}, uint64(StatusAborted), "", errStatelessReset)
			return -1, false, true
		}
		c.stats.Recv.DecryptionFailures++
		return -1, false, true
	}

	if !c.spaces[level].ackTracker.Add(pn) {
		c.stats.Recv.DuplicatePackets++
		return len(buf), false, false
	}

	immediate, closeAbandon := c.dispatchFrames(level, payload)
	c.spaces[level].nextRecvPacketNumber = maxU64(c.spaces[level].nextRecvPacketNumber, pn+1)
	c.spaces[level].ackTracker.AckPacket(pn, immediate)
	c.setSendFlag(SendFlagAck)
	if immediate {
		c.setSendFlag(SendFlagAckImmediate)
	}
	c.stats.Recv.TotalPackets++
	return len(buf), true, closeAbandon
}

// unprotectAndDecrypt implements spec.md §4.2 step 4: header protection
// removal, packet number decompression, and AEAD decryption. It is
// written to process one packet at a time; the spec's bulk HP-mask batch
// is an optimization over the same per-packet mask computation and is not
// repeated here (see DESIGN.md).
func (c *Connection) unprotectAndDecrypt(level EncryptionLevel, phase KeyPhase, header []byte, pnAndPayload []byte, isLong bool) (pn uint64, payload []byte, ok bool) {
	if len(pnAndPayload) < 20 { // minimum: 4-byte PN skip + 16-byte sample
		return 0, nil, false
	}
	sampleOffset := 4
	sample := pnAndPayload[sampleOffset : sampleOffset+HPSampleLength]
	mask, err := c.crypto.HeaderProtectionMask(level, sample)
	if err != nil {
		return 0, nil, false
	}

	firstByte := header[0] ^ (mask[0] & hpMaskBits(isLong))
	pnLen := wire.PacketNumberLength(firstByte, isLong)
	if wire.ReservedBitsSet(firstByte, isLong) {
		c.abortProtocolViolation("reserved header bits are not zero")
		return 0, nil, false
	}

	pnBytes := make([]byte, pnLen)
	for i := 0; i < pnLen; i++ {
		pnBytes[i] = pnAndPayload[i] ^ mask[1+i]
	}
	truncated := uint64(0)
	for _, b := range pnBytes {
		truncated = (truncated << 8) | uint64(b)
	}
	pn = wire.DecompressPacketNumber(c.spaces[level].nextRecvPacketNumber, truncated, pnLen)
	if pn > VarIntMax {
		return 0, nil, false
	}

	aad := make([]byte, 0, len(header)+pnLen)
	aad = append(aad, firstByte)
	aad = append(aad, header[1:]...)
	aad = append(aad, pnBytes...)

	ciphertext := pnAndPayload[pnLen:]
	plaintext, err := c.crypto.Open(level, phase, pn, aad, ciphertext)
	if err != nil {
		return pn, nil, false
	}
	return pn, plaintext, true
}

// hpMaskBits returns which low bits of mask[0] apply to the first byte:
// low 4 for long header, low 5 for short (spec.md §4.2 step 4a).
func hpMaskBits(isLong bool) byte {
	if isLong {
		return 0x0f
	}
	return 0x1f
}

func (c *Connection) abortProtocolViolation(reason string) {
	c.tryCloseInternal(closeFlags{}, uint64(ErrProtocolViolation), reason, newTransportError(ErrProtocolViolation, reason))
}

// deferDatagram implements spec.md §4.2 step 2: stash a datagram whose
// keys aren't available yet, subject to a per-level cap.
func (c *Connection) deferDatagram(level EncryptionLevel, dg *Datagram) {
	sp := &c.spaces[level]
	if sp.deferredCount >= int(c.config.MaxPendingDatagramsPerLevel) {
		c.log.Debugf("dropping deferred datagram at level %v, over limit", level)
		return
	}
	cp := *dg
	cp.Next = nil
	sp.deferred = append(sp.deferred, &cp)
	sp.deferredCount++
}

// flushDeferredDatagrams implements spec.md §4.2 "Deferred-datagram
// flush": once a level's read key becomes available, replay every
// datagram parked there. A datagram is never deferred twice since
// recvDatagrams(deferred=true) only re-enters unprotectAndDecrypt, never
// deferDatagram again for the same level.
func (c *Connection) flushDeferredDatagrams(level EncryptionLevel) {
	sp := &c.spaces[level]
	if len(sp.deferred) == 0 {
		return
	}
	pending := sp.deferred
	sp.deferred = nil
	sp.deferredCount = 0
	var head, tail *Datagram
	for _, dg := range pending {
		if head == nil {
			head, tail = dg, dg
		} else {
			tail.Next = dg
			tail = dg
		}
	}
	c.recvDatagrams(head, true)
}

// onTLSComplete re-checks every encryption level for newly available read
// keys and flushes anything parked there (spec.md §4.2 "Deferred-datagram
// flush", triggered by the TLS_COMPLETE operation after ProcessCryptoFrame).
func (c *Connection) onTLSComplete() {
	for level := EncryptionLevel(0); level < numEncryptionLevels; level++ {
		if c.crypto.ReadKeyAvailable(level) {
			c.flushDeferredDatagrams(level)
		}
	}
}

func levelForLongHeaderType(t wire.PacketType) EncryptionLevel {
	switch t {
	case wire.PacketTypeInitial:
		return EncryptionLevelInitial
	case wire.PacketType0RTT:
		return EncryptionLevel0RTT
	case wire.PacketTypeHandshake:
		return EncryptionLevelHandshake
	default:
		return EncryptionLevel1RTT
	}
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func lastSixteen(b []byte) [16]byte {
	var t [16]byte
	copy(t[:], b[len(b)-16:])
	return t
}

// validateRetryToken handles a client-presented Initial token (spec.md
// §4.2 step 1): any non-empty token marks the source address validated
// and grants unlimited allowance. The token is not decrypted or checked
// against anything; no Crypto method is called.
func (c *Connection) validateRetryToken(token []byte) {
	if len(token) == 0 {
		return
	}
	c.flags.set(flagSourceAddressValidated)
	if c.send != nil {
		c.send.GrantUnlimitedAllowance()
	}
}
