package quicconn

import (
	"time"

	"github.com/kryptco/quicconn/wire"
)

// dispatchFrames implements spec.md §4.2 step 5: iterate a decrypted
// packet payload frame by frame, validating allowability for this
// encryption level and dispatching each to its handler. Returns whether
// an immediate ACK is owed and whether frame parsing was abandoned early
// (handle closed mid-parse, spec.md step 5 CONNECTION_CLOSE handling).
func (c *Connection) dispatchFrames(level EncryptionLevel, payload []byte) (ackImmediate bool, stop bool) {
	isInitialOrHandshake := level == EncryptionLevelInitial || level == EncryptionLevelHandshake
	is0RTT := level == EncryptionLevel0RTT

	for len(payload) > 0 {
		typVal, rest, err := wire.ConsumeVarInt(payload)
		if err != nil {
			c.abortFrameEncoding("truncated frame type")
			return ackImmediate, true
		}
		t := wire.FrameType(typVal)

		if !wire.AllowedAtLevel(t, isInitialOrHandshake, is0RTT) {
			c.abortProtocolViolation("frame type not allowed at this encryption level")
			return ackImmediate, true
		}

		var ok bool
		rest, ok = c.dispatchOneFrame(level, t, rest)
		if !ok {
			return ackImmediate, true
		}
		if t == wire.FramePing {
			ackImmediate = true
		}
		if t == wire.FrameConnectionClose || t == wire.FrameConnectionCloseApp {
			if c.flags.has(flagHandleClosed) {
				return ackImmediate, true
			}
		}
		payload = rest
	}
	return ackImmediate, false
}

// dispatchOneFrame handles a single frame whose type has already been
// consumed, returning the remaining payload and whether parsing may
// continue.
func (c *Connection) dispatchOneFrame(level EncryptionLevel, t wire.FrameType, b []byte) ([]byte, bool) {
	switch {
	case t == wire.FramePadding:
		for len(b) > 0 && b[0] == 0 {
			b = b[1:]
		}
		return b, true

	case t == wire.FramePing:
		return b, true

	case t == wire.FrameAck || t == wire.FrameAckECN:
		ranges, delay, ecn, rest, err := wire.ParseAckFrame(b, t == wire.FrameAckECN)
		if err != nil {
			c.abortFrameEncoding("malformed ACK frame")
			return nil, false
		}
		if c.loss != nil {
			domainRanges := make([]AckRange, len(ranges))
			for i, r := range ranges {
				domainRanges[i] = AckRange{Smallest: r.Smallest, Largest: r.Largest}
			}
			ackDelay := scaledAckDelay(delay, c.peerTP.AckDelayExponent)
			wellFormed, violation := c.loss.ProcessACKFrame(level, domainRanges,
				ackDelay, &ECNCounts{ECT0: ecn[0], ECT1: ecn[1], ECNCE: ecn[2]})
			if violation {
				c.abortProtocolViolation("ill-formed ACK frame")
				return nil, false
			}
			_ = wellFormed
		}
		return rest, true

	case t == wire.FrameCrypto:
		offset, data, rest, err := wire.ParseCryptoFrame(b)
		if err != nil {
			c.abortFrameEncoding("malformed CRYPTO frame")
			return nil, false
		}
		if c.crypto != nil {
			if err := c.crypto.ProcessCryptoFrame(level, offset, data); err != nil {
				c.abortProtocolViolation(err.Error())
				return nil, false
			}
			c.opQueue.enqueue(&operation{kind: opTLSComplete})
		}
		return rest, true

	case t == wire.FrameNewToken:
		// token persistence out of scope (spec.md §4.2 step 5 "NEW_TOKEN").
		length, rest, err := wire.ConsumeVarInt(b)
		if err != nil || uint64(len(rest)) < length {
			c.abortFrameEncoding("malformed NEW_TOKEN frame")
			return nil, false
		}
		return rest[length:], true

	case t.IsStream() || t == wire.FrameResetStream || t == wire.FrameStopSending ||
		t == wire.FrameMaxStreamData || t == wire.FrameStreamDataBlocked:
		return c.dispatchStreamFrame(t, b)

	case t == wire.FrameMaxData:
		v, rest, err := wire.ConsumeVarInt(b)
		if err != nil {
			c.abortFrameEncoding("malformed MAX_DATA frame")
			return nil, false
		}
		if v > c.peerMaxData {
			c.peerMaxData = v
			c.opQueue.enqueue(&operation{kind: opFlushSend})
		}
		return rest, true

	case t == wire.FrameMaxStreamsBidi || t == wire.FrameMaxStreamsUni:
		v, rest, err := wire.ConsumeVarInt(b)
		if err != nil {
			c.abortFrameEncoding("malformed MAX_STREAMS frame")
			return nil, false
		}
		if v > VarIntMax {
			c.abortFrameEncoding("stream limit exceeds VAR_INT_MAX")
			return nil, false
		}
		if c.streams != nil {
			if blocked := c.streams.UpdateMaxStreams(t == wire.FrameMaxStreamsBidi, v); blocked {
				c.emit(Event{Kind: EventPeerNeedsStreams})
			}
		}
		return rest, true

	case t == wire.FrameStreamsBlockedBidi || t == wire.FrameStreamsBlockedUni:
		_, rest, err := wire.ConsumeVarInt(b)
		if err != nil {
			c.abortFrameEncoding("malformed STREAMS_BLOCKED frame")
			return nil, false
		}
		return rest, true

	case t == wire.FrameNewConnectionID:
		seq, retirePriorTo, cid, token, rest, err := wire.ParseNewConnectionIDFrame(b)
		_ = retirePriorTo
		if err != nil {
			c.abortFrameEncoding("malformed NEW_CONNECTION_ID frame")
			return nil, false
		}
		c.AddDestCID(seq, cid, token)
		return rest, true

	case t == wire.FrameRetireConnectionID:
		seq, rest, err := wire.ConsumeVarInt(b)
		if err != nil {
			c.abortFrameEncoding("malformed RETIRE_CONNECTION_ID frame")
			return nil, false
		}
		if err := c.RetireSourceCID(seq); err != nil {
			c.tryCloseInternal(closeFlags{}, uint64(ErrProtocolViolation), err.Error(), err)
			return nil, false
		}
		return rest, true

	case t == wire.FramePathChallenge:
		if len(b) < 8 {
			c.abortFrameEncoding("truncated PATH_CHALLENGE frame")
			return nil, false
		}
		c.setSendFlag(SendFlagPathResponse)
		return b[8:], true

	case t == wire.FramePathResponse:
		if len(b) < 8 {
			c.abortFrameEncoding("truncated PATH_RESPONSE frame")
			return nil, false
		}
		// migration not yet implemented; accept and discard.
		return b[8:], true

	case t == wire.FrameConnectionClose || t == wire.FrameConnectionCloseApp:
		errorCode, rest, err := wire.ConsumeVarInt(b)
		if err != nil {
			c.abortFrameEncoding("malformed CONNECTION_CLOSE frame")
			return nil, false
		}
		if t == wire.FrameConnectionClose {
			if _, r2, err := wire.ConsumeVarInt(rest); err == nil {
				rest = r2 // skip frame-type field present on transport variant
			}
		}
		reasonLen, rest, err := wire.ConsumeVarInt(rest)
		if err != nil || uint64(len(rest)) < reasonLen {
			c.abortFrameEncoding("malformed CONNECTION_CLOSE frame")
			return nil, false
		}
		reason := string(rest[:reasonLen])
		c.tryCloseInternal(closeFlags{remote: true}, errorCode, reason,
			wrapTransportError(TransportErrorCode(errorCode), reason, nil))
		return rest[reasonLen:], true

	case t == wire.FrameHandshakeDone:
		if c.role == RoleClient {
			c.MarkHandshakeConfirmed()
		}
		return b, true

	default:
		c.abortFrameEncoding("unknown frame type")
		return nil, false
	}
}

func (c *Connection) dispatchStreamFrame(t wire.FrameType, b []byte) ([]byte, bool) {
	if t.IsStream() {
		hdr, data, rest, err := wire.ParseStreamFrame(t, b)
		if err != nil {
			c.abortFrameEncoding("malformed STREAM frame")
			return nil, false
		}
		if err := c.dispatchToStream(hdr.StreamID, byte(t), data); err != nil {
			return nil, false
		}
		return rest, true
	}

	streamID, rest, err := wire.ConsumeVarInt(b)
	if err != nil {
		c.abortFrameEncoding("malformed stream-control frame")
		return nil, false
	}
	switch t {
	case wire.FrameResetStream, wire.FrameStopSending:
		_, rest2, err := wire.ConsumeVarInt(rest) // error code
		if err != nil {
			c.abortFrameEncoding("malformed RESET_STREAM/STOP_SENDING frame")
			return nil, false
		}
		rest = rest2
		if t == wire.FrameResetStream {
			_, rest, err = wire.ConsumeVarInt(rest) // final size
			if err != nil {
				c.abortFrameEncoding("malformed RESET_STREAM frame")
				return nil, false
			}
		}
	case wire.FrameMaxStreamData, wire.FrameStreamDataBlocked:
		_, rest, err = wire.ConsumeVarInt(rest)
		if err != nil {
			c.abortFrameEncoding("malformed stream flow-control frame")
			return nil, false
		}
	}
	if err := c.dispatchToStream(streamID, byte(t), nil); err != nil {
		return nil, false
	}
	return rest, true
}

// dispatchToStream implements spec.md §4.2 step 5's stream lookup rule:
// create peer-initiated streams on first reference, subject to limits.
func (c *Connection) dispatchToStream(streamID uint64, frameType byte, payload []byte) error {
	if c.streams == nil {
		return nil
	}
	if _, err := c.streams.GetOrCreateForPeer(streamID); err != nil {
		c.tryCloseInternal(closeFlags{}, uint64(ErrStreamStateError), err.Error(), err)
		return err
	}
	if err := c.streams.Dispatch(streamID, frameType, payload); err != nil {
		c.tryCloseInternal(closeFlags{}, uint64(ErrStreamStateError), err.Error(), err)
		return err
	}
	return nil
}

func (c *Connection) abortFrameEncoding(reason string) {
	c.tryCloseInternal(closeFlags{}, uint64(ErrFrameEncodingError), reason, newTransportError(ErrFrameEncodingError, reason))
}

// scaledAckDelay applies the ACK Delay Exponent (RFC 9000 §19.3) to a raw
// decoded delay value. An exponent of 0 is taken as not negotiated and
// replaced by the default exponent 3.
func scaledAckDelay(raw uint64, exponent uint8) time.Duration {
	shift := exponent
	if shift == 0 {
		shift = 3
	}
	return time.Duration(raw<<shift) * time.Microsecond
}
