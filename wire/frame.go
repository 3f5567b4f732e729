package wire

// FrameType enumerates the RFC 9000 §19 frame type codes this core
// dispatches on (spec.md §4.2 step 5 "Frame dispatch").
type FrameType uint64

const (
	FramePadding            FrameType = 0x00
	FramePing               FrameType = 0x01
	FrameAck                FrameType = 0x02
	FrameAckECN             FrameType = 0x03
	FrameResetStream        FrameType = 0x04
	FrameStopSending        FrameType = 0x05
	FrameCrypto             FrameType = 0x06
	FrameNewToken           FrameType = 0x07
	FrameStreamBase         FrameType = 0x08 // 0x08-0x0f, three flag bits
	FrameStreamMax          FrameType = 0x0f
	FrameMaxData            FrameType = 0x10
	FrameMaxStreamData      FrameType = 0x11
	FrameMaxStreamsBidi     FrameType = 0x12
	FrameMaxStreamsUni      FrameType = 0x13
	FrameDataBlocked        FrameType = 0x14
	FrameStreamDataBlocked  FrameType = 0x15
	FrameStreamsBlockedBidi FrameType = 0x16
	FrameStreamsBlockedUni  FrameType = 0x17
	FrameNewConnectionID    FrameType = 0x18
	FrameRetireConnectionID FrameType = 0x19
	FramePathChallenge      FrameType = 0x1a
	FramePathResponse       FrameType = 0x1b
	FrameConnectionClose    FrameType = 0x1c
	FrameConnectionCloseApp FrameType = 0x1d
	FrameHandshakeDone      FrameType = 0x1e
)

// IsStream reports whether t is one of the eight STREAM frame variants.
func (t FrameType) IsStream() bool { return t >= FrameStreamBase && t <= FrameStreamMax }

// AllowedAtLevel implements spec.md §4.2 step 5's allow-list: Initial and
// Handshake spaces may only carry a small frame subset; 0-RTT excludes ACK.
func AllowedAtLevel(t FrameType, isInitialOrHandshake, is0RTT bool) bool {
	if isInitialOrHandshake {
		switch t {
		case FramePadding, FramePing, FrameAck, FrameAckECN, FrameCrypto, FrameConnectionClose:
			return true
		default:
			return false
		}
	}
	if is0RTT && (t == FrameAck || t == FrameAckECN) {
		return false
	}
	return true
}

// AckRange is one decoded (smallest, largest) inclusive acknowledgement
// range, in the order ACK frames encode them (largest-first, spec.md
// §4.2 step 5).
type AckRange struct {
	Smallest uint64
	Largest  uint64
}

// ParseAckFrame decodes the body of an ACK/ACK_ECN frame, given whether
// ECN counts trail the range set (RFC 9000 §19.3).
func ParseAckFrame(b []byte, ecn bool) (ranges []AckRange, ackDelay uint64, ecnCounts [3]uint64, rest []byte, err error) {
	largest, b, err := ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ecnCounts, nil, err
	}
	ackDelay, b, err = ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ecnCounts, nil, err
	}
	count, b, err := ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ecnCounts, nil, err
	}
	firstRange, b, err := ConsumeVarInt(b)
	if err != nil {
		return nil, 0, ecnCounts, nil, err
	}
	smallest := largest - firstRange
	ranges = append(ranges, AckRange{Smallest: smallest, Largest: largest})

	for i := uint64(0); i < count; i++ {
		gap, rem, err := ConsumeVarInt(b)
		if err != nil {
			return nil, 0, ecnCounts, nil, err
		}
		b = rem
		length, rem2, err := ConsumeVarInt(b)
		if err != nil {
			return nil, 0, ecnCounts, nil, err
		}
		b = rem2
		newLargest := smallest - gap - 2
		newSmallest := newLargest - length
		ranges = append(ranges, AckRange{Smallest: newSmallest, Largest: newLargest})
		smallest = newSmallest
	}

	if ecn {
		for i := 0; i < 3; i++ {
			v, rem, err := ConsumeVarInt(b)
			if err != nil {
				return nil, 0, ecnCounts, nil, err
			}
			ecnCounts[i] = v
			b = rem
		}
	}
	return ranges, ackDelay, ecnCounts, b, nil
}

// ParseCryptoFrame decodes the body of a CRYPTO frame (spec.md §4.2 step
// 5 "CRYPTO").
func ParseCryptoFrame(b []byte) (offset uint64, data []byte, rest []byte, err error) {
	offset, b, err = ConsumeVarInt(b)
	if err != nil {
		return 0, nil, nil, err
	}
	length, b, err := ConsumeVarInt(b)
	if err != nil {
		return 0, nil, nil, err
	}
	if uint64(len(b)) < length {
		return 0, nil, nil, ErrBufferTooShort
	}
	return offset, b[:length], b[length:], nil
}

// StreamFrameHeader is the decoded flag+id+offset+length prefix of one
// STREAM frame (RFC 9000 §19.8); the frame type's low 3 bits select which
// fields are present.
type StreamFrameHeader struct {
	StreamID uint64
	Offset   uint64
	HasFin   bool
}

// ParseStreamFrame decodes a STREAM frame body given its frame type byte.
func ParseStreamFrame(t FrameType, b []byte) (hdr StreamFrameHeader, data []byte, rest []byte, err error) {
	hasOffset := t&0x04 != 0
	hasLength := t&0x02 != 0
	hdr.HasFin = t&0x01 != 0

	hdr.StreamID, b, err = ConsumeVarInt(b)
	if err != nil {
		return hdr, nil, nil, err
	}
	if hasOffset {
		hdr.Offset, b, err = ConsumeVarInt(b)
		if err != nil {
			return hdr, nil, nil, err
		}
	}
	if hasLength {
		length, rem, err := ConsumeVarInt(b)
		if err != nil {
			return hdr, nil, nil, err
		}
		if uint64(len(rem)) < length {
			return hdr, nil, nil, ErrBufferTooShort
		}
		return hdr, rem[:length], rem[length:], nil
	}
	return hdr, b, nil, nil
}

// ParseNewConnectionIDFrame decodes a NEW_CONNECTION_ID frame body
// (spec.md §4.2 step 5 "NEW_CONNECTION_ID").
func ParseNewConnectionIDFrame(b []byte) (seq, retirePriorTo uint64, cid []byte, resetToken [16]byte, rest []byte, err error) {
	seq, b, err = ConsumeVarInt(b)
	if err != nil {
		return 0, 0, nil, resetToken, nil, err
	}
	retirePriorTo, b, err = ConsumeVarInt(b)
	if err != nil {
		return 0, 0, nil, resetToken, nil, err
	}
	if len(b) < 1 {
		return 0, 0, nil, resetToken, nil, ErrBufferTooShort
	}
	cidLen := int(b[0])
	b = b[1:]
	if len(b) < cidLen+16 {
		return 0, 0, nil, resetToken, nil, ErrBufferTooShort
	}
	cid = b[:cidLen]
	copy(resetToken[:], b[cidLen:cidLen+16])
	return seq, retirePriorTo, cid, resetToken, b[cidLen+16:], nil
}
