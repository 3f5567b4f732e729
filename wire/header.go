package wire

import "fmt"

// PacketType distinguishes the four long-header types plus the
// short-header (1-RTT) form (spec.md GLOSSARY).
type PacketType int

const (
	PacketTypeInitial PacketType = iota
	PacketType0RTT
	PacketTypeHandshake
	PacketTypeRetry
	PacketTypeShort
	PacketTypeVersionNegotiation
)

const (
	longHeaderBit  = 0x80
	fixedBit       = 0x40
	longTypeMask   = 0x30
	longPnLenMask  = 0x03
	shortKeyPhase  = 0x04
	shortPnLenMask = 0x03
	reservedLongBits  = 0x0c
	reservedShortBits = 0x18
)

// LongHeader is the decoded, still header-protected form of a long-header
// packet (spec.md §4.2 step 1 "Header validate").
type LongHeader struct {
	Type        PacketType
	Version     uint32
	DestCID     []byte
	SrcCID      []byte
	Token       []byte // Initial only
	Length      uint64 // remaining bytes: packet number + payload
	HeaderLen   int    // bytes consumed before the packet-number field
	FirstByte   byte
}

// ParseLongHeader validates and decodes everything up to (not including)
// the protected packet-number field (spec.md §4.2 step 1).
func ParseLongHeader(b []byte) (*LongHeader, []byte, error) {
	if len(b) < 6 {
		return nil, nil, ErrBufferTooShort
	}
	first := b[0]
	if first&longHeaderBit == 0 {
		return nil, nil, fmt.Errorf("wire: not a long header packet")
	}
	version := uint32(b[1])<<24 | uint32(b[2])<<16 | uint32(b[3])<<8 | uint32(b[4])
	rest := b[5:]
	if version == 0 {
		return &LongHeader{Type: PacketTypeVersionNegotiation, Version: version, FirstByte: first}, rest, nil
	}

	var typ PacketType
	switch (first & longTypeMask) >> 4 {
	case 0:
		typ = PacketTypeInitial
	case 1:
		typ = PacketType0RTT
	case 2:
		typ = PacketTypeHandshake
	case 3:
		typ = PacketTypeRetry
	}

	if len(rest) < 1 {
		return nil, nil, ErrBufferTooShort
	}
	dcidLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < dcidLen {
		return nil, nil, ErrBufferTooShort
	}
	dcid := rest[:dcidLen]
	rest = rest[dcidLen:]

	if len(rest) < 1 {
		return nil, nil, ErrBufferTooShort
	}
	scidLen := int(rest[0])
	rest = rest[1:]
	if len(rest) < scidLen {
		return nil, nil, ErrBufferTooShort
	}
	scid := rest[:scidLen]
	rest = rest[scidLen:]

	h := &LongHeader{Type: typ, Version: version, DestCID: dcid, SrcCID: scid, FirstByte: first}

	if typ == PacketTypeRetry {
		h.Token = rest
		return h, nil, nil
	}

	if typ == PacketTypeInitial {
		tokenLen, remAfterLen, err := ConsumeVarInt(rest)
		if err != nil {
			return nil, nil, err
		}
		if uint64(len(remAfterLen)) < tokenLen {
			return nil, nil, ErrBufferTooShort
		}
		h.Token = remAfterLen[:tokenLen]
		rest = remAfterLen[tokenLen:]
	}

	length, remAfterLength, err := ConsumeVarInt(rest)
	if err != nil {
		return nil, nil, err
	}
	h.Length = length
	h.HeaderLen = len(b) - len(remAfterLength)
	return h, remAfterLength, nil
}

// ParseShortHeaderPrefix takes dcidLen from the caller, fixed per
// spec.md §3: a connection always
// knows its own source CID length and uses it to size short-header DCIDs.
func ParseShortHeaderPrefix(b []byte, dcidLen int) (destCID []byte, rest []byte, keyPhaseBit bool, err error) {
	if len(b) < 1+dcidLen {
		return nil, nil, false, ErrBufferTooShort
	}
	first := b[0]
	if first&longHeaderBit != 0 {
		return nil, nil, false, fmt.Errorf("wire: not a short header packet")
	}
	return b[1 : 1+dcidLen], b[1+dcidLen:], first&shortKeyPhase != 0, nil
}

// ReservedBitsSet checks the two reserved header bits that must be zero
// after header-protection removal (spec.md §4.2 step 4i).
func ReservedBitsSet(firstByte byte, isLong bool) bool {
	if isLong {
		return firstByte&reservedLongBits != 0
	}
	return firstByte&reservedShortBits != 0
}

// PacketNumberLength extracts the (already unprotected) packet-number
// length from the first byte: the low 2 bits plus one, in both header forms.
func PacketNumberLength(firstByte byte, isLong bool) int {
	if isLong {
		return int(firstByte&longPnLenMask) + 1
	}
	return int(firstByte&shortPnLenMask) + 1
}
