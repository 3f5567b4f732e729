package wire

import "testing"

func buildLongHeaderInitial(dcid, scid, token, rest []byte) []byte {
	b := []byte{0xc0, 0x00, 0x00, 0x00, 0x01} // long header, fixed bit, Initial, version 1
	b = append(b, byte(len(dcid)))
	b = append(b, dcid...)
	b = append(b, byte(len(scid)))
	b = append(b, scid...)
	b = AppendVarInt(b, uint64(len(token)))
	b = append(b, token...)
	b = AppendVarInt(b, uint64(len(rest)))
	b = append(b, rest...)
	return b
}

func TestParseLongHeaderInitial(t *testing.T) {
	dcid := []byte{1, 2, 3, 4}
	scid := []byte{5, 6, 7, 8}
	token := []byte{0xaa, 0xbb}
	payload := []byte{0x01, 0x02, 0x03, 0x04} // pretend pn+payload
	raw := buildLongHeaderInitial(dcid, scid, token, payload)

	hdr, rest, err := ParseLongHeader(raw)
	if err != nil {
		t.Fatalf("ParseLongHeader: %v", err)
	}
	if hdr.Type != PacketTypeInitial {
		t.Fatalf("expected Initial, got %v", hdr.Type)
	}
	if hdr.Version != 1 {
		t.Fatalf("expected version 1, got 0x%x", hdr.Version)
	}
	if string(hdr.DestCID) != string(dcid) || string(hdr.SrcCID) != string(scid) {
		t.Fatalf("unexpected CIDs: dcid=%v scid=%v", hdr.DestCID, hdr.SrcCID)
	}
	if string(hdr.Token) != string(token) {
		t.Fatalf("unexpected token: %v", hdr.Token)
	}
	if int(hdr.Length) != len(payload) {
		t.Fatalf("expected length %d, got %d", len(payload), hdr.Length)
	}
	if len(rest) != len(payload) {
		t.Fatalf("expected %d remaining bytes, got %d", len(payload), len(rest))
	}
}

func TestParseLongHeaderVersionNegotiation(t *testing.T) {
	raw := []byte{0x80, 0x00, 0x00, 0x00, 0x00, 0x01, 0x02}
	hdr, _, err := ParseLongHeader(raw)
	if err != nil {
		t.Fatalf("ParseLongHeader: %v", err)
	}
	if hdr.Type != PacketTypeVersionNegotiation {
		t.Fatalf("expected version negotiation, got %v", hdr.Type)
	}
}

func TestParseLongHeaderRejectsShortHeaderInput(t *testing.T) {
	_, _, err := ParseLongHeader([]byte{0x40, 0, 0, 0, 0, 0})
	if err == nil {
		t.Fatalf("expected error parsing a short-header buffer as long header")
	}
}

func TestParseShortHeaderPrefix(t *testing.T) {
	dcid := []byte{9, 9, 9, 9, 9, 9, 9, 9}
	b := append([]byte{0x44}, dcid...) // fixed bit + key phase bit set
	b = append(b, 0x01, 0x02, 0x03, 0x04)

	got, rest, keyPhase, err := ParseShortHeaderPrefix(b, len(dcid))
	if err != nil {
		t.Fatalf("ParseShortHeaderPrefix: %v", err)
	}
	if string(got) != string(dcid) {
		t.Fatalf("unexpected dcid: %v", got)
	}
	if !keyPhase {
		t.Fatalf("expected key phase bit set")
	}
	if len(rest) != 4 {
		t.Fatalf("expected 4 remaining bytes, got %d", len(rest))
	}
}

func TestReservedBitsSet(t *testing.T) {
	if !ReservedBitsSet(0x0c, true) {
		t.Fatalf("expected long reserved bits detected")
	}
	if ReservedBitsSet(0xf3, true) {
		t.Fatalf("did not expect long reserved bits set")
	}
	if !ReservedBitsSet(0x18, false) {
		t.Fatalf("expected short reserved bits detected")
	}
}

func TestPacketNumberLength(t *testing.T) {
	if got := PacketNumberLength(0x03, true); got != 4 {
		t.Fatalf("expected pn length 4, got %d", got)
	}
	if got := PacketNumberLength(0x00, false); got != 1 {
		t.Fatalf("expected pn length 1, got %d", got)
	}
}
