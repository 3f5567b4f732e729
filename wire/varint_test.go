package wire

import "testing"

func TestVarIntRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 63, 64, 16383, 16384, 1073741823, 1073741824, MaxVarInt}
	for _, v := range cases {
		buf := AppendVarInt(nil, v)
		if len(buf) != VarIntLen(v) {
			t.Fatalf("VarIntLen(%d)=%d, encoded length=%d", v, VarIntLen(v), len(buf))
		}
		got, rest, err := ConsumeVarInt(buf)
		if err != nil {
			t.Fatalf("ConsumeVarInt(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip mismatch: want %d got %d", v, got)
		}
		if len(rest) != 0 {
			t.Fatalf("expected no leftover bytes, got %d", len(rest))
		}
	}
}

func TestConsumeVarIntTooShort(t *testing.T) {
	// 2-byte encoding prefix (top bits 01) with only one byte present.
	_, _, err := ConsumeVarInt([]byte{0x40})
	if err != ErrBufferTooShort {
		t.Fatalf("expected ErrBufferTooShort, got %v", err)
	}
}

func TestDecompressPacketNumber(t *testing.T) {
	// RFC 9000 Appendix A.3 worked example: largest_pn=0xa82f30ea so
	// expected_next=largest_pn+1, truncated=0x9b32, pn_len=2 -> 0xa82f9b32.
	got := DecompressPacketNumber(0xa82f30ea+1, 0x9b32, 2)
	if got != 0xa82f9b32 {
		t.Fatalf("expected 0xa82f9b32, got 0x%x", got)
	}
}

func TestDecompressPacketNumberSmallValues(t *testing.T) {
	got := DecompressPacketNumber(1, 2, 1)
	if got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}
