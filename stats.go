package quicconn

import "encoding/binary"

// statsEncodedSize is the flat counters-and-timings layout returned by
// ParamGet(ParamStatistics) (spec.md §4.9 "Statistics-Get returns a flat
// struct of counters and timings"): five uint64 counters, three handshake
// timestamps in Unix nanoseconds, and three int64 nanosecond durations for
// RTT, 8 bytes each.
const statsEncodedSize = 8*8 + 3*8

func encodeStats(out []byte, s *Stats) {
	binary.BigEndian.PutUint64(out[0:], s.Recv.TotalPackets)
	binary.BigEndian.PutUint64(out[8:], s.Recv.DuplicatePackets)
	binary.BigEndian.PutUint64(out[16:], s.Recv.DecryptionFailures)
	binary.BigEndian.PutUint64(out[24:], s.Recv.DroppedPackets)
	binary.BigEndian.PutUint64(out[32:], s.Send.TotalPackets)
	binary.BigEndian.PutUint64(out[40:], uint64(s.Handshake.StartTime.UnixNano()))
	binary.BigEndian.PutUint64(out[48:], uint64(s.Handshake.ConnectedTime.UnixNano()))
	binary.BigEndian.PutUint64(out[56:], uint64(s.Handshake.ConfirmedTime.UnixNano()))
	binary.BigEndian.PutUint64(out[64:], uint64(s.Rtt.SmoothedRtt))
	binary.BigEndian.PutUint64(out[72:], uint64(s.Rtt.MinRtt))
	binary.BigEndian.PutUint64(out[80:], uint64(s.Rtt.MaxRtt))
}
