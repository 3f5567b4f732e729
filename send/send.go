// Package send implements the quicconn.Send collaborator: the outbound
// side of the pipeline recv.go implements for inbound packets — flag
// bookkeeping, anti-amplification allowance, pacing, and the minimal
// packet assembly needed to put CONNECTION_CLOSE/PING control traffic
// on the wire (spec.md §6 Send, §4.2's header-protect-
// then-seal sequence run in reverse).
//
// STREAM/ACK frame content assembly — which needs buffered application
// data and ack-range bookkeeping this collaborator has no access to — is
// out of scope here; see DESIGN.md for why the full frame-writer was not
// built out to the same depth as the frame reader in frame.go.
package send

import (
	"sync"

	"github.com/kryptco/quicconn"
	"github.com/kryptco/quicconn/wire"
)

// Sender is the concrete quicconn.Send implementation. It is constructed
// before the owning Connection exists and bound to it via Bind once
// NewConnection returns, mirroring the chicken-and-egg wiring every
// collaborator in this module faces.
type Sender struct {
	mu sync.Mutex

	conn *quicconn.Connection

	flags quicconn.SendFlag

	// Fields named per spec.md §6's Send collaborator field list.
	InitialToken            []byte
	PeerMaxData              uint64
	Allowance                uint64
	SpinBit                  bool
	PathMtu                  uint32
	LastPathChallengeReceived []byte

	unlimitedAllowance bool
}

// New returns an unbound Sender; call Bind once the Connection it serves
// has been constructed.
func New(pathMtu uint32) *Sender {
	return &Sender{PathMtu: pathMtu}
}

// Bind attaches the owning Connection. Required before QueueFlush can do
// anything beyond bookkeeping.
func (s *Sender) Bind(c *quicconn.Connection) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

func (s *Sender) SetSendFlag(flag quicconn.SendFlag) {
	s.mu.Lock()
	s.flags |= flag
	s.mu.Unlock()
}

// SetInitialToken caches a server-issued Retry token (or NEW_TOKEN value)
// so the next retransmitted Initial carries it (spec.md §4.8: "Cache the
// 16-byte or longer token into SendState").
func (s *Sender) SetInitialToken(token []byte) {
	s.mu.Lock()
	s.InitialToken = append([]byte(nil), token...)
	s.mu.Unlock()
}

func (s *Sender) IncreaseAllowance(bytes uint64) {
	s.mu.Lock()
	s.Allowance += bytes
	s.mu.Unlock()
}

func (s *Sender) HasUnlimitedAllowance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlimitedAllowance
}

func (s *Sender) GrantUnlimitedAllowance() {
	s.mu.Lock()
	s.unlimitedAllowance = true
	s.mu.Unlock()
}

// ProcessDelayedAckTimer is a no-op here: without buffered ack-range
// state (see package doc), there is nothing this collaborator can flush
// beyond what QueueFlush's CONNECTION_CLOSE/PING path already covers.
func (s *Sender) ProcessDelayedAckTimer() {}

// ApplyPacing is a no-op placeholder; spec.md's pacing timer still fires
// and clears ack-adjacent work through QueueFlush, it just never
// throttles packet emission rate in this build.
func (s *Sender) ApplyPacing() {}

// QueueFlush implements the FLUSH_SEND operation: take whatever flags
// are pending and, if any of them warrant an outbound packet, build and
// write exactly one.
func (s *Sender) QueueFlush() {
	s.mu.Lock()
	flags := s.flags
	s.flags = 0
	conn := s.conn
	s.mu.Unlock()

	if conn == nil || flags == 0 {
		return
	}
	if !s.HasUnlimitedAllowance() {
		s.mu.Lock()
		if s.Allowance < uint64(s.PathMtu) {
			s.mu.Unlock()
			return
		}
		s.Allowance -= uint64(s.PathMtu)
		s.mu.Unlock()
	}

	level := conn.HighestAvailableSendLevel()
	payload := buildPayload(flags)
	if len(payload) == 0 {
		return
	}

	pkt, err := assembleShortHeaderPacket(conn, level, payload)
	if err != nil || pkt == nil {
		return
	}
	conn.WriteDatagram(pkt)
}

// buildPayload turns pending send flags into the frame bytes a minimal
// control packet carries (PADDING, PING, CONNECTION_CLOSE); STREAM/ACK
// content is intentionally absent, see package doc.
func buildPayload(flags quicconn.SendFlag) []byte {
	var payload []byte
	if flags&quicconn.SendFlagConnectionClose != 0 {
		payload = append(payload, byte(wire.FrameConnectionClose))
		payload = wire.AppendVarInt(payload, 0) // error code
		payload = wire.AppendVarInt(payload, 0) // frame type triggering close, 0 = unknown
		payload = wire.AppendVarInt(payload, 0) // reason length
	}
	if flags&quicconn.SendFlagPing != 0 {
		payload = append(payload, byte(wire.FramePing))
	}
	if len(payload) > 0 && len(payload) < 4 {
		for len(payload) < 4 {
			payload = append(payload, byte(wire.FramePadding))
		}
	}
	return payload
}

// assembleShortHeaderPacket encodes a 1-RTT short header around payload,
// seals it, and applies header protection (spec.md §4.2 step 3/4 run in
// reverse). Non-1RTT levels are skipped: Initial/Handshake control
// traffic needs a long header with a length field this minimal path
// does not build.
func assembleShortHeaderPacket(conn *quicconn.Connection, level quicconn.EncryptionLevel, payload []byte) ([]byte, error) {
	if level != quicconn.EncryptionLevel1RTT {
		return nil, nil
	}
	dcid := conn.CurrentDestCID()
	if dcid == nil {
		return nil, nil
	}
	pn := conn.NextSendPacketNumber(level)
	phase := conn.CurrentKeyPhase()

	header := make([]byte, 0, 1+len(dcid)+4)
	firstByte := byte(0x43) // fixed bit set, short header, pn length 4 (low bits 11), key phase 0
	header = append(header, firstByte)
	header = append(header, dcid...)
	pnBytes := []byte{byte(pn >> 24), byte(pn >> 16), byte(pn >> 8), byte(pn)}
	header = append(header, pnBytes...)

	ciphertext, err := conn.SealPacket(level, phase, pn, header, payload)
	if err != nil {
		return nil, err
	}

	packet := append(append([]byte(nil), header...), ciphertext...)

	sampleOffset := len(header)
	if sampleOffset+16 > len(packet) {
		return packet, nil // too short to sample; send unprotected rather than drop
	}
	mask, err := conn.HeaderProtectionMaskForSend(level, packet[sampleOffset:sampleOffset+16])
	if err != nil {
		return packet, nil
	}
	packet[0] ^= mask[0] & 0x1f
	for i := 0; i < 4; i++ {
		packet[len(header)-4+i] ^= mask[i+1]
	}
	return packet, nil
}
