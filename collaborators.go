package quicconn

import (
	"net"
	"time"
)

// Crypto is the TLS engine collaborator (spec.md §6): it owns the
// handshake, hands out per-level read/write keys and header-protection
// masks, and supplies the negotiated transport parameters.
type Crypto interface {
	Initialize(role Role, initialDestCID []byte) error
	Restart(completeReset bool, newInitialDestCID []byte) error
	ProcessCryptoFrame(level EncryptionLevel, offset uint64, data []byte) error
	DiscardKeys(level EncryptionLevel)
	ReadKeyAvailable(level EncryptionLevel) bool
	ReadKeyEverAvailable(level EncryptionLevel) bool
	GenerateNewKeyPhase() error
	HeaderProtectionMask(level EncryptionLevel, sample []byte) ([16]byte, error)
	Open(level EncryptionLevel, phase KeyPhase, packetNumber uint64, aad, ciphertext []byte) (plaintext []byte, err error)
	Seal(level EncryptionLevel, phase KeyPhase, packetNumber uint64, aad, plaintext []byte) (ciphertext []byte, err error)
	SetLocalTransportParameters(tp TransportParameters) error
	PeerTransportParameters() (TransportParameters, bool)
}

// LossDetection is the ACK/retransmission collaborator (spec.md §6).
type LossDetection interface {
	ProcessACKFrame(level EncryptionLevel, ackRanges []AckRange, ackDelay time.Duration, ecnCounts *ECNCounts) (wellFormed bool, protocolViolation bool)
	ProbeTimeout() time.Duration
	OnLossTimerExpired(level EncryptionLevel)
	Reset()
}

// CongestionControl is the send-rate collaborator (spec.md §6).
type CongestionControl interface {
	Reset()
	ApplySettings(initialWindow, minWindow uint64)
}

// AckRange is an inclusive [Smallest, Largest] packet-number range decoded
// from an ACK frame.
type AckRange struct {
	Smallest uint64
	Largest  uint64
}

// ECNCounts is the optional ECN counter triple carried by ACK_ECN frames.
type ECNCounts struct {
	ECT0, ECT1, ECNCE uint64
}

// SendFlag bits request outbound work the next FLUSH_SEND operation must
// perform (spec.md §4.1, §6 Send collaborator).
type SendFlag uint32

const (
	SendFlagAck SendFlag = 1 << iota
	SendFlagAckImmediate
	SendFlagRetireConnectionID
	SendFlagNewConnectionID
	SendFlagConnectionClose
	SendFlagPathResponse
	SendFlagPing
	SendFlagCrypto
)

// Send is the outbound-assembly collaborator (spec.md §6): it owns send
// flags, anti-amplification allowance, pacing, and the fields listed
// verbatim in spec.md ("InitialToken, PeerMaxData, Allowance, SpinBit,
// PathMtu, LastPathChallengeReceived").
type Send interface {
	SetSendFlag(flag SendFlag)
	QueueFlush()
	IncreaseAllowance(bytes uint64)
	HasUnlimitedAllowance() bool
	GrantUnlimitedAllowance()
	ProcessDelayedAckTimer()
	ApplyPacing()
	SetInitialToken(token []byte)
}

// StreamSet is the stream-multiplexing collaborator (spec.md §6, §4.11).
type StreamSet interface {
	Initialize(maxStreamsBidi, maxStreamsUni uint64)
	UpdateMaxStreams(bidi bool, max uint64) (blockedIndicated bool)
	GetOrCreateForPeer(streamID uint64) (exists bool, err error)
	Dispatch(streamID uint64, frameType byte, payload []byte) error
	ShutdownAll(errorCode uint64, appError bool)
	DrainClosed()
	Rundown()
}

// Binding is the UDP socket / CID-routing collaborator (spec.md §6).
type Binding interface {
	RegisterSourceCID(cid []byte, conn *Connection) (ok bool)
	UnregisterSourceCID(cid []byte)
	DeriveResetToken(cid []byte) [16]byte
	LocalAddress() *net.UDPAddr
	PathMTU() uint32
	MoveSourceCIDs(conn *Connection, newLocal *net.UDPAddr)
	WriteTo(data []byte, to *net.UDPAddr) (int, error)
}

// TimerWheel is the external timer-wheel collaborator (spec.md §6):
// UpdateConnection re-reads the connection's first timer expiration.
type TimerWheel interface {
	UpdateConnection(c *Connection)
}

// Worker schedules connections for drain (spec.md §6).
type Worker interface {
	Queue(c *Connection)
}

// Session is the server-name cache / registration-scoped collaborator
// (spec.md §6, §4.12).
type Session interface {
	ServerName() string
	CacheToken(serverName string, token []byte) // intentional no-op, §4.12
	Unregister(c *Connection)
}

// EventKind enumerates outward indications (spec.md §6 Events).
type EventKind int

const (
	EventShutdownInitiatedByPeer EventKind = iota
	EventShutdownInitiatedByTransport
	EventShutdownComplete
	EventPeerAddressChanged
	EventPeerNeedsStreams
)

// Event is emitted to the owning application; ClientCallback consumes it.
type Event struct {
	Kind EventKind

	ErrorCode              uint64
	Status                 Status
	PeerAcknowledgedShutdown bool
	AppClosed              bool
	NewRemoteAddress       *net.UDPAddr
}

// ClientCallback is the application capability replacing the source's
// dynamic-dispatch callback pointer (spec.md §9 design notes): "emit event
// E(args); returns status," guarded so callbacks never re-enter the drain.
type ClientCallback func(c *Connection, ev Event) error
