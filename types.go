package quicconn

import "net"

// Role distinguishes which side of the handshake a Connection plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// EncryptionLevel is one of the four QUIC packet-number spaces (spec.md
// GLOSSARY). Order matters: it is also handshake progression order.
type EncryptionLevel int

const (
	EncryptionLevelInitial EncryptionLevel = iota
	EncryptionLevel0RTT
	EncryptionLevelHandshake
	EncryptionLevel1RTT
	numEncryptionLevels
)

func (l EncryptionLevel) String() string {
	switch l {
	case EncryptionLevelInitial:
		return "Initial"
	case EncryptionLevel0RTT:
		return "0-RTT"
	case EncryptionLevelHandshake:
		return "Handshake"
	case EncryptionLevel1RTT:
		return "1-RTT"
	default:
		return "Unknown"
	}
}

// KeyPhase distinguishes OLD/CURRENT/NEW 1-RTT traffic keys during a key
// rotation (spec.md §4.2 step 4e).
type KeyPhase int

const (
	KeyPhaseOld KeyPhase = iota
	KeyPhaseCurrent
	KeyPhaseNew
)

// QUICVersion is the only version this endpoint speaks (spec.md §1
// Non-goals: version negotiation is out of scope).
const QUICVersion uint32 = 0x00000001

// VarIntMax is the largest value a QUIC variable-length integer can encode.
const VarIntMax uint64 = (1 << 62) - 1

// MaxCIDLength bounds both source and destination connection ids.
const MaxCIDLength = 20

// HPSampleLength is the number of ciphertext bytes sampled for header
// protection (spec.md §4.2 step 3).
const HPSampleLength = 16

// endpointAddrs bundles the local/remote socket address pair a Connection
// is bound to (spec.md §3 Endpoints).
type endpointAddrs struct {
	local          *net.UDPAddr
	remote         *net.UDPAddr
	localAddrSet   bool
	remoteAddrSet  bool
}
