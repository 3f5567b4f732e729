package quicconn

import "time"

// TransportParameters is the out-of-band settings bundle exchanged inside
// the TLS handshake (spec.md §4.7, GLOSSARY).
type TransportParameters struct {
	InitialMaxData                 uint64
	InitialMaxStreamDataBidiLocal  uint64
	InitialMaxStreamDataBidiRemote uint64
	InitialMaxStreamDataUni        uint64
	InitialMaxStreamsBidi          uint64
	InitialMaxStreamsUni           uint64
	MaxUDPPayloadSize              uint32
	IdleTimeout                    time.Duration
	MaxAckDelay                    time.Duration
	AckDelayExponent               uint8
	ActiveConnectionIDLimit        uint8
	DisableActiveMigration         bool

	// StatelessResetToken is set by servers only, derived from the first
	// source CID (spec.md §4.7).
	StatelessResetToken    [16]byte
	HasStatelessResetToken bool

	// OriginalConnectionID is set by servers only when a Retry was issued
	// (spec.md §4.7, §4.8).
	OriginalConnectionID    []byte
	HasOriginalConnectionID bool
}

// LocalTransportParameters builds the outbound parameter set at handshake
// configure time (spec.md §4.7 "Outbound").
func (c *Connection) LocalTransportParameters() TransportParameters {
	tp := TransportParameters{
		InitialMaxData:                 c.config.InitialMaxData,
		InitialMaxStreamDataBidiLocal:  c.config.InitialMaxStreamDataBidiLocal,
		InitialMaxStreamDataBidiRemote: c.config.InitialMaxStreamDataBidiRemote,
		InitialMaxStreamDataUni:        c.config.InitialMaxStreamDataUni,
		InitialMaxStreamsBidi:          c.config.InitialMaxStreamsBidi,
		InitialMaxStreamsUni:           c.config.InitialMaxStreamsUni,
		MaxUDPPayloadSize:              c.config.MaxUDPPayloadSize,
		IdleTimeout:                    c.config.IdleTimeout,
		ActiveConnectionIDLimit:        c.config.ActiveConnectionIDLimit,
		DisableActiveMigration:         c.config.DisableActiveMigration,
	}
	if c.config.AckDelayExponent != 3 {
		tp.AckDelayExponent = c.config.AckDelayExponent
	}
	if c.role == RoleServer {
		if first := c.cids.sourceHead; first != nil && c.binding != nil {
			tp.StatelessResetToken = c.binding.DeriveResetToken(first.Data)
			tp.HasStatelessResetToken = true
		}
		if c.flags.has(flagReceivedRetryPacket) || len(c.cids.origCID) > 0 {
			tp.OriginalConnectionID = c.cids.origCID
			tp.HasOriginalConnectionID = len(c.cids.origCID) > 0
		}
	}
	return tp
}

// ApplyPeerTransportParameters validates and applies the peer's transport
// parameters at the crypto callback (spec.md §4.7 "Inbound").
func (c *Connection) ApplyPeerTransportParameters(tp TransportParameters) error {
	if c.role == RoleClient {
		if c.flags.has(flagReceivedRetryPacket) {
			if !tp.HasOriginalConnectionID || !bytesEqual(tp.OriginalConnectionID, c.cids.origCID) {
				return newTransportError(ErrTransportParameterError, "missing or mismatched original_connection_id after retry")
			}
		} else if tp.HasOriginalConnectionID {
			return newTransportError(ErrTransportParameterError, "unexpected original_connection_id without retry")
		}
		if tp.HasStatelessResetToken {
			if first := c.cids.destHead; first != nil {
				first.StatelessResetToken = tp.StatelessResetToken
				first.HasResetToken = true
			}
		}
	}
	c.peerTP = tp
	c.peerMaxData = tp.InitialMaxData
	c.peerMaxStreamsBidi = tp.InitialMaxStreamsBidi
	c.peerMaxStreamsUni = tp.InitialMaxStreamsUni
	if tp.MaxAckDelay > 0 {
		c.config.MaxAckDelay = tp.MaxAckDelay
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
