package quicconn

import "time"

// Config groups the tunable knobs a Connection is constructed with, and
// that ParamSet may later adjust (see params.go). Grouped the way the
// teacher groups related timeouts into one struct instead of loose
// arguments.
type Config struct {
	IdleTimeout      time.Duration
	MaxAckDelay      time.Duration
	AckDelayExponent uint8
	KeepAliveInterval time.Duration

	// ClosePTOCount is how many times a local close retransmits
	// CONNECTION_CLOSE from the SHUTDOWN timer before completing (see
	// close.go). The timer is armed for one PTO after the close and for
	// 2*PTO after each retransmission; the PTO is not multiplied by this
	// count.
	ClosePTOCount uint32

	InitialMaxData                 uint64
	InitialMaxStreamDataBidiLocal   uint64
	InitialMaxStreamDataBidiRemote  uint64
	InitialMaxStreamDataUni         uint64
	InitialMaxStreamsBidi           uint64
	InitialMaxStreamsUni            uint64

	MaxUDPPayloadSize       uint32
	ActiveConnectionIDLimit uint8
	DisableActiveMigration  bool

	MaxOperationsPerDrain      uint32
	MaxPendingDatagramsPerLevel uint32
	ReceiveQueueMax            uint32
	MaxCryptoBatchCount        uint32

	CIDLength            uint8
	CIDMaxCollisionRetry uint32

	UsePacing     bool
	UseSendBuffer bool
}

// DefaultConfig returns the knobs a freshly allocated Connection starts
// with, before any peer transport parameters or ParamSet calls apply.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:       30 * time.Second,
		MaxAckDelay:       25 * time.Millisecond,
		AckDelayExponent:  3,
		KeepAliveInterval: 0,

		ClosePTOCount: 3,

		InitialMaxData:                1 << 20,
		InitialMaxStreamDataBidiLocal:  1 << 16,
		InitialMaxStreamDataBidiRemote: 1 << 16,
		InitialMaxStreamDataUni:        1 << 16,
		InitialMaxStreamsBidi:          100,
		InitialMaxStreamsUni:           100,

		MaxUDPPayloadSize:       1350,
		ActiveConnectionIDLimit: 4,
		DisableActiveMigration:  true,

		MaxOperationsPerDrain:       16,
		MaxPendingDatagramsPerLevel: 4,
		ReceiveQueueMax:             256,
		MaxCryptoBatchCount:         16,

		CIDLength:            8,
		CIDMaxCollisionRetry: 8,

		UsePacing:     true,
		UseSendBuffer: true,
	}
}

// maxDuration returns the larger of a and b, as used by the repeated
// max(15ms, 2*SmoothedRtt) computation in spec.md §4.5 for the
// draining-period deadline.
func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
