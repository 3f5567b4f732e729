package quicconn

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// packetSpace is the per-encryption-level state from spec.md §3
// ("Per-encryption-level packet spaces").
type packetSpace struct {
	nextRecvPacketNumber uint64
	nextSendPacketNumber uint64
	ackTracker           ackTracker

	deferred      []*Datagram
	deferredCount int

	// 1-RTT only
	currentKeyPhase              KeyPhase
	readKeyPhaseStartPacketNumber uint64
	awaitingKeyPhaseConfirmation bool
}

// Datagram is one UDP datagram handed to the connection by the datapath
// (spec.md §4.2). It may contain multiple coalesced QUIC packets.
type Datagram struct {
	Data       []byte
	RemoteAddr *net.UDPAddr
	Next       *Datagram // intrusive singly linked chain, datapath pool idiom
}

// Connection is the top-level per-connection object (spec.md §3).
type Connection struct {
	mu sync.Mutex // not locked anywhere in this package; drain-loop-owned
	// state (spec.md §5) is unguarded, the operation queue and the receive
	// intake list carry their own locks, and RefCount is updated atomically.

	correlationID uuid.UUID
	role          Role

	flags  flagSet
	config Config

	addrs endpointAddrs

	version uint32

	refCount int32 // atomic

	// RTT (spec.md §3 Timing, §4.6)
	smoothedRtt  time.Duration
	rttVariance  time.Duration
	minRtt       time.Duration
	maxRtt       time.Duration
	latestRtt    time.Duration
	firstRttSampleAt time.Time

	timers timerArray

	cids cidManager

	spaces [numEncryptionLevels]packetSpace

	opQueue opQueue

	intake intakeList

	closeState closeState

	peerTP             TransportParameters
	havePeerTP         bool
	peerMaxData        uint64
	peerMaxStreamsBidi uint64
	peerMaxStreamsUni  uint64

	spinBit bool

	stats Stats

	// collaborators (spec.md §6), all non-owning back references except
	// Crypto/LossDetection/CongestionControl/StreamSet which this
	// connection exclusively drives.
	crypto     Crypto
	loss       LossDetection
	cc         CongestionControl
	send       Send
	streams    StreamSet
	binding    Binding
	timerWheel TimerWheel
	worker     Worker
	session    Session

	callback ClientCallback
	callbackCtx interface{}

	log *loggerHandle
}

// Stats is the flat counters-and-timings struct returned by the
// Statistics-Get parameter (spec.md §4.9).
type Stats struct {
	Recv struct {
		TotalPackets      uint64
		DuplicatePackets  uint64
		DecryptionFailures uint64
		DroppedPackets    uint64
	}
	Send struct {
		TotalPackets uint64
	}
	Handshake struct {
		StartTime      time.Time
		ConnectedTime  time.Time
		ConfirmedTime  time.Time
	}
	Rtt struct {
		SmoothedRtt time.Duration
		MinRtt      time.Duration
		MaxRtt      time.Duration
	}
}

// loggerHandle is a tiny indirection so Connection doesn't need to import
// op/go-logging's concrete type directly in every file that touches c.log;
// see logging.go for SetupLogging and registration/ for the shared logger
// a Registration hands every Connection it owns.
type loggerHandle struct {
	prefix string
}

func (l *loggerHandle) Errorf(format string, args ...interface{}) {
	log.Error(fmt.Sprintf("[%s] "+format, append([]interface{}{l.prefix}, args...)...))
}
func (l *loggerHandle) Noticef(format string, args ...interface{}) {
	log.Notice(fmt.Sprintf("[%s] "+format, append([]interface{}{l.prefix}, args...)...))
}
func (l *loggerHandle) Debugf(format string, args ...interface{}) {
	log.Debug(fmt.Sprintf("[%s] "+format, append([]interface{}{l.prefix}, args...)...))
}

// NewConnection allocates a Connection (spec.md Lifecycle: "Allocated").
// Clients initialize crypto eagerly; servers defer it to the first drain
// (spec.md §4.1 "Server lazy initialization").
func NewConnection(role Role, config Config, crypto Crypto, loss LossDetection, cc CongestionControl, send Send, streams StreamSet, binding Binding, timerWheel TimerWheel, worker Worker, session Session, callback ClientCallback) *Connection {
	id, err := uuid.NewRandom()
	if err != nil {
		id = uuid.Nil
	}
	c := &Connection{
		correlationID: id,
		role:          role,
		config:        config,
		crypto:        crypto,
		loss:          loss,
		cc:            cc,
		send:          send,
		streams:       streams,
		binding:       binding,
		timerWheel:    timerWheel,
		worker:        worker,
		session:       session,
		callback:      callback,
		log:           &loggerHandle{prefix: id.String()[:8]},
	}
	c.flags.set(flagAllocated)
	c.flags.set(flagShareBinding)
	c.timers.init()
	if binding != nil {
		c.flags.set(flagLocalAddressSet)
	}
	if role == RoleClient {
		if err := c.initialize(); err != nil {
			c.log.Errorf("eager client initialize failed: %v", err)
		}
	}
	return c
}

// initialize runs crypto setup and mints the first source/destination
// CIDs (spec.md Lifecycle: "Initialized").
func (c *Connection) initialize() error {
	return c.initializeWithInitialDCID(nil)
}

// initializeServer is the server's half of lazy initialization (spec.md
// §4.1): the first Initial packet received carries the client-chosen
// destination CID that both sides must derive initial secrets from (RFC
// 9001 §5.2), which a server has no other way to learn before this point.
func (c *Connection) initializeServer(clientDestCID []byte) error {
	return c.initializeWithInitialDCID(clientDestCID)
}

func (c *Connection) initializeWithInitialDCID(serverInitialDCID []byte) error {
	if c.flags.has(flagInitialized) {
		return nil
	}
	if c.role == RoleClient {
		if err := c.seedInitialDestCID(MaxCIDLength); err != nil {
			return err
		}
	}
	first, err := c.GenerateNewSourceCid(true)
	if err != nil {
		return err
	}
	_ = first

	var dcidBytes []byte
	if c.role == RoleServer {
		dcidBytes = serverInitialDCID
	} else if dest := c.cids.firstUsableDestCID(); dest != nil {
		dcidBytes = dest.Data
	}

	if c.crypto != nil {
		if err := c.crypto.Initialize(c.role, dcidBytes); err != nil {
			return err
		}
		if err := c.crypto.SetLocalTransportParameters(c.LocalTransportParameters()); err != nil {
			return err
		}
	}
	c.flags.set(flagInitialized)
	c.streams.Initialize(c.config.InitialMaxStreamsBidi, c.config.InitialMaxStreamsUni)
	return nil
}

// Start marks the connection Started (spec.md Lifecycle) — the point at
// which a client fires its first Initial packet, or a server becomes
// eligible to respond. REMOTE_ADDRESS may only be set before Start
// (spec.md §4.9).
func (c *Connection) Start() error {
	if err := c.initialize(); err != nil {
		return err
	}
	c.flags.set(flagStarted)
	c.stats.Handshake.StartTime = time.Now()
	return nil
}

// markConnected sets Connected (spec.md Lifecycle), once, on first
// handshake success.
func (c *Connection) markConnected() {
	if c.flags.has(flagConnected) {
		return
	}
	c.flags.set(flagConnected)
	c.stats.Handshake.ConnectedTime = time.Now()
	if c.role == RoleClient && c.binding != nil {
		// invariant 4: no "handshake connection" slot is accounted to the
		// binding, here or in binding/, so there is nothing to reverse.
	}
}

// MarkHandshakeConfirmed sets HandshakeConfirmed (spec.md Lifecycle),
// invoked once the crypto collaborator reports 1-RTT keys are usable in
// both directions.
func (c *Connection) MarkHandshakeConfirmed() {
	if c.flags.has(flagHandshakeConfirmed) {
		return
	}
	c.markConnected()
	c.flags.set(flagHandshakeConfirmed)
	c.stats.Handshake.ConfirmedTime = time.Now()
	c.timers.cancel(c, timerLossDetection) // PTO armed by loss detection itself going forward
}

// AddRef/Release implement the atomic reference count from spec.md
// invariant 1.
func (c *Connection) AddRef() { atomic.AddInt32(&c.refCount, 1) }

// Release decrements RefCount and runs Free exactly once when it reaches
// zero (spec.md invariant 1).
func (c *Connection) Release() {
	if atomic.AddInt32(&c.refCount, -1) == 0 {
		c.free()
	}
}

func (c *Connection) free() {
	if c.flags.has(flagFreed) {
		return
	}
	c.flags.set(flagFreed)
	if c.session != nil {
		c.session.Unregister(c)
	}
}

// Uninitialize implements spec.md Lifecycle's HandleClosed -> Uninitialized
// step, run once from the drain loop after ShutdownComplete: remove this
// connection's CID table entries from the binding, then clear the
// back-pointer (spec.md §9 "cyclic back-references" contract — "cleared
// during Uninitialize, only after CID table entries are removed").
func (c *Connection) Uninitialize() {
	if c.flags.has(flagUninitialized) {
		return
	}
	c.flags.set(flagUninitialized)
	if c.binding != nil {
		for cid := c.cids.sourceHead; cid != nil; cid = cid.next {
			c.binding.UnregisterSourceCID(cid.Data)
		}
	}
	c.binding = nil
}

// setSendFlag is a convenience used throughout the core; a nil Send
// collaborator (unit tests exercising CID/timer logic in isolation) is a
// silent no-op rather than a crash.
func (c *Connection) setSendFlag(flag SendFlag) {
	if c.send != nil {
		c.send.SetSendFlag(flag)
	}
}

// emit delivers an event to the application, honoring spec.md invariant 7:
// HandleClosed implies no further events are emitted.
func (c *Connection) emit(ev Event) {
	if c.flags.has(flagHandleClosed) {
		return
	}
	if c.callback == nil {
		return
	}
	start := time.Now()
	if err := c.callback(c, ev); err != nil {
		c.log.Errorf("callback error for event %v: %v", ev.Kind, err)
	}
	if elapsed := time.Since(start); elapsed > callbackWarnThreshold {
		c.log.Errorf("callback for event %v took %v (excessive callback guard)", ev.Kind, elapsed)
	}
}

const callbackWarnThreshold = 100 * time.Millisecond
