package quicconn

import (
	"crypto/rand"
	"fmt"
)

// SourceCID is a connection id the local endpoint chose, so peers can
// address us by it (spec.md §3 CIDs, §4.3).
type SourceCID struct {
	Data           []byte
	SequenceNumber uint64
	IsInitial      bool
	NeedsToSend    bool
	Retired        bool

	next *SourceCID // singly linked, insertion order (spec.md §4.3)
}

// DestCID is a connection id the peer told us to use when addressing it.
type DestCID struct {
	Data             []byte
	SequenceNumber   uint64
	StatelessResetToken [16]byte
	HasResetToken    bool
	IsInitial        bool
	Retired          bool
	NeedsToSend      bool
	UsedByPeer       bool

	prev, next *DestCID // doubly linked, ordered by sequence number
}

// cidManager owns both CID lists plus the fields a server embeds in every
// source CID it mints (spec.md §3 CIDs, §4.3).
type cidManager struct {
	sourceHead *SourceCID
	sourceTail *SourceCID
	nextSourceSeq uint64

	destHead *DestCID
	destTail *DestCID
	destCount int

	origCID []byte // client's first dest CID, kept for Retry validation

	serverID    [4]byte
	partitionID byte
	cidPrefix   []byte
}

func newCIDManager() *cidManager {
	return &cidManager{}
}

// appendSource inserts a new source CID at the tail, preserving insertion
// order (spec.md invariant 6: the first source CID IsInitial).
func (m *cidManager) appendSource(cid *SourceCID) {
	if m.sourceTail == nil {
		m.sourceHead = cid
		m.sourceTail = cid
		return
	}
	m.sourceTail.next = cid
	m.sourceTail = cid
}

func (m *cidManager) sourceCount() int {
	n := 0
	for c := m.sourceHead; c != nil; c = c.next {
		n++
	}
	return n
}

// generateCIDBytes produces a length-`length` connection id embedding the
// server's ServerID/PartitionID/CidPrefix components, per spec.md §4.3.
// Clients (ServerID unset) get a plain random CID.
func (m *cidManager) generateCIDBytes(length uint8, isServer bool) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	if isServer {
		n := copy(buf, m.cidPrefix)
		if n < len(buf) && n+4 <= len(buf) {
			copy(buf[n:], m.serverID[:])
			n += 4
		}
		if n < len(buf) {
			buf[n] = m.partitionID
		}
	}
	return buf, nil
}

// GenerateNewSourceCid implements spec.md §4.3: mint and install a new
// source CID, retrying on collision up to CIDMaxCollisionRetry times.
// shareBinding must be true (an un-bound connection has nowhere to
// register the CID and generates none).
func (c *Connection) GenerateNewSourceCid(isInitial bool) (*SourceCID, error) {
	if !c.flags.has(flagShareBinding) {
		return nil, nil
	}
	var cid *SourceCID
	for attempt := uint32(0); attempt < c.config.CIDMaxCollisionRetry; attempt++ {
		data, err := c.cids.generateCIDBytes(c.config.CIDLength, c.role == RoleServer)
		if err != nil {
			return nil, err
		}
		if c.binding != nil && !c.binding.RegisterSourceCID(data, c) {
			continue // collision, retry
		}
		cid = &SourceCID{Data: data, IsInitial: isInitial}
		break
	}
	if cid == nil {
		return nil, fmt.Errorf("exceeded CID collision retry limit (%d)", c.config.CIDMaxCollisionRetry)
	}
	cid.SequenceNumber = c.cids.nextSourceSeq
	c.cids.nextSourceSeq++
	if !isInitial {
		cid.NeedsToSend = true
		c.flags.set(flagInitiatedCidUpdate)
	}
	c.cids.appendSource(cid)
	return cid, nil
}

// RetireSourceCID removes the source CID at seq (peer's RETIRE_CONNECTION_ID,
// spec.md §4.2 step 5 NEW_CONNECTION_ID/RETIRE_CONNECTION_ID). If it was the
// last remaining source CID this is a protocol violation (spec.md invariant
// 6 / testable property 6); otherwise a replacement is minted.
func (c *Connection) RetireSourceCID(seq uint64) error {
	var prev *SourceCID
	cur := c.cids.sourceHead
	for cur != nil && cur.SequenceNumber != seq {
		prev = cur
		cur = cur.next
	}
	if cur == nil {
		return nil // unknown sequence number, ignore
	}
	if c.cids.sourceCount() == 1 {
		return newTransportError(ErrProtocolViolation, "retired last source connection id")
	}
	if prev == nil {
		c.cids.sourceHead = cur.next
	} else {
		prev.next = cur.next
	}
	if c.cids.sourceTail == cur {
		c.cids.sourceTail = prev
	}
	if c.binding != nil {
		c.binding.UnregisterSourceCID(cur.Data)
	}
	_, err := c.GenerateNewSourceCid(false)
	return err
}

// seedInitialDestCID gives a freshly started client a random DCID to
// address its first Initial packets with (spec.md §4.3: "On client start,
// seed with a randomly generated CID").
func (c *Connection) seedInitialDestCID(length uint8) error {
	data := make([]byte, length)
	if _, err := rand.Read(data); err != nil {
		return err
	}
	c.cids.origCID = append([]byte(nil), data...)
	d := &DestCID{Data: data, IsInitial: true}
	c.appendDestCID(d)
	return nil
}

func (c *Connection) appendDestCID(d *DestCID) {
	if c.cids.destTail == nil {
		c.cids.destHead = d
		c.cids.destTail = d
	} else {
		d.prev = c.cids.destTail
		c.cids.destTail.next = d
		c.cids.destTail = d
	}
	c.cids.destCount++
}

// UpdateDestCID replaces the first dest CID's bytes with the server's
// chosen source CID, reusing storage when the length fits (spec.md §4.3).
func (c *Connection) UpdateDestCID(serverSourceCID []byte) {
	first := c.cids.destHead
	if first == nil {
		d := &DestCID{Data: append([]byte(nil), serverSourceCID...)}
		c.appendDestCID(d)
		return
	}
	if cap(first.Data) >= len(serverSourceCID) {
		first.Data = first.Data[:len(serverSourceCID)]
		copy(first.Data, serverSourceCID)
	} else {
		first.Data = append([]byte(nil), serverSourceCID...)
	}
}

// firstUsableDestCID returns the first non-retired, non-zero-length dest
// CID, or nil if none exists (spec.md invariant 5).
func (m *cidManager) firstUsableDestCID() *DestCID {
	for d := m.destHead; d != nil; d = d.next {
		if !d.Retired && len(d.Data) > 0 {
			return d
		}
	}
	return nil
}

// RetireCurrentDestCid implements spec.md §4.3: mark the first usable dest
// CID retired and schedule RETIRE_CONNECTION_ID, provided a replacement
// already exists (an unreplaceable zero-length CID cannot be retired,
// invariant 5).
func (c *Connection) RetireCurrentDestCid() error {
	cur := c.cids.firstUsableDestCID()
	if cur == nil {
		return errNoDestCID
	}
	var replacement *DestCID
	for d := cur.next; d != nil; d = d.next {
		if !d.Retired && len(d.Data) > 0 {
			replacement = d
			break
		}
	}
	if replacement == nil {
		return fmt.Errorf("no replacement destination connection id available")
	}
	cur.Retired = true
	cur.NeedsToSend = true
	c.setSendFlag(SendFlagRetireConnectionID)
	return nil
}

// AddDestCID handles an incoming NEW_CONNECTION_ID frame (spec.md §4.2 step
// 5): append while under ACTIVE_CONN_ID_LIMIT, otherwise silently ignore
// per testable scenario S4.
func (c *Connection) AddDestCID(seq uint64, data []byte, resetToken [16]byte) {
	if c.cids.destCount >= int(c.config.ActiveConnectionIDLimit) {
		log.Debug("dropping NEW_CONNECTION_ID seq", seq, "over active limit")
		return
	}
	d := &DestCID{
		Data:                append([]byte(nil), data...),
		SequenceNumber:      seq,
		StatelessResetToken: resetToken,
		HasResetToken:       true,
	}
	c.appendDestCID(d)
}

// matchesResetToken reports whether the given 16-byte tail equals any
// stored destination CID's stateless reset token (spec.md §4.2 step 4h,
// testable property "Stateless reset detection").
func (m *cidManager) matchesResetToken(tail [16]byte) bool {
	for d := m.destHead; d != nil; d = d.next {
		if d.HasResetToken && d.StatelessResetToken == tail {
			return true
		}
	}
	return false
}
