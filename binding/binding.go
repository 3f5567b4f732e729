// Package binding implements the quicconn.Binding collaborator: a UDP
// socket wrapper plus the shared connection-ID routing table that lets
// one socket demultiplex datagrams to many Connections (spec.md §6
// Binding, grounded on golang.org/x/net/internal/quic's Endpoint/udpConn
// split of listening socket vs. routing table).
package binding

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"net"
	"sync"

	"github.com/kryptco/quicconn"
)

// udpConn is the subset of *net.UDPConn the Binding needs; named so
// tests can substitute a fake without a real socket.
type udpConn interface {
	Close() error
	LocalAddr() net.Addr
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Binding owns one UDP socket and the table mapping every source CID any
// Connection on this socket has registered back to that Connection.
type Binding struct {
	conn     udpConn
	resetKey [32]byte

	mu    sync.RWMutex
	table map[string]*quicconn.Connection
}

// Listen opens a UDP socket and returns a ready Binding.
func Listen(network, address string) (*Binding, error) {
	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("binding: resolve %s: %w", address, err)
	}
	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, fmt.Errorf("binding: listen %s: %w", address, err)
	}
	return newBinding(conn), nil
}

func newBinding(conn udpConn) *Binding {
	b := &Binding{conn: conn, table: make(map[string]*quicconn.Connection)}
	_, _ = rand.Read(b.resetKey[:])
	return b
}

func (b *Binding) RegisterSourceCID(cid []byte, conn *quicconn.Connection) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := string(cid)
	if _, exists := b.table[key]; exists {
		return false
	}
	b.table[key] = conn
	return true
}

func (b *Binding) UnregisterSourceCID(cid []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.table, string(cid))
}

// Lookup is the datapath demultiplex step: map an inbound packet's
// destination CID to the owning Connection, or nil if none is
// registered (candidate for a stateless reset).
func (b *Binding) Lookup(cid []byte) *quicconn.Connection {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.table[string(cid)]
}

// DeriveResetToken implements RFC 9000 §10.3: an HMAC of the connection
// ID under a key private to this binding, so a future stateless-reset
// packet can be recomputed without retaining per-connection state.
func (b *Binding) DeriveResetToken(cid []byte) [16]byte {
	mac := hmac.New(sha256.New, b.resetKey[:])
	mac.Write(cid)
	sum := mac.Sum(nil)
	var token [16]byte
	copy(token[:], sum[:16])
	return token
}

func (b *Binding) LocalAddress() *net.UDPAddr {
	addr, _ := b.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

// PathMTU returns a conservative fixed MTU; real path MTU discovery is a
// Non-goal shared with migration (spec.md §1).
func (b *Binding) PathMTU() uint32 { return 1350 }

// MoveSourceCIDs does nothing: table entries registered to conn are left
// as they are and no socket is rebound; migration itself is a Non-goal
// (spec.md §1).
func (b *Binding) MoveSourceCIDs(conn *quicconn.Connection, newLocal *net.UDPAddr) {
	// no-op: single-binding-per-process demo never needs to move a
	// connection's CIDs to a different socket.
}

// ReadLoop blocks reading datagrams and hands each to onDatagram; callers
// run it in its own goroutine per spec.md §5's "datapath" producer role.
func (b *Binding) ReadLoop(onDatagram func(data []byte, from *net.UDPAddr)) error {
	buf := make([]byte, 65535)
	for {
		n, from, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		onDatagram(cp, from)
	}
}

func (b *Binding) WriteTo(data []byte, to *net.UDPAddr) (int, error) {
	return b.conn.WriteToUDP(data, to)
}

func (b *Binding) Close() error { return b.conn.Close() }
