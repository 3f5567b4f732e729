package binding

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/kryptco/quicconn"
)

type fakeUDPConn struct {
	mu       sync.Mutex
	local    *net.UDPAddr
	written  [][]byte
	writeErr error
	reads    chan []byte
	closed   bool
}

func newFakeUDPConn() *fakeUDPConn {
	return &fakeUDPConn{
		local: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4433},
		reads: make(chan []byte, 8),
	}
}

func (f *fakeUDPConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	close(f.reads)
	return nil
}

func (f *fakeUDPConn) LocalAddr() net.Addr { return f.local }

func (f *fakeUDPConn) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	data, ok := <-f.reads
	if !ok {
		return 0, nil, errors.New("binding_test: connection closed")
	}
	n := copy(b, data)
	return n, &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 1234}, nil
}

func (f *fakeUDPConn) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	f.written = append(f.written, cp)
	return len(b), nil
}

func TestRegisterSourceCIDRejectsDuplicate(t *testing.T) {
	b := newBinding(newFakeUDPConn())
	cid := []byte{1, 2, 3, 4}
	var owner *quicconn.Connection

	if ok := b.RegisterSourceCID(cid, owner); !ok {
		t.Fatalf("expected first registration to succeed")
	}
	if ok := b.RegisterSourceCID(cid, owner); ok {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestLookupReturnsNilForUnknownCID(t *testing.T) {
	b := newBinding(newFakeUDPConn())
	if got := b.Lookup([]byte{9, 9}); got != nil {
		t.Fatalf("expected nil lookup for unregistered CID, got %v", got)
	}
}

func TestUnregisterSourceCIDRemovesEntry(t *testing.T) {
	b := newBinding(newFakeUDPConn())
	cid := []byte{1, 2, 3, 4}
	var owner *quicconn.Connection
	b.RegisterSourceCID(cid, owner)
	b.UnregisterSourceCID(cid)

	if ok := b.RegisterSourceCID(cid, owner); !ok {
		t.Fatalf("expected CID to be re-registerable after unregister")
	}
}

func TestDeriveResetTokenDeterministicPerCIDDifferentAcrossCIDs(t *testing.T) {
	b := newBinding(newFakeUDPConn())
	cidA := []byte{1, 2, 3, 4}
	cidB := []byte{5, 6, 7, 8}

	t1 := b.DeriveResetToken(cidA)
	t2 := b.DeriveResetToken(cidA)
	if t1 != t2 {
		t.Fatalf("expected deterministic reset token for the same CID")
	}

	t3 := b.DeriveResetToken(cidB)
	if t1 == t3 {
		t.Fatalf("expected different reset tokens for different CIDs")
	}
}

func TestWriteToPassesThroughToUDPConn(t *testing.T) {
	fc := newFakeUDPConn()
	b := newBinding(fc)

	n, err := b.WriteTo([]byte("hello"), &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 1234})
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 bytes written, got %d", n)
	}
	if len(fc.written) != 1 || string(fc.written[0]) != "hello" {
		t.Fatalf("unexpected written data: %v", fc.written)
	}
}

func TestReadLoopDeliversDatagramsUntilError(t *testing.T) {
	fc := newFakeUDPConn()
	b := newBinding(fc)

	fc.reads <- []byte("packet-one")
	fc.reads <- []byte("packet-two")

	var got [][]byte
	done := make(chan error, 1)
	go func() {
		done <- b.ReadLoop(func(data []byte, from *net.UDPAddr) {
			got = append(got, data)
			if len(got) == 2 {
				fc.Close()
			}
		})
	}()

	if err := <-done; err == nil {
		t.Fatalf("expected ReadLoop to return an error once the connection closes")
	}
	if len(got) != 2 || string(got[0]) != "packet-one" || string(got[1]) != "packet-two" {
		t.Fatalf("unexpected delivered datagrams: %v", got)
	}
}

func TestPathMTUAndLocalAddress(t *testing.T) {
	fc := newFakeUDPConn()
	b := newBinding(fc)

	if b.PathMTU() != 1350 {
		t.Fatalf("expected fixed PathMTU 1350, got %d", b.PathMTU())
	}
	if b.LocalAddress().Port != 4433 {
		t.Fatalf("expected local port 4433, got %d", b.LocalAddress().Port)
	}
}
