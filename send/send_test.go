package send

import (
	"net"
	"testing"

	"github.com/kryptco/quicconn"
)

type fakeCrypto struct {
	available map[quicconn.EncryptionLevel]bool
}

func newFakeCrypto() *fakeCrypto {
	return &fakeCrypto{available: map[quicconn.EncryptionLevel]bool{quicconn.EncryptionLevel1RTT: true}}
}

func (f *fakeCrypto) Initialize(role quicconn.Role, initialDestCID []byte) error { return nil }
func (f *fakeCrypto) Restart(completeReset bool, newInitialDestCID []byte) error {
	return nil
}
func (f *fakeCrypto) ProcessCryptoFrame(level quicconn.EncryptionLevel, offset uint64, data []byte) error {
	return nil
}
func (f *fakeCrypto) DiscardKeys(level quicconn.EncryptionLevel) {}
func (f *fakeCrypto) ReadKeyAvailable(level quicconn.EncryptionLevel) bool {
	return f.available[level]
}
func (f *fakeCrypto) ReadKeyEverAvailable(level quicconn.EncryptionLevel) bool { return f.available[level] }
func (f *fakeCrypto) GenerateNewKeyPhase() error                               { return nil }
func (f *fakeCrypto) HeaderProtectionMask(level quicconn.EncryptionLevel, sample []byte) ([16]byte, error) {
	return [16]byte{}, nil
}
func (f *fakeCrypto) Open(level quicconn.EncryptionLevel, phase quicconn.KeyPhase, pn uint64, aad, ciphertext []byte) ([]byte, error) {
	return ciphertext, nil
}
func (f *fakeCrypto) Seal(level quicconn.EncryptionLevel, phase quicconn.KeyPhase, pn uint64, aad, plaintext []byte) ([]byte, error) {
	return plaintext, nil
}
func (f *fakeCrypto) SetLocalTransportParameters(tp quicconn.TransportParameters) error { return nil }
func (f *fakeCrypto) PeerTransportParameters() (quicconn.TransportParameters, bool) {
	return quicconn.TransportParameters{}, false
}

type fakeStreamSet struct{}

func (fakeStreamSet) Initialize(maxStreamsBidi, maxStreamsUni uint64) {}
func (fakeStreamSet) UpdateMaxStreams(bidi bool, max uint64) bool     { return false }
func (fakeStreamSet) GetOrCreateForPeer(streamID uint64) (bool, error) {
	return false, nil
}
func (fakeStreamSet) Dispatch(streamID uint64, frameType byte, payload []byte) error { return nil }
func (fakeStreamSet) ShutdownAll(errorCode uint64, appError bool)                    {}
func (fakeStreamSet) DrainClosed()                                                   {}
func (fakeStreamSet) Rundown()                                                       {}

type fakeBinding struct {
	written [][]byte
}

func (b *fakeBinding) RegisterSourceCID(cid []byte, conn *quicconn.Connection) bool { return true }
func (b *fakeBinding) UnregisterSourceCID(cid []byte)                              {}
func (b *fakeBinding) DeriveResetToken(cid []byte) [16]byte                        { return [16]byte{} }
func (b *fakeBinding) LocalAddress() *net.UDPAddr                                  { return nil }
func (b *fakeBinding) PathMTU() uint32                                             { return 1350 }
func (b *fakeBinding) MoveSourceCIDs(conn *quicconn.Connection, newLocal *net.UDPAddr) {}
func (b *fakeBinding) WriteTo(data []byte, to *net.UDPAddr) (int, error) {
	b.written = append(b.written, append([]byte(nil), data...))
	return len(data), nil
}

func newSendTestConnection(t *testing.T) (*quicconn.Connection, *fakeBinding) {
	t.Helper()
	fb := &fakeBinding{}
	c := quicconn.NewConnection(quicconn.RoleClient, quicconn.DefaultConfig(), newFakeCrypto(), nil, nil, nil, fakeStreamSet{}, fb, nil, nil, nil, nil)
	c.AddDestCID(1, []byte{1, 2, 3, 4, 5, 6, 7, 8}, [16]byte{})
	return c, fb
}

func TestQueueFlushSendsNothingWithoutPendingFlags(t *testing.T) {
	c, fb := newSendTestConnection(t)
	s := New(1350)
	s.Bind(c)

	s.QueueFlush()
	if len(fb.written) != 0 {
		t.Fatalf("expected no datagram written without pending send flags")
	}
}

func TestQueueFlushWithoutAllowanceDoesNotSend(t *testing.T) {
	c, fb := newSendTestConnection(t)
	s := New(1350)
	s.Bind(c)
	s.SetSendFlag(quicconn.SendFlagPing)

	s.QueueFlush()
	if len(fb.written) != 0 {
		t.Fatalf("expected QueueFlush to withhold sending below the path MTU allowance")
	}
}

func TestQueueFlushSendsPingOnceAllowanceGranted(t *testing.T) {
	c, fb := newSendTestConnection(t)
	s := New(1350)
	s.Bind(c)
	s.GrantUnlimitedAllowance()
	s.SetSendFlag(quicconn.SendFlagPing)

	s.QueueFlush()
	if len(fb.written) != 1 {
		t.Fatalf("expected exactly one datagram written, got %d", len(fb.written))
	}
}

func TestQueueFlushClearsFlagsAfterSend(t *testing.T) {
	c, _ := newSendTestConnection(t)
	s := New(1350)
	s.Bind(c)
	s.GrantUnlimitedAllowance()
	s.SetSendFlag(quicconn.SendFlagPing)

	s.QueueFlush()
	s.mu.Lock()
	flags := s.flags
	s.mu.Unlock()
	if flags != 0 {
		t.Fatalf("expected pending flags cleared after QueueFlush, got %v", flags)
	}
}

func TestIncreaseAllowanceAccumulates(t *testing.T) {
	s := New(1350)
	s.IncreaseAllowance(100)
	s.IncreaseAllowance(50)
	if s.Allowance != 150 {
		t.Fatalf("expected Allowance=150, got %d", s.Allowance)
	}
}
