package aead

import (
	"bytes"
	"testing"

	"github.com/kryptco/quicconn"
)

func TestInitializeDerivesDistinctClientServerKeys(t *testing.T) {
	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	client := New()
	if err := client.Initialize(quicconn.RoleClient, dcid); err != nil {
		t.Fatalf("client Initialize: %v", err)
	}
	server := New()
	if err := server.Initialize(quicconn.RoleServer, dcid); err != nil {
		t.Fatalf("server Initialize: %v", err)
	}

	if bytes.Equal(client.keys[quicconn.EncryptionLevelInitial].sealKey[:], server.keys[quicconn.EncryptionLevelInitial].sealKey[:]) {
		t.Fatalf("client and server seal keys should differ")
	}
	if !bytes.Equal(client.keys[quicconn.EncryptionLevelInitial].sealKey[:], server.keys[quicconn.EncryptionLevelInitial].openKey[:]) {
		t.Fatalf("client seal key should match server open key")
	}
	if !bytes.Equal(server.keys[quicconn.EncryptionLevelInitial].sealKey[:], client.keys[quicconn.EncryptionLevelInitial].openKey[:]) {
		t.Fatalf("server seal key should match client open key")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	dcid := []byte{9, 9, 9, 9}
	client := New()
	client.Initialize(quicconn.RoleClient, dcid)
	server := New()
	server.Initialize(quicconn.RoleServer, dcid)

	aad := []byte("header-bytes")
	plaintext := []byte("hello quic")

	sealed, err := client.Seal(quicconn.EncryptionLevelInitial, quicconn.KeyPhaseCurrent, 1, aad, plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	opened, err := server.Open(quicconn.EncryptionLevelInitial, quicconn.KeyPhaseCurrent, 1, aad, sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("expected %q, got %q", plaintext, opened)
	}
}

func TestOpenFailsOnTamperedCiphertext(t *testing.T) {
	dcid := []byte{1, 1, 1, 1}
	client := New()
	client.Initialize(quicconn.RoleClient, dcid)
	server := New()
	server.Initialize(quicconn.RoleServer, dcid)

	sealed, err := client.Seal(quicconn.EncryptionLevelInitial, quicconn.KeyPhaseCurrent, 1, nil, []byte("data"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	sealed[0] ^= 0xff

	if _, err := server.Open(quicconn.EncryptionLevelInitial, quicconn.KeyPhaseCurrent, 1, nil, sealed); err == nil {
		t.Fatalf("expected Open to fail on tampered ciphertext")
	}
}

func TestReadKeyAvailableReflectsDiscard(t *testing.T) {
	c := New()
	c.Initialize(quicconn.RoleClient, []byte{1, 2, 3, 4})

	if !c.ReadKeyAvailable(quicconn.EncryptionLevelInitial) {
		t.Fatalf("expected Initial keys available after Initialize")
	}
	if c.ReadKeyAvailable(quicconn.EncryptionLevelHandshake) {
		t.Fatalf("expected Handshake keys unavailable before any CRYPTO frame")
	}

	c.DiscardKeys(quicconn.EncryptionLevelInitial)
	if c.ReadKeyAvailable(quicconn.EncryptionLevelInitial) {
		t.Fatalf("expected Initial keys unavailable after discard")
	}
	if !c.ReadKeyEverAvailable(quicconn.EncryptionLevelInitial) {
		t.Fatalf("expected ReadKeyEverAvailable true once discarded")
	}
}

func TestProcessCryptoFrameDerivesNextLevel(t *testing.T) {
	c := New()
	c.Initialize(quicconn.RoleClient, []byte{1, 2, 3, 4})

	if err := c.ProcessCryptoFrame(quicconn.EncryptionLevelInitial, 0, []byte("client hello")); err != nil {
		t.Fatalf("ProcessCryptoFrame: %v", err)
	}
	if !c.ReadKeyAvailable(quicconn.EncryptionLevelHandshake) {
		t.Fatalf("expected Handshake keys derived after Initial CRYPTO frame")
	}
}

func TestHeaderProtectionMaskDeterministic(t *testing.T) {
	c := New()
	c.Initialize(quicconn.RoleClient, []byte{1, 2, 3, 4})

	sample := make([]byte, 16)
	for i := range sample {
		sample[i] = byte(i)
	}

	m1, err := c.HeaderProtectionMask(quicconn.EncryptionLevelInitial, sample)
	if err != nil {
		t.Fatalf("HeaderProtectionMask: %v", err)
	}
	m2, err := c.HeaderProtectionMask(quicconn.EncryptionLevelInitial, sample)
	if err != nil {
		t.Fatalf("HeaderProtectionMask: %v", err)
	}
	if m1 != m2 {
		t.Fatalf("expected deterministic mask for the same sample")
	}

	sample[0] ^= 0xff
	m3, err := c.HeaderProtectionMask(quicconn.EncryptionLevelInitial, sample)
	if err != nil {
		t.Fatalf("HeaderProtectionMask: %v", err)
	}
	if m1 == m3 {
		t.Fatalf("expected mask to change with a different sample")
	}
}

func TestRestartRederivesInitialSecretsForNewCID(t *testing.T) {
	c := New()
	c.Initialize(quicconn.RoleClient, []byte{1, 2, 3, 4})
	first := c.keys[quicconn.EncryptionLevelInitial].sealKey

	if err := c.Restart(true, []byte{5, 6, 7, 8}); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if bytes.Equal(first[:], c.keys[quicconn.EncryptionLevelInitial].sealKey[:]) {
		t.Fatalf("expected different Initial seal key after Restart with a new CID")
	}
	if c.discarded[quicconn.EncryptionLevelInitial] {
		t.Fatalf("Restart should clear prior discard state")
	}
}
