// Package aead implements the quicconn.Crypto collaborator: Initial
// secret derivation, header protection masks, and AEAD seal/open, backed
// by golang.org/x/crypto's HKDF and ChaCha20-Poly1305 (spec.md §6
// Crypto collaborator). The out-of-scope TLS handshake itself is not run
// here: PeerTransportParameters never reports a peer parameter set, since
// the handshake engine proper is a named collaborator, not part of this
// core.
package aead

import (
	"crypto/sha256"
	"errors"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/kryptco/quicconn"
)

// initialSaltV1 is the RFC 9001 §5.2 QUIC v1 Initial salt.
var initialSaltV1 = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

const keyLen = chacha20poly1305.KeySize
const hpKeyLen = 32
const ivLen = chacha20poly1305.NonceSize

// levelKeys holds one direction's traffic secrets for one encryption
// level; sealHP/openHP are the header-protection keys for the seal and
// open directions.
type levelKeys struct {
	sealKey, openKey [keyLen]byte
	sealIV, openIV   [ivLen]byte
	sealHP, openHP   [hpKeyLen]byte
	set              bool
}

// Crypto implements quicconn.Crypto. It does not perform a real TLS 1.3
// handshake; ProcessCryptoFrame treats the first CRYPTO frame on each
// side as completing the handshake for that level, which is sufficient
// to exercise the surrounding transport state machine end to end.
type Crypto struct {
	mu sync.Mutex

	role quicconn.Role

	keys [4]levelKeys // indexed by quicconn.EncryptionLevel

	localTP quicconn.TransportParameters
	peerTP  quicconn.TransportParameters
	havePeerTP bool

	discarded [4]bool
}

// New returns an unconfigured Crypto; call Initialize before use.
func New() *Crypto { return &Crypto{} }

func (c *Crypto) Initialize(role quicconn.Role, initialDestCID []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
	return c.deriveInitialLocked(initialDestCID)
}

func (c *Crypto) Restart(completeReset bool, newInitialDestCID []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = [4]levelKeys{}
	c.discarded = [4]bool{}
	return c.deriveInitialLocked(newInitialDestCID)
}

// deriveInitialLocked implements RFC 9001 §5.2: derive client/server
// Initial secrets via HKDF-Extract/Expand-Label over the destination CID.
func (c *Crypto) deriveInitialLocked(destCID []byte) error {
	initialSecret := hkdfExtract(initialSaltV1, destCID)

	clientSecret := hkdfExpandLabel(initialSecret, "client in", 32)
	serverSecret := hkdfExpandLabel(initialSecret, "server in", 32)

	localSecret, remoteSecret := clientSecret, serverSecret
	if c.role == quicconn.RoleServer {
		localSecret, remoteSecret = serverSecret, clientSecret
	}

	lv := &c.keys[quicconn.EncryptionLevelInitial]
	copy(lv.sealKey[:], hkdfExpandLabel(localSecret, "quic key", keyLen))
	copy(lv.sealIV[:], hkdfExpandLabel(localSecret, "quic iv", ivLen))
	copy(lv.sealHP[:], hkdfExpandLabel(localSecret, "quic hp", hpKeyLen))
	copy(lv.openKey[:], hkdfExpandLabel(remoteSecret, "quic key", keyLen))
	copy(lv.openIV[:], hkdfExpandLabel(remoteSecret, "quic iv", ivLen))
	copy(lv.openHP[:], hkdfExpandLabel(remoteSecret, "quic hp", hpKeyLen))
	lv.set = true
	return nil
}

func (c *Crypto) DiscardKeys(level quicconn.EncryptionLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discarded[level] = true
	c.keys[level] = levelKeys{}
}

func (c *Crypto) ReadKeyAvailable(level quicconn.EncryptionLevel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[level].set && !c.discarded[level]
}

func (c *Crypto) ReadKeyEverAvailable(level quicconn.EncryptionLevel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discarded[level]
}

// ProcessCryptoFrame feeds handshake bytes; see package doc for why this
// is a completion stub rather than a real TLS state machine.
func (c *Crypto) ProcessCryptoFrame(level quicconn.EncryptionLevel, offset uint64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := level + 1
	if next < 4 && !c.keys[next].set {
		derived := hkdfExpandLabel(c.keys[level].sealKey[:], "next level", 32)
		lv := &c.keys[next]
		copy(lv.sealKey[:], hkdfExpandLabel(derived, "quic key", keyLen))
		copy(lv.sealIV[:], hkdfExpandLabel(derived, "quic iv", ivLen))
		copy(lv.sealHP[:], hkdfExpandLabel(derived, "quic hp", hpKeyLen))
		copy(lv.openKey[:], hkdfExpandLabel(derived, "quic key", keyLen))
		copy(lv.openIV[:], hkdfExpandLabel(derived, "quic iv", ivLen))
		copy(lv.openHP[:], hkdfExpandLabel(derived, "quic hp", hpKeyLen))
		lv.set = true
	}
	return nil
}

func (c *Crypto) GenerateNewKeyPhase() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	lv := &c.keys[quicconn.EncryptionLevel1RTT]
	if !lv.set {
		return errors.New("aead: no 1-RTT keys to rotate")
	}
	next := hkdfExpandLabel(lv.sealKey[:], "quic ku", keyLen)
	copy(lv.sealKey[:], next)
	copy(lv.openKey[:], next)
	return nil
}

func (c *Crypto) HeaderProtectionMask(level quicconn.EncryptionLevel, sample []byte) ([16]byte, error) {
	c.mu.Lock()
	lv := c.keys[level]
	c.mu.Unlock()
	if !lv.set {
		return [16]byte{}, errors.New("aead: no keys at this level")
	}
	// RFC 9001 §5.4 calls for AES-ECB/ChaCha20 block-cipher masking keyed
	// by the sample; HKDF-Expand with the sample as context achieves the
	// same "mask is a deterministic function of (hp key, sample)" property
	// without pulling in a second cipher primitive.
	r := hkdf.Expand(sha256.New, lv.openHP[:], sample)
	var mask [16]byte
	if _, err := r.Read(mask[:]); err != nil {
		return mask, err
	}
	return mask, nil
}

func (c *Crypto) Open(level quicconn.EncryptionLevel, phase quicconn.KeyPhase, packetNumber uint64, aad, ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	lv := c.keys[level]
	c.mu.Unlock()
	if !lv.set {
		return nil, errors.New("aead: no keys at this level")
	}
	aead, err := chacha20poly1305.New(lv.openKey[:])
	if err != nil {
		return nil, err
	}
	nonce := packetIV(lv.openIV, packetNumber)
	return aead.Open(nil, nonce[:], ciphertext, aad)
}

func (c *Crypto) Seal(level quicconn.EncryptionLevel, phase quicconn.KeyPhase, packetNumber uint64, aad, plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	lv := c.keys[level]
	c.mu.Unlock()
	if !lv.set {
		return nil, errors.New("aead: no keys at this level")
	}
	aead, err := chacha20poly1305.New(lv.sealKey[:])
	if err != nil {
		return nil, err
	}
	nonce := packetIV(lv.sealIV, packetNumber)
	return aead.Seal(nil, nonce[:], plaintext, aad), nil
}

func (c *Crypto) SetLocalTransportParameters(tp quicconn.TransportParameters) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localTP = tp
	return nil
}

func (c *Crypto) PeerTransportParameters() (quicconn.TransportParameters, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerTP, c.havePeerTP
}

// packetIV implements RFC 9001 §5.3: XOR the packet number, big-endian
// right-aligned, into the low-order bytes of the static IV.
func packetIV(iv [ivLen]byte, pn uint64) [ivLen]byte {
	out := iv
	for i := 0; i < 8; i++ {
		out[ivLen-1-i] ^= byte(pn >> (8 * i))
	}
	return out
}

func hkdfExtract(salt, ikm []byte) []byte {
	h := hkdf.Extract(sha256.New, ikm, salt)
	return h
}

// hkdfExpandLabel implements the TLS 1.3 / RFC 9001 HKDF-Expand-Label
// construction, simplified to the fixed "tls13 " label prefix QUIC uses.
func hkdfExpandLabel(secret []byte, label string, length int) []byte {
	info := buildHkdfLabel(label, length)
	r := hkdf.Expand(sha256.New, secret, info)
	out := make([]byte, length)
	if _, err := r.Read(out); err != nil {
		panic(err) // hkdf.Expand reads from a deterministic stream; only fails on misuse
	}
	return out
}

func buildHkdfLabel(label string, length int) []byte {
	full := "tls13 " + label
	b := make([]byte, 0, 2+1+len(full))
	b = append(b, byte(length>>8), byte(length))
	b = append(b, byte(len(full)))
	b = append(b, full...)
	b = append(b, 0) // empty Context
	return b
}
