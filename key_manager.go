package judgewire

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// PublicKey is an X25519 public key as carried on the wire.
type PublicKey [PublicKeySize]byte

func (k PublicKey) String() string {
	return hex.EncodeToString(k[:8])
}

// Equal compares two public keys in constant time.
func (k PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

// KeyPair is an ephemeral X25519 key pair, used for exactly one handshake.
type KeyPair struct {
	privateKey [32]byte
	PublicKey  PublicKey
}

// GenerateKeyPair creates a fresh ephemeral key pair.
func GenerateKeyPair() (*KeyPair, error) {
	return generateKeyPair(rand.Reader)
}

func generateKeyPair(random io.Reader) (*KeyPair, error) {
	kp := &KeyPair{}

	// Generate private key randomly
	if _, err := io.ReadFull(random, kp.privateKey[:]); err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	// Clear bit patterns required by Curve25519
	kp.privateKey[0] &= 248
	kp.privateKey[31] &= 127
	kp.privateKey[31] |= 64

	pub, err := curve25519.X25519(kp.privateKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to generate public key: %w", err)
	}
	copy(kp.PublicKey[:], pub)

	return kp, nil
}

// SharedSecret runs X25519 against the peer public key. Low-order peer points
// are rejected.
func (kp *KeyPair) SharedSecret(peer PublicKey) ([]byte, error) {
	shared, err := curve25519.X25519(kp.privateKey[:], peer[:])
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}
	return shared, nil
}

// Wipe clears the private key once the session key has been derived.
func (kp *KeyPair) Wipe() {
	for i := range kp.privateKey {
		kp.privateKey[i] = 0
	}
}

// DeriveSessionKey extracts entropy from the raw ECDH output with HKDF-SHA3-256
// (empty salt, empty info) and expands it to the AEAD key length.
func DeriveSessionKey(shared []byte) (SessionKey, error) {
	var key SessionKey
	r := hkdf.New(sha3.New256, shared, nil, nil)
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// agree is SharedSecret followed by DeriveSessionKey; the raw secret is wiped.
func (kp *KeyPair) agree(peer PublicKey) (SessionKey, error) {
	shared, err := kp.SharedSecret(peer)
	if err != nil {
		return SessionKey{}, err
	}
	defer func() {
		for i := range shared {
			shared[i] = 0
		}
	}()
	return DeriveSessionKey(shared)
}
