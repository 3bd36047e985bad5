package judgewire

import (
	"crypto/rand"
	"fmt"
	"io"
)

// SessionKey is the 256-bit symmetric key negotiated by the handshake. It never
// travels on the wire.
type SessionKey [KeySize]byte

// String hides the key so it can't end up in logs by accident.
func (k SessionKey) String() string { return "SessionKey(redacted)" }

// EncMessage is one field sealed under a session key. It is single-use: one
// field, one encryption, one fresh nonce.
type EncMessage struct {
	Nonce      [NonceSize]byte
	Ciphertext []byte // includes the Poly1305 tag
}

// nonceSource is swapped in tests.
var nonceSource io.Reader = rand.Reader

// Seal encrypts plaintext under key with a fresh random nonce.
func Seal(key *SessionKey, plaintext []byte) (*EncMessage, error) {
	aead, err := NewChaCha8Poly1305(key[:])
	if err != nil {
		return nil, err
	}

	m := &EncMessage{}
	if _, err := io.ReadFull(nonceSource, m.Nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	m.Ciphertext = aead.Seal(nil, m.Nonce[:], plaintext, nil)
	return m, nil
}

// Open authenticates and decrypts m. Plaintext is only returned on a verified
// tag; any failure is ErrAuthFailure without detail.
func (m *EncMessage) Open(key *SessionKey) ([]byte, error) {
	if m == nil {
		return nil, newError(KindAuthFailure, "missing field", nil)
	}
	aead, err := NewChaCha8Poly1305(key[:])
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, m.Nonce[:], m.Ciphertext, nil)
	if err != nil {
		return nil, newError(KindAuthFailure, "open field", nil)
	}
	return pt, nil
}

// EncodeWire writes the nonce and the ciphertext as two length-prefixed byte
// sequences.
func (m *EncMessage) EncodeWire(e *Encoder) {
	e.PutBytes(m.Nonce[:])
	e.PutBytes(m.Ciphertext)
}

func (m *EncMessage) DecodeWire(d *Decoder) {
	nonce := d.Bytes()
	if d.Err() == nil && len(nonce) != NonceSize {
		d.Fail(fmt.Errorf("judgewire: nonce is %d bytes, want %d", len(nonce), NonceSize))
		return
	}
	copy(m.Nonce[:], nonce)
	m.Ciphertext = d.Bytes()
	if d.Err() == nil && len(m.Ciphertext) < TagSize {
		d.Fail(fmt.Errorf("judgewire: ciphertext shorter than tag"))
	}
}
