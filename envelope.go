package judgewire

import (
	"github.com/google/uuid"
)

// BodyAfterHandshake wraps every post-handshake payload with the identity the
// handshake established. T is a pointer to a payload type, e.g. *JudgeRequestBody.
type BodyAfterHandshake[T Message] struct {
	NodeID       uuid.UUID
	ClientPubkey PublicKey
	Payload      T
}

// Wrap binds payload to session.
func Wrap[T Message](s *Session, payload T) *BodyAfterHandshake[T] {
	return &BodyAfterHandshake[T]{
		NodeID:       s.NodeID,
		ClientPubkey: s.ClientPubkey,
		Payload:      payload,
	}
}

func (b *BodyAfterHandshake[T]) EncodeWire(e *Encoder) {
	e.PutUUID(b.NodeID)
	e.PutFixed(b.ClientPubkey[:])
	b.Payload.EncodeWire(e)
}

func (b *BodyAfterHandshake[T]) DecodeWire(d *Decoder) {
	b.NodeID = d.UUID()
	d.Fixed(b.ClientPubkey[:])
	d.Message(b.Payload)
}

// Bytes returns the canonical encoding of b.
func (b *BodyAfterHandshake[T]) Bytes() []byte {
	return Marshal(b)
}

// Unwrap authenticates raw against the session table and decodes its payload
// into payload. The identity is checked before the payload is decoded, and long
// before any EncMessage inside it is opened.
func Unwrap[T Message](sessions SessionLookup, raw []byte, payload T) (*Session, T, error) {
	var zero T

	d := NewDecoder(raw)
	nodeID := d.UUID()
	var pub PublicKey
	d.Fixed(pub[:])
	if err := d.Err(); err != nil {
		return nil, zero, newError(KindAuthFailure, "decode identity", err)
	}

	s, ok := sessions.Lookup(nodeID)
	if !ok {
		return nil, zero, newError(KindAuthFailure, "unknown node", nil)
	}
	if !s.ClientPubkey.Equal(pub) {
		return nil, zero, newError(KindAuthFailure, "public key mismatch", nil)
	}

	d.Message(payload)
	if err := d.Finish(); err != nil {
		return nil, zero, newError(KindGeneral, "decode payload", err)
	}
	return s, payload, nil
}

// singleSession resolves only the session it holds. The master uses it to check
// that pushes from the worker carry its own identity.
type singleSession struct{ s *Session }

func (ss singleSession) Lookup(nodeID uuid.UUID) (*Session, bool) {
	if ss.s == nil || ss.s.NodeID != nodeID {
		return nil, false
	}
	return ss.s, true
}
