package judgewire

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
	"golang.zx2c4.com/wireguard/tai64n"
)

// HandshakeRequest is the first packet a master sends on a connection.
type HandshakeRequest struct {
	ClientPubkey PublicKey
	Password     string
}

func (r *HandshakeRequest) EncodeWire(e *Encoder) {
	e.PutFixed(r.ClientPubkey[:])
	e.PutString(r.Password)
}

func (r *HandshakeRequest) DecodeWire(d *Decoder) {
	d.Fixed(r.ClientPubkey[:])
	r.Password = d.Text()
}

// HandshakeResult is the outcome of a handshake attempt.
type HandshakeResult uint32

const (
	HandshakeSuccess HandshakeResult = iota
	HandshakePasswordMismatch
	HandshakeUnknown
)

func (r HandshakeResult) String() string {
	switch r {
	case HandshakeSuccess:
		return "Success"
	case HandshakePasswordMismatch:
		return "PasswordMismatch"
	default:
		return "Unknown"
	}
}

// HandshakeResponse answers a HandshakeRequest. NodeID and ServerPubkey are set
// if and only if Result is HandshakeSuccess.
type HandshakeResponse struct {
	Result       HandshakeResult
	NodeID       *uuid.UUID
	ServerPubkey *PublicKey
}

func (r *HandshakeResponse) EncodeWire(e *Encoder) {
	e.PutUint32(uint32(r.Result))
	if r.NodeID != nil {
		e.PutUint8(1)
		e.PutUUID(*r.NodeID)
	} else {
		e.PutUint8(0)
	}
	if r.ServerPubkey != nil {
		e.PutUint8(1)
		e.PutFixed(r.ServerPubkey[:])
	} else {
		e.PutUint8(0)
	}
}

func (r *HandshakeResponse) DecodeWire(d *Decoder) {
	r.Result = HandshakeResult(d.Uint32())
	if r.Result > HandshakeUnknown {
		d.Fail(fmt.Errorf("judgewire: invalid handshake result %d", r.Result))
		return
	}
	r.NodeID, r.ServerPubkey = nil, nil
	if d.OptionTag() {
		id := d.UUID()
		r.NodeID = &id
	}
	if d.OptionTag() {
		var pk PublicKey
		d.Fixed(pk[:])
		r.ServerPubkey = &pk
	}
	if d.Err() == nil && !r.valid() {
		d.Fail(fmt.Errorf("judgewire: handshake response fields do not match result %s", r.Result))
	}
}

func (r *HandshakeResponse) valid() bool {
	present := r.NodeID != nil && r.ServerPubkey != nil
	absent := r.NodeID == nil && r.ServerPubkey == nil
	if r.Result == HandshakeSuccess {
		return present
	}
	return absent
}

// Handshaker runs the worker side of the handshake. One Accept call per
// connection; the first Success or PasswordMismatch is terminal.
type Handshaker struct {
	credentials CredentialStore
	sessions    *SessionTable
}

func NewHandshaker(credentials CredentialStore, sessions *SessionTable) *Handshaker {
	return &Handshaker{
		credentials: credentials,
		sessions:    sessions,
	}
}

// Accept processes the body of a Handshake packet. It always returns a response
// to send back, even on failure, so the master can tell a wrong password from a
// network problem. On success the session is already in the table.
func (h *Handshaker) Accept(ctx context.Context, body []byte) (*HandshakeResponse, *Session, error) {
	var req HandshakeRequest
	if err := Unmarshal(body, &req); err != nil {
		return &HandshakeResponse{Result: HandshakeUnknown}, nil, newError(KindGeneral, "decode handshake request", err)
	}

	expected, err := h.credentials.Password(ctx)
	if err != nil {
		slog.Error("Credential lookup failed", "error", err)
		return &HandshakeResponse{Result: HandshakeUnknown}, nil, newError(KindGeneral, "credential lookup", err)
	}

	if !passwordMatches(req.Password, expected) {
		return &HandshakeResponse{Result: HandshakePasswordMismatch}, nil, newError(KindPasswordMismatch, "", nil)
	}

	kp, err := GenerateKeyPair()
	if err != nil {
		return &HandshakeResponse{Result: HandshakeUnknown}, nil, newError(KindGeneral, "generate key pair", err)
	}
	defer kp.Wipe()

	key, err := kp.agree(req.ClientPubkey)
	if err != nil {
		return &HandshakeResponse{Result: HandshakeUnknown}, nil, newError(KindGeneral, "key agreement", err)
	}

	nodeID, err := uuid.NewRandom()
	if err != nil {
		return &HandshakeResponse{Result: HandshakeUnknown}, nil, newError(KindGeneral, "node id", err)
	}

	s := &Session{
		NodeID:       nodeID,
		Key:          key,
		ClientPubkey: req.ClientPubkey,
		Established:  tai64n.Now(),
	}
	if err := h.sessions.Insert(s); err != nil {
		return &HandshakeResponse{Result: HandshakeUnknown}, nil, newError(KindGeneral, "register session", err)
	}

	serverPub := kp.PublicKey
	return &HandshakeResponse{
		Result:       HandshakeSuccess,
		NodeID:       &nodeID,
		ServerPubkey: &serverPub,
	}, s, nil
}

// passwordMatches compares SHA3-256 digests in constant time, so neither the
// content nor the length of the secret leaks through timing.
func passwordMatches(given, expected string) bool {
	a := sha3.Sum256([]byte(given))
	b := sha3.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// ClientHandshake is the master side of the handshake.
type ClientHandshake struct {
	password string
	keys     *KeyPair
}

// NewClientHandshake prepares a handshake with a fresh ephemeral key pair.
func NewClientHandshake(password string) (*ClientHandshake, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &ClientHandshake{password: password, keys: kp}, nil
}

// Request returns the HandshakeRequest to send.
func (c *ClientHandshake) Request() *HandshakeRequest {
	return &HandshakeRequest{
		ClientPubkey: c.keys.PublicKey,
		Password:     c.password,
	}
}

// Finish derives the session from the worker's response. The ephemeral private
// key is wiped whatever the outcome.
func (c *ClientHandshake) Finish(resp *HandshakeResponse) (*Session, error) {
	defer c.keys.Wipe()

	switch resp.Result {
	case HandshakeSuccess:
	case HandshakePasswordMismatch:
		return nil, newError(KindPasswordMismatch, "", nil)
	default:
		return nil, newError(KindGeneral, "handshake rejected", nil)
	}
	if !resp.valid() {
		return nil, newError(KindGeneral, "incomplete handshake response", nil)
	}

	key, err := c.keys.agree(*resp.ServerPubkey)
	if err != nil {
		return nil, newError(KindGeneral, "key agreement", err)
	}

	return &Session{
		NodeID:       *resp.NodeID,
		Key:          key,
		ClientPubkey: c.keys.PublicKey,
		Established:  tai64n.Now(),
		lastActive:   Now(),
	}, nil
}
