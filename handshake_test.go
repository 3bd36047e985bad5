package judgewire

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCredentials struct{}

func (failingCredentials) Password(context.Context) (string, error) {
	return "", errors.New("store offline")
}

func runHandshake(t *testing.T, sessions *SessionTable, serverPass, clientPass string) (*HandshakeResponse, *Session, *Session, error) {
	t.Helper()

	hs := NewHandshaker(StaticCredentials(serverPass), sessions)
	client, err := NewClientHandshake(clientPass)
	require.NoError(t, err)

	// go through the wire encoding on both legs
	resp, serverSession, err := hs.Accept(context.Background(), Marshal(client.Request()))
	var decoded HandshakeResponse
	require.NoError(t, Unmarshal(Marshal(resp), &decoded))

	clientSession, cerr := client.Finish(&decoded)
	if err == nil {
		require.NoError(t, cerr)
	}
	return &decoded, serverSession, clientSession, err
}

func TestHandshakeSuccess(t *testing.T) {
	sessions := NewSessionTable()
	resp, server, client, err := runHandshake(t, sessions, "hunter2", "hunter2")
	require.NoError(t, err)

	assert.Equal(t, HandshakeSuccess, resp.Result)
	require.NotNil(t, resp.NodeID)
	require.NotNil(t, resp.ServerPubkey)

	// both sides derived the same key for the same node
	assert.Equal(t, server.Key, client.Key)
	assert.Equal(t, *resp.NodeID, server.NodeID)
	assert.Equal(t, server.NodeID, client.NodeID)
	assert.Equal(t, server.ClientPubkey, client.ClientPubkey)

	got, ok := sessions.Lookup(server.NodeID)
	require.True(t, ok)
	assert.Same(t, server, got)
}

func TestHandshakeUniqueSessions(t *testing.T) {
	sessions := NewSessionTable()
	_, s1, _, err := runHandshake(t, sessions, "pw", "pw")
	require.NoError(t, err)
	_, s2, _, err := runHandshake(t, sessions, "pw", "pw")
	require.NoError(t, err)

	assert.NotEqual(t, s1.NodeID, s2.NodeID)
	assert.NotEqual(t, s1.Key, s2.Key)
	assert.Equal(t, 2, sessions.Count())
}

func TestHandshakePasswordMismatch(t *testing.T) {
	sessions := NewSessionTable()
	resp, server, client, err := runHandshake(t, sessions, "right", "wrong")

	require.ErrorIs(t, err, ErrPasswordMismatch)
	assert.Equal(t, HandshakePasswordMismatch, resp.Result)
	assert.Nil(t, resp.NodeID)
	assert.Nil(t, resp.ServerPubkey)
	assert.Nil(t, server)
	assert.Nil(t, client)
	assert.Zero(t, sessions.Count())
}

func TestHandshakeMalformedRequest(t *testing.T) {
	hs := NewHandshaker(StaticCredentials("pw"), NewSessionTable())

	resp, s, err := hs.Accept(context.Background(), []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrGeneral)
	assert.Equal(t, HandshakeUnknown, resp.Result)
	assert.Nil(t, s)
}

func TestHandshakeLowOrderPoint(t *testing.T) {
	hs := NewHandshaker(StaticCredentials("pw"), NewSessionTable())

	req := &HandshakeRequest{Password: "pw"} // all-zero public key
	resp, s, err := hs.Accept(context.Background(), Marshal(req))
	require.Error(t, err)
	assert.Equal(t, HandshakeUnknown, resp.Result)
	assert.Nil(t, s)
}

func TestHandshakeCredentialFailure(t *testing.T) {
	hs := NewHandshaker(failingCredentials{}, NewSessionTable())
	client, err := NewClientHandshake("pw")
	require.NoError(t, err)

	resp, _, err := hs.Accept(context.Background(), Marshal(client.Request()))
	require.Error(t, err)
	assert.Equal(t, HandshakeUnknown, resp.Result)
}

func TestHandshakeResponseInvariant(t *testing.T) {
	id := uuid.New()
	var pk PublicKey
	pk[0] = 9

	valid := []*HandshakeResponse{
		{Result: HandshakeSuccess, NodeID: &id, ServerPubkey: &pk},
		{Result: HandshakePasswordMismatch},
		{Result: HandshakeUnknown},
	}
	for _, r := range valid {
		var got HandshakeResponse
		require.NoError(t, Unmarshal(Marshal(r), &got), r.Result.String())
		assert.Equal(t, *r, got)
	}

	invalid := []*HandshakeResponse{
		{Result: HandshakeSuccess},
		{Result: HandshakeSuccess, NodeID: &id},
		{Result: HandshakePasswordMismatch, NodeID: &id, ServerPubkey: &pk},
		{Result: HandshakeUnknown, ServerPubkey: &pk},
		{Result: HandshakeResult(7)},
	}
	for _, r := range invalid {
		var got HandshakeResponse
		require.Error(t, Unmarshal(Marshal(r), &got), r.Result.String())
	}
}

func TestClientFinishRejectsIncompleteSuccess(t *testing.T) {
	client, err := NewClientHandshake("pw")
	require.NoError(t, err)

	_, err = client.Finish(&HandshakeResponse{Result: HandshakeSuccess})
	require.ErrorIs(t, err, ErrGeneral)
}

func TestDeriveSessionKeyDeterministic(t *testing.T) {
	shared := make([]byte, 32)
	shared[0] = 1

	k1, err := DeriveSessionKey(shared)
	require.NoError(t, err)
	k2, err := DeriveSessionKey(shared)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	shared[0] = 2
	k3, err := DeriveSessionKey(shared)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestKeyPairWipe(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	// clamped
	assert.Zero(t, kp.privateKey[0]&7)
	assert.Equal(t, byte(64), kp.privateKey[31]&0xC0)

	kp.Wipe()
	assert.Equal(t, [32]byte{}, kp.privateKey)
}

func TestPasswordMatches(t *testing.T) {
	assert.True(t, passwordMatches("abc", "abc"))
	assert.False(t, passwordMatches("abc", "abd"))
	assert.False(t, passwordMatches("abc", "abcd"))
	assert.False(t, passwordMatches("", "abc"))
}
