package judgewire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connPair(t *testing.T, maxBody uint32) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	ca, cb := NewConn(a, maxBody, 0), NewConn(b, maxBody, 0)
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})
	return ca, cb
}

func writeAsync(c *Conn, cmd Command, body []byte) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- c.WritePacket(cmd, body) }()
	return errCh
}

func TestConnWriteRead(t *testing.T) {
	ca, cb := connPair(t, 0)

	for _, size := range []int{0, 10, ReusableBufferSize, SendBufferSize + 17, 3 * SendBufferSize} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			body := bytes.Repeat([]byte{0xA5}, size)
			errCh := writeAsync(ca, CmdReqJudge, body)

			p, err := cb.ReadPacket()
			require.NoError(t, err)
			require.NoError(t, <-errCh)
			assert.Equal(t, CmdReqJudge, p.Header.Command)
			assert.Equal(t, uint32(size), p.Header.Length)
			assert.Equal(t, len(body), len(p.Body))
			assert.True(t, bytes.Equal(body, p.Body))
		})
	}
}

func TestConnWireFormatMatchesEncodePacket(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	c := NewConn(a, 0, 0)

	body := []byte("hello worker")
	errCh := writeAsync(c, CmdGetLogin, body)

	want := EncodePacket(CmdGetLogin, body)
	got := make([]byte, len(want))
	_, err := io.ReadFull(b, got)
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	assert.Equal(t, want, got)
}

func TestConnRejectsOversizedPacket(t *testing.T) {
	ca, cb := connPair(t, 8)

	errCh := writeAsync(ca, CmdGetLogin, make([]byte, 9))
	_, err := cb.ReadPacket()
	require.ErrorIs(t, err, ErrOversizedLength)
	assert.True(t, KindOf(err).Fatal())

	cb.Close()
	<-errCh
}

func TestConnEnqueueAfterClose(t *testing.T) {
	ca, _ := connPair(t, 0)
	require.NoError(t, ca.Close())
	require.NoError(t, ca.Close())

	err := ca.Enqueue(CmdGetJudge, nil)
	require.ErrorIs(t, err, net.ErrClosed)

	select {
	case <-ca.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestConnServeDrainsQueue(t *testing.T) {
	ca, cb := connPair(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- ca.Serve(ctx, func(*Packet) error { return nil })
	}()

	for i := 0; i < 3; i++ {
		require.NoError(t, ca.Enqueue(CmdTestCaseUpdate, []byte{byte(i)}))
	}
	for i := 0; i < 3; i++ {
		p, err := cb.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, CmdTestCaseUpdate, p.Header.Command)
		assert.Equal(t, []byte{byte(i)}, p.Body)
	}

	cancel()
	select {
	case err := <-serveErr:
		assert.True(t, Closed(err), "unexpected error %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	<-ca.Done()
}

func TestConnServeStopsOnHandlerError(t *testing.T) {
	ca, cb := connPair(t, 0)
	boom := errors.New("boom")

	var seen []Command
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- ca.Serve(context.Background(), func(p *Packet) error {
			seen = append(seen, p.Header.Command)
			if p.Header.Command == CmdReqJudge {
				return boom
			}
			return nil
		})
	}()

	require.NoError(t, cb.WritePacket(CmdGetLogin, nil))
	require.NoError(t, cb.WritePacket(CmdReqJudge, nil))

	select {
	case err := <-serveErr:
		require.ErrorIs(t, err, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, []Command{CmdGetLogin, CmdReqJudge}, seen)
	<-ca.Done()
}

func TestClosed(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, true},
		{io.EOF, true},
		{newError(KindMalformedHeader, "read header", io.EOF), true},
		{io.ErrClosedPipe, true},
		{fmt.Errorf("write: %w", net.ErrClosed), true},
		{context.Canceled, true},
		{io.ErrUnexpectedEOF, false},
		{ErrIntegrityFailure, false},
		{errors.New("other"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Closed(tt.err), "%v", tt.err)
	}
}
