package judgewire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	for _, body := range [][]byte{nil, {0x42}, bytes.Repeat([]byte("x"), 4096)} {
		raw := EncodePacket(CmdReqJudge, body)
		require.Len(t, raw, HeaderSize+len(body)+DigestSize)

		p, err := ReadPacket(bytes.NewReader(raw), 0)
		require.NoError(t, err)
		assert.Equal(t, Magic, p.Header.Magic)
		assert.Equal(t, CmdReqJudge, p.Header.Command)
		assert.Equal(t, uint32(len(body)), p.Header.Length)
		assert.True(t, bytes.Equal(body, p.Body))
		assert.True(t, p.Verify())
	}
}

func TestPacketHeaderLayout(t *testing.T) {
	raw := EncodePacket(CmdTestCaseEnd, []byte{1, 2, 3})
	assert.Equal(t, uint32(0x596F7275), binary.BigEndian.Uint32(raw[0:4]))
	assert.Equal(t, uint32(CmdTestCaseEnd), binary.BigEndian.Uint32(raw[4:8]))
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(raw[8:12]))
}

func TestPacketSequence(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewPacket(CmdGetLogin, []byte("one")).WriteTo(&buf)
	require.NoError(t, err)
	_, err = NewPacket(CmdReqLogin, []byte("two")).WriteTo(&buf)
	require.NoError(t, err)

	p1, err := ReadPacket(&buf, 0)
	require.NoError(t, err)
	p2, err := ReadPacket(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "one", string(p1.Body))
	assert.Equal(t, "two", string(p2.Body))

	_, err = ReadPacket(&buf, 0)
	require.ErrorIs(t, err, ErrMalformedHeader)
	require.ErrorIs(t, err, io.EOF)
}

func TestPacketSingleByteFlip(t *testing.T) {
	raw := EncodePacket(CmdVerifyToken, []byte("payload under test"))

	for i := range raw {
		corrupt := bytes.Clone(raw)
		corrupt[i] ^= 0x01

		_, err := ReadPacket(bytes.NewReader(corrupt), 0)
		require.Error(t, err, "flip at offset %d", i)

		switch {
		case i < 4:
			assert.ErrorIs(t, err, ErrBadMagic, "offset %d", i)
		case i >= 8 && i < 12:
			// a different length desynchronizes the frame: any fatal kind will do
			assert.True(t, KindOf(err).Fatal(), "offset %d: %v", i, err)
		default:
			assert.ErrorIs(t, err, ErrIntegrityFailure, "offset %d", i)
		}
	}
}

func TestPacketBadMagicBeforeBody(t *testing.T) {
	hdr := PacketHeader{Magic: 0xDEADBEEF, Command: CmdReqJudge, Length: 1 << 30}
	b, err := hdr.MarshalBinary()
	require.NoError(t, err)

	// no body follows: the magic must be rejected before reading it
	_, err = ReadPacket(bytes.NewReader(b), 0)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestPacketOversizedLength(t *testing.T) {
	raw := EncodePacket(CmdReqJudge, make([]byte, 65))

	_, err := ReadPacket(bytes.NewReader(raw), 64)
	require.ErrorIs(t, err, ErrOversizedLength)

	_, err = ReadPacket(bytes.NewReader(raw), 65)
	require.NoError(t, err)
}

func TestPacketTruncated(t *testing.T) {
	raw := EncodePacket(CmdReqJudge, []byte("0123456789"))

	for _, n := range []int{0, 5, HeaderSize, HeaderSize + 4, len(raw) - 1} {
		_, err := ReadPacket(bytes.NewReader(raw[:n]), 0)
		require.ErrorIs(t, err, ErrMalformedHeader, "truncated to %d", n)
		if n > 0 {
			assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "truncated to %d: %v", n, err)
		}
	}
}

func TestPacketLengthBeyondStream(t *testing.T) {
	hdr := PacketHeader{Magic: Magic, Command: CmdReqJudge, Length: 1000}
	b, _ := hdr.MarshalBinary()
	b = append(b, []byte("short")...)

	_, err := ReadPacket(bytes.NewReader(b), 0)
	require.ErrorIs(t, err, ErrMalformedHeader)
}

func TestReadPacketScratchReuse(t *testing.T) {
	scratch := make([]byte, 16)
	raw := EncodePacket(CmdGetLogin, []byte("small"))

	p, err := readPacket(bytes.NewReader(raw), 0, scratch)
	require.NoError(t, err)
	assert.Same(t, &scratch[0], &p.Body[0])

	big := EncodePacket(CmdGetLogin, make([]byte, 32))
	p, err = readPacket(bytes.NewReader(big), 0, scratch)
	require.NoError(t, err)
	assert.Len(t, p.Body, 32)
}
