package judgewire

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"io"
)

// PacketHeader is the fixed 12-byte frame header.
type PacketHeader struct {
	Magic   uint32
	Command Command
	Length  uint32
}

// CheckMagic reports whether the header belongs to this protocol.
func (h PacketHeader) CheckMagic() bool {
	return h.Magic == Magic
}

// MarshalBinary returns the 12-byte big-endian header.
func (h PacketHeader) MarshalBinary() ([]byte, error) {
	var buf [HeaderSize]byte
	h.put(buf[:])
	return buf[:], nil
}

func (h PacketHeader) put(b []byte) {
	binary.BigEndian.PutUint32(b[0:4], h.Magic)
	binary.BigEndian.PutUint32(b[4:8], uint32(h.Command))
	binary.BigEndian.PutUint32(b[8:12], h.Length)
}

// UnmarshalBinary parses a 12-byte header. It does not check the magic.
func (h *PacketHeader) UnmarshalBinary(b []byte) error {
	if len(b) != HeaderSize {
		return newError(KindMalformedHeader, "header size", nil)
	}
	h.Magic = binary.BigEndian.Uint32(b[0:4])
	h.Command = Command(binary.BigEndian.Uint32(b[4:8]))
	h.Length = binary.BigEndian.Uint32(b[8:12])
	return nil
}

// Packet is one frame: header || body || digest.
type Packet struct {
	Header PacketHeader
	Body   []byte
	Digest [DigestSize]byte
}

// NewPacket builds an outgoing packet and computes its digest.
func NewPacket(cmd Command, body []byte) *Packet {
	p := &Packet{
		Header: PacketHeader{
			Magic:   Magic,
			Command: cmd,
			Length:  uint32(len(body)),
		},
		Body: body,
	}
	p.Digest = p.checksum()
	return p
}

// checksum is MD5 over the canonical encoding of (header, body): the 12 header
// bytes, the body length as u64 and the body itself. It detects corruption, not
// tampering.
func (p *Packet) checksum() [DigestSize]byte {
	var pre [HeaderSize + 8]byte
	p.Header.put(pre[:HeaderSize])
	binary.BigEndian.PutUint64(pre[HeaderSize:], uint64(len(p.Body)))

	h := md5.New()
	h.Write(pre[:])
	h.Write(p.Body)

	var sum [DigestSize]byte
	h.Sum(sum[:0])
	return sum
}

// Verify recomputes the digest and compares it with the one carried by p.
func (p *Packet) Verify() bool {
	sum := p.checksum()
	return subtle.ConstantTimeCompare(sum[:], p.Digest[:]) == 1
}

// Bytes returns the full frame.
func (p *Packet) Bytes() []byte {
	buf := make([]byte, HeaderSize+len(p.Body)+DigestSize)
	p.Header.put(buf[:HeaderSize])
	copy(buf[HeaderSize:], p.Body)
	copy(buf[HeaderSize+len(p.Body):], p.Digest[:])
	return buf
}

// WriteTo writes the frame to w.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(p.Bytes())
	return int64(n), err
}

// EncodePacket frames body under cmd.
func EncodePacket(cmd Command, body []byte) []byte {
	return NewPacket(cmd, body).Bytes()
}

// ReadPacket reads and validates one frame from r. maxBody bounds the declared
// length; zero means DefaultMaxPacketSize. Errors are *Error values: every kind
// returned here is fatal for the connection, and no partially read packet is
// ever returned.
func ReadPacket(r io.Reader, maxBody uint32) (*Packet, error) {
	return readPacket(r, maxBody, nil)
}

// readPacket is ReadPacket with an optional reusable body buffer. When the body
// fits in scratch it aliases it and is only valid until the next call.
func readPacket(r io.Reader, maxBody uint32, scratch []byte) (*Packet, error) {
	if maxBody == 0 {
		maxBody = DefaultMaxPacketSize
	}

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, newError(KindMalformedHeader, "read header", err)
	}

	p := &Packet{}
	if err := p.Header.UnmarshalBinary(hdr[:]); err != nil {
		return nil, err
	}
	if !p.Header.CheckMagic() {
		return nil, newError(KindBadMagic, "", nil)
	}
	if p.Header.Length > maxBody {
		return nil, newError(KindOversizedLength, "", nil)
	}

	ln := int(p.Header.Length)
	if ln <= len(scratch) {
		p.Body = scratch[:ln]
	} else {
		p.Body = make([]byte, ln)
	}
	if _, err := io.ReadFull(r, p.Body); err != nil {
		return nil, newError(KindMalformedHeader, "read body", truncated(err))
	}
	if _, err := io.ReadFull(r, p.Digest[:]); err != nil {
		return nil, newError(KindMalformedHeader, "read digest", truncated(err))
	}

	if !p.Verify() {
		return nil, newError(KindIntegrityFailure, "", nil)
	}
	return p, nil
}

// truncated turns a clean EOF in the middle of a frame into ErrUnexpectedEOF.
func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
