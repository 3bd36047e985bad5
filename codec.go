package judgewire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Canonical encoding: fixed-width big-endian integers, no self-description.
// Byte slices and strings carry a u64 length prefix, options a u8 tag, enums a
// u32 variant index. UUIDs and public keys are written as raw fixed-size arrays.

// Message is implemented by every payload that can travel inside a
// BodyAfterHandshake. Implementations use pointer receivers.
type Message interface {
	EncodeWire(e *Encoder)
	DecodeWire(d *Decoder)
}

// Encoder appends canonical encodings to a byte slice.
type Encoder struct {
	buf []byte
}

func NewEncoder(capacity int) *Encoder {
	return &Encoder{buf: make([]byte, 0, capacity)}
}

// Bytes returns the encoded bytes.
func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) PutUint8(v uint8) { e.buf = append(e.buf, v) }

func (e *Encoder) PutUint32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }

func (e *Encoder) PutUint64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }

func (e *Encoder) PutInt32(v int32) { e.PutUint32(uint32(v)) }

func (e *Encoder) PutInt64(v int64) { e.PutUint64(uint64(v)) }

func (e *Encoder) PutFloat64(v float64) { e.PutUint64(math.Float64bits(v)) }

func (e *Encoder) PutBool(v bool) {
	if v {
		e.PutUint8(1)
	} else {
		e.PutUint8(0)
	}
}

// PutFixed writes b without a length prefix.
func (e *Encoder) PutFixed(b []byte) { e.buf = append(e.buf, b...) }

func (e *Encoder) PutBytes(b []byte) {
	e.PutUint64(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *Encoder) PutString(s string) {
	e.PutUint64(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *Encoder) PutUUID(id uuid.UUID) { e.buf = append(e.buf, id[:]...) }

// PutMessage encodes a nested message in place.
func (e *Encoder) PutMessage(m Message) { m.EncodeWire(e) }

// Decoder reads canonical encodings. The first failure is sticky: later reads
// return zero values and Err reports the original problem.
type Decoder struct {
	buf []byte
	off int
	err error
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// Err returns the first decoding error.
func (d *Decoder) Err() error { return d.err }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

// Fail records err unless an earlier error is already recorded.
func (d *Decoder) Fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

// Finish returns Err, or an error if trailing bytes were left unread.
func (d *Decoder) Finish() error {
	if d.err != nil {
		return d.err
	}
	if n := d.Remaining(); n != 0 {
		return fmt.Errorf("judgewire: %d trailing bytes", n)
	}
	return nil
}

func (d *Decoder) next(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.Remaining() < n {
		d.err = fmt.Errorf("judgewire: need %d bytes at offset %d, have %d", n, d.off, d.Remaining())
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *Decoder) Uint8() uint8 {
	b := d.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *Decoder) Uint32() uint32 {
	b := d.next(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *Decoder) Uint64() uint64 {
	b := d.next(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *Decoder) Int32() int32 { return int32(d.Uint32()) }

func (d *Decoder) Int64() int64 { return int64(d.Uint64()) }

func (d *Decoder) Float64() float64 { return math.Float64frombits(d.Uint64()) }

func (d *Decoder) Bool() bool {
	switch v := d.Uint8(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		d.Fail(fmt.Errorf("judgewire: invalid bool tag %d", v))
		return false
	}
}

// Fixed reads exactly len(dst) bytes into dst.
func (d *Decoder) Fixed(dst []byte) {
	if b := d.next(len(dst)); b != nil {
		copy(dst, b)
	}
}

// length reads a u64 length prefix and checks it against the unread input, so a
// forged prefix never causes a large allocation.
func (d *Decoder) length() int {
	n := d.Uint64()
	if d.err != nil {
		return 0
	}
	if n > uint64(d.Remaining()) {
		d.Fail(fmt.Errorf("judgewire: length prefix %d exceeds %d remaining bytes", n, d.Remaining()))
		return 0
	}
	return int(n)
}

// Bytes returns a copy of a length-prefixed byte slice.
func (d *Decoder) Bytes() []byte {
	n := d.length()
	b := d.next(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (d *Decoder) Text() string {
	n := d.length()
	b := d.next(n)
	if b == nil {
		return ""
	}
	return string(b)
}

func (d *Decoder) UUID() (id uuid.UUID) {
	d.Fixed(id[:])
	return
}

// OptionTag reads an Option tag and reports whether a value follows.
func (d *Decoder) OptionTag() bool {
	switch v := d.Uint8(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		d.Fail(fmt.Errorf("judgewire: invalid option tag %d", v))
		return false
	}
}

// Message decodes a nested message in place.
func (d *Decoder) Message(m Message) {
	if d.err != nil {
		return
	}
	m.DecodeWire(d)
}

// Marshal returns the canonical encoding of m.
func Marshal(m Message) []byte {
	e := NewEncoder(64)
	m.EncodeWire(e)
	return e.Bytes()
}

// Unmarshal decodes b into m. All of b must be consumed.
func Unmarshal(b []byte, m Message) error {
	d := NewDecoder(b)
	m.DecodeWire(d)
	return d.Finish()
}
