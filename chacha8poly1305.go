package judgewire

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/aead/chacha20/chacha"
	"golang.org/x/crypto/poly1305"
)

// chacha8Rounds is the round count of the standard field cipher.
const chacha8Rounds = 8

var errOpen = errors.New("chacha8poly1305: message authentication failed")

// chacha8Poly1305 is the RFC 8439 AEAD construction with the ChaCha core reduced
// to 8 rounds: the Poly1305 key is the first 32 bytes of keystream block 0 and
// the payload is encrypted from block 1 onwards.
type chacha8Poly1305 struct {
	key    [KeySize]byte
	rounds int
}

// NewChaCha8Poly1305 returns the AEAD used to seal individual protocol fields.
func NewChaCha8Poly1305(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("chacha8poly1305: bad key length %d", len(key))
	}
	c := &chacha8Poly1305{rounds: chacha8Rounds}
	copy(c.key[:], key)
	return c, nil
}

func (c *chacha8Poly1305) NonceSize() int { return NonceSize }

func (c *chacha8Poly1305) Overhead() int { return TagSize }

func (c *chacha8Poly1305) stream(nonce []byte) (*chacha.Cipher, [32]byte) {
	var polyKey [32]byte

	s, err := chacha.NewCipher(nonce, c.key[:], c.rounds)
	if err != nil {
		// key and nonce sizes are checked by the callers
		panic(err)
	}
	s.XORKeyStream(polyKey[:], polyKey[:])
	s.SetCounter(1)
	return s, polyKey
}

func (c *chacha8Poly1305) Seal(dst, nonce, plaintext, additionalData []byte) []byte {
	if len(nonce) != NonceSize {
		panic("chacha8poly1305: bad nonce length passed to Seal")
	}

	s, polyKey := c.stream(nonce)

	ret, out := sliceForAppend(dst, len(plaintext)+TagSize)
	ciphertext, tag := out[:len(plaintext)], out[len(plaintext):]
	s.XORKeyStream(ciphertext, plaintext)

	mac := poly1305.New(&polyKey)
	writeMACInput(mac, additionalData, ciphertext)
	mac.Sum(tag[:0])

	return ret
}

func (c *chacha8Poly1305) Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		panic("chacha8poly1305: bad nonce length passed to Open")
	}
	if len(ciphertext) < TagSize {
		return nil, errOpen
	}

	tag := ciphertext[len(ciphertext)-TagSize:]
	ciphertext = ciphertext[:len(ciphertext)-TagSize]

	s, polyKey := c.stream(nonce)

	mac := poly1305.New(&polyKey)
	writeMACInput(mac, additionalData, ciphertext)
	ok := mac.Verify(tag)

	// the keystream is applied on both paths so a forged tag costs the same as a
	// genuine one; the output is wiped before anything is returned on failure
	ret, out := sliceForAppend(dst, len(ciphertext))
	s.XORKeyStream(out, ciphertext)
	if !ok {
		for i := range out {
			out[i] = 0
		}
		return nil, errOpen
	}
	return ret, nil
}

// writeMACInput feeds ad || pad16 || ct || pad16 || le64(len(ad)) || le64(len(ct)).
func writeMACInput(mac *poly1305.MAC, ad, ciphertext []byte) {
	var pad [16]byte
	mac.Write(ad)
	if r := len(ad) % 16; r != 0 {
		mac.Write(pad[:16-r])
	}
	mac.Write(ciphertext)
	if r := len(ciphertext) % 16; r != 0 {
		mac.Write(pad[:16-r])
	}
	var lens [16]byte
	binary.LittleEndian.PutUint64(lens[0:8], uint64(len(ad)))
	binary.LittleEndian.PutUint64(lens[8:16], uint64(len(ciphertext)))
	mac.Write(lens[:])
}

// sliceForAppend extends in by n bytes, returning the whole slice and the tail.
func sliceForAppend(in []byte, n int) (head, tail []byte) {
	if total := len(in) + n; cap(in) >= total {
		head = in[:total]
	} else {
		head = make([]byte, total)
		copy(head, in)
	}
	tail = head[len(in):]
	return
}
