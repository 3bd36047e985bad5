package judgewire

import (
	"bytes"
	"testing"
)

func FuzzSealOpen(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte("hello"))
	f.Add(make([]byte, 1000))

	key := testKey(f)
	other := testKey(f)

	f.Fuzz(func(t *testing.T, plaintext []byte) {
		m, err := Seal(key, plaintext)
		if err != nil {
			t.Fatalf("seal failed: %v", err)
		}

		got, err := m.Open(key)
		if err != nil {
			t.Fatalf("open failed: %v", err)
		}
		if !bytes.Equal(plaintext, got) {
			t.Errorf("round trip failed: got %x, want %x", got, plaintext)
		}

		if _, err := m.Open(other); err == nil {
			t.Error("open with wrong key should fail")
		}
	})
}

func FuzzDecodeEncMessage(f *testing.F) {
	f.Add([]byte{})
	f.Add(Marshal(mustSeal(f, testKey(f), []byte("seed"))))

	key := testKey(f)
	f.Fuzz(func(t *testing.T, data []byte) {
		var m EncMessage
		if err := Unmarshal(data, &m); err != nil {
			return
		}
		// random bytes never authenticate
		if _, err := m.Open(key); err == nil {
			t.Error("forged message opened")
		}
	})
}
