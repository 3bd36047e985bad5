package judgewire

import (
	"time"
)

// Wire protocol constants
const (
	// Magic identifies the protocol at the start of every header ("Your")
	Magic uint32 = 0x596F7275

	// HeaderSize is magic(4) + command(4) + length(4)
	HeaderSize = 12

	// DigestSize is the size of the trailing integrity digest (MD5)
	DigestSize = 16

	KeySize       = 32 // symmetric session key, in bytes
	NonceSize     = 12 // AEAD nonce, in bytes
	TagSize       = 16 // Poly1305 tag, in bytes
	PublicKeySize = 32 // X25519 public key, in bytes
)

// Various settings
const (
	ReceiveBufferSize  = 128 * 1024 // size of buffered reader on each connection
	ReusableBufferSize = 1500       // bodies up to this size reuse the connection buffer
	SendBufferSize     = 65536      // size of the buffered writer on each connection
)

// Default config values from Config struct
const (
	DefaultListenAddr     = "0.0.0.0:7878"
	DefaultStatsAddr      = "127.0.0.1:7879"
	DefaultCredentialName = "default"

	// DefaultMaxPacketSize caps the declared body length of incoming frames
	DefaultMaxPacketSize = 16 * 1024 * 1024

	DefaultHandshakeTimeoutSec = 10
	DefaultIdleTimeoutSec      = 300 // 5 minutes

	// DefaultOutboundQueue is the number of pending async packets per connection
	DefaultOutboundQueue = 256

	DefaultLogLevel = "info"
)

// Default time durations
var (
	DefaultHandshakeTimeout = time.Duration(DefaultHandshakeTimeoutSec) * time.Second
	DefaultIdleTimeout      = time.Duration(DefaultIdleTimeoutSec) * time.Second
)
