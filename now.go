package judgewire

import (
	"sync/atomic"
	"time"
)

// clockResolution is how often the cached clock is refreshed. It only feeds
// activity timestamps and expiry checks, where 100ms is plenty.
const clockResolution = 100 * time.Millisecond

var nowNano atomic.Int64

func init() {
	nowNano.Store(time.Now().UnixNano())
	go nowReader()
}

func nowReader() {
	t := time.NewTicker(clockResolution)
	defer t.Stop()

	for now := range t.C {
		nowNano.Store(now.UnixNano())
	}
}

// Now returns the cached current time, avoiding a clock read on every packet.
func Now() time.Time {
	return time.Unix(0, nowNano.Load())
}
