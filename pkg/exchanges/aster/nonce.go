package aster

import (
	"sync/atomic"
	"time"
)

// NonceSource issues strictly increasing microsecond nonces. When the clock
// has not advanced past the previous nonce it falls back to last+1.
type NonceSource struct {
	last atomic.Uint64
	now  func() time.Time
}

// NewNonceSource returns a source reading the given clock.
func NewNonceSource(now func() time.Time) *NonceSource {
	if now == nil {
		now = time.Now
	}
	return &NonceSource{now: now}
}

// Next returns max(now in µs, last+1), safe for concurrent callers.
func (n *NonceSource) Next() uint64 {
	for {
		last := n.last.Load()
		next := uint64(n.now().UnixMicro())
		if next <= last {
			next = last + 1
		}
		if n.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// processNonces is shared by every Signer in the process so nonces stay
// monotonic across clients.
var processNonces = NewNonceSource(time.Now)
