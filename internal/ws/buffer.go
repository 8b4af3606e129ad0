package ws

import (
	"sync"
	"time"

	"github.com/lyehe/porterminal/internal/logger"
)

const (
	// flushInterval batches large output at ~120Hz, balancing frame overhead
	// against scroll latency.
	flushInterval = 8 * time.Millisecond
	// immediateThreshold is the largest write sent without batching.
	// Keystroke echo and short escape sequences must feel instant.
	immediateThreshold = 64
)

// OutputBuffer coalesces PTY output into fewer binary frames. Small writes
// flush everything queued right away; large writes wait for the flush timer.
// Send errors are swallowed: a dead socket surfaces on the receive path, not
// here.
type OutputBuffer struct {
	w Writer

	mu      sync.Mutex
	pending [][]byte
	size    int
	timer   *time.Timer
	closed  bool
}

func NewOutputBuffer(w Writer) *OutputBuffer {
	return &OutputBuffer{w: w}
}

// Write queues data for delivery. Chunks at or under the immediate threshold
// flush the whole queue at once.
func (b *OutputBuffer) Write(data []byte) {
	if len(data) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.pending = append(b.pending, data)
	b.size += len(data)

	if len(data) <= immediateThreshold {
		b.flushLocked()
		return
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(flushInterval, b.timedFlush)
	}
}

// Flush sends everything queued, cancelling any pending delayed flush.
func (b *OutputBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Close flushes what is queued and drops all later writes. Idempotent.
func (b *OutputBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.flushLocked()
	b.closed = true
}

func (b *OutputBuffer) timedFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timer = nil
	b.flushLocked()
}

// flushLocked concatenates and sends the queue. The send happens under the
// mutex so frames leave in queue order even when the timer races a direct
// flush.
func (b *OutputBuffer) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 || b.closed {
		return
	}

	combined := make([]byte, 0, b.size)
	for _, chunk := range b.pending {
		combined = append(combined, chunk...)
	}
	b.pending = nil
	b.size = 0

	if err := b.w.WriteBinary(combined); err != nil {
		logger.Debug("output flush failed", "bytes", len(combined), "error", err)
	}
}
