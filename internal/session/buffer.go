package session

import (
	"bytes"
	"sync"
)

// MaxBufferBytes caps how much output a session retains for replay.
const MaxBufferBytes = 1_000_000

// clearScreen is ED2, erase entire display. A full-screen redraw supersedes
// everything drawn before it, so replaying older content underneath it would
// be visually wrong.
var clearScreen = []byte("\x1b[2J")

// ReplayBuffer holds recent terminal output so a reconnecting client can
// restore its screen. Chunks are kept in arrival order and trimmed oldest
// first once the running size exceeds the cap.
type ReplayBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
	size   int
	limit  int
}

func NewReplayBuffer(limit int) *ReplayBuffer {
	if limit <= 0 {
		limit = MaxBufferBytes
	}
	return &ReplayBuffer{limit: limit}
}

// Append records a chunk of terminal output. A chunk containing the
// clear-screen sequence invalidates everything buffered before it.
func (b *ReplayBuffer) Append(data []byte) {
	if len(data) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if bytes.Contains(data, clearScreen) {
		b.chunks = b.chunks[:0]
		b.size = 0
	}

	chunk := make([]byte, len(data))
	copy(chunk, data)
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)

	for b.size > b.limit && len(b.chunks) > 0 {
		b.size -= len(b.chunks[0])
		b.chunks[0] = nil
		b.chunks = b.chunks[1:]
	}
}

// Snapshot returns all buffered output concatenated in arrival order, or nil
// when the buffer is empty.
func (b *ReplayBuffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return nil
	}
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

func (b *ReplayBuffer) Clear() {
	b.mu.Lock()
	b.chunks = nil
	b.size = 0
	b.mu.Unlock()
}

// Size returns the running byte total of all buffered chunks.
func (b *ReplayBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}
