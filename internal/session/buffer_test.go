package session

import (
	"bytes"
	"strings"
	"testing"
)

func TestReplayBufferTrimsOldestFirst(t *testing.T) {
	b := NewReplayBuffer(100)

	// Ten distinct 20-byte chunks; only the last five fit under the cap.
	for i := 0; i < 10; i++ {
		b.Append(bytes.Repeat([]byte{byte('a' + i)}, 20))
	}

	if got := b.Size(); got != 100 {
		t.Errorf("Size = %d, want 100", got)
	}
	want := strings.Repeat("f", 20) + strings.Repeat("g", 20) +
		strings.Repeat("h", 20) + strings.Repeat("i", 20) + strings.Repeat("j", 20)
	if got := string(b.Snapshot()); got != want {
		t.Errorf("Snapshot = %q, want last five chunks", got)
	}
}

func TestReplayBufferSizeNeverExceedsCap(t *testing.T) {
	b := NewReplayBuffer(64)
	sizes := []int{1, 63, 64, 65, 10, 200, 3}
	for _, n := range sizes {
		b.Append(bytes.Repeat([]byte{'x'}, n))
		if got := b.Size(); got > 64 {
			t.Fatalf("Size = %d after %d-byte append, cap is 64", got, n)
		}
	}
}

func TestReplayBufferDropsOversizedChunk(t *testing.T) {
	b := NewReplayBuffer(100)
	b.Append(bytes.Repeat([]byte{'x'}, 150))
	if got := b.Size(); got != 0 {
		t.Errorf("Size = %d after over-cap chunk, want 0", got)
	}
	if got := b.Snapshot(); got != nil {
		t.Errorf("Snapshot = %q, want nil", got)
	}
}

func TestReplayBufferClearSequence(t *testing.T) {
	b := NewReplayBuffer(0)
	b.Append([]byte("A"))
	b.Append([]byte("\x1b[2Jb"))
	if got := string(b.Snapshot()); got != "\x1b[2Jb" {
		t.Errorf("Snapshot = %q, want clear chunk only", got)
	}

	// Home-then-clear, as TUI apps emit it, embedded mid-chunk.
	b.Append([]byte("more output"))
	b.Append([]byte("tail\x1b[H\x1b[2Jfresh"))
	if got := string(b.Snapshot()); got != "tail\x1b[H\x1b[2Jfresh" {
		t.Errorf("Snapshot = %q, want only the clearing chunk", got)
	}
}

func TestReplayBufferAppendCopies(t *testing.T) {
	b := NewReplayBuffer(0)
	data := []byte("hello")
	b.Append(data)
	data[0] = 'X'
	if got := string(b.Snapshot()); got != "hello" {
		t.Errorf("Snapshot = %q, caller mutation leaked in", got)
	}
}

func TestReplayBufferClear(t *testing.T) {
	b := NewReplayBuffer(0)
	b.Append([]byte("data"))
	b.Clear()
	if b.Size() != 0 || b.Snapshot() != nil {
		t.Errorf("Clear left size=%d snapshot=%q", b.Size(), b.Snapshot())
	}
	b.Append([]byte(""))
	if b.Size() != 0 {
		t.Errorf("empty append changed size to %d", b.Size())
	}
}
