package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("send failed")

// frameRecorder is a Writer that captures frames in memory.
type frameRecorder struct {
	mu     sync.Mutex
	binary [][]byte
	texts  [][]byte
	err    error
}

func (r *frameRecorder) WriteBinary(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	c := make([]byte, len(data))
	copy(c, data)
	r.binary = append(r.binary, c)
	return nil
}

func (r *frameRecorder) WriteJSON(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.texts = append(r.texts, data)
	return nil
}

func (r *frameRecorder) binaryFrames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.binary...)
}

// lastErrorMessage returns the message of the most recent error frame, if
// any.
func (r *frameRecorder) lastErrorMessage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.texts) - 1; i >= 0; i-- {
		var msg ErrorMsg
		if json.Unmarshal(r.texts[i], &msg) == nil && msg.Type == TypeError {
			return msg.Message
		}
	}
	return ""
}

func TestOutputBufferSmallWriteIsImmediate(t *testing.T) {
	rec := &frameRecorder{}
	b := NewOutputBuffer(rec)

	b.Write([]byte("0123456789"))

	frames := rec.binaryFrames()
	if len(frames) != 1 || string(frames[0]) != "0123456789" {
		t.Errorf("frames = %d, want one immediate 10-byte frame", len(frames))
	}
}

func TestOutputBufferLargeWriteWaitsForTimer(t *testing.T) {
	rec := &frameRecorder{}
	b := NewOutputBuffer(rec)

	big := bytes.Repeat([]byte{'a'}, 1000)
	b.Write(big)
	b.Write(bytes.Repeat([]byte{'b'}, 200))

	if got := len(rec.binaryFrames()); got != 0 {
		t.Fatalf("frames before flush interval = %d, want 0", got)
	}

	time.Sleep(5 * flushInterval)
	frames := rec.binaryFrames()
	if len(frames) != 1 {
		t.Fatalf("frames after flush interval = %d, want one batched frame", len(frames))
	}
	if len(frames[0]) != 1200 {
		t.Errorf("batched frame = %d bytes, want 1200", len(frames[0]))
	}
	if !bytes.HasPrefix(frames[0], []byte("aa")) || !bytes.HasSuffix(frames[0], []byte("bb")) {
		t.Error("batched frame lost write order")
	}
}

func TestOutputBufferSmallWriteFlushesQueue(t *testing.T) {
	rec := &frameRecorder{}
	b := NewOutputBuffer(rec)

	big := bytes.Repeat([]byte{'a'}, 500)
	b.Write(big)
	b.Write([]byte("x"))

	// The small write flushes everything queued, as one in-order frame.
	frames := rec.binaryFrames()
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if len(frames[0]) != 501 || frames[0][500] != 'x' {
		t.Errorf("frame = %d bytes ending %q, want queued data then x", len(frames[0]), frames[0][len(frames[0])-1:])
	}

	// Nothing left for the timer.
	time.Sleep(5 * flushInterval)
	if got := len(rec.binaryFrames()); got != 1 {
		t.Errorf("frames after interval = %d, want still 1", got)
	}
}

func TestOutputBufferExplicitFlush(t *testing.T) {
	rec := &frameRecorder{}
	b := NewOutputBuffer(rec)

	b.Write(bytes.Repeat([]byte{'a'}, 500))
	b.Flush()

	if got := len(rec.binaryFrames()); got != 1 {
		t.Fatalf("frames after Flush = %d, want 1", got)
	}
	b.Flush()
	if got := len(rec.binaryFrames()); got != 1 {
		t.Errorf("frames after empty Flush = %d, want still 1", got)
	}
}

func TestOutputBufferCloseFlushesThenDrops(t *testing.T) {
	rec := &frameRecorder{}
	b := NewOutputBuffer(rec)

	b.Write(bytes.Repeat([]byte{'a'}, 500))
	b.Close()

	if got := len(rec.binaryFrames()); got != 1 {
		t.Fatalf("frames after Close = %d, want the trailing batch flushed", got)
	}

	b.Write([]byte("late"))
	b.Close()
	if got := len(rec.binaryFrames()); got != 1 {
		t.Errorf("frames after post-Close write = %d, want still 1", got)
	}
}

func TestOutputBufferSwallowsSendErrors(t *testing.T) {
	rec := &frameRecorder{err: errTest}
	b := NewOutputBuffer(rec)

	b.Write([]byte("x"))
	b.Write(bytes.Repeat([]byte{'a'}, 500))
	b.Flush()
	b.Close()

	if got := len(rec.binaryFrames()); got != 0 {
		t.Errorf("frames = %d, want 0 with a failing writer", got)
	}
}
