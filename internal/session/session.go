// Package session gives each terminal a durable identity independent of any
// single socket connection. A Session owns one PTY and a replay buffer; the
// Registry owns the sessions, enforces capacity, and reaps the dead.
package session

import (
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/lyehe/porterminal/internal/pty"
)

// CloseSuperseded is sent to a client whose session was claimed by a newer
// connection.
const CloseSuperseded websocket.StatusCode = 4000

// Socket is the slice of a websocket connection the session layer needs to
// evict a stale client. *websocket.Conn satisfies it.
type Socket interface {
	Close(code websocket.StatusCode, reason string) error
}

// Session is one persistent terminal. The socket comes and goes across
// reconnects; the PTY lives until the Registry destroys it.
type Session struct {
	ID        string
	UserID    string
	ShellID   string
	CreatedAt time.Time

	PTY    *pty.Manager
	Buffer *ReplayBuffer

	mu         sync.Mutex
	socket     Socket
	connected  bool
	lastActive time.Time
}

func newSession(id, userID, shellID string, mgr *pty.Manager) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		UserID:     userID,
		ShellID:    shellID,
		CreatedAt:  now,
		PTY:        mgr,
		Buffer:     NewReplayBuffer(MaxBufferBytes),
		lastActive: now,
	}
}

// Touch refreshes the activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// Connected reports whether a socket is currently bound.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// BoundTo reports whether sock is the currently bound socket. Handlers use
// it to stop pumping once a newer connection has claimed the session.
func (s *Session) BoundTo(sock Socket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && s.socket == sock
}

// Bind attaches sock as the session's client. A previously bound socket is
// closed with the superseded code so the old tab stops echoing.
func (s *Session) Bind(sock Socket) {
	s.mu.Lock()
	prev := s.socket
	if prev == sock {
		prev = nil
	}
	s.socket = sock
	s.connected = true
	s.lastActive = time.Now()
	s.mu.Unlock()

	if prev != nil {
		_ = prev.Close(CloseSuperseded, "Reconnected from another client")
	}
}

// Unbind detaches sock and reports whether it was the bound socket. A stale
// handler whose socket was already superseded must not disturb the newer
// binding, so a mismatched sock is a no-op. A nil sock unbinds
// unconditionally.
func (s *Session) Unbind(sock Socket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sock != nil && s.socket != sock {
		return false
	}
	s.socket = nil
	s.connected = false
	s.lastActive = time.Now()
	return true
}

// takeSocket detaches and returns the bound socket, if any.
func (s *Session) takeSocket() Socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	sock := s.socket
	s.socket = nil
	s.connected = false
	return sock
}
