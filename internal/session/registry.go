package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/lyehe/porterminal/internal/logger"
	"github.com/lyehe/porterminal/internal/pty"
)

// Session limits. Per-user is high enough for multi-tab use.
const (
	MaxSessionsPerUser = 10
	MaxTotalSessions   = 100

	reapInterval = 60 * time.Second
)

var (
	// ErrUserLimit means the user already holds MaxSessionsPerUser sessions.
	ErrUserLimit = fmt.Errorf("maximum sessions (%d) reached for user", MaxSessionsPerUser)
	// ErrServerLimit means the global session cap is reached.
	ErrServerLimit = errors.New("server session limit reached")
	// ErrNotFound covers unknown ids, ownership mismatches and dead PTYs
	// alike, so a failed reconnect reveals nothing about other users'
	// sessions.
	ErrNotFound = errors.New("session not found or unauthorized")
)

// Destroy reasons, recorded in the history journal.
const (
	ReasonExited   = "exited"
	ReasonMaxAge   = "max_age"
	ReasonExpired  = "expired"
	ReasonShutdown = "shutdown"
)

// Factory spawns a PTY for a new session and returns the manager plus the
// resolved shell id. pty.New partially applied over the live config is the
// production factory.
type Factory func(shellID string, cols, rows int) (*pty.Manager, string, error)

// Journal receives session lifecycle events, best-effort. *history.Store
// satisfies it.
type Journal interface {
	RecordStart(id, userID, shellID string) error
	RecordEnd(id, reason string) error
}

// Registry owns every live session. All mutations of the two maps go through
// one mutex so the capacity counts and the per-user index stay consistent.
type Registry struct {
	factory Factory
	journal Journal
	maxAge  time.Duration
	window  time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	byUser   map[string]map[string]struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRegistry builds a registry around the given PTY factory. journal may be
// nil. maxAge bounds total session lifetime and window bounds disconnected
// lifetime; zero means unlimited, a session then lives exactly as long as its
// PTY process.
func NewRegistry(factory Factory, journal Journal, maxAge, window time.Duration) *Registry {
	return &Registry{
		factory:  factory,
		journal:  journal,
		maxAge:   maxAge,
		window:   window,
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Create spawns a new terminal session for userID. Capacity is checked before
// anything is spawned; the lock is held across the spawn so two racing
// creates cannot both squeeze past the limit.
func (r *Registry) Create(userID, shellID string, cols, rows int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byUser[userID]) >= MaxSessionsPerUser {
		return nil, ErrUserLimit
	}
	if len(r.sessions) >= MaxTotalSessions {
		return nil, ErrServerLimit
	}

	mgr, resolved, err := r.factory(shellID, cols, rows)
	if err != nil {
		return nil, err
	}

	s := newSession(uuid.New().String(), userID, resolved, mgr)
	r.sessions[s.ID] = s
	set := r.byUser[userID]
	if set == nil {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[s.ID] = struct{}{}

	r.recordStart(s)
	logger.Info("session created",
		"session_id", s.ID, "user_id", userID, "shell_id", resolved,
		"total_sessions", len(r.sessions))
	return s, nil
}

// Reconnect binds sock to an existing session. Unknown ids, ownership
// mismatches and dead PTYs all return ErrNotFound; a dead PTY additionally
// destroys the session so stale ids self-heal.
func (r *Registry) Reconnect(id, userID string, sock Socket) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		logger.Warn("reconnect failed, session not found", "session_id", id, "user_id", userID)
		return nil, ErrNotFound
	}
	if s.UserID != userID {
		r.mu.Unlock()
		logger.Warn("reconnect failed, ownership mismatch", "session_id", id, "user_id", userID)
		return nil, ErrNotFound
	}
	alive := s.PTY.Alive()
	r.mu.Unlock()

	if !alive {
		logger.Warn("reconnect failed, pty dead", "session_id", id, "user_id", userID)
		r.Destroy(id, ReasonExited)
		return nil, ErrNotFound
	}

	s.Bind(sock)
	logger.Info("session reconnected",
		"session_id", id, "user_id", userID, "buffered_bytes", s.Buffer.Size())
	return s, nil
}

// Disconnect marks the session reconnectable: the socket is unbound but the
// PTY and replay buffer persist. sock scopes the unbind to the departing
// handler; see Session.Unbind.
func (r *Registry) Disconnect(id string, sock Socket) {
	r.mu.Lock()
	s := r.sessions[id]
	r.mu.Unlock()
	if s == nil {
		return
	}
	if s.Unbind(sock) {
		logger.Info("session disconnected",
			"session_id", id, "user_id", s.UserID, "buffered_bytes", s.Buffer.Size())
	}
}

// Destroy removes the session and releases its resources. Unknown ids are a
// no-op, which makes concurrent destruction safe.
func (r *Registry) Destroy(id, reason string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		set := r.byUser[s.UserID]
		delete(set, id)
		if len(set) == 0 {
			delete(r.byUser, s.UserID)
		}
	}
	remaining := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return
	}

	if sock := s.takeSocket(); sock != nil {
		_ = sock.Close(websocket.StatusNormalClosure, "")
	}
	if err := s.PTY.Close(); err != nil {
		logger.Warn("pty close failed", "session_id", id, "error", err)
	}
	r.recordEnd(id, reason)
	logger.Info("session destroyed",
		"session_id", id, "user_id", s.UserID, "reason", reason,
		"remaining_sessions", remaining)
}

// Get returns the session with the given id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Count returns the number of live sessions, for health reporting.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// UserSessions returns all sessions owned by userID.
func (r *Registry) UserSessions(userID string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for id := range r.byUser[userID] {
		if s, ok := r.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Start launches the background reaper.
func (r *Registry) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.reap()
			}
		}
	}()
	logger.Info("session registry started")
}

// Stop halts the reaper and destroys every remaining session.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()

	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Destroy(id, ReasonShutdown)
	}
	logger.Info("session registry stopped")
}

// reap destroys sessions whose PTY died, and optionally those past the max
// age or the reconnection window. A dead PTY is authoritative: the session is
// destroyed, never restarted.
func (r *Registry) reap() {
	now := time.Now()

	type target struct {
		id     string
		reason string
	}
	var doomed []target

	r.mu.Lock()
	for id, s := range r.sessions {
		switch {
		case !s.PTY.Alive():
			doomed = append(doomed, target{id, ReasonExited})
		case r.maxAge > 0 && now.Sub(s.CreatedAt) > r.maxAge:
			doomed = append(doomed, target{id, ReasonMaxAge})
		case r.window > 0 && !s.Connected() && now.Sub(s.LastActive()) > r.window:
			doomed = append(doomed, target{id, ReasonExpired})
		}
	}
	r.mu.Unlock()

	for _, t := range doomed {
		logger.Info("reaping session", "session_id", t.id, "reason", t.reason)
		r.Destroy(t.id, t.reason)
	}
}

func (r *Registry) recordStart(s *Session) {
	if r.journal == nil {
		return
	}
	if err := r.journal.RecordStart(s.ID, s.UserID, s.ShellID); err != nil {
		logger.Warn("history record failed", "session_id", s.ID, "error", err)
	}
}

func (r *Registry) recordEnd(id, reason string) {
	if r.journal == nil {
		return
	}
	if err := r.journal.RecordEnd(id, reason); err != nil {
		logger.Warn("history record failed", "session_id", id, "error", err)
	}
}
