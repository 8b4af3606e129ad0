package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/lyehe/porterminal/internal/config"
	"github.com/lyehe/porterminal/internal/pty"
)

// fakeSpawner builds sessions on in-memory PTYs and keeps each Fake reachable
// so tests can kill it.
type fakeSpawner struct {
	mu    sync.Mutex
	fakes []*pty.Fake
	calls int
	err   error
}

func (f *fakeSpawner) factory(shellID string, cols, rows int) (*pty.Manager, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	fake := pty.NewFake()
	m := pty.NewManager(fake)
	err := m.Start(config.Shell{ID: "sh", Name: "Sh", Command: "/bin/sh"}, "", uint16(rows), uint16(cols))
	if err != nil {
		return nil, "", err
	}
	f.fakes = append(f.fakes, fake)
	return m, "sh", nil
}

func (f *fakeSpawner) spawnCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSocket struct {
	mu     sync.Mutex
	closed bool
	code   websocket.StatusCode
	reason string
}

func (s *fakeSocket) Close(code websocket.StatusCode, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.code = code
	s.reason = reason
	return nil
}

func (s *fakeSocket) closedWith() (bool, websocket.StatusCode, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.code, s.reason
}

type journalEvent struct {
	id, userID, shellID, reason string
}

type fakeJournal struct {
	mu     sync.Mutex
	starts []journalEvent
	ends   []journalEvent
	err    error
}

func (j *fakeJournal) RecordStart(id, userID, shellID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.starts = append(j.starts, journalEvent{id: id, userID: userID, shellID: shellID})
	return j.err
}

func (j *fakeJournal) RecordEnd(id, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ends = append(j.ends, journalEvent{id: id, reason: reason})
	return j.err
}

func TestCreateUserLimit(t *testing.T) {
	spawner := &fakeSpawner{}
	r := NewRegistry(spawner.factory, nil, 0, 0)
	defer r.Stop()

	for i := 0; i < MaxSessionsPerUser; i++ {
		if _, err := r.Create("alice", "sh", 80, 24); err != nil {
			t.Fatalf("Create #%d error = %v", i, err)
		}
	}

	if _, err := r.Create("alice", "sh", 80, 24); !errors.Is(err, ErrUserLimit) {
		t.Errorf("Create over user limit error = %v, want ErrUserLimit", err)
	}
	if got := spawner.spawnCalls(); got != MaxSessionsPerUser {
		t.Errorf("spawn calls = %d, want %d (rejected create must not spawn)", got, MaxSessionsPerUser)
	}

	// Another user is unaffected.
	if _, err := r.Create("bob", "sh", 80, 24); err != nil {
		t.Errorf("Create for second user error = %v", err)
	}
}

func TestCreateServerLimit(t *testing.T) {
	spawner := &fakeSpawner{}
	r := NewRegistry(spawner.factory, nil, 0, 0)
	defer r.Stop()

	for i := 0; i < MaxTotalSessions; i++ {
		user := fmt.Sprintf("user-%d", i/MaxSessionsPerUser)
		if _, err := r.Create(user, "sh", 80, 24); err != nil {
			t.Fatalf("Create #%d error = %v", i, err)
		}
	}

	if _, err := r.Create("late-user", "sh", 80, 24); !errors.Is(err, ErrServerLimit) {
		t.Errorf("Create over server limit error = %v, want ErrServerLimit", err)
	}
	if got := r.Count(); got != MaxTotalSessions {
		t.Errorf("Count = %d, want %d", got, MaxTotalSessions)
	}
}

func TestCreateFactoryError(t *testing.T) {
	spawner := &fakeSpawner{err: errors.New("spawn boom")}
	r := NewRegistry(spawner.factory, nil, 0, 0)
	defer r.Stop()

	if _, err := r.Create("alice", "sh", 80, 24); err == nil {
		t.Fatal("Create with failing factory = nil error")
	}
	if got := r.Count(); got != 0 {
		t.Errorf("Count = %d after failed create, want 0", got)
	}
	if got := len(r.UserSessions("alice")); got != 0 {
		t.Errorf("UserSessions = %d after failed create, want 0", got)
	}
}

func TestReconnectOwnership(t *testing.T) {
	spawner := &fakeSpawner{}
	r := NewRegistry(spawner.factory, nil, 0, 0)
	defer r.Stop()

	s, err := r.Create("alice", "sh", 80, 24)
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}

	if _, err := r.Reconnect(s.ID, "mallory", &fakeSocket{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reconnect as wrong user error = %v, want ErrNotFound", err)
	}
	if _, err := r.Reconnect("no-such-id", "alice", &fakeSocket{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reconnect unknown id error = %v, want ErrNotFound", err)
	}

	sock := &fakeSocket{}
	got, err := r.Reconnect(s.ID, "alice", sock)
	if err != nil {
		t.Fatalf("Reconnect as owner error = %v", err)
	}
	if got != s {
		t.Error("Reconnect returned a different session")
	}
	if !s.Connected() {
		t.Error("Connected = false after reconnect")
	}
}

func TestReconnectDeadPTYSelfHeals(t *testing.T) {
	spawner := &fakeSpawner{}
	r := NewRegistry(spawner.factory, nil, 0, 0)
	defer r.Stop()

	s, err := r.Create("alice", "sh", 80, 24)
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	spawner.fakes[0].MarkExited()

	if _, err := r.Reconnect(s.ID, "alice", &fakeSocket{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reconnect to dead pty error = %v, want ErrNotFound", err)
	}
	if r.Get(s.ID) != nil {
		t.Error("dead session still in registry after failed reconnect")
	}
	if got := r.Count(); got != 0 {
		t.Errorf("Count = %d, want 0", got)
	}
}

func TestReconnectSupersedesOldSocket(t *testing.T) {
	spawner := &fakeSpawner{}
	r := NewRegistry(spawner.factory, nil, 0, 0)
	defer r.Stop()

	s, err := r.Create("alice", "sh", 80, 24)
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}

	sock1 := &fakeSocket{}
	sock2 := &fakeSocket{}
	if _, err := r.Reconnect(s.ID, "alice", sock1); err != nil {
		t.Fatalf("first Reconnect error = %v", err)
	}
	if _, err := r.Reconnect(s.ID, "alice", sock2); err != nil {
		t.Fatalf("second Reconnect error = %v", err)
	}

	closed, code, reason := sock1.closedWith()
	if !closed {
		t.Fatal("first socket not closed after supersede")
	}
	if code != CloseSuperseded || reason != "Reconnected from another client" {
		t.Errorf("first socket closed with (%d, %q), want (4000, superseded reason)", code, reason)
	}
	if closed, _, _ := sock2.closedWith(); closed {
		t.Error("second socket was closed")
	}
	if !s.Connected() {
		t.Error("Connected = false, want true with the new socket bound")
	}
}

func TestDisconnectIgnoresStaleSocket(t *testing.T) {
	spawner := &fakeSpawner{}
	r := NewRegistry(spawner.factory, nil, 0, 0)
	defer r.Stop()

	s, _ := r.Create("alice", "sh", 80, 24)
	sock1 := &fakeSocket{}
	sock2 := &fakeSocket{}
	r.Reconnect(s.ID, "alice", sock1)
	r.Reconnect(s.ID, "alice", sock2)

	// The superseded handler tears down late; the new binding must survive.
	r.Disconnect(s.ID, sock1)
	if !s.Connected() {
		t.Error("stale disconnect unbound the new socket")
	}

	r.Disconnect(s.ID, sock2)
	if s.Connected() {
		t.Error("Connected = true after owning socket disconnected")
	}

	// Disconnecting an unknown session is a no-op.
	r.Disconnect("no-such-id", sock2)
}

func TestBoundToTracksBinding(t *testing.T) {
	spawner := &fakeSpawner{}
	r := NewRegistry(spawner.factory, nil, 0, 0)
	defer r.Stop()

	s, err := r.Create("alice", "sh", 80, 24)
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	sock1 := &fakeSocket{}
	sock2 := &fakeSocket{}

	if s.BoundTo(sock1) {
		t.Error("BoundTo = true before any bind")
	}
	s.Bind(sock1)
	if !s.BoundTo(sock1) || s.BoundTo(sock2) {
		t.Error("BoundTo does not track the bound socket")
	}
	s.Bind(sock2)
	if s.BoundTo(sock1) {
		t.Error("BoundTo = true for a superseded socket")
	}
	if !s.BoundTo(sock2) {
		t.Error("BoundTo = false for the new socket")
	}
	s.Unbind(sock2)
	if s.BoundTo(sock2) {
		t.Error("BoundTo = true after unbind")
	}
}

func TestDestroyUnknownIsNoop(t *testing.T) {
	spawner := &fakeSpawner{}
	r := NewRegistry(spawner.factory, nil, 0, 0)
	defer r.Stop()

	r.Create("alice", "sh", 80, 24)
	r.Destroy("no-such-id", ReasonExited)
	if got := r.Count(); got != 1 {
		t.Errorf("Count = %d after destroying unknown id, want 1", got)
	}
}

func TestDestroyReleasesEverything(t *testing.T) {
	spawner := &fakeSpawner{}
	journal := &fakeJournal{}
	r := NewRegistry(spawner.factory, journal, 0, 0)
	defer r.Stop()

	s, _ := r.Create("alice", "sh", 80, 24)
	sock := &fakeSocket{}
	r.Reconnect(s.ID, "alice", sock)

	r.Destroy(s.ID, ReasonShutdown)

	if r.Get(s.ID) != nil || r.Count() != 0 {
		t.Error("session still registered after Destroy")
	}
	if got := len(r.UserSessions("alice")); got != 0 {
		t.Errorf("UserSessions = %d, want 0", got)
	}
	closed, code, _ := sock.closedWith()
	if !closed || code != websocket.StatusNormalClosure {
		t.Errorf("socket closed=%v code=%d, want normal closure", closed, code)
	}
	if got := spawner.fakes[0].CloseCalls(); got != 1 {
		t.Errorf("pty CloseCalls = %d, want 1", got)
	}

	// Idempotent.
	r.Destroy(s.ID, ReasonShutdown)
	if got := spawner.fakes[0].CloseCalls(); got != 1 {
		t.Errorf("pty CloseCalls after second Destroy = %d, want 1", got)
	}

	if len(journal.ends) != 1 || journal.ends[0].reason != ReasonShutdown {
		t.Errorf("journal ends = %+v, want one shutdown record", journal.ends)
	}
}

func TestJournalRecords(t *testing.T) {
	spawner := &fakeSpawner{}
	journal := &fakeJournal{}
	r := NewRegistry(spawner.factory, journal, 0, 0)
	defer r.Stop()

	s, err := r.Create("alice", "zsh", 80, 24)
	if err != nil {
		t.Fatalf("Create error = %v", err)
	}
	if len(journal.starts) != 1 {
		t.Fatalf("journal starts = %d, want 1", len(journal.starts))
	}
	got := journal.starts[0]
	if got.id != s.ID || got.userID != "alice" || got.shellID != "sh" {
		t.Errorf("journal start = %+v, want session fields with resolved shell", got)
	}
}

func TestJournalErrorsAreNotFatal(t *testing.T) {
	spawner := &fakeSpawner{}
	journal := &fakeJournal{err: errors.New("disk full")}
	r := NewRegistry(spawner.factory, journal, 0, 0)
	defer r.Stop()

	s, err := r.Create("alice", "sh", 80, 24)
	if err != nil {
		t.Fatalf("Create error = %v, journal failures must not block sessions", err)
	}
	r.Destroy(s.ID, ReasonExited)
	if got := r.Count(); got != 0 {
		t.Errorf("Count = %d, want 0", got)
	}
}

func TestReapDestroysDeadPTY(t *testing.T) {
	spawner := &fakeSpawner{}
	journal := &fakeJournal{}
	r := NewRegistry(spawner.factory, journal, 0, 0)
	defer r.Stop()

	dead, _ := r.Create("alice", "sh", 80, 24)
	live, _ := r.Create("alice", "sh", 80, 24)
	spawner.fakes[0].MarkExited()

	r.reap()

	if r.Get(dead.ID) != nil {
		t.Error("dead session survived reaping")
	}
	if r.Get(live.ID) == nil {
		t.Error("live session was reaped")
	}
	if len(journal.ends) != 1 || journal.ends[0].reason != ReasonExited {
		t.Errorf("journal ends = %+v, want one exited record", journal.ends)
	}
}

func TestReapMaxAge(t *testing.T) {
	spawner := &fakeSpawner{}
	r := NewRegistry(spawner.factory, nil, 20*time.Millisecond, 0)
	defer r.Stop()

	s, _ := r.Create("alice", "sh", 80, 24)
	time.Sleep(40 * time.Millisecond)
	r.reap()

	if r.Get(s.ID) != nil {
		t.Error("session survived past max age")
	}
}

func TestReapReconnectWindow(t *testing.T) {
	spawner := &fakeSpawner{}
	r := NewRegistry(spawner.factory, nil, 0, 20*time.Millisecond)
	defer r.Stop()

	idle, _ := r.Create("alice", "sh", 80, 24)
	bound, _ := r.Create("alice", "sh", 80, 24)
	sock := &fakeSocket{}
	r.Reconnect(bound.ID, "alice", sock)

	time.Sleep(40 * time.Millisecond)
	r.reap()

	if r.Get(idle.ID) != nil {
		t.Error("disconnected session survived past the reconnection window")
	}
	if r.Get(bound.ID) == nil {
		t.Error("connected session was reaped by the reconnection window")
	}
}

func TestStopDestroysAll(t *testing.T) {
	spawner := &fakeSpawner{}
	r := NewRegistry(spawner.factory, nil, 0, 0)
	r.Start()

	for i := 0; i < 3; i++ {
		if _, err := r.Create("alice", "sh", 80, 24); err != nil {
			t.Fatalf("Create error = %v", err)
		}
	}
	r.Stop()

	if got := r.Count(); got != 0 {
		t.Errorf("Count = %d after Stop, want 0", got)
	}
	for i, fake := range spawner.fakes {
		if got := fake.CloseCalls(); got != 1 {
			t.Errorf("fake[%d] CloseCalls = %d, want 1", i, got)
		}
	}

	// Stop again is safe.
	r.Stop()
}

func TestUserIndexPrunedAfterChurn(t *testing.T) {
	spawner := &fakeSpawner{}
	r := NewRegistry(spawner.factory, nil, 0, 0)
	defer r.Stop()

	a, _ := r.Create("alice", "sh", 80, 24)
	b, _ := r.Create("alice", "sh", 80, 24)
	r.Destroy(a.ID, ReasonExited)
	r.Destroy(b.ID, ReasonExited)

	if got := len(r.UserSessions("alice")); got != 0 {
		t.Fatalf("UserSessions = %d after destroying all, want 0", got)
	}

	// The pruned index must not block new sessions.
	for i := 0; i < MaxSessionsPerUser; i++ {
		if _, err := r.Create("alice", "sh", 80, 24); err != nil {
			t.Fatalf("Create #%d after churn error = %v", i, err)
		}
	}
}
