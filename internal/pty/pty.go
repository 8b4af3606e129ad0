// Package pty wraps a platform pseudo-terminal behind a uniform manager:
// shell table resolution, a sanitized child environment, non-blocking reads,
// and idempotent teardown. The actual process control lives in per-platform
// Backend implementations; tests use the in-memory Fake.
package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/kballard/go-shellquote"

	"github.com/lyehe/porterminal/internal/config"
)

var (
	// ErrNoShells means the shell table is empty, so nothing can be spawned.
	ErrNoShells = errors.New("no shells configured")
	// ErrAlreadyStarted guards against double-spawning one manager.
	ErrAlreadyStarted = errors.New("pty already started")
	// ErrNotStarted is returned by I/O calls before Start.
	ErrNotStarted = errors.New("pty not started")
	// ErrUnsupported is returned on platforms without pseudo-terminal support.
	ErrUnsupported = errors.New("pty not supported on this platform")
)

// Backend is the platform primitive: one child process attached to a
// pseudo-terminal.
type Backend interface {
	// Start spawns argv with the given environment, working directory and
	// initial geometry. A second Start is an error.
	Start(argv []string, env []string, dir string, rows, cols uint16) error
	// Read returns up to max pending output bytes without blocking; nil when
	// nothing is ready, io.EOF once the terminal is gone. Reads are single
	// consumer: callers must not invoke Read concurrently.
	Read(max int) ([]byte, error)
	Write(p []byte) error
	Resize(rows, cols uint16) error
	Alive() bool
	// Close terminates the child. Idempotent.
	Close() error
}

// Manager owns exactly one spawned shell and its lifecycle guards.
type Manager struct {
	backend Backend

	// readMu serializes backend reads. During a session takeover the old
	// connection's output pump can overlap the new one's for a tick.
	readMu sync.Mutex

	mu      sync.Mutex
	started bool
	closed  bool
	rows    uint16
	cols    uint16
}

func NewManager(backend Backend) *Manager {
	return &Manager{backend: backend}
}

// Start spawns the shell with a sanitized environment. The command string is
// split shell-style, so entries like "/bin/zsh -l" work.
func (m *Manager) Start(shell config.Shell, dir string, rows, cols uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}
	if m.closed {
		return ErrNotStarted
	}

	argv, err := shellquote.Split(shell.Command)
	if err != nil {
		return fmt.Errorf("parse shell command %q: %w", shell.Command, err)
	}
	if len(argv) == 0 {
		return fmt.Errorf("shell %s: empty command", shell.ID)
	}

	env := BuildEnv(argv[0], dir)
	if err := m.backend.Start(argv, env, dir, rows, cols); err != nil {
		return fmt.Errorf("spawn %s: %w", argv[0], err)
	}
	m.started = true
	m.rows, m.cols = rows, cols
	return nil
}

// Read returns up to max pending output bytes without blocking. It reports
// io.EOF once the PTY is gone.
func (m *Manager) Read(max int) ([]byte, error) {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil, ErrNotStarted
	}
	if m.closed {
		m.mu.Unlock()
		return nil, io.EOF
	}
	m.mu.Unlock()

	m.readMu.Lock()
	defer m.readMu.Unlock()
	return m.backend.Read(max)
}

// Write feeds input to the shell. Best-effort: writes after Close are
// silently dropped.
func (m *Manager) Write(p []byte) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return m.backend.Write(p)
}

// Resize changes the terminal geometry.
func (m *Manager) Resize(rows, cols uint16) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.backend.Resize(rows, cols); err != nil {
		return err
	}
	m.mu.Lock()
	m.rows, m.cols = rows, cols
	m.mu.Unlock()
	return nil
}

// Alive reports whether the child process is still running.
func (m *Manager) Alive() bool {
	m.mu.Lock()
	if !m.started || m.closed {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()
	return m.backend.Alive()
}

// Close terminates the shell. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	m.mu.Unlock()

	if !started {
		return nil
	}
	return m.backend.Close()
}

func (m *Manager) Rows() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows
}

func (m *Manager) Cols() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cols
}

// New resolves shellID against the shell table (falling back to the default,
// then the first entry), spawns it on the platform backend, and returns the
// manager together with the resolved shell id.
func New(cfg *config.Config, shellID string, cols, rows int) (*Manager, string, error) {
	shell, ok := cfg.ResolveShell(shellID)
	if !ok {
		return nil, "", ErrNoShells
	}

	dir := cfg.Terminal.Cwd
	if dir == "" {
		if wd, err := os.Getwd(); err == nil {
			dir = wd
		}
	}

	m := NewManager(newBackend())
	if err := m.Start(shell, dir, uint16(rows), uint16(cols)); err != nil {
		return nil, "", err
	}
	return m, shell.ID, nil
}
