//go:build !windows

package pty

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

const readBufSize = 4096

// unixBackend runs the child on a creack/pty pseudo-terminal. A dedicated
// goroutine drains the master into a channel so Read never blocks the caller.
type unixBackend struct {
	cmd    *exec.Cmd
	ptmx   *os.File
	cancel context.CancelFunc

	out     chan []byte
	pending []byte

	exited    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newBackend() Backend {
	return &unixBackend{
		out:    make(chan []byte, 64),
		exited: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (b *unixBackend) Start(argv []string, env []string, dir string, rows, cols uint16) error {
	if b.cmd != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = env
	if dir != "" {
		cmd.Dir = dir
	}

	// Graceful termination
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		cancel()
		return err
	}

	b.cmd = cmd
	b.ptmx = ptmx
	b.cancel = cancel

	go b.drain()
	go func() {
		_ = cmd.Wait()
		close(b.exited)
	}()
	return nil
}

func (b *unixBackend) drain() {
	buf := make([]byte, readBufSize)
	for {
		n, err := b.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case b.out <- data:
			case <-b.done:
				return
			}
		}
		if err != nil {
			close(b.out)
			return
		}
	}
}

func (b *unixBackend) Read(max int) ([]byte, error) {
	if max <= 0 {
		return nil, nil
	}
fill:
	for len(b.pending) < max {
		select {
		case data, ok := <-b.out:
			if !ok {
				if len(b.pending) == 0 {
					return nil, io.EOF
				}
				break fill
			}
			b.pending = append(b.pending, data...)
		default:
			break fill
		}
	}
	if len(b.pending) == 0 {
		return nil, nil
	}
	n := min(max, len(b.pending))
	chunk := b.pending[:n:n]
	b.pending = b.pending[n:]
	if len(b.pending) == 0 {
		b.pending = nil
	}
	return chunk, nil
}

func (b *unixBackend) Write(p []byte) error {
	if b.ptmx == nil {
		return ErrNotStarted
	}
	_, err := b.ptmx.Write(p)
	return err
}

func (b *unixBackend) Resize(rows, cols uint16) error {
	if b.ptmx == nil {
		return ErrNotStarted
	}
	return pty.Setsize(b.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

func (b *unixBackend) Alive() bool {
	if b.cmd == nil {
		return false
	}
	select {
	case <-b.exited:
		return false
	default:
		return true
	}
}

func (b *unixBackend) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
		if b.ptmx != nil {
			b.ptmx.Close()
		}
		if b.cmd != nil && b.cmd.Process != nil {
			// Hang up the whole job, the way a closing terminal does. The
			// context cancel escalates: SIGTERM now, SIGKILL after WaitDelay.
			_ = unix.Kill(-b.cmd.Process.Pid, unix.SIGHUP)
		}
		if b.cancel != nil {
			b.cancel()
		}
	})
	return nil
}
