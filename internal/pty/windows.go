//go:build windows

package pty

// windowsBackend is a placeholder: the binary builds on Windows so attach,
// history and stop keep working, but spawning a local terminal reports
// ErrUnsupported until ConPTY support is wired up.
type windowsBackend struct{}

func newBackend() Backend {
	return &windowsBackend{}
}

func (b *windowsBackend) Start(argv []string, env []string, dir string, rows, cols uint16) error {
	return ErrUnsupported
}

func (b *windowsBackend) Read(max int) ([]byte, error) { return nil, ErrNotStarted }

func (b *windowsBackend) Write(p []byte) error { return ErrNotStarted }

func (b *windowsBackend) Resize(rows, cols uint16) error { return ErrNotStarted }

func (b *windowsBackend) Alive() bool { return false }

func (b *windowsBackend) Close() error { return nil }
