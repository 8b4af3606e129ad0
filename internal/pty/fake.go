package pty

import "sync"

// Fake is an in-memory Backend for tests: it records every write, lets the
// test inject output, and counts lifecycle calls.
type Fake struct {
	mu          sync.Mutex
	started     bool
	alive       bool
	queue       [][]byte
	writes      [][]byte
	readErr     error
	startCalls  int
	resizeCalls int
	closeCalls  int

	argv []string
	env  []string
	dir  string
	rows uint16
	cols uint16
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Start(argv []string, env []string, dir string, rows, cols uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return ErrAlreadyStarted
	}
	f.started = true
	f.alive = true
	f.startCalls++
	f.argv = argv
	f.env = env
	f.dir = dir
	f.rows, f.cols = rows, cols
	return nil
}

// Read serves injected output in order. Oversized chunks are split, with the
// remainder re-queued at the front.
func (f *Fake) Read(max int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	if len(f.queue) == 0 || max <= 0 {
		return nil, nil
	}
	head := f.queue[0]
	if len(head) <= max {
		f.queue = f.queue[1:]
		return head, nil
	}
	f.queue[0] = head[max:]
	return head[:max], nil
}

func (f *Fake) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := make([]byte, len(p))
	copy(data, p)
	f.writes = append(f.writes, data)
	return nil
}

func (f *Fake) Resize(rows, cols uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizeCalls++
	f.rows, f.cols = rows, cols
	return nil
}

func (f *Fake) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.alive = false
	return nil
}

// InjectOutput queues bytes for subsequent Reads.
func (f *Fake) InjectOutput(p []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data := make([]byte, len(p))
	copy(data, p)
	f.queue = append(f.queue, data)
}

// SetReadError makes every following Read fail, simulating an OS-level error.
func (f *Fake) SetReadError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

// MarkExited flips liveness without a Close call, like a shell exiting.
func (f *Fake) MarkExited() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
}

func (f *Fake) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

// Input concatenates everything written to the fake terminal.
func (f *Fake) Input() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []byte
	for _, w := range f.writes {
		all = append(all, w...)
	}
	return all
}

func (f *Fake) StartCalls() int  { f.mu.Lock(); defer f.mu.Unlock(); return f.startCalls }
func (f *Fake) ResizeCalls() int { f.mu.Lock(); defer f.mu.Unlock(); return f.resizeCalls }
func (f *Fake) CloseCalls() int  { f.mu.Lock(); defer f.mu.Unlock(); return f.closeCalls }
func (f *Fake) Argv() []string   { f.mu.Lock(); defer f.mu.Unlock(); return f.argv }
func (f *Fake) Env() []string    { f.mu.Lock(); defer f.mu.Unlock(); return f.env }
func (f *Fake) Dir() string      { f.mu.Lock(); defer f.mu.Unlock(); return f.dir }
func (f *Fake) Size() (rows, cols uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows, f.cols
}
