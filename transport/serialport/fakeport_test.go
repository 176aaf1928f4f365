package serialport

import (
	"bytes"
	"sync"
	"time"
)

// fakePort replays scripted input and records everything written.
type fakePort struct {
	mu      sync.Mutex
	input   []byte
	written bytes.Buffer
	resets  int
	closed  bool
}

func (f *fakePort) feed(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = append(f.input, s...)
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.input) == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(p, f.input)
	f.input = f.input[n:]

	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.written.Write(p)
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true

	return nil
}

func (f *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (f *fakePort) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = nil
	f.resets++

	return nil
}
