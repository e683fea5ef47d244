package render

import (
	"io"
	"os"
	"sync"
)

// LockedWriter serializes writes to a stream shared by the output sink, the
// logger and tap diagnostics. It only implements Write, so io.Copy in os/exec
// never reaches into the underlying writer through ReadFrom.
type LockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// Locked returns w guarded by a mutex. An *os.File is returned as is: os/exec
// hands its descriptor to the child, and each write is a single syscall. A
// LockedWriter is also returned as is, so wrapping twice shares one lock.
func Locked(w io.Writer) io.Writer {
	switch w.(type) {
	case *os.File, *LockedWriter:
		return w
	}
	return &LockedWriter{w: w}
}

func (l *LockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// Flush flushes the underlying writer if it buffers.
func (l *LockedWriter) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// Unwrap returns the guarded writer.
func (l *LockedWriter) Unwrap() io.Writer {
	return l.w
}
