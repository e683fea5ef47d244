package envelope

import (
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sys/unix"
)

// ErrStalled is returned when the channel stayed full for RetryLimit attempts.
var ErrStalled = errors.New("envelope: channel stayed full")

const (
	DefaultRetryDelay = time.Millisecond
	DefaultRetryLimit = 10000
)

// Sender transmits messages to the merge engine.
type Sender interface {
	// Send transmits one message completely or fails.
	Send(m Message) error
}

// Writer frames messages onto a byte-oriented one-way channel, usually the
// write end of a pipe.
type Writer struct {
	w io.Writer

	// RetryDelay is the pause before retrying a write that would block.
	RetryDelay time.Duration
	// RetryLimit bounds consecutive would-block retries for one frame.
	RetryLimit int

	sleep func(time.Duration)
}

var _ Sender = &Writer{}

// NewWriter creates a Writer that frames onto w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:          w,
		RetryDelay: DefaultRetryDelay,
		RetryLimit: DefaultRetryLimit,
		sleep:      time.Sleep,
	}
}

// Send writes the whole frame for m. A short write resumes at the offset where
// it stopped and a write that would block is retried after RetryDelay. Any
// other write error is returned unchanged in the chain.
func (w *Writer) Send(m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}

	off := 0
	stalls := 0
	for off < len(frame) {
		n, err := w.w.Write(frame[off:])
		off += n
		if n > 0 {
			stalls = 0
		}
		if err == nil {
			if n == 0 {
				// Nothing accepted and no error: treat like a full buffer.
				if stalls, err = w.stall(stalls); err != nil {
					return err
				}
			}
			continue
		}
		if isWouldBlock(err) {
			if stalls, err = w.stall(stalls); err != nil {
				return err
			}
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return fmt.Errorf("writing frame at offset %d: %w", off, err)
	}
	return nil
}

func (w *Writer) stall(stalls int) (int, error) {
	stalls++
	if w.RetryLimit > 0 && stalls > w.RetryLimit {
		return stalls, fmt.Errorf("%w after %d retries", ErrStalled, w.RetryLimit)
	}
	w.sleep(w.RetryDelay)
	return stalls, nil
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
