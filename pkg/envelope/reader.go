package envelope

import (
	"errors"
	"fmt"
	"io"
)

// Reader receives frames from the read end of a channel.
type Reader struct {
	r   io.Reader
	buf []byte
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:   r,
		buf: make([]byte, Size),
	}
}

// Receive blocks until one complete frame arrived. It returns io.EOF when the
// peer closed the channel between frames and io.ErrUnexpectedEOF when it
// closed in the middle of one.
func (r *Reader) Receive() (Message, error) {
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		if errors.Is(err, io.EOF) {
			return Message{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, io.ErrUnexpectedEOF
		}
		return Message{}, fmt.Errorf("reading frame: %w", err)
	}
	return Decode(r.buf)
}

// Channel returns a channel which emits received messages and is closed at the
// end of the channel. A receive error other than io.EOF is passed to onError
// (when non-nil) and then treated as the channel closing.
// Do not call Receive concurrently with a running Channel.
func (r *Reader) Channel(buffer int, onError func(error)) <-chan Message {
	channel := make(chan Message, buffer)
	go func() {
		defer close(channel)
		for {
			m, err := r.Receive()
			if err != nil {
				if !errors.Is(err, io.EOF) && onError != nil {
					onError(err)
				}
				return
			}
			channel <- m
		}
	}()
	return channel
}
