// Package envelope defines the fixed-size frame exchanged between tap workers
// and the merge engine. See doc.go for docs.
package envelope

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// TextSize is the capacity of the text field, including the reserved
	// terminating byte.
	TextSize = 4096

	// MaxText is the longest text a frame can carry.
	MaxText = TextSize - 1

	headerSize = 16

	// Size is the exact length of every frame on the wire.
	Size = headerSize + TextSize
)

var (
	ErrTextTooLong = errors.New("envelope: text exceeds maximum length")
	ErrNewline     = errors.New("envelope: text contains a newline")
	ErrBadEnvelope = errors.New("envelope: malformed frame")
)

// Stream identifies which output of the target command a message came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// Streams lists the captured streams in tie-break order.
var Streams = [2]Stream{Stdout, Stderr}

func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

// ParseStream converts "stdout" or "stderr" into a Stream.
func ParseStream(name string) (Stream, error) {
	switch name {
	case "stdout":
		return Stdout, nil
	case "stderr":
		return Stderr, nil
	default:
		return 0, fmt.Errorf("unknown stream %q (must be stdout or stderr)", name)
	}
}

// Message is one captured line together with the moment it was completed.
type Message struct {
	Timestamp time.Time
	Text      string
}

// epoch is the wire timestamp reserved for the readiness sentinel.
var epoch = time.Unix(0, 0)

// Sentinel returns the readiness message a worker sends for stream.
func Sentinel(stream Stream) Message {
	return Message{Timestamp: epoch, Text: stream.String() + " started"}
}

// IsSentinel reports whether m carries the reserved (0, 0) timestamp.
func (m Message) IsSentinel() bool {
	return m.Timestamp.Unix() == 0 && m.Timestamp.Nanosecond() == 0
}

// Validate checks that m fits in a frame.
func (m Message) Validate() error {
	if len(m.Text) > MaxText {
		return fmt.Errorf("%w: %d bytes", ErrTextTooLong, len(m.Text))
	}
	if strings.IndexByte(m.Text, '\n') >= 0 {
		return ErrNewline
	}
	return nil
}

// Encode serializes m into a Size-byte frame.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, Size)
	binary.BigEndian.PutUint64(buf[0:8], uint64(m.Timestamp.Unix()))
	binary.BigEndian.PutUint64(buf[8:16], uint64(m.Timestamp.Nanosecond()))
	copy(buf[headerSize:], m.Text)
	return buf, nil
}

// Decode parses one frame. The text ends at the first NUL byte.
func Decode(buf []byte) (Message, error) {
	if len(buf) != Size {
		return Message{}, fmt.Errorf("%w: got %d bytes, want %d", ErrBadEnvelope, len(buf), Size)
	}
	if buf[Size-1] != 0 {
		return Message{}, fmt.Errorf("%w: text is not terminated", ErrBadEnvelope)
	}
	sec := int64(binary.BigEndian.Uint64(buf[0:8]))
	nsec := int64(binary.BigEndian.Uint64(buf[8:16]))
	if nsec < 0 || nsec >= int64(time.Second) {
		return Message{}, fmt.Errorf("%w: nanoseconds out of range: %d", ErrBadEnvelope, nsec)
	}

	text := buf[headerSize:]
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}

	return Message{
		Timestamp: time.Unix(sec, nsec),
		Text:      string(text),
	}, nil
}

// ClipNUL returns text up to its first NUL byte, which is what survives a
// trip through a frame.
func ClipNUL(text string) string {
	if i := strings.IndexByte(text, 0); i >= 0 {
		return text[:i]
	}
	return text
}
