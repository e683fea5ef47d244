package merge

import "t3/pkg/envelope"

// Sink receives released messages in merged order.
type Sink interface {
	Emit(stream envelope.Stream, m envelope.Message) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(stream envelope.Stream, m envelope.Message) error

func (f SinkFunc) Emit(stream envelope.Stream, m envelope.Message) error {
	return f(stream, m)
}

// MultiSink emits every message to each sink in order and stops at the first
// error.
type MultiSink []Sink

func (ms MultiSink) Emit(stream envelope.Stream, m envelope.Message) error {
	for _, s := range ms {
		if err := s.Emit(stream, m); err != nil {
			return err
		}
	}
	return nil
}
