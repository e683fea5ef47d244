package merge

import (
	"fmt"

	"t3/pkg/envelope"
)

// Liveness tells whether a stream may still deliver messages.
type Liveness int

const (
	Open Liveness = iota
	Closed
)

func (l Liveness) String() string {
	switch l {
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("liveness(%d)", int(l))
	}
}

// queue is the FIFO of messages received from one stream and not yet released.
type queue struct {
	msgs []envelope.Message
}

func (q *queue) push(m envelope.Message) {
	q.msgs = append(q.msgs, m)
}

func (q *queue) empty() bool {
	return len(q.msgs) == 0
}

func (q *queue) len() int {
	return len(q.msgs)
}

// head must not be called on an empty queue.
func (q *queue) head() envelope.Message {
	return q.msgs[0]
}

func (q *queue) pop() {
	q.msgs[0] = envelope.Message{}
	q.msgs = q.msgs[1:]
	if len(q.msgs) == 0 {
		q.msgs = nil
	}
}
