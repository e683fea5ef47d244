package merge

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"t3/pkg/envelope"
)

type released struct {
	stream envelope.Stream
	msg    envelope.Message
}

type collectingSink struct {
	got []released
}

func (c *collectingSink) Emit(stream envelope.Stream, m envelope.Message) error {
	c.got = append(c.got, released{stream: stream, msg: m})
	return nil
}

func (c *collectingSink) texts() []string {
	out := make([]string, 0, len(c.got))
	for _, r := range c.got {
		out = append(out, r.msg.Text)
	}
	return out
}

var base = time.Unix(1736253296, 0)

func at(ms int) time.Time {
	return base.Add(time.Duration(ms) * time.Millisecond)
}

func msg(ms int, text string) envelope.Message {
	return envelope.Message{Timestamp: at(ms), Text: text}
}

// newTestEngine returns an engine whose inputs are open but never used; tests
// drive the queues directly.
func newTestEngine(sink Sink) *Engine {
	return New(Config{
		Inputs: [2]<-chan envelope.Message{
			make(chan envelope.Message),
			make(chan envelope.Message),
		},
		Sink:        sink,
		DelayWindow: 100 * time.Millisecond,
	})
}

func TestDrain_HoldsOpenHeadUntilDelayWindow(t *testing.T) {
	sink := &collectingSink{}
	e := newTestEngine(sink)
	e.queues[envelope.Stdout].push(msg(0, "young"))

	require.NoError(t, e.drain(at(99)))
	require.Empty(t, sink.got)

	require.NoError(t, e.drain(at(100)))
	require.Equal(t, []string{"young"}, sink.texts())
	require.True(t, e.queues[envelope.Stdout].empty())
}

func TestDrain_EarlierHeadFirst(t *testing.T) {
	sink := &collectingSink{}
	e := newTestEngine(sink)
	e.queues[envelope.Stdout].push(msg(30, "out"))
	e.queues[envelope.Stderr].push(msg(10, "err"))

	require.NoError(t, e.drain(at(500)))
	require.Equal(t, []string{"err", "out"}, sink.texts())
	require.Equal(t, envelope.Stderr, sink.got[0].stream)
}

func TestDrain_TieReleasesStdoutFirst(t *testing.T) {
	sink := &collectingSink{}
	e := newTestEngine(sink)
	e.queues[envelope.Stderr].push(msg(10, "err"))
	e.queues[envelope.Stdout].push(msg(10, "out"))

	require.NoError(t, e.drain(at(500)))
	require.Equal(t, []string{"out", "err"}, sink.texts())
}

func TestDrain_OnlyEligibleHeadReleased(t *testing.T) {
	sink := &collectingSink{}
	e := newTestEngine(sink)
	e.queues[envelope.Stdout].push(msg(0, "old"))
	e.queues[envelope.Stdout].push(msg(80, "newer"))
	e.queues[envelope.Stderr].push(msg(50, "middle"))

	// At 120 ms only the stdout head is old enough.
	require.NoError(t, e.drain(at(120)))
	require.Equal(t, []string{"old"}, sink.texts())

	require.NoError(t, e.drain(at(200)))
	require.Equal(t, []string{"old", "middle", "newer"}, sink.texts())
}

func TestDrain_ClosedHeadAlwaysEligible(t *testing.T) {
	sink := &collectingSink{}
	e := newTestEngine(sink)
	e.liveness[envelope.Stderr] = Closed
	e.queues[envelope.Stdout].push(msg(0, "held"))
	e.queues[envelope.Stderr].push(msg(40, "final"))

	// The open stdout head is older but not yet due; the closed head goes out.
	require.NoError(t, e.drain(at(50)))
	require.Equal(t, []string{"final"}, sink.texts())
}

func TestDrain_SinkErrorKeepsHead(t *testing.T) {
	boom := errors.New("disk full")
	e := newTestEngine(SinkFunc(func(envelope.Stream, envelope.Message) error { return boom }))
	e.queues[envelope.Stdout].push(msg(0, "kept"))

	err := e.drain(at(500))
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, e.queues[envelope.Stdout].len())
	require.Zero(t, e.Stats()[envelope.Stdout].Released)
}

func TestNextDue(t *testing.T) {
	e := newTestEngine(&collectingSink{})
	_, ok := e.nextDue(at(0))
	require.False(t, ok)

	e.queues[envelope.Stdout].push(msg(0, "a"))
	e.queues[envelope.Stderr].push(msg(30, "b"))
	due, ok := e.nextDue(at(40))
	require.True(t, ok)
	require.Equal(t, 60*time.Millisecond, due)

	due, _ = e.nextDue(at(400))
	require.Zero(t, due)
}

func closedInput(msgs ...envelope.Message) <-chan envelope.Message {
	ch := make(chan envelope.Message, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return ch
}

func TestRun_DrainsClosedQueuesInTimestampOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var all [2][]envelope.Message
	for _, s := range envelope.Streams {
		ts := 0
		for i := 0; i < 200; i++ {
			ts += rng.Intn(5)
			all[s] = append(all[s], envelope.Message{Timestamp: at(ts), Text: s.String()})
		}
	}

	sink := &collectingSink{}
	e := New(Config{Sink: sink})
	for _, s := range envelope.Streams {
		for _, m := range all[s] {
			e.queues[s].push(m)
		}
	}

	require.NoError(t, e.Run(context.Background()))
	require.Len(t, sink.got, 400)
	require.True(t, sort.SliceIsSorted(sink.got, func(i, j int) bool {
		return sink.got[i].msg.Timestamp.Before(sink.got[j].msg.Timestamp)
	}))

	// Per-stream order is preserved and nothing is lost or duplicated.
	var seen [2][]envelope.Message
	for _, r := range sink.got {
		seen[r.stream] = append(seen[r.stream], r.msg)
	}
	require.Equal(t, all, seen)
	require.Equal(t, 200, e.Stats()[envelope.Stderr].Released)
}

func TestRun_ClosesEachStreamOnce(t *testing.T) {
	sink := &collectingSink{}
	var closed []envelope.Stream
	e := New(Config{
		Inputs: [2]<-chan envelope.Message{
			closedInput(msg(1, "a"), msg(3, "c")),
			closedInput(msg(2, "b")),
		},
		Sink:    sink,
		OnClose: func(s envelope.Stream) { closed = append(closed, s) },
	})
	require.Equal(t, Open, e.Liveness(envelope.Stdout))

	require.NoError(t, e.Run(context.Background()))
	require.ElementsMatch(t, []string{"a", "b", "c"}, sink.texts())
	require.ElementsMatch(t, []envelope.Stream{envelope.Stdout, envelope.Stderr}, closed)
	require.Equal(t, Closed, e.Liveness(envelope.Stdout))
	require.Equal(t, Closed, e.Liveness(envelope.Stderr))
	require.Equal(t, 2, e.Stats()[envelope.Stdout].Received)
}

func TestRun_LateEarlierLineOvertakes(t *testing.T) {
	stdout := make(chan envelope.Message)
	stderr := make(chan envelope.Message)
	sink := &collectingSink{}
	e := New(Config{
		Inputs:       [2]<-chan envelope.Message{stdout, stderr},
		Sink:         sink,
		DelayWindow:  200 * time.Millisecond,
		PollInterval: 50 * time.Millisecond,
	})

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	start := time.Now()
	stdout <- envelope.Message{Timestamp: start, Text: "B"}
	time.Sleep(20 * time.Millisecond)
	// Delivered second but stamped first.
	stderr <- envelope.Message{Timestamp: start.Add(-50 * time.Millisecond), Text: "A"}
	time.Sleep(400 * time.Millisecond)
	close(stdout)
	close(stderr)

	require.NoError(t, <-done)
	require.Equal(t, []string{"A", "B"}, sink.texts())
}

func TestRun_DropsSentinels(t *testing.T) {
	sink := &collectingSink{}
	e := New(Config{
		Inputs: [2]<-chan envelope.Message{
			closedInput(envelope.Sentinel(envelope.Stdout), msg(1, "line")),
			closedInput(envelope.Sentinel(envelope.Stderr)),
		},
		Sink: sink,
	})

	require.NoError(t, e.Run(context.Background()))
	require.Equal(t, []string{"line"}, sink.texts())
	require.Equal(t, 1, e.Stats()[envelope.Stderr].Sentinels)
	require.Zero(t, e.Stats()[envelope.Stderr].Received)
}

func TestRun_NoInputEndsImmediately(t *testing.T) {
	sink := &collectingSink{}
	e := New(Config{Sink: sink})

	require.NoError(t, e.Run(context.Background()))
	require.Empty(t, sink.got)
}

func TestRun_SinkErrorAborts(t *testing.T) {
	boom := errors.New("broken pipe")
	e := New(Config{
		Inputs: [2]<-chan envelope.Message{closedInput(msg(1, "x")), nil},
		Sink:   SinkFunc(func(envelope.Stream, envelope.Message) error { return boom }),
	})

	err := e.Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "releasing stdout line")
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := New(Config{
		Inputs: [2]<-chan envelope.Message{make(chan envelope.Message), nil},
		Sink:   &collectingSink{},
	})

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_IdleWake(t *testing.T) {
	stdout := make(chan envelope.Message)
	idle := make(chan struct{}, 8)
	e := New(Config{
		Inputs:       [2]<-chan envelope.Message{stdout, nil},
		Sink:         &collectingSink{},
		PollInterval: 10 * time.Millisecond,
		OnIdle: func() {
			select {
			case idle <- struct{}{}:
			default:
			}
		},
	})

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	select {
	case <-idle:
	case <-time.After(5 * time.Second):
		t.Fatal("no idle wake")
	}
	close(stdout)
	require.NoError(t, <-done)
}

func TestLivenessString(t *testing.T) {
	require.Equal(t, "open", Open.String())
	require.Equal(t, "closed", Closed.String())
}

func TestMultiSink(t *testing.T) {
	first := &collectingSink{}
	second := &collectingSink{}
	require.NoError(t, MultiSink{first, second}.Emit(envelope.Stderr, msg(1, "both")))
	require.Equal(t, []string{"both"}, first.texts())
	require.Equal(t, []string{"both"}, second.texts())

	boom := errors.New("stop")
	third := &collectingSink{}
	err := MultiSink{SinkFunc(func(envelope.Stream, envelope.Message) error { return boom }), third}.Emit(envelope.Stdout, msg(2, "x"))
	require.ErrorIs(t, err, boom)
	require.Empty(t, third.got)
}
