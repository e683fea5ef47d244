// Package merge reassembles the stdout and stderr message streams of the
// target command into one chronologically ordered stream.
//
// Messages are held back until they are DelayWindow old, so a line that
// arrives late on one stream can still overtake a younger line of the other.
// Once a stream is closed nothing more can arrive on it and its queue drains
// without delay.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"t3/pkg/envelope"
)

const (
	DefaultDelayWindow  = 100 * time.Millisecond
	DefaultPollInterval = time.Second
)

// Config for an Engine.
type Config struct {
	// Inputs are indexed by envelope.Stream. The engine treats a closed
	// channel as the end of that stream.
	Inputs [2]<-chan envelope.Message
	Sink   Sink
	Logger *slog.Logger

	DelayWindow  time.Duration
	PollInterval time.Duration

	// OnClose runs on the engine goroutine once per stream when its input
	// closes.
	OnClose func(stream envelope.Stream)
	// OnIdle runs when a full PollInterval passed without input.
	OnIdle func()

	// Now defaults to time.Now.
	Now func() time.Time
}

// StreamStats counts the messages of one stream.
type StreamStats struct {
	Received  int
	Released  int
	Sentinels int
}

// Engine merges two streams. It owns its queues; all state is confined to the
// goroutine calling Run.
type Engine struct {
	inputs       [2]<-chan envelope.Message
	sink         Sink
	logger       *slog.Logger
	delayWindow  time.Duration
	pollInterval time.Duration
	onClose      func(envelope.Stream)
	onIdle       func()
	now          func() time.Time

	queues   [2]queue
	liveness [2]Liveness
	stats    [2]StreamStats
}

// New creates an engine from cfg. A nil input is treated as already closed.
func New(cfg Config) *Engine {
	e := &Engine{
		inputs:       cfg.Inputs,
		sink:         cfg.Sink,
		logger:       cfg.Logger,
		delayWindow:  cfg.DelayWindow,
		pollInterval: cfg.PollInterval,
		onClose:      cfg.OnClose,
		onIdle:       cfg.OnIdle,
		now:          cfg.Now,
	}
	if e.delayWindow <= 0 {
		e.delayWindow = DefaultDelayWindow
	}
	if e.pollInterval <= 0 {
		e.pollInterval = DefaultPollInterval
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	for _, s := range envelope.Streams {
		if e.inputs[s] == nil {
			e.liveness[s] = Closed
		}
	}
	return e
}

// Liveness returns the current liveness of stream.
func (e *Engine) Liveness(stream envelope.Stream) Liveness {
	return e.liveness[stream]
}

// Stats returns the counters of both streams, indexed by envelope.Stream.
func (e *Engine) Stats() [2]StreamStats {
	return e.stats
}

// Run merges until both streams are closed and both queues are empty. It
// returns the first sink error, or ctx.Err() when ctx is cancelled first.
func (e *Engine) Run(ctx context.Context) error {
	for e.active() {
		if e.anyOpen() {
			if err := e.intake(ctx); err != nil {
				return err
			}
		}
		if err := e.drain(e.now()); err != nil {
			return err
		}
	}
	for _, s := range envelope.Streams {
		e.logger.Debug("Merge finished",
			"stream", s.String(),
			"received", e.stats[s].Received,
			"released", e.stats[s].Released)
	}
	return nil
}

func (e *Engine) active() bool {
	for _, s := range envelope.Streams {
		if e.liveness[s] == Open || !e.queues[s].empty() {
			return true
		}
	}
	return false
}

func (e *Engine) anyOpen() bool {
	return e.liveness[envelope.Stdout] == Open || e.liveness[envelope.Stderr] == Open
}

// intake waits for one event: a message, a closed input, or a timeout. The
// timeout is shortened so the loop wakes when a held head becomes due.
func (e *Engine) intake(ctx context.Context) error {
	wait, idle := e.pollInterval, true
	if due, ok := e.nextDue(e.now()); ok && due < wait {
		wait, idle = due, false
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	// nil channels block forever, so a closed stream drops out of the select.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m, ok := <-e.inputs[envelope.Stdout]:
		e.receive(envelope.Stdout, m, ok)
	case m, ok := <-e.inputs[envelope.Stderr]:
		e.receive(envelope.Stderr, m, ok)
	case <-timer.C:
		if idle && e.onIdle != nil {
			e.onIdle()
		}
	}
	return nil
}

func (e *Engine) receive(stream envelope.Stream, m envelope.Message, ok bool) {
	if !ok {
		e.inputs[stream] = nil
		e.liveness[stream] = Closed
		e.logger.Debug("Stream closed", "stream", stream.String(), "queued", e.queues[stream].len())
		if e.onClose != nil {
			e.onClose(stream)
		}
		return
	}
	if m.IsSentinel() {
		// Readiness is checked by the supervisor; a sentinel is never output.
		e.stats[stream].Sentinels++
		return
	}
	e.stats[stream].Received++
	e.queues[stream].push(m)
}

// nextDue returns how long until the oldest held head of an open stream
// becomes eligible.
func (e *Engine) nextDue(now time.Time) (time.Duration, bool) {
	var (
		due   time.Duration
		found bool
	)
	for _, s := range envelope.Streams {
		q := &e.queues[s]
		if e.liveness[s] != Open || q.empty() {
			continue
		}
		d := e.delayWindow - now.Sub(q.head().Timestamp)
		if d < 0 {
			d = 0
		}
		if !found || d < due {
			due, found = d, true
		}
	}
	return due, found
}

// drain releases heads until none is eligible at now.
func (e *Engine) drain(now time.Time) error {
	for {
		stream, ok := e.pick(now)
		if !ok {
			return nil
		}
		if err := e.release(stream); err != nil {
			return err
		}
	}
}

func (e *Engine) eligible(stream envelope.Stream, now time.Time) bool {
	q := &e.queues[stream]
	if q.empty() {
		return false
	}
	if e.liveness[stream] == Closed {
		return true
	}
	return now.Sub(q.head().Timestamp) >= e.delayWindow
}

// pick chooses the stream whose head is released next. When both heads are
// eligible the earlier one wins and stdout wins a tie.
func (e *Engine) pick(now time.Time) (envelope.Stream, bool) {
	out := e.eligible(envelope.Stdout, now)
	errs := e.eligible(envelope.Stderr, now)

	switch {
	case out && errs:
		if e.queues[envelope.Stderr].head().Timestamp.Before(e.queues[envelope.Stdout].head().Timestamp) {
			return envelope.Stderr, true
		}
		return envelope.Stdout, true
	case out:
		return envelope.Stdout, true
	case errs:
		return envelope.Stderr, true
	default:
		return 0, false
	}
}

func (e *Engine) release(stream envelope.Stream) error {
	q := &e.queues[stream]
	if err := e.sink.Emit(stream, q.head()); err != nil {
		return fmt.Errorf("releasing %s line: %w", stream, err)
	}
	q.pop()
	e.stats[stream].Released++
	return nil
}
