package orchestrator

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamClosed is returned by Send after the terminal event.
var ErrStreamClosed = errors.New("stream closed")

// Stream carries events from the orchestration loop to the transport layer
// over a bounded channel. Send blocks when the consumer lags, so a slow
// client applies backpressure to the producer. Exactly one terminal event
// is delivered; events offered after it are discarded.
type Stream struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// NewStream creates a stream with the given channel capacity.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 16
	}
	return &Stream{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// Events is the consumer side. The channel is closed after the terminal
// event has been delivered.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Send emits a non-terminal event, blocking until the consumer accepts it
// or ctx is cancelled. Terminal events must go through Close.
func (s *Stream) Send(ctx context.Context, ev Event) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close delivers the terminal event and closes the stream. Only the first
// call has any effect; the event is dropped if ctx is already cancelled.
func (s *Stream) Close(ctx context.Context, ev Event) {
	s.once.Do(func() {
		select {
		case s.ch <- ev:
		case <-ctx.Done():
		}
		close(s.done)
		close(s.ch)
	})
}

// Collect drains the stream into a slice, preserving order. It returns once
// the terminal event has been consumed.
func Collect(s *Stream) []Event {
	var events []Event
	for ev := range s.Events() {
		events = append(events, ev)
	}
	return events
}
