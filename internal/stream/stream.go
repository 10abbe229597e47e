package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	apierrors "github.com/diogo/eda/internal/errors"
	"github.com/diogo/eda/internal/models"
)

const eventBuffer = 64

// Stream is a live completion. Consumers must drain Events until it is
// closed; the channel carries zero or more chunks and then exactly one
// terminal event.
type Stream struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	once     sync.Once
	terminal Event
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		events: make(chan Event, eventBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Events returns the event channel.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Cancel aborts the stream. The terminal event becomes EventDone and no
// further chunks are produced. Safe to call more than once.
func (s *Stream) Cancel() {
	s.cancel()
}

// Done is closed after the terminal event has been delivered.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) run(ctx context.Context, c *Client, req Request) {
	start := time.Now()
	chunks := 0
	defer func() {
		s.cancel()
		close(s.events)
		close(s.done)

		ev := c.log.Info()
		if s.terminal.Kind == EventError {
			ev = c.log.Warn().Err(s.terminal.Err)
		}
		ev.Str("outcome", s.terminal.Kind.String()).
			Int("chunks", chunks).
			Dur("duration", time.Since(start)).
			Msg("completion stream finished")
	}()

	c.log.Debug().
		Str("url", c.URL()).
		Int("messages", len(req.Messages)).
		Msg("opening completion stream")

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		s.finish(Event{Kind: EventError, Err: apierrors.NewStreamError("failed to build request", err)})
		return
	}

	if ctx.Err() != nil {
		s.finish(Event{Kind: EventDone})
		return
	}

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			s.finish(Event{Kind: EventDone})
			return
		}
		s.finish(Event{Kind: EventError, Err: apierrors.NewNetworkErrorWithEndpoint("stream", c.URL(), err)})
		return
	}
	if resp == nil || resp.Body == nil {
		s.finish(Event{Kind: EventError, Err: apierrors.NewStreamError("No response body", nil)})
		return
	}
	defer resp.Body.Close()

	// Closing the body releases a reader blocked in Read.
	stop := context.AfterFunc(ctx, func() {
		resp.Body.Close()
	})
	defer stop()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if ctx.Err() != nil {
			s.finish(Event{Kind: EventDone})
			return
		}
		s.finish(Event{Kind: EventError, Err: apierrors.NewAPIErrorWithBody(
			resp.StatusCode, models.PathChat, httpStatusMessage(resp.StatusCode), string(body))})
		return
	}

	dec := &Decoder{}
	buf := make([]byte, c.readSize)
	for {
		if ctx.Err() != nil {
			s.finish(Event{Kind: EventDone})
			return
		}

		n, rerr := resp.Body.Read(buf)

		if ctx.Err() != nil {
			s.finish(Event{Kind: EventDone})
			return
		}

		if n > 0 {
			if s.deliver(ctx, dec.Feed(buf[:n]), &chunks) {
				return
			}
		}

		if errors.Is(rerr, io.EOF) {
			if s.deliver(ctx, dec.Flush(), &chunks) {
				return
			}
			s.finish(Event{Kind: EventDone})
			return
		}
		if rerr != nil {
			s.finish(Event{Kind: EventError, Err: apierrors.NewStreamError("failed to read stream", rerr)})
			return
		}
	}
}

// deliver sends decoded events in order and reports whether the stream has
// ended, either through a terminal event or through cancellation.
func (s *Stream) deliver(ctx context.Context, events []Event, chunks *int) bool {
	for _, ev := range events {
		if ev.Terminal() {
			s.finish(ev)
			return true
		}
		if ctx.Err() != nil {
			s.finish(Event{Kind: EventDone})
			return true
		}
		select {
		case s.events <- ev:
			*chunks++
		case <-ctx.Done():
			s.finish(Event{Kind: EventDone})
			return true
		}
	}
	return false
}

// finish sends the terminal event. It runs at most once.
func (s *Stream) finish(ev Event) {
	s.once.Do(func() {
		s.terminal = ev
		s.events <- ev
	})
}

func httpStatusMessage(code int) string {
	return fmt.Sprintf("HTTP error! status: %d", code)
}
