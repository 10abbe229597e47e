package stream

import (
	"bytes"
	"strings"

	"github.com/tidwall/gjson"

	apierrors "github.com/diogo/eda/internal/errors"
)

// SSE event names emitted by the completion service.
const (
	eventMessage = "message"
	eventDone    = "done"
	eventError   = "error"
)

const unknownErrorMessage = "Unknown error"

// Decoder turns raw response bytes into stream events. Bytes may arrive in
// arbitrary pieces: a partial trailing line is buffered until its newline
// shows up, so splitting a line across reads decodes identically to an
// unsplit delivery.
type Decoder struct {
	buf   []byte
	event string
	ended bool
}

// Feed appends p to the pending buffer and decodes every complete line.
// Decoding stops at the first terminal event; anything after it is ignored.
func (d *Decoder) Feed(p []byte) []Event {
	if d.ended {
		return nil
	}
	d.buf = append(d.buf, p...)

	var events []Event
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(d.buf[:idx])
		d.buf = d.buf[idx+1:]

		ev, ok := d.decodeLine(line)
		if !ok {
			continue
		}
		events = append(events, ev)
		if ev.Terminal() {
			d.ended = true
			d.buf = nil
			break
		}
	}
	return events
}

// Flush decodes an unterminated trailing line left in the buffer. It is
// called once the transport reports end of stream.
func (d *Decoder) Flush() []Event {
	if d.ended || len(d.buf) == 0 {
		return nil
	}
	line := string(d.buf)
	d.buf = nil

	ev, ok := d.decodeLine(line)
	if !ok {
		return nil
	}
	if ev.Terminal() {
		d.ended = true
	}
	return []Event{ev}
}

func (d *Decoder) decodeLine(line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\r")

	switch {
	case strings.HasPrefix(line, "event:"):
		d.event = strings.TrimSpace(line[len("event:"):])
		return Event{}, false

	case strings.HasPrefix(line, "data:"):
		raw := strings.TrimLeft(line[len("data:"):], " \t")
		return d.decodeData(raw)
	}

	// Blank separators, comments, id: and retry: fields carry nothing we use.
	return Event{}, false
}

func (d *Decoder) decodeData(raw string) (Event, bool) {
	switch d.event {
	case eventDone:
		return Event{Kind: EventDone}, true

	case eventError:
		msg := raw
		if gjson.Valid(raw) {
			msg = gjson.Get(raw, "error").String()
		}
		if msg == "" {
			msg = unknownErrorMessage
		}
		return Event{Kind: EventError, Err: apierrors.NewStreamError(msg, nil)}, true

	case eventMessage:
		if raw == "" {
			return Event{}, false
		}
		if !gjson.Valid(raw) {
			// Not JSON: the raw text is the fragment.
			return Event{Kind: EventChunk, Text: raw}, true
		}
		content := gjson.Get(raw, "content")
		if !content.Exists() {
			return Event{}, false
		}
		return Event{Kind: EventChunk, Text: content.String()}, true
	}

	return Event{}, false
}
