package stream

import "fmt"

// EventKind classifies a stream event.
type EventKind int

const (
	// EventChunk carries one fragment of the assistant reply.
	EventChunk EventKind = iota
	// EventDone ends the stream normally, including after cancellation.
	EventDone
	// EventError ends the stream with a failure.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one item of the three-state result channel.
type Event struct {
	Kind EventKind
	Text string // set for EventChunk
	Err  error  // set for EventError
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == EventDone || e.Kind == EventError
}
