package chat

import "fmt"

// State is a step of the send state machine.
type State int

const (
	StateIdle State = iota
	StateSessionReady
	StateUserMessageAppended
	StatePlaceholderAppended
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

var stateNames = map[State]string{
	StateIdle:                "idle",
	StateSessionReady:        "session-ready",
	StateUserMessageAppended: "user-message-appended",
	StatePlaceholderAppended: "placeholder-appended",
	StateStreaming:           "streaming",
	StateCompleted:           "completed",
	StateFailed:              "failed",
	StateCancelled:           "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}
