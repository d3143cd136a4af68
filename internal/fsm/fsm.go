// Package fsm holds the realtime session lifecycle table.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
)

const (
	// EventStart is a user start request.
	EventStart Event = "start"
	// EventOpened fires once the remote connection is confirmed open and capture is wired.
	EventOpened Event = "opened"
	// EventStop is a user stop request.
	EventStop Event = "stop"
	// EventFail covers start failures and mid-session transport errors.
	EventFail Event = "fail"
	// EventDrained fires when teardown has finished.
	EventDrained Event = "drained"
)

func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateStarting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStarting:
		switch event {
		case EventOpened:
			return StateActive, nil
		case EventStop, EventFail:
			return StateStopping, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateActive:
		switch event {
		case EventStop, EventFail:
			return StateStopping, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateStopping:
		switch event {
		case EventDrained:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Live reports whether a session in state s holds capture or connection resources.
func Live(s State) bool {
	return s == StateStarting || s == StateActive
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
