// Package stream moves bytes between the supervisor and a child's pipes:
// Pump reads the child's stdout into Events, Writer serializes writes to its
// stdin.
package stream

import "fmt"

// EventKind tags an Event.
type EventKind int

const (
	// EventData carries one chunk read from the child.
	EventData EventKind = iota + 1
	// EventTerminated means the child's stdout closed. It is sent once,
	// after every Data event.
	EventTerminated
)

func (k EventKind) String() string {
	switch k {
	case EventData:
		return "Data"
	case EventTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a value produced by the Pump.
type Event struct {
	Kind EventKind
	Data []byte // set for EventData only; owned by the receiver
}

// Data returns a Data event for b.
func Data(b []byte) Event {
	return Event{Kind: EventData, Data: b}
}

// Terminated returns the Terminated event.
func Terminated() Event {
	return Event{Kind: EventTerminated}
}

func (e Event) String() string {
	if e.Kind == EventData {
		return fmt.Sprintf("Data(%q)", e.Data)
	}
	return e.Kind.String()
}
