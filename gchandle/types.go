package gchandle

import (
	"github.com/wippyai/clr-embed/clr"
)

// EventType identifies a handle lifecycle transition.
type EventType uint8

const (
	EventCreated EventType = iota
	EventFreed
	// EventCleared is sent when the target of a weak handle is collected.
	EventCleared
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventFreed:
		return "freed"
	case EventCleared:
		return "cleared"
	}
	return "unknown"
}

// Event describes a handle lifecycle transition.
type Event struct {
	Target any
	Handle clr.GCHandle
	Kind   clr.HandleKind
	Type   EventType
}

// Observer receives handle lifecycle events.
type Observer interface {
	OnHandleEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnHandleEvent(e Event) { f(e) }

// Entry is the state of one handle.
type Entry[T any] struct {
	Target  T
	Kind    clr.HandleKind
	Cleared bool
}
