package events

import (
	"github.com/kelindar/event"
)

// Bus is the in-process event bus. Each subscriber receives events in
// publish order on its own goroutine.
type Bus struct {
	dispatcher *event.Dispatcher
}

func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish delivers ev to subscribers of its concrete type.
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case SessionCreatedEvent:
		event.Publish(b.dispatcher, e)
	case SessionStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case ContextUpdatedEvent:
		event.Publish(b.dispatcher, e)
	case SessionClosedEvent:
		event.Publish(b.dispatcher, e)
	case ResultAppendedEvent:
		event.Publish(b.dispatcher, e)
	case DuplicateSuppressedEvent:
		event.Publish(b.dispatcher, e)
	case IngestStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case ProfilesReloadedEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers handler, whose parameter type selects the events it
// receives, and returns an unsubscribe function. Unknown handler types are
// ignored.
//
//	unsub := bus.Subscribe(func(e ResultAppendedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(SessionCreatedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SessionStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ContextUpdatedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SessionClosedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ResultAppendedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DuplicateSuppressedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(IngestStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ProfilesReloadedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}
