package events

import "github.com/kelindar/event"

// SubscribeToChannel forwards events of type T into ch without blocking;
// events are dropped when ch is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}

// SubscribeSession is SubscribeToChannel restricted to one session.
// An empty sessionID matches every session.
func SubscribeSession[T SessionEvent](bus *Bus, sessionID string, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		if sessionID != "" && e.Session() != sessionID {
			return
		}
		select {
		case ch <- e:
		default:
		}
	})
}
