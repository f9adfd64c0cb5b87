// Package statsrv is the observability surface: an HTTP+WebSocket server
// that streams whatever events are published to its Broadcaster (within
// this package, only Server.PublishSummary publishes) to any number of
// connected observers, fanning a single internal event stream
// out to many slow, unreliable network clients without blocking the guest
// program's execution loop.
package statsrv

import "sync"

// EventType classifies a broadcast Event.
type EventType string

const (
	// EventError tags an event carrying a newly recorded error. Nothing in
	// this module publishes it; the recorder does not emit events.
	EventError EventType = "error"
	// EventThread tags an event carrying a thread create/exit. Nothing in
	// this module publishes it.
	EventThread EventType = "thread"
	// EventSummary is emitted by Server.PublishSummary with the recorder's
	// current kind/count summary.
	EventSummary EventType = "summary"
)

// Event is one broadcast message, serialised to JSON for WebSocket clients.
type Event struct {
	Type EventType              `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Subscription is one client's filtered view of the event stream.
type Subscription struct {
	EventTypes map[EventType]bool
	Channel    chan Event
}

// Broadcaster fans a single internal event stream out to many subscribers,
// dropping events for any subscriber whose channel is full rather than
// blocking the publisher.
type Broadcaster struct {
	mu            sync.RWMutex
	subscriptions map[*Subscription]bool
	broadcast     chan Event
	register      chan *Subscription
	unregister    chan *Subscription
	done          chan struct{}
}

// NewBroadcaster creates and starts a Broadcaster. Its run loop is a
// goroutine that lives until Close is called.
func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{
		subscriptions: make(map[*Subscription]bool),
		broadcast:     make(chan Event, 256),
		register:      make(chan *Subscription),
		unregister:    make(chan *Subscription),
		done:          make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broadcaster) run() {
	for {
		select {
		case sub := <-b.register:
			b.mu.Lock()
			b.subscriptions[sub] = true
			b.mu.Unlock()

		case sub := <-b.unregister:
			b.mu.Lock()
			if b.subscriptions[sub] {
				delete(b.subscriptions, sub)
				close(sub.Channel)
			}
			b.mu.Unlock()

		case event := <-b.broadcast:
			b.mu.RLock()
			for sub := range b.subscriptions {
				if len(sub.EventTypes) > 0 && !sub.EventTypes[event.Type] {
					continue
				}
				select {
				case sub.Channel <- event:
				default:
				}
			}
			b.mu.RUnlock()

		case <-b.done:
			b.mu.Lock()
			for sub := range b.subscriptions {
				close(sub.Channel)
			}
			b.subscriptions = make(map[*Subscription]bool)
			b.mu.Unlock()
			return
		}
	}
}

// Subscribe registers a new subscription filtered to eventTypes (empty
// means all types).
func (b *Broadcaster) Subscribe(eventTypes []EventType) *Subscription {
	m := make(map[EventType]bool, len(eventTypes))
	for _, et := range eventTypes {
		m[et] = true
	}
	sub := &Subscription{EventTypes: m, Channel: make(chan Event, 64)}
	b.register <- sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.unregister <- sub
}

// Broadcast publishes event to every matching subscriber, dropping it if
// the internal broadcast channel is saturated.
func (b *Broadcaster) Broadcast(event Event) {
	select {
	case b.broadcast <- event:
	default:
	}
}

// Close shuts the broadcaster down, closing every subscriber's channel.
func (b *Broadcaster) Close() {
	close(b.done)
}

// SubscriptionCount reports the number of active subscribers.
func (b *Broadcaster) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}
