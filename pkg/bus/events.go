package bus

import (
	"context"
	"sync"
	"time"

	"lunarelay/pkg/channel"
)

type EventType string

const (
	EventMessageQueued  EventType = "message_queued"
	EventMessageHandled EventType = "message_handled"
	EventMessageFailed  EventType = "message_failed"
)

// Event describes one step in the life of a queued message.
type Event struct {
	Type     EventType     `json:"type"`
	At       time.Time     `json:"at"`
	Channel  string        `json:"channel,omitempty"`
	ChatID   string        `json:"chat_id,omitempty"`
	UpdateID string        `json:"update_id,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func eventFor(eventType EventType, msg channel.InboundMessage) Event {
	return Event{Type: eventType, Channel: msg.Channel, ChatID: msg.ChatID, UpdateID: msg.UpdateID}
}

// PublishEvent delivers event to every subscriber without blocking.
func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	mb.mu.RLock()
	subs := make([]chan Event, 0, len(mb.eventSubscribers))
	for _, ch := range mb.eventSubscribers {
		subs = append(subs, ch)
	}
	mb.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Drop instead of blocking the publisher on slow subscribers.
		}
	}

	return true
}

// SubscribeEvents registers a buffered subscriber. The channel closes when the
// returned function is called, ctx ends or the bus closes.
func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := mb.nextEventSubscriberID
	mb.nextEventSubscriberID++
	mb.eventSubscribers[id] = ch
	mb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mb.mu.Lock()
			if eventCh, ok := mb.eventSubscribers[id]; ok {
				delete(mb.eventSubscribers, id)
				close(eventCh)
			}
			mb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-mb.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}
