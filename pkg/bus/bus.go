// Package bus buffers inbound messages between a channel adapter and the
// workers that dispatch them, and fans out dispatch lifecycle events.
package bus

import (
	"context"
	"sync"

	"lunarelay/pkg/channel"
)

const defaultBufferSize = 100

type MessageBus struct {
	inbound chan channel.InboundMessage

	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

// NewMessageBus creates a bus whose inbound queue holds size messages.
// Non-positive sizes use the default of 100.
func NewMessageBus(size int) *MessageBus {
	if size <= 0 {
		size = defaultBufferSize
	}

	return &MessageBus{
		inbound:          make(chan channel.InboundMessage, size),
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

// PublishInbound enqueues msg, blocking while the queue is full.
func (mb *MessageBus) PublishInbound(ctx context.Context, msg channel.InboundMessage) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	case mb.inbound <- msg:
		mb.PublishEvent(ctx, eventFor(EventMessageQueued, msg))
		return true
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (channel.InboundMessage, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return channel.InboundMessage{}, false
	case <-mb.done:
		return channel.InboundMessage{}, false
	case msg := <-mb.inbound:
		return msg, true
	}
}

// Pending reports how many inbound messages wait for a worker.
func (mb *MessageBus) Pending() int {
	return len(mb.inbound)
}

// Handler returns a channel handler that enqueues every message it receives.
func (mb *MessageBus) Handler() channel.Handler {
	return func(ctx context.Context, msg channel.InboundMessage) {
		mb.PublishInbound(ctx, msg)
	}
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, ch := range mb.eventSubscribers {
			close(ch)
			delete(mb.eventSubscribers, id)
		}
		mb.mu.Unlock()
	})
}
