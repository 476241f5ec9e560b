package bus

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"lunarelay/pkg/channel"
)

const (
	defaultWorkers = 4
	laneBuffer     = 8
)

// HandleFunc dispatches one message. router.Router.Handle satisfies it.
type HandleFunc func(context.Context, channel.InboundMessage) error

// Serve runs workers goroutines that dispatch inbound messages with handle
// until ctx ends or the bus closes. Every chat id is pinned to one worker, so
// messages of a chat are handled one at a time in arrival order while
// different chats run in parallel. Handler errors are reported as
// EventMessageFailed and never stop the pool.
func (mb *MessageBus) Serve(ctx context.Context, workers int, handle HandleFunc) error {
	if workers <= 0 {
		workers = defaultWorkers
	}

	group, groupCtx := errgroup.WithContext(ctx)

	lanes := make([]chan channel.InboundMessage, workers)
	for i := range lanes {
		lane := make(chan channel.InboundMessage, laneBuffer)
		lanes[i] = lane
		group.Go(func() error {
			for {
				select {
				case <-groupCtx.Done():
					return nil
				case msg, ok := <-lane:
					if !ok {
						return nil
					}
					_ = mb.Dispatch(groupCtx, msg, handle)
				}
			}
		})
	}

	group.Go(func() error {
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()

		for {
			msg, ok := mb.ConsumeInbound(groupCtx)
			if !ok {
				return nil
			}

			select {
			case lanes[laneFor(msg.ChatID, workers)] <- msg:
			case <-groupCtx.Done():
				return nil
			}
		}
	})

	return group.Wait()
}

// laneFor maps a chat id onto one of n worker lanes.
func laneFor(chatID string, n int) int {
	return int(xxhash.Sum64String(chatID) % uint64(n))
}

// Dispatch calls handle for msg and publishes the outcome as an event. Webhook
// deliveries use it directly, bypassing the queue.
func (mb *MessageBus) Dispatch(ctx context.Context, msg channel.InboundMessage, handle HandleFunc) error {
	startedAt := time.Now()
	err := handle(ctx, msg)

	event := eventFor(EventMessageHandled, msg)
	event.Duration = time.Since(startedAt)
	if err != nil {
		event.Type = EventMessageFailed
		event.Error = err.Error()
	}
	mb.PublishEvent(context.Background(), event)
	return err
}
