// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 64

// Broker is an in-memory publish/subscribe broker for pipeline lifecycle
// events. Subscriber channels are bounded; Publish never blocks, a subscriber
// whose buffer is full misses the event. Delivery is therefore best-effort
// notification, never a correctness dependency.
type Broker struct {
	subs       map[chan Event]struct{}
	mu         sync.RWMutex
	done       chan struct{}
	bufferSize int
	dropped    atomic.Int64
	logger     *slog.Logger
}

var (
	_ Publisher  = (*Broker)(nil)
	_ Subscriber = (*Broker)(nil)
)

// NewBroker creates a Broker with the default subscriber buffer size.
func NewBroker() *Broker {
	return NewBrokerWithBuffer(defaultBufferSize)
}

// NewBrokerWithBuffer creates a Broker with a custom subscriber channel
// buffer size.
func NewBrokerWithBuffer(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Broker{
		subs:       make(map[chan Event]struct{}),
		done:       make(chan struct{}),
		bufferSize: bufferSize,
		logger:     slog.Default().With("component", "event-broker"),
	}
}

// Subscribe registers a subscriber and returns its event channel. The channel
// is unregistered and closed when ctx is done or the broker shuts down.
func (b *Broker) Subscribe(ctx context.Context) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		ch := make(chan Event)
		close(ch)
		return ch
	default:
	}

	sub := make(chan Event, b.bufferSize)
	b.subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()

		b.mu.Lock()
		defer b.mu.Unlock()

		select {
		case <-b.done:
			return
		default:
		}

		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub)
		}
	}()

	return sub
}

// Publish delivers an event to all active subscribers without blocking.
// The read lock is held across the sends: channels are closed under the
// write lock only after removal from the map, so a channel reachable here is
// never closed mid-send. Sends themselves never block, so the lock is held
// only briefly.
func (b *Broker) Publish(t EventType, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.done:
		return
	default:
	}

	event := Event{Type: t, Payload: payload}

	for sub := range b.subs {
		select {
		case sub <- event:
		default:
			b.dropped.Add(1)
			b.logger.Warn("subscriber buffer full, event dropped", "type", t)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the number of events dropped due to full subscriber buffers.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

// Shutdown stops the broker and closes all subscriber channels.
func (b *Broker) Shutdown() {
	select {
	case <-b.done:
		return
	default:
		close(b.done)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
