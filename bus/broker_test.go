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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	defer broker.Shutdown()

	sub := broker.Subscribe(context.Background())

	broker.Publish(DocumentIngested, IngestedPayload{DocumentId: "doc-1"})

	select {
	case event := <-sub:
		assert.Equal(t, DocumentIngested, event.Type)
		payload, ok := event.Payload.(IngestedPayload)
		require.True(t, ok)
		assert.Equal(t, "doc-1", payload.DocumentId)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	broker := NewBroker()
	defer broker.Shutdown()

	first := broker.Subscribe(context.Background())
	second := broker.Subscribe(context.Background())
	assert.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(ProcessingCompleted, CompletedPayload{DocumentId: "doc-2"})

	for _, sub := range []<-chan Event{first, second} {
		select {
		case event := <-sub:
			assert.Equal(t, ProcessingCompleted, event.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestContextCancelUnsubscribes(t *testing.T) {
	broker := NewBroker()
	defer broker.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	sub := broker.Subscribe(ctx)
	require.Equal(t, 1, broker.SubscriberCount())

	cancel()

	require.Eventually(t, func() bool {
		return broker.SubscriberCount() == 0
	}, time.Second, 5*time.Millisecond)

	_, open := <-sub
	assert.False(t, open, "subscriber channel closes on unsubscribe")
}

func TestFullBufferDropsEvent(t *testing.T) {
	broker := NewBrokerWithBuffer(1)
	defer broker.Shutdown()

	sub := broker.Subscribe(context.Background())

	broker.Publish(TextExtracted, ExtractedPayload{DocumentId: "doc-3"})
	broker.Publish(TextExtracted, ExtractedPayload{DocumentId: "doc-3"})

	assert.Equal(t, int64(1), broker.Dropped())

	event := <-sub
	assert.Equal(t, TextExtracted, event.Type)
}

// Publishers racing subscriber churn must never hit a closed channel: the
// channel close happens under the write lock, after removal from the map.
func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	broker := NewBrokerWithBuffer(1)
	defer broker.Shutdown()

	stop := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					broker.Publish(TextExtracted, ExtractedPayload{DocumentId: "doc-5"})
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		broker.Subscribe(ctx)
		cancel()
	}

	require.Eventually(t, func() bool {
		return broker.SubscriberCount() == 0
	}, 5*time.Second, time.Millisecond)

	close(stop)
	wg.Wait()
}

func TestShutdownClosesSubscribers(t *testing.T) {
	broker := NewBroker()
	sub := broker.Subscribe(context.Background())

	broker.Shutdown()

	_, open := <-sub
	assert.False(t, open)
	assert.Equal(t, 0, broker.SubscriberCount())

	// Publish after shutdown is a no-op.
	broker.Publish(DocumentIngested, IngestedPayload{DocumentId: "doc-4"})
}

func TestSubscribeAfterShutdownReturnsClosedChannel(t *testing.T) {
	broker := NewBroker()
	broker.Shutdown()

	sub := broker.Subscribe(context.Background())
	_, open := <-sub
	assert.False(t, open)
}
