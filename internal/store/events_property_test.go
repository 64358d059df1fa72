package store

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"stockfolio/internal/models"
)

// Property: for any number of subscribers and any event sequence, every
// fast subscriber receives every published event within a timeout. Slow
// subscribers may have events dropped rather than blocking the writer.
func TestProperty_AllSubscribersReceiveEvents(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("all fast subscribers receive all events", prop.ForAll(
		func(subscriberCount int, eventCount int) bool {
			hub := NewHubWithConfig[models.Holding](HubConfig{
				SubscriberBufferSize: 256,
				Replay:               false,
			})
			defer hub.Close()

			channels := make([]<-chan models.Event[models.Holding], subscriberCount)
			for i := 0; i < subscriberCount; i++ {
				channels[i] = hub.Subscribe()
			}

			var wg sync.WaitGroup
			receivedCounts := make([]int64, subscriberCount)
			for i := 0; i < subscriberCount; i++ {
				wg.Add(1)
				go func(idx int, ch <-chan models.Event[models.Holding]) {
					defer wg.Done()
					timeout := time.After(2 * time.Second)
					for {
						select {
						case _, ok := <-ch:
							if !ok {
								return
							}
							if atomic.AddInt64(&receivedCounts[idx], 1) >= int64(eventCount) {
								return
							}
						case <-timeout:
							return
						}
					}
				}(i, channels[i])
			}

			for i := 0; i < eventCount; i++ {
				hub.Publish(models.Event[models.Holding]{
					Kind:   models.EventInsert,
					Entity: models.Holding{ID: int64(i + 1), Symbol: "HUB"},
				})
			}

			wg.Wait()
			for i := 0; i < subscriberCount; i++ {
				if atomic.LoadInt64(&receivedCounts[i]) != int64(eventCount) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 5),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

// Property: publishing to a full subscriber never blocks; the overflow is
// counted as dropped.
func TestProperty_SlowSubscriberNeverBlocksPublisher(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("publishes complete and overflow is counted", prop.ForAll(
		func(bufferSize int, eventCount int) bool {
			hub := NewHubWithConfig[models.Position](HubConfig{
				SubscriberBufferSize: bufferSize,
				Replay:               false,
			})
			defer hub.Close()

			// Subscriber that never reads.
			hub.Subscribe()

			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 0; i < eventCount; i++ {
					hub.Publish(models.Event[models.Position]{
						Kind:   models.EventInsert,
						Entity: models.Position{ID: int64(i + 1)},
					})
				}
			}()

			select {
			case <-done:
			case <-time.After(2 * time.Second):
				return false // publisher blocked
			}

			published, dropped := hub.Metrics()
			expectedDropped := uint64(0)
			if eventCount > bufferSize {
				expectedDropped = uint64(eventCount - bufferSize)
			}
			return published == uint64(eventCount) && dropped == expectedDropped
		},
		gen.IntRange(1, 8),
		gen.IntRange(1, 64),
	))

	properties.TestingRun(t)
}

func TestHub_ReplayDeliversLatestEventToNewSubscriber(t *testing.T) {
	hub := NewHub[models.Holding]()
	defer hub.Close()

	hub.Publish(models.Event[models.Holding]{Kind: models.EventInsert, Entity: models.Holding{ID: 1}})
	hub.Publish(models.Event[models.Holding]{Kind: models.EventDelete, Entity: models.Holding{ID: 1}, OfferUndo: true})

	ch := hub.Subscribe()
	select {
	case ev := <-ch:
		if ev.Kind != models.EventDelete || !ev.OfferUndo {
			t.Errorf("replayed event = %+v, want latest delete", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no replayed event")
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub[models.Split]()
	defer hub.Close()

	ch := hub.Subscribe()
	if hub.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", hub.SubscriberCount())
	}

	hub.Unsubscribe(ch)
	if hub.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d, want 0", hub.SubscriberCount())
	}
	if _, ok := <-ch; ok {
		t.Error("channel not closed after unsubscribe")
	}
}

func TestHub_PublishAfterCloseIsNoOp(t *testing.T) {
	hub := NewHub[models.Holding]()
	ch := hub.Subscribe()
	hub.Close()

	hub.Publish(models.Event[models.Holding]{Kind: models.EventInsert, Entity: models.Holding{ID: 1}})

	if _, ok := <-ch; ok {
		t.Error("received event after close")
	}
	published, _ := hub.Metrics()
	if published != 0 {
		t.Errorf("published = %d, want 0", published)
	}
}
