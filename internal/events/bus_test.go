package events

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, s *Subscription) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, err := s.Recv(ctx)
	require.NoError(t, err)
	return e
}

func TestBus_DeliversToAllSubscribersInOrder(t *testing.T) {
	bus := NewBus(16, nil)
	a := bus.Subscribe()
	b := bus.Subscribe()

	for i := 1; i <= 3; i++ {
		assert.Equal(t, 2, bus.Publish(IndexingProgress{Collection: "demo", Processed: i, Total: 3}))
	}

	for _, s := range []*Subscription{a, b} {
		for i := 1; i <= 3; i++ {
			e := recv(t, s)
			assert.Equal(t, i, e.(IndexingProgress).Processed)
		}
	}
}

func TestBus_SubscriberOnlySeesLaterEvents(t *testing.T) {
	bus := NewBus(4, nil)
	bus.Publish(ConfigReloaded{Section: "early"})

	s := bus.Subscribe()
	bus.Publish(ConfigReloaded{Section: "late"})

	assert.Equal(t, ConfigReloaded{Section: "late"}, recv(t, s))
	_, ok := s.TryRecv()
	assert.False(t, ok)
}

func TestBus_LaggedSubscriberGetsMissedCount(t *testing.T) {
	bus := NewBus(2, nil)
	s := bus.Subscribe()

	for i := 0; i < 5; i++ {
		bus.Publish(IndexingProgress{Processed: i})
	}

	_, err := s.Recv(context.Background())
	var lag *LaggedError
	require.ErrorAs(t, err, &lag)
	assert.Equal(t, uint64(3), lag.Missed)
	assert.Equal(t, uint64(3), bus.DroppedEvents())

	assert.Equal(t, 3, recv(t, s).(IndexingProgress).Processed)
	assert.Equal(t, 4, recv(t, s).(IndexingProgress).Processed)
}

func TestBus_PublishNeverBlocksWithoutReaders(t *testing.T) {
	bus := NewBus(1, nil)
	_ = bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			bus.Publish(ConfigReloaded{Section: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestBus_HasSubscribers(t *testing.T) {
	bus := NewBus(4, nil)
	assert.False(t, bus.HasSubscribers())

	s := bus.Subscribe()
	assert.True(t, bus.HasSubscribers())
	assert.Equal(t, 1, bus.SubscriberCount())

	s.Close()
	assert.False(t, bus.HasSubscribers())
	assert.Equal(t, 0, bus.Publish(ConfigReloaded{}))
}

func TestBus_CloseEndsSubscriptionsAfterDrain(t *testing.T) {
	bus := NewBus(4, nil)
	s := bus.Subscribe()
	bus.Publish(ConfigReloaded{Section: "providers"})
	bus.Close()

	assert.Equal(t, ConfigReloaded{Section: "providers"}, recv(t, s))
	_, err := s.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, bus.Publish(ConfigReloaded{}))
}

func TestBus_RecvHonorsContext(t *testing.T) {
	bus := NewBus(4, nil)
	s := bus.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBus_PublishTopic(t *testing.T) {
	var logs bytes.Buffer
	bus := NewBus(4, slog.New(slog.NewTextHandler(&logs, nil)))
	s := bus.Subscribe()

	bus.PublishTopic("config_reloaded", []byte(`{"data":{"section":"providers"}}`))
	bus.PublishTopic("anything", []byte(`{"type":"search_executed","data":{"query":"q","results":2}}`))
	bus.PublishTopic("config_reloaded", []byte(`{not json`))

	assert.Equal(t, ConfigReloaded{Section: "providers"}, recv(t, s))
	assert.Equal(t, SearchExecuted{Query: "q", Results: 2}, recv(t, s))
	_, ok := s.TryRecv()
	assert.False(t, ok)
	assert.Contains(t, logs.String(), "dropping malformed event payload")
}

func TestBus_ConcurrentPublishersKeepPerPublisherOrder(t *testing.T) {
	bus := NewBus(4096, nil)
	s := bus.Subscribe()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				bus.Publish(IndexingProgress{OperationID: string(rune('a' + p)), Processed: i})
			}
		}(p)
	}
	wg.Wait()

	last := map[string]int{}
	for i := 0; i < 800; i++ {
		e := recv(t, s).(IndexingProgress)
		prev, seen := last[e.OperationID]
		if seen {
			assert.Greater(t, e.Processed, prev)
		}
		last[e.OperationID] = e.Processed
	}
}
