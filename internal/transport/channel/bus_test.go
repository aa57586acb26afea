package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

func newTestEvent() domain.RunEvent {
	return domain.RunEvent{
		RunID:      uuid.New(),
		JobID:      uuid.New(),
		OwnerID:    uuid.New(),
		ProjectID:  uuid.New(),
		Kind:       domain.KindAnalyticsSnapshot,
		Trigger:    domain.TriggerScheduled,
		Status:     domain.RunStatusSuccess,
		Attempt:    1,
		FinishedAt: time.Now().UTC(),
	}
}

// mockBusMetrics tracks calls to MetricsSink methods.
type mockBusMetrics struct {
	mu            sync.Mutex
	capacityCalls []int
	sizeCalls     []int
	dropped       int
}

func (m *mockBusMetrics) BufferCapacitySet(capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacityCalls = append(m.capacityCalls, capacity)
}

func (m *mockBusMetrics) BufferSizeUpdate(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizeCalls = append(m.sizeCalls, size)
}

func (m *mockBusMetrics) EventDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

func TestEventBus_PublishAndConsume(t *testing.T) {
	bus := NewEventBus(10)
	event := newTestEvent()
	bus.Publish(event)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan domain.RunEvent, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Consume(ctx, func(_ context.Context, ev domain.RunEvent) error {
			got <- ev
			return nil
		})
	}()

	select {
	case ev := <-got:
		assert.Equal(t, event.RunID, ev.RunID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	cancel()
	<-done
}

func TestEventBus_FullBufferDropsWithoutBlocking(t *testing.T) {
	metrics := &mockBusMetrics{}
	bus := NewEventBus(1, WithMetrics(metrics))

	require.NoError(t, bus.TryPublish(newTestEvent()))
	assert.ErrorIs(t, bus.TryPublish(newTestEvent()), ErrBufferFull)

	start := time.Now()
	bus.Publish(newTestEvent())
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, []int{1}, metrics.capacityCalls)
	assert.Equal(t, 2, metrics.dropped)
	assert.Equal(t, []int{1}, metrics.sizeCalls)
	assert.Equal(t, 1, bus.Len())
}

func TestEventBus_DrainsAfterCancel(t *testing.T) {
	bus := NewEventBus(10)
	for i := 0; i < 5; i++ {
		bus.Publish(newTestEvent())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var handled atomic.Int32
	bus.Consume(ctx, func(_ context.Context, _ domain.RunEvent) error {
		handled.Add(1)
		return nil
	})
	assert.Equal(t, int32(5), handled.Load())
	assert.Equal(t, 0, bus.Len())
}

func TestEventBus_HandlerErrorDoesNotStopConsumer(t *testing.T) {
	bus := NewEventBus(10)
	bus.Publish(newTestEvent())
	bus.Publish(newTestEvent())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	bus.Consume(ctx, func(_ context.Context, _ domain.RunEvent) error {
		calls++
		return assert.AnError
	})
	assert.Equal(t, 2, calls)
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	bus := NewEventBus(1000)

	const numGoroutines = 10
	const eventsPerGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				bus.Publish(newTestEvent())
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, numGoroutines*eventsPerGoroutine, bus.Len())
}
