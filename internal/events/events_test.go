package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, evt Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.err
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(8, nil, sink)

	d.Publish(Event{Type: OrderCreated, EntityID: "ord-1"})
	d.Publish(Event{Type: OrderStatusChanged, EntityID: "ord-1"})
	require.NoError(t, d.Close())

	got := sink.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, OrderCreated, got[0].Type)
	assert.Equal(t, OrderStatusChanged, got[1].Type)
	assert.False(t, got[0].OccurredAt.IsZero())
}

func TestPublishDoesNotBlockWhenQueueIsFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(1, zap.New(core), sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Publish(Event{Type: OrderCreated, EntityID: "ord"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow sink")
	}

	close(sink.block)
	require.NoError(t, d.Close())
	assert.Less(t, len(sink.snapshot()), 10)
	assert.NotZero(t, logs.FilterMessage("event dropped, queue full").Len())
}

func TestSinkErrorsAreLoggedNotPropagated(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := &recordingSink{err: errors.New("down")}
	d := NewDispatcher(4, zap.New(core), sink)

	d.Publish(Event{Type: ApprovalResolved, EntityID: "apr-1"})
	require.NoError(t, d.Close())

	assert.Equal(t, 1, logs.FilterMessage("event delivery failed").Len())
}

func TestPublishAfterCloseIsIgnored(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(4, nil, sink)
	require.NoError(t, d.Close())

	d.Publish(Event{Type: OrderCreated})
	assert.Empty(t, sink.snapshot())
}
