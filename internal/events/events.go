// Package events fans state-change notifications out to side-effect
// consumers (receipts, notifications, activity feeds) off the request path.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"pharmastock/backend/internal/logger"
)

const (
	OrderCreated           = "order.created"
	OrderClaimed           = "order.claimed"
	OrderStatusChanged     = "order.status_changed"
	OrderReturnRequested   = "order.return_requested"
	ApprovalRequested      = "approval.requested"
	ApprovalResolved       = "approval.resolved"
	InventoryAdjusted      = "inventory.adjusted"
	InvoiceCreated         = "invoice.created"
	InvoicePaymentRecorded = "invoice.payment_recorded"
)

type Event struct {
	Type       string            `json:"type"`
	EntityID   string            `json:"entity_id"`
	BranchID   string            `json:"branch_id,omitempty"`
	ActorID    string            `json:"actor_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Publisher never blocks the caller.
type Publisher interface {
	Publish(evt Event)
}

type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// Dispatcher queues events on a bounded buffer and delivers them to every sink
// from a single background goroutine. Events that do not fit are dropped.
type Dispatcher struct {
	queue   chan Event
	sinks   []Sink
	log     *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(buffer int, log *zap.Logger, sinks ...Sink) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	d := &Dispatcher{
		queue:   make(chan Event, buffer),
		sinks:   sinks,
		log:     logger.OrNop(log).Named("events"),
		timeout: 3 * time.Second,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Publish(evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- evt:
	default:
		d.log.Warn("event dropped, queue full", zap.String("type", evt.Type), zap.String("entity_id", evt.EntityID))
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for evt := range d.queue {
		for _, sink := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if err := sink.Deliver(ctx, evt); err != nil {
				d.log.Warn("event delivery failed",
					zap.String("sink", sink.Name()),
					zap.String("type", evt.Type),
					zap.String("entity_id", evt.EntityID),
					zap.Error(err))
			}
			cancel()
		}
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
	return nil
}

// LogSink writes every event to the structured log.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: logger.OrNop(log)}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, evt Event) error {
	s.log.Info("event",
		zap.String("type", evt.Type),
		zap.String("entity_id", evt.EntityID),
		zap.String("branch_id", evt.BranchID),
		zap.String("actor_id", evt.ActorID),
		zap.Any("attributes", evt.Attributes))
	return nil
}
