// Package lock serialises work per key with a bounded wait.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pharmastock/backend/internal/store"
)

// Locker grants exclusive use of a key. Acquire gives up with an error
// wrapping store.ErrLockTimeout once its wait bound elapses; the returned
// release func is safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

func BranchProductKey(branchID, productID string) string {
	return "stock:" + branchID + ":" + productID
}

func OrderKey(orderID string) string {
	return "order:" + orderID
}

func ApprovalKey(approvalID string) string {
	return "approval:" + approvalID
}

func InvoiceKey(invoiceID string) string {
	return "invoice:" + invoiceID
}

type slot struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process Locker for single-replica deployments.
type Local struct {
	wait  time.Duration
	mu    sync.Mutex
	slots map[string]*slot
}

func NewLocal(wait time.Duration) *Local {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &Local{wait: wait, slots: make(map[string]*slot)}
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.unref(key, s)
			})
		}, nil
	case <-timer.C:
		l.unref(key, s)
		return nil, fmt.Errorf("%w: %s", store.ErrLockTimeout, key)
	case <-ctx.Done():
		l.unref(key, s)
		return nil, ctx.Err()
	}
}

func (l *Local) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Size returns the number of keys currently held or waited on.
func (l *Local) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
