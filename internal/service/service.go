// Package service implements branch inventory allocation and order
// fulfillment on top of a store.Repository: the branch registry, inventory
// ledger, approval gate, order engine, stock reconciliation and supplier
// ledger.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/events"
	"pharmastock/backend/internal/lock"
	"pharmastock/backend/internal/logger"
	"pharmastock/backend/internal/metrics"
	"pharmastock/backend/internal/policy"
	"pharmastock/backend/internal/store"
	"pharmastock/backend/internal/xid"
)

const (
	defaultLockWait     = 2 * time.Second
	compensationTimeout = 10 * time.Second
	maxAdjustAttempts   = 3
)

type Service struct {
	repo    store.Repository
	policy  *policy.Policy
	locker  lock.Locker
	events  events.Publisher
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithEvents(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = logger.OrNop(log).Named("service") }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, pol *policy.Policy, opts ...Option) *Service {
	if pol == nil {
		pol = policy.New(policy.Thresholds{})
	}
	s := &Service{
		repo:   repo,
		policy: pol,
		locker: lock.NewLocal(defaultLockWait),
		events: events.NopPublisher{},
		log:    zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() *policy.Policy {
	return s.policy
}

// withLock runs fn while holding key. The wait is bounded by the locker and a
// timeout surfaces as store.ErrLockTimeout.
func (s *Service) withLock(ctx context.Context, scope string, key string, fn func() error) error {
	start := time.Now()
	release, err := s.locker.Acquire(ctx, key)
	s.metrics.ObserveLockWait(scope, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("acquire %s lock: %w", scope, err)
	}
	defer release()
	return fn()
}

func requirePermission(actor domain.Actor, perm domain.Permission) error {
	if !actor.Can(perm) {
		return fmt.Errorf("%w: role %q lacks %s", store.ErrForbidden, actor.Role, perm)
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, actor domain.Actor, branchID string, action string, entityType string, entityID string, detail string) {
	if actor.ID == "" {
		actor = domain.SystemActor
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		BranchID:   branchID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now(),
	}); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func (s *Service) publish(eventType string, entityID string, branchID string, actor domain.Actor, attrs map[string]string) {
	s.events.Publish(events.Event{
		Type:       eventType,
		EntityID:   entityID,
		BranchID:   branchID,
		ActorID:    actor.ID,
		Attributes: attrs,
		OccurredAt: s.now(),
	})
}

// detached returns a context that survives cancellation of parent, used for
// compensating writes that must run even when the caller has gone away.
func detached(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), compensationTimeout)
}

func (s *Service) ListAuditLogs(ctx context.Context, actor domain.Actor, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if err := requirePermission(actor, domain.PermReportView); err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = s.now().Add(time.Second)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", store.ErrInvalidRequest)
	}
	return s.repo.ListAuditLogs(ctx, branchID, from, to, limit)
}
