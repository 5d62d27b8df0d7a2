package service

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/events"
	"pharmastock/backend/internal/lock"
	"pharmastock/backend/internal/policy"
	"pharmastock/backend/internal/store/memory"
)

const (
	online = memory.SeedOnlineBranchID
	ikeja  = memory.SeedIkejaBranchID
	lekki  = memory.SeedLekkiBranchID
)

var (
	admin    = domain.Actor{ID: "admin", Role: domain.RoleAdmin}
	manager  = domain.Actor{ID: "manager", Role: domain.RoleManager, BranchID: ikeja}
	manager2 = domain.Actor{ID: "manager2", Role: domain.RoleManager, BranchID: lekki}
	staff    = domain.Actor{ID: "staff", Role: domain.RoleStaff, BranchID: ikeja}
	customer = domain.Actor{ID: "cust-1", Role: domain.RoleCustomer}
)

func defaultThresholds() policy.Thresholds {
	return policy.Thresholds{Units: 50}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(evt events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, evt := range p.events {
		out = append(out, evt.Type)
	}
	return out
}

type fixture struct {
	svc    *Service
	repo   *memory.Store
	events *recordingPublisher
}

func newFixture(t *testing.T, thresholds policy.Thresholds) *fixture {
	t.Helper()
	return newFixtureWithLocker(t, thresholds, lock.NewLocal(time.Second))
}

func newFixtureWithLocker(t *testing.T, thresholds policy.Thresholds, locker lock.Locker) *fixture {
	t.Helper()
	repo := memory.NewSeeded()
	pub := &recordingPublisher{}
	svc := New(repo, policy.New(thresholds),
		WithLocker(locker),
		WithEvents(pub),
		WithLogger(zaptest.NewLogger(t)),
	)
	return &fixture{svc: svc, repo: repo, events: pub}
}

func newTestService(t *testing.T) *fixture {
	return newFixture(t, defaultThresholds())
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
