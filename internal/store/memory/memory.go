package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/store"
	"pharmastock/backend/internal/xid"
)

const (
	SeedOnlineBranchID = "branch-online"
	SeedIkejaBranchID  = "branch-ikeja"
	SeedLekkiBranchID  = "branch-lekki"
)

type Store struct {
	mu              sync.RWMutex
	branches        map[string]domain.Branch
	products        map[string]domain.Product
	inventory       map[string]map[string]domain.InventoryRecord
	movements       []domain.InventoryMovement
	orders          map[string]domain.Order
	approvals       map[string]domain.ApprovalRequest
	suppliers       map[string]domain.Supplier
	invoices        map[string]domain.SupplierInvoice
	payments        map[string][]domain.Payment
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		branches:        make(map[string]domain.Branch),
		products:        make(map[string]domain.Product),
		inventory:       make(map[string]map[string]domain.InventoryRecord),
		movements:       make([]domain.InventoryMovement, 0, 256),
		orders:          make(map[string]domain.Order),
		approvals:       make(map[string]domain.ApprovalRequest),
		suppliers:       make(map[string]domain.Supplier),
		invoices:        make(map[string]domain.SupplierInvoice),
		payments:        make(map[string][]domain.Payment),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

type SeedOption func(*seedOptions)

type seedOptions struct {
	log *zap.Logger
}

// WithLogger routes seeding warnings to log instead of discarding them.
func WithLogger(log *zap.Logger) SeedOption {
	return func(o *seedOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// seedUsers builds the demo accounts. Passwords come from SEED_ADMIN_PASSWORD,
// SEED_MANAGER_PASSWORD and SEED_STAFF_PASSWORD, with dev defaults when unset.
// An account whose password cannot be hashed is left out.
// Production deployments use postgres and never see these.
func seedUsers(log *zap.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     domain.Role
		branchID string
	}{
		{"admin", adminPwd, domain.RoleAdmin, ""},
		{"manager", managerPwd, domain.RoleManager, SeedIkejaBranchID},
		{"manager2", managerPwd, domain.RoleManager, SeedLekkiBranchID},
		{"staff", staffPwd, domain.RoleStaff, SeedIkejaBranchID},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			log.Error("hash seed password failed", zap.String("username", u.username), zap.Error(err))
			continue
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			BranchID:  u.branchID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded(opts ...SeedOption) *Store {
	o := seedOptions{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	s := New()
	now := time.Now().UTC()

	for _, b := range []domain.Branch{
		{ID: SeedOnlineBranchID, Name: "Online Store", Region: "web", IsOnline: true},
		{ID: SeedIkejaBranchID, Name: "Ikeja", Address: "12 Allen Avenue", Phone: "+2348010000001", Region: "Lagos Mainland"},
		{ID: SeedLekkiBranchID, Name: "Lekki", Address: "4 Admiralty Way", Phone: "+2348010000002", Region: "Lagos Island"},
	} {
		b.CreatedAt = now
		s.branches[b.ID] = b
	}

	products := []domain.Product{
		{ID: "prod-paracetamol", Name: "Paracetamol 500mg x100", Price: decimal.NewFromInt(1500), UnitCost: decimal.NewFromInt(900), Active: true},
		{ID: "prod-amoxicillin", Name: "Amoxicillin 250mg x21", Price: decimal.NewFromInt(3200), UnitCost: decimal.NewFromInt(2100), Active: true},
		{ID: "prod-vitc", Name: "Vitamin C 1000mg x30", Price: decimal.NewFromInt(4500), UnitCost: decimal.NewFromInt(2800), Active: true},
		{ID: "prod-ors", Name: "Oral Rehydration Salts", Price: decimal.NewFromInt(600), UnitCost: decimal.NewFromInt(350), Active: true},
		{ID: "prod-insulin", Name: "Insulin Glargine Pen", Price: decimal.NewFromInt(18500), UnitCost: decimal.NewFromInt(14000), Active: true},
		{ID: "prod-bandage", Name: "Elastic Bandage 10cm", Price: decimal.NewFromInt(1200), UnitCost: decimal.NewFromInt(700), Active: true},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}

	stock := map[string]map[string]int{
		SeedIkejaBranchID: {"prod-paracetamol": 120, "prod-amoxicillin": 40, "prod-vitc": 60, "prod-ors": 200, "prod-insulin": 8, "prod-bandage": 35},
		SeedLekkiBranchID: {"prod-paracetamol": 80, "prod-amoxicillin": 0, "prod-vitc": 25, "prod-ors": 150, "prod-insulin": 3},
	}
	for branchID, byProduct := range stock {
		s.inventory[branchID] = make(map[string]domain.InventoryRecord, len(byProduct))
		for productID, qty := range byProduct {
			s.inventory[branchID][productID] = domain.InventoryRecord{BranchID: branchID, ProductID: productID, Quantity: qty, UpdatedAt: now}
		}
	}

	s.suppliers["sup-emzor"] = domain.Supplier{ID: "sup-emzor", Name: "Emzor Pharmaceuticals", Phone: "+2348020000001", CreatedAt: now}
	s.suppliers["sup-fidson"] = domain.Supplier{ID: "sup-fidson", Name: "Fidson Healthcare", Phone: "+2348020000002", CreatedAt: now}

	s.usersByUsername = seedUsers(o.log.Named("memory-store"))
	return s
}

// SeedStock overwrites a quantity without appending a movement. Intended for
// tests and fixtures only.
func (s *Store) SeedStock(branchID string, productID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inventory[branchID] == nil {
		s.inventory[branchID] = make(map[string]domain.InventoryRecord)
	}
	s.inventory[branchID][productID] = domain.InventoryRecord{BranchID: branchID, ProductID: productID, Quantity: qty, UpdatedAt: time.Now().UTC()}
}

// AddProduct registers a catalog entry. Intended for tests and fixtures only.
func (s *Store) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	if strings.TrimSpace(branch.ID) == "" || strings.TrimSpace(branch.Name) == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.branches[branch.ID]; exists {
		return nil, store.ErrInvalidRequest
	}
	if branch.IsOnline {
		for _, existing := range s.branches {
			if existing.IsOnline && !existing.Deleted() {
				return nil, store.ErrOnlineBranchExists
			}
		}
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now().UTC()
	}
	s.branches[branch.ID] = branch
	created := branch
	return &created, nil
}

func (s *Store) GetBranch(_ context.Context, id string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, ok := s.branches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &branch, nil
}

func (s *Store) ListBranches(_ context.Context, includeDeleted bool) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Branch, 0, len(s.branches))
	for _, b := range s.branches {
		if b.Deleted() && !includeDeleted {
			continue
		}
		result = append(result, b)
	}
	slices.SortFunc(result, func(a, b domain.Branch) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) GetOnlineBranch(_ context.Context) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.branches {
		if b.IsOnline && !b.Deleted() {
			found := b
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) SoftDeleteBranch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, ok := s.branches[id]
	if !ok || branch.Deleted() {
		return store.ErrNotFound
	}
	branch.DeletedAt = &at
	s.branches[id] = branch
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Active {
			result = append(result, p)
		}
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) GetQuantity(_ context.Context, branchID string, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.branches[branchID]; !ok {
		return 0, store.ErrNotFound
	}
	return s.inventory[branchID][productID].Quantity, nil
}

func (s *Store) ListInventory(_ context.Context, branchID string) ([]domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.branches[branchID]; !ok {
		return nil, store.ErrNotFound
	}
	result := make([]domain.InventoryRecord, 0, len(s.inventory[branchID]))
	for _, rec := range s.inventory[branchID] {
		result = append(result, rec)
	}
	slices.SortFunc(result, func(a, b domain.InventoryRecord) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return result, nil
}

func (s *Store) ChangeQuantity(_ context.Context, mv domain.InventoryMovement) (int, error) {
	if mv.BranchID == "" || mv.ProductID == "" || mv.ReasonCode == "" {
		return 0, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branches[mv.BranchID]; !ok {
		return 0, store.ErrNotFound
	}
	if _, ok := s.products[mv.ProductID]; !ok {
		return 0, fmt.Errorf("product %s: %w", mv.ProductID, store.ErrNotFound)
	}

	rec := s.record(mv.BranchID, mv.ProductID)
	next := rec.Quantity + mv.QuantityChange
	if next < 0 {
		return rec.Quantity, store.ErrInsufficientStock
	}

	s.putRecord(rec, next, s.stampMovement(&mv))
	s.movements = append(s.movements, mv)
	return next, nil
}

func (s *Store) SetQuantity(_ context.Context, mv domain.InventoryMovement, target int, expected int) (*domain.InventoryMovement, error) {
	if mv.BranchID == "" || mv.ProductID == "" || mv.ReasonCode == "" || target < 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branches[mv.BranchID]; !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.products[mv.ProductID]; !ok {
		return nil, fmt.Errorf("product %s: %w", mv.ProductID, store.ErrNotFound)
	}

	rec := s.record(mv.BranchID, mv.ProductID)
	if expected != store.AnyQuantity && rec.Quantity != expected {
		return nil, store.ErrStockConflict
	}
	if rec.Quantity == target {
		return nil, nil
	}

	mv.QuantityChange = target - rec.Quantity
	s.putRecord(rec, target, s.stampMovement(&mv))
	s.movements = append(s.movements, mv)
	applied := mv
	return &applied, nil
}

func (s *Store) AppendMovement(_ context.Context, mv domain.InventoryMovement) error {
	if mv.BranchID == "" || mv.ProductID == "" || mv.ReasonCode == "" {
		return store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stampMovement(&mv)
	s.movements = append(s.movements, mv)
	return nil
}

func (s *Store) ListMovements(_ context.Context, filter domain.MovementFilter) ([]domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryMovement, 0, 64)
	for _, mv := range s.movements {
		if filter.BranchID != "" && mv.BranchID != filter.BranchID {
			continue
		}
		if filter.ProductID != "" && mv.ProductID != filter.ProductID {
			continue
		}
		if !filter.From.IsZero() && mv.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !mv.CreatedAt.Before(filter.To) {
			continue
		}
		result = append(result, mv)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// record must be called with s.mu held.
func (s *Store) record(branchID string, productID string) domain.InventoryRecord {
	rec, ok := s.inventory[branchID][productID]
	if !ok {
		rec = domain.InventoryRecord{BranchID: branchID, ProductID: productID}
	}
	return rec
}

// putRecord must be called with s.mu held.
func (s *Store) putRecord(rec domain.InventoryRecord, qty int, at time.Time) {
	if s.inventory[rec.BranchID] == nil {
		s.inventory[rec.BranchID] = make(map[string]domain.InventoryRecord)
	}
	rec.Quantity = qty
	rec.UpdatedAt = at
	s.inventory[rec.BranchID][rec.ProductID] = rec
}

func (s *Store) stampMovement(mv *domain.InventoryMovement) time.Time {
	if mv.ID == "" {
		mv.ID = xid.New("mv")
	}
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now().UTC()
	}
	return mv.CreatedAt
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" || order.BranchID == "" || len(order.Lines) == 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return nil, store.ErrInvalidRequest
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt
	order = cloneOrder(order)
	s.orders[order.ID] = order
	created := cloneOrder(order)
	return &created, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneOrder(order)
	return &found, nil
}

func (s *Store) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, 32)
	for _, o := range s.orders {
		if filter.BranchID != "" && o.BranchID != filter.BranchID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.Channel != "" && o.Channel != filter.Channel {
			continue
		}
		if filter.UnclaimedOnly && !o.Unclaimed() {
			continue
		}
		if !filter.From.IsZero() && o.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !o.CreatedAt.Before(filter.To) {
			continue
		}
		result = append(result, cloneOrder(o))
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ClaimOrder(_ context.Context, id string, fromBranchID string, toBranchID string, claimedBy string, at time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if order.ClaimedBranchID != "" || order.BranchID != fromBranchID {
		return nil, store.ErrAlreadyClaimed
	}
	if order.Status != domain.OrderProcessing {
		return nil, store.ErrInvalidTransition
	}
	order.BranchID = toBranchID
	order.ClaimedBranchID = toBranchID
	order.ClaimedBy = claimedBy
	order.ClaimedAt = &at
	order.UpdatedAt = at
	s.orders[id] = order
	claimed := cloneOrder(order)
	return &claimed, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, id string, from domain.OrderStatus, to domain.OrderStatus, returnReason string, at time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if order.Status != from {
		return nil, store.ErrInvalidTransition
	}
	order.Status = to
	if returnReason != "" {
		order.ReturnReason = returnReason
	}
	order.UpdatedAt = at
	s.orders[id] = order
	updated := cloneOrder(order)
	return &updated, nil
}

func (s *Store) CreateApproval(_ context.Context, req domain.ApprovalRequest) (*domain.ApprovalRequest, error) {
	if req.ID == "" || req.Type == "" || req.RequestedBy == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.approvals[req.ID]; exists {
		return nil, store.ErrInvalidRequest
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req = cloneApproval(req)
	s.approvals[req.ID] = req
	created := cloneApproval(req)
	return &created, nil
}

func (s *Store) GetApproval(_ context.Context, id string) (*domain.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.approvals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneApproval(req)
	return &found, nil
}

func (s *Store) ListApprovals(_ context.Context, filter domain.ApprovalFilter) ([]domain.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ApprovalRequest, 0, 16)
	for _, req := range s.approvals {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.BranchID != "" && req.BranchID != filter.BranchID {
			continue
		}
		if filter.OrderID != "" && (req.Payload.Return == nil || req.Payload.Return.OrderID != filter.OrderID) {
			continue
		}
		result = append(result, cloneApproval(req))
	}
	slices.SortFunc(result, func(a, b domain.ApprovalRequest) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ResolveApproval(_ context.Context, id string, status domain.ApprovalStatus, resolvedBy string, note string, at time.Time) (*domain.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.approvals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !req.Status.CanTransitionTo(status) {
		stored := cloneApproval(req)
		return &stored, store.ErrInvalidTransition
	}
	req.Status = status
	req.ResolvedBy = resolvedBy
	req.ResolutionNote = note
	req.ResolvedAt = &at
	s.approvals[id] = req
	resolved := cloneApproval(req)
	return &resolved, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.ID == "" || strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.suppliers[supplier.ID]; exists {
		return nil, store.ErrInvalidRequest
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliers[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) GetSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, ok := s.suppliers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Supplier, 0, len(s.suppliers))
	for _, sup := range s.suppliers {
		result = append(result, sup)
	}
	slices.SortFunc(result, func(a, b domain.Supplier) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) CreateInvoice(_ context.Context, invoice domain.SupplierInvoice) (*domain.SupplierInvoice, error) {
	if invoice.ID == "" || invoice.SupplierID == "" || len(invoice.Lines) == 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.suppliers[invoice.SupplierID]; !ok {
		return nil, fmt.Errorf("supplier %s: %w", invoice.SupplierID, store.ErrNotFound)
	}
	if _, exists := s.invoices[invoice.ID]; exists {
		return nil, store.ErrInvalidRequest
	}
	now := time.Now().UTC()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	invoice.UpdatedAt = invoice.CreatedAt
	invoice = cloneInvoice(invoice)
	s.invoices[invoice.ID] = invoice
	created := cloneInvoice(invoice)
	return &created, nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.SupplierInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, ok := s.invoices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneInvoice(invoice)
	return &found, nil
}

func (s *Store) ListInvoices(_ context.Context, filter domain.InvoiceFilter) ([]domain.SupplierInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SupplierInvoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		if filter.SupplierID != "" && inv.SupplierID != filter.SupplierID {
			continue
		}
		if filter.BranchID != "" && inv.BranchID != filter.BranchID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		result = append(result, cloneInvoice(inv))
	}
	slices.SortFunc(result, func(a, b domain.SupplierInvoice) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) RecordPayment(_ context.Context, payment domain.Payment) (*domain.SupplierInvoice, error) {
	if payment.ID == "" || payment.InvoiceID == "" || payment.Amount.Sign() <= 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	invoice, ok := s.invoices[payment.InvoiceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if payment.Amount.GreaterThan(invoice.Balance) {
		return nil, store.ErrOverPayment
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	s.payments[invoice.ID] = append(s.payments[invoice.ID], payment)
	invoice.AmountPaid = invoice.AmountPaid.Add(payment.Amount)
	invoice.Balance = invoice.Total.Sub(invoice.AmountPaid)
	invoice.Status = domain.InvoiceStatusFor(invoice.AmountPaid, invoice.Balance)
	invoice.UpdatedAt = payment.CreatedAt
	s.invoices[invoice.ID] = invoice
	updated := cloneInvoice(invoice)
	return &updated, nil
}

func (s *Store) ListPayments(_ context.Context, invoiceID string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.invoices[invoiceID]; !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(s.payments[invoiceID]), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if branchID != "" && entry.BranchID != branchID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidRequest
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Lines = slices.Clone(src.Lines)
	if src.ClaimedAt != nil {
		at := *src.ClaimedAt
		dst.ClaimedAt = &at
	}
	return dst
}

func cloneApproval(src domain.ApprovalRequest) domain.ApprovalRequest {
	dst := src
	if src.Payload.Adjustment != nil {
		adj := *src.Payload.Adjustment
		dst.Payload.Adjustment = &adj
	}
	if src.Payload.Return != nil {
		ret := *src.Payload.Return
		dst.Payload.Return = &ret
	}
	if src.ResolvedAt != nil {
		at := *src.ResolvedAt
		dst.ResolvedAt = &at
	}
	return dst
}

func cloneInvoice(src domain.SupplierInvoice) domain.SupplierInvoice {
	dst := src
	dst.Lines = slices.Clone(src.Lines)
	return dst
}
