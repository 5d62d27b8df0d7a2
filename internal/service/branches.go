package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/store"
	"pharmastock/backend/internal/xid"
)

func (s *Service) CreateBranch(ctx context.Context, actor domain.Actor, req domain.BranchCreateRequest) (*domain.Branch, error) {
	if err := requirePermission(actor, domain.PermBranchCreate); err != nil {
		return nil, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("%w: branch name is required", store.ErrInvalidRequest)
	}

	created, err := s.repo.CreateBranch(ctx, domain.Branch{
		ID:        xid.New("branch"),
		Name:      req.Name,
		Address:   strings.TrimSpace(req.Address),
		Phone:     strings.TrimSpace(req.Phone),
		Region:    strings.TrimSpace(req.Region),
		IsOnline:  req.IsOnline,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, actor, created.ID, "branch_create", "branch", created.ID, fmt.Sprintf("name=%s,online=%t", created.Name, created.IsOnline))
	return created, nil
}

func (s *Service) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	return s.repo.GetBranch(ctx, id)
}

func (s *Service) ListBranches(ctx context.Context, includeDeleted bool) ([]domain.Branch, error) {
	return s.repo.ListBranches(ctx, includeDeleted)
}

func (s *Service) OnlineBranch(ctx context.Context) (*domain.Branch, error) {
	return s.repo.GetOnlineBranch(ctx)
}

// DeleteBranch soft-deletes a branch. History stays queryable; a branch with
// orders still in flight cannot be removed.
func (s *Service) DeleteBranch(ctx context.Context, actor domain.Actor, id string) error {
	if err := requirePermission(actor, domain.PermBranchCreate); err != nil {
		return err
	}

	branch, err := s.liveBranch(ctx, id)
	if err != nil {
		return err
	}

	for _, status := range []domain.OrderStatus{domain.OrderProcessing, domain.OrderShipped} {
		open, err := s.repo.ListOrders(ctx, domain.OrderFilter{BranchID: branch.ID, Status: status, Limit: 1})
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return fmt.Errorf("%w: branch %s has %s orders", store.ErrInvalidTransition, branch.ID, status)
		}
	}

	if err := s.repo.SoftDeleteBranch(ctx, branch.ID, s.now()); err != nil {
		return err
	}
	s.logAudit(ctx, actor, branch.ID, "branch_delete", "branch", branch.ID, "name="+branch.Name)
	return nil
}

// liveBranch resolves a branch that has not been soft-deleted.
func (s *Service) liveBranch(ctx context.Context, id string) (*domain.Branch, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: branch id is required", store.ErrInvalidRequest)
	}
	branch, err := s.repo.GetBranch(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("branch %s: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	if branch.Deleted() {
		return nil, fmt.Errorf("branch %s: %w", id, store.ErrNotFound)
	}
	return branch, nil
}

// physicalBranch resolves a live branch whose stock is tracked.
func (s *Service) physicalBranch(ctx context.Context, id string) (*domain.Branch, error) {
	branch, err := s.liveBranch(ctx, id)
	if err != nil {
		return nil, err
	}
	if branch.IsOnline {
		return nil, fmt.Errorf("%w: online branch %s has no tracked stock", store.ErrInvalidRequest, id)
	}
	return branch, nil
}
