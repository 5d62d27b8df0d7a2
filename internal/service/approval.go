package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"pharmastock/backend/internal/domain"
	"pharmastock/backend/internal/events"
	"pharmastock/backend/internal/lock"
	"pharmastock/backend/internal/store"
	"pharmastock/backend/internal/xid"
)

func (s *Service) createApproval(ctx context.Context, actor domain.Actor, req domain.ApprovalRequest) (*domain.ApprovalRequest, error) {
	req.ID = xid.New("apr")
	req.RequestedBy = actor.ID
	req.Status = domain.ApprovalPending
	req.CreatedAt = s.now()

	created, err := s.repo.CreateApproval(ctx, req)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, actor, created.BranchID, "approval_request", "approval", created.ID,
		fmt.Sprintf("type=%s,value=%s", created.Type, created.Value.StringFixed(2)))
	s.publish(events.ApprovalRequested, created.ID, created.BranchID, actor, map[string]string{
		"type": string(created.Type),
	})
	return created, nil
}

func (s *Service) GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	return s.repo.GetApproval(ctx, id)
}

func (s *Service) ListApprovals(ctx context.Context, filter domain.ApprovalFilter) ([]domain.ApprovalRequest, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown approval status %q", store.ErrInvalidRequest, filter.Status)
	}
	return s.repo.ListApprovals(ctx, filter)
}

// Approve applies the request's payload and marks it approved.
func (s *Service) Approve(ctx context.Context, actor domain.Actor, id string, note string) (*domain.ApprovalRequest, error) {
	return s.resolve(ctx, actor, id, domain.ApprovalApproved, note)
}

// Reject discards the request's payload.
func (s *Service) Reject(ctx context.Context, actor domain.Actor, id string, note string) (*domain.ApprovalRequest, error) {
	return s.resolve(ctx, actor, id, domain.ApprovalRejected, note)
}

// resolve is idempotent: a request that is already resolved is returned as
// stored, whatever status the caller asked for. A payload that cannot be
// applied leaves the request pending.
func (s *Service) resolve(ctx context.Context, actor domain.Actor, id string, status domain.ApprovalStatus, note string) (*domain.ApprovalRequest, error) {
	if err := requirePermission(actor, domain.PermApprovalResolve); err != nil {
		return nil, err
	}

	var (
		resolved *domain.ApprovalRequest
		replayed bool
	)
	err := s.withLock(ctx, "approval", lock.ApprovalKey(id), func() error {
		req, err := s.repo.GetApproval(ctx, id)
		if err != nil {
			return err
		}
		if req.Status.IsResolved() {
			resolved, replayed = req, true
			return nil
		}
		if req.RequestedBy == actor.ID && s.policy.RequiresSecondApprover(req.Value) {
			return fmt.Errorf("%w: approval %s", store.ErrSelfApproval, req.ID)
		}

		if status == domain.ApprovalApproved {
			if err := s.applyApproval(ctx, actor, req); err != nil {
				return err
			}
		}

		out, err := s.repo.ResolveApproval(ctx, id, status, actor.ID, note, s.now())
		if errors.Is(err, store.ErrInvalidTransition) && out != nil {
			resolved, replayed = out, true
			return nil
		}
		if err != nil {
			return err
		}
		resolved = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	if replayed {
		s.log.Debug("approval already resolved",
			zap.String("approval_id", resolved.ID),
			zap.String("status", string(resolved.Status)),
		)
		return resolved, nil
	}

	s.metrics.IncApprovalResolved(string(resolved.Type), string(resolved.Status))
	s.logAudit(ctx, actor, resolved.BranchID, "approval_"+string(resolved.Status), "approval", resolved.ID,
		fmt.Sprintf("type=%s,requested_by=%s,note=%s", resolved.Type, resolved.RequestedBy, note))
	s.publish(events.ApprovalResolved, resolved.ID, resolved.BranchID, actor, map[string]string{
		"type":   string(resolved.Type),
		"status": string(resolved.Status),
	})
	return resolved, nil
}

func (s *Service) applyApproval(ctx context.Context, actor domain.Actor, req *domain.ApprovalRequest) error {
	switch req.Type {
	case domain.ApprovalInventoryAdjustment:
		return s.applyAdjustment(ctx, actor, req)
	case domain.ApprovalReturn:
		return s.applyReturn(ctx, actor, req)
	default:
		return fmt.Errorf("%w: unknown approval type %q", store.ErrInvalidRequest, req.Type)
	}
}
