package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kestrelai/core/internal/store"
)

const approvalKeyPrefix = "approvals:"

// KeyedApprovalStore persists approval requests through the Keyed
// Store port, so the audit trail of approved and denied critical calls
// survives restarts.
type KeyedApprovalStore struct {
	backend store.Store
}

// NewKeyedApprovalStore constructs a store over backend.
func NewKeyedApprovalStore(backend store.Store) *KeyedApprovalStore {
	return &KeyedApprovalStore{backend: backend}
}

func approvalKey(id string) string {
	return approvalKeyPrefix + id
}

func (s *KeyedApprovalStore) Create(ctx context.Context, req *ApprovalRequest) error {
	if err := store.PutJSON(ctx, s.backend, approvalKey(req.ID), req); err != nil {
		return fmt.Errorf("agent: persist approval: %w", err)
	}
	return nil
}

func (s *KeyedApprovalStore) Get(ctx context.Context, id string) (*ApprovalRequest, error) {
	var req ApprovalRequest
	if err := store.GetJSON(ctx, s.backend, approvalKey(id), &req); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

func (s *KeyedApprovalStore) Update(ctx context.Context, req *ApprovalRequest) error {
	return s.Create(ctx, req)
}

func (s *KeyedApprovalStore) ListPending(ctx context.Context, ownerScope string) ([]*ApprovalRequest, error) {
	all, err := store.ScanPrefixValues[ApprovalRequest](ctx, s.backend, approvalKeyPrefix, 0)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var out []*ApprovalRequest
	for i := range all {
		req := &all[i]
		if req.Decision != ApprovalPending {
			continue
		}
		if !req.ExpiresAt.IsZero() && req.ExpiresAt.Before(now) {
			continue
		}
		if ownerScope != "" && req.OwnerScope != ownerScope {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}
