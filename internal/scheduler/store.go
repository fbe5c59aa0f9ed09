package scheduler

import (
	"context"
	"time"

	coreStore "github.com/kestrelai/core/internal/store"
	"github.com/kestrelai/core/internal/models"
)

// KeyedStore adapts the Keyed Store port into scheduler.Store, scanning
// each owning scope's schedules/subscriptions/locations collections and
// recomputing due-ness from persisted state on every poll. Because
// due-ness is derived (cron expression + lastRunAt) rather than cached,
// a crashed and restarted worker recovers correctly: it simply
// re-evaluates the same deterministic rule against current wall time.
type KeyedStore struct {
	backend coreStore.Store
	scopes  func(ctx context.Context) ([]coreStore.Scope, error)
}

// NewKeyedStore constructs a KeyedStore. scopes supplies the set of
// (userId, agentId) scopes to scan each poll; in a single-process
// deployment this is typically backed by the running-agent list from
// internal/runtime.
func NewKeyedStore(backend coreStore.Store, scopes func(ctx context.Context) ([]coreStore.Scope, error)) *KeyedStore {
	return &KeyedStore{backend: backend, scopes: scopes}
}

func (s *KeyedStore) DueTasks(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledTask, error) {
	scopes, err := s.scopes(ctx)
	if err != nil {
		return nil, err
	}

	var due []*models.ScheduledTask
	for _, scope := range scopes {
		entries, err := coreStore.ScanPrefixValues[models.ScheduledTask](ctx, s.backend, coreStore.CollectionPrefix(scope, coreStore.CollectionSchedules), 0)
		if err != nil {
			return nil, err
		}
		for i := range entries {
			task := &entries[i]
			if !task.Enabled {
				continue
			}
			isDue, err := Due(task, now)
			if err != nil || !isDue {
				continue
			}
			due = append(due, task)
			if len(due) >= limit {
				return due, nil
			}
		}
	}
	return due, nil
}

func (s *KeyedStore) UpdateTask(ctx context.Context, task *models.ScheduledTask) error {
	scope, itemID := splitOwnerScope(task.OwnerScope, task.ID)
	return coreStore.PutJSON(ctx, s.backend, coreStore.ItemKey(scope, coreStore.CollectionSchedules, itemID), task)
}

func (s *KeyedStore) DueSubscriptions(ctx context.Context, now time.Time) ([]*models.EventSubscription, error) {
	scopes, err := s.scopes(ctx)
	if err != nil {
		return nil, err
	}

	var due []*models.EventSubscription
	for _, scope := range scopes {
		entries, err := coreStore.ScanPrefixValues[models.EventSubscription](ctx, s.backend, coreStore.CollectionPrefix(scope, coreStore.CollectionSubscriptions), 0)
		if err != nil {
			return nil, err
		}
		for i := range entries {
			sub := &entries[i]
			if sub.Enabled && sub.Type == models.SubscriptionPoll && sub.CooldownElapsed(now) {
				due = append(due, sub)
			}
		}
	}
	return due, nil
}

func (s *KeyedStore) UpdateSubscription(ctx context.Context, sub *models.EventSubscription) error {
	scope, itemID := splitOwnerScope(sub.OwnerScope, sub.ID)
	return coreStore.PutJSON(ctx, s.backend, coreStore.ItemKey(scope, coreStore.CollectionSubscriptions, itemID), sub)
}

func (s *KeyedStore) LocationReminders(ctx context.Context, ownerScope string) ([]*models.LocationReminder, error) {
	scope := parseScope(ownerScope)
	entries, err := coreStore.ScanPrefixValues[models.LocationReminder](ctx, s.backend, coreStore.CollectionPrefix(scope, coreStore.CollectionLocations), 0)
	if err != nil {
		return nil, err
	}
	out := make([]*models.LocationReminder, len(entries))
	for i := range entries {
		out[i] = &entries[i]
	}
	return out, nil
}

func (s *KeyedStore) UpdateLocationReminder(ctx context.Context, rem *models.LocationReminder) error {
	scope, itemID := splitOwnerScope(rem.OwnerScope, rem.ID)
	return coreStore.PutJSON(ctx, s.backend, coreStore.ItemKey(scope, coreStore.CollectionLocations, itemID), rem)
}

// ownerScope is serialized as "<userId>:<agentId>" (models.ScheduledTask
// etc. carry it as a single string field); split it back into the two
// components the Keyed Store's composite key layout needs.
func splitOwnerScope(ownerScope, itemID string) (coreStore.Scope, string) {
	return parseScope(ownerScope), itemID
}

func parseScope(ownerScope string) coreStore.Scope {
	for i := 0; i < len(ownerScope); i++ {
		if ownerScope[i] == ':' {
			return coreStore.Scope{UserID: ownerScope[:i], AgentID: ownerScope[i+1:]}
		}
	}
	return coreStore.Scope{UserID: ownerScope}
}
