package runtime

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kestrelai/core/internal/models"
	"github.com/kestrelai/core/internal/store"
)

// KeyedConfigSource reads agent configs from the Keyed Store's
// per-user workspace rows.
type KeyedConfigSource struct {
	backend store.Store
}

// NewKeyedConfigSource constructs a source over backend.
func NewKeyedConfigSource(backend store.Store) *KeyedConfigSource {
	return &KeyedConfigSource{backend: backend}
}

// ListAllAgentConfigs scans every user's agent workspace and flattens
// the agents arrays.
func (s *KeyedConfigSource) ListAllAgentConfigs(ctx context.Context) ([]*models.AgentConfig, error) {
	entries, err := s.backend.ScanPrefix(ctx, "user:", 0)
	if err != nil {
		return nil, err
	}

	var out []*models.AgentConfig
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Key, ":agentWorkspace") {
			continue
		}
		var agents []models.AgentConfig
		if err := json.Unmarshal(entry.Value, &agents); err != nil {
			continue
		}
		for i := range agents {
			out = append(out, &agents[i])
		}
	}
	return out, nil
}

// SaveAgentConfig upserts cfg into its owner's workspace row.
func (s *KeyedConfigSource) SaveAgentConfig(ctx context.Context, cfg *models.AgentConfig) error {
	key := store.AgentWorkspaceKey(cfg.OwnerUserID)

	var agents []models.AgentConfig
	if err := store.GetJSON(ctx, s.backend, key, &agents); err != nil && err != store.ErrNotFound {
		return err
	}

	replaced := false
	for i := range agents {
		if agents[i].ID == cfg.ID {
			agents[i] = *cfg
			replaced = true
			break
		}
	}
	if !replaced {
		agents = append(agents, *cfg)
	}
	return store.PutJSON(ctx, s.backend, key, agents)
}
