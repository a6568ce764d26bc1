package cache

import (
	"context"
	"fmt"
	"time"
)

// statusTTL keeps stale statuses from outliving the health poll cycle
// by much.
const statusTTL = 2 * time.Minute

// SandboxStatus is the cached view of a project's sandbox that the API
// serves without touching the provider.
type SandboxStatus struct {
	ProjectID uint      `json:"project_id"`
	SandboxID string    `json:"sandbox_id,omitempty"`
	State     string    `json:"state"`
	Stage     string    `json:"stage"`
	URL       string    `json:"url,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusCache stores per-project sandbox statuses.
type StatusCache struct {
	cache *Cache
}

func NewStatusCache(cache *Cache) *StatusCache {
	return &StatusCache{cache: cache}
}

func statusKey(projectID uint) string {
	return fmt.Sprintf("sandbox:status:%d", projectID)
}

func (s *StatusCache) Get(ctx context.Context, projectID uint) (*SandboxStatus, error) {
	var status SandboxStatus
	if err := s.cache.GetJSON(ctx, statusKey(projectID), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (s *StatusCache) Set(ctx context.Context, status *SandboxStatus) error {
	status.UpdatedAt = time.Now().UTC()
	return s.cache.SetJSON(ctx, statusKey(status.ProjectID), status, statusTTL)
}

func (s *StatusCache) Invalidate(ctx context.Context, projectID uint) error {
	return s.cache.Delete(ctx, statusKey(projectID))
}
