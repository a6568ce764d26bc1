package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/Hollayemi/shp-sub005/internal/logging"
	"github.com/Hollayemi/shp-sub005/internal/metrics"
	"github.com/Hollayemi/shp-sub005/internal/provider"
	"github.com/Hollayemi/shp-sub005/internal/store"

	"go.uber.org/zap"
)

// SnapshotKeepCount is how many snapshots a project retains after each
// cleanup pass.
const SnapshotKeepCount = 3

// SnapshotManager freezes sandbox filesystems into provider images and
// enforces per-project retention.
type SnapshotManager struct {
	client    provider.Client
	fragments store.FragmentStore
}

func NewSnapshotManager(client provider.Client, fragments store.FragmentStore) *SnapshotManager {
	return &SnapshotManager{client: client, fragments: fragments}
}

// CleanupResult reports what a retention pass did.
type CleanupResult struct {
	Deleted int
	Kept    int
}

// Create snapshots the sandbox and records the image on the fragment.
// Retention cleanup runs afterwards so the newest snapshot is never a
// pruning candidate.
func (m *SnapshotManager) Create(ctx context.Context, projectID uint, sandboxID string, fragmentID uint) (string, error) {
	tag := fmt.Sprintf("project-%d-fragment-%d-%d", projectID, fragmentID, time.Now().Unix())

	imageID, err := m.client.Snapshot(ctx, sandboxID, tag)
	if err != nil {
		return "", err
	}

	if err := m.fragments.SetSnapshot(ctx, fragmentID, imageID, tag, time.Now().UTC()); err != nil {
		// The image exists but nothing references it; delete rather
		// than leak provider storage.
		_ = m.client.DeleteImage(ctx, imageID)
		return "", err
	}
	metrics.SnapshotsCreated.Inc()

	if _, err := m.Cleanup(ctx, projectID, SnapshotKeepCount); err != nil {
		logging.L().Warn("snapshot cleanup failed",
			zap.Uint("project_id", projectID), zap.Error(err))
	}

	return imageID, nil
}

// Cleanup prunes the project down to keepCount snapshots, oldest first.
// Image deletion is best effort: the database reference is cleared even
// when the provider refuses, so a wedged provider cannot pin rows
// forever.
func (m *SnapshotManager) Cleanup(ctx context.Context, projectID uint, keepCount int) (*CleanupResult, error) {
	frags, err := m.fragments.ListSnapshotFragments(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if len(frags) <= keepCount {
		return &CleanupResult{Kept: len(frags)}, nil
	}

	victims := frags[keepCount:]
	res := &CleanupResult{Kept: keepCount}

	for _, frag := range victims {
		if err := m.client.DeleteImage(ctx, frag.SnapshotImageID); err != nil {
			logging.L().Warn("snapshot image delete failed",
				zap.String("image_id", frag.SnapshotImageID), zap.Error(err))
		}
		if err := m.fragments.ClearSnapshot(ctx, frag.ID); err != nil {
			return res, err
		}
		res.Deleted++
		metrics.SnapshotsPruned.Inc()
	}

	return res, nil
}
