package sandbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Hollayemi/shp-sub005/internal/cache"
	"github.com/Hollayemi/shp-sub005/internal/logging"
	"github.com/Hollayemi/shp-sub005/internal/metrics"
	"github.com/Hollayemi/shp-sub005/internal/provider"
	"github.com/Hollayemi/shp-sub005/internal/store"
	"github.com/Hollayemi/shp-sub005/pkg/models"

	"go.uber.org/zap"
)

// SandboxState is the lifecycle state the health loop tracks per
// project.
type SandboxState string

const (
	StateInitializing SandboxState = "initializing"
	StateHealthy      SandboxState = "healthy"
	StateUnhealthy    SandboxState = "unhealthy"
	StateExpired      SandboxState = "expired"
	StateRecovering   SandboxState = "recovering"
	StateFailed       SandboxState = "failed"
)

// Stage maps an internal state to the message the builder UI shows.
func Stage(state SandboxState, hasSnapshot bool) string {
	switch state {
	case StateInitializing:
		return "initializing"
	case StateRecovering:
		return "recovering"
	case StateHealthy:
		return "ready"
	case StateUnhealthy, StateExpired:
		if hasSnapshot {
			return "needs-refresh"
		}
		return "needs-initialization"
	default:
		return "error"
	}
}

const (
	healthPollInterval = 30 * time.Second
	refreshDebounce    = 5 * time.Second
)

// HealthLoop polls every tracked sandbox and drives recovery when one
// goes away. At most one recovery runs per project at a time; a check
// that lands during recovery is skipped, not queued.
type HealthLoop struct {
	store       store.Store
	client      provider.Client
	provisioner *Provisioner
	devserver   *DevServerController
	statuses    *cache.StatusCache

	mu          sync.Mutex
	tracked     map[uint]SandboxState
	recovering  map[uint]bool
	lastRefresh map[uint]time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

func NewHealthLoop(st store.Store, client provider.Client, prov *Provisioner, dev *DevServerController, statuses *cache.StatusCache) *HealthLoop {
	return &HealthLoop{
		store:       st,
		client:      client,
		provisioner: prov,
		devserver:   dev,
		statuses:    statuses,
		tracked:     make(map[uint]SandboxState),
		recovering:  make(map[uint]bool),
		lastRefresh: make(map[uint]time.Time),
		done:        make(chan struct{}),
	}
}

// Track registers a project for background health checks.
func (h *HealthLoop) Track(projectID uint, state SandboxState) {
	h.mu.Lock()
	h.tracked[projectID] = state
	h.mu.Unlock()
}

// Untrack stops health checks for a project.
func (h *HealthLoop) Untrack(projectID uint) {
	h.mu.Lock()
	delete(h.tracked, projectID)
	delete(h.recovering, projectID)
	delete(h.lastRefresh, projectID)
	h.mu.Unlock()
}

// State reports the last observed state for a project.
func (h *HealthLoop) State(projectID uint) (SandboxState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	state, ok := h.tracked[projectID]
	return state, ok
}

// Start launches the poll loop. Stop blocks until in-flight checks
// finish.
func (h *HealthLoop) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(healthPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				h.pollAll()
			case <-h.done:
				return
			}
		}
	}()
}

func (h *HealthLoop) Stop() {
	close(h.done)
	h.wg.Wait()
}

func (h *HealthLoop) pollAll() {
	h.mu.Lock()
	ids := make([]uint, 0, len(h.tracked))
	for id := range h.tracked {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.Check(context.Background(), id)
	}
}

// Check probes one project's sandbox and triggers recovery when it is
// gone. Safe to call concurrently with the poll loop.
func (h *HealthLoop) Check(ctx context.Context, projectID uint) SandboxState {
	h.mu.Lock()
	if h.recovering[projectID] {
		h.mu.Unlock()
		return StateRecovering
	}
	h.mu.Unlock()

	project, err := h.store.GetProject(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return h.setState(ctx, projectID, StateFailed)
	}
	if err != nil {
		// Transient store error: keep the previous state, same as a
		// flaky provider probe.
		logging.L().Warn("health check load failed", zap.Uint("project_id", projectID), zap.Error(err))
		state, _ := h.State(projectID)
		return state
	}

	if !project.HasSandbox() {
		return h.setState(ctx, projectID, StateExpired)
	}

	if project.SandboxExpiresAt != nil && time.Now().After(*project.SandboxExpiresAt) {
		h.setState(ctx, projectID, StateExpired)
		h.startRecovery(projectID)
		return StateExpired
	}

	_, err = h.client.Connect(ctx, project.SandboxID)
	if err == nil {
		return h.setState(ctx, projectID, StateHealthy)
	}
	if errors.Is(err, provider.ErrNotFound) {
		h.setState(ctx, projectID, StateUnhealthy)
		h.startRecovery(projectID)
		return StateUnhealthy
	}

	// Transient control-plane error: keep the previous state rather
	// than flapping into recovery.
	logging.L().Warn("health probe failed",
		zap.Uint("project_id", projectID),
		zap.String("sandbox_id", project.SandboxID),
		zap.Error(err))
	state, _ := h.State(projectID)
	return state
}

// Refresh is the user-triggered recheck. Calls within the debounce
// window return the last state without probing.
func (h *HealthLoop) Refresh(ctx context.Context, projectID uint) SandboxState {
	h.mu.Lock()
	last, ok := h.lastRefresh[projectID]
	if ok && time.Since(last) < refreshDebounce {
		state := h.tracked[projectID]
		h.mu.Unlock()
		return state
	}
	h.lastRefresh[projectID] = time.Now()
	h.mu.Unlock()

	return h.Check(ctx, projectID)
}

// startRecovery kicks off a background recovery unless one is already
// running for the project.
func (h *HealthLoop) startRecovery(projectID uint) {
	h.mu.Lock()
	if h.recovering[projectID] {
		h.mu.Unlock()
		return
	}
	h.recovering[projectID] = true
	h.tracked[projectID] = StateRecovering
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.recover(context.Background(), projectID)
	}()
}

func (h *HealthLoop) recover(ctx context.Context, projectID uint) {
	defer func() {
		h.mu.Lock()
		delete(h.recovering, projectID)
		h.mu.Unlock()
	}()

	logging.L().Info("sandbox recovery started", zap.Uint("project_id", projectID))

	handle, err := h.provisioner.GetOrCreate(ctx, projectID, ProvisionOptions{})
	if err != nil {
		metrics.Recoveries.WithLabelValues("failed").Inc()
		logging.L().Error("sandbox recovery failed", zap.Uint("project_id", projectID), zap.Error(err))
		h.failRecovery(ctx, projectID)
		return
	}

	if _, err := h.devserver.Start(ctx, projectID, handle.ID, DevServerPort); err != nil {
		metrics.Recoveries.WithLabelValues("failed").Inc()
		logging.L().Error("dev server restart failed", zap.Uint("project_id", projectID), zap.Error(err))
		h.failRecovery(ctx, projectID)
		return
	}
	h.devserver.WaitUntilReady(ctx, handle.ID)

	metrics.Recoveries.WithLabelValues("succeeded").Inc()
	logging.L().Info("sandbox recovered",
		zap.Uint("project_id", projectID),
		zap.String("sandbox_id", handle.ID))
	if err := h.store.SetBuildStatus(ctx, projectID, models.BuildReady); err != nil {
		logging.L().Warn("build status update failed", zap.Uint("project_id", projectID), zap.Error(err))
	}
	h.setState(ctx, projectID, StateHealthy)
}

func (h *HealthLoop) failRecovery(ctx context.Context, projectID uint) {
	if err := h.store.SetBuildStatus(ctx, projectID, models.BuildError); err != nil {
		logging.L().Warn("build status update failed", zap.Uint("project_id", projectID), zap.Error(err))
	}
	h.setState(ctx, projectID, StateFailed)
}

// setState records the state and publishes it to the status cache. The
// needs-refresh vs needs-initialization distinction only matters for
// dead sandboxes, so the snapshot lookup is deferred to those states.
func (h *HealthLoop) setState(ctx context.Context, projectID uint, state SandboxState) SandboxState {
	h.mu.Lock()
	h.tracked[projectID] = state
	h.mu.Unlock()

	hasSnapshot := false
	if state == StateUnhealthy || state == StateExpired {
		if frags, err := h.store.ListSnapshotFragments(ctx, projectID); err == nil {
			hasSnapshot = len(frags) > 0
		}
	}

	status := &cache.SandboxStatus{
		ProjectID: projectID,
		State:     string(state),
		Stage:     Stage(state, hasSnapshot),
	}
	if err := h.statuses.Set(ctx, status); err != nil {
		logging.L().Debug("status publish failed", zap.Uint("project_id", projectID), zap.Error(err))
	}
	return state
}
