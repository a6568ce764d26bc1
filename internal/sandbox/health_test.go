package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Hollayemi/shp-sub005/internal/cache"
	"github.com/Hollayemi/shp-sub005/internal/config"
	"github.com/Hollayemi/shp-sub005/internal/provider"
	"github.com/Hollayemi/shp-sub005/internal/store"
	"github.com/Hollayemi/shp-sub005/internal/templates"
	"github.com/Hollayemi/shp-sub005/pkg/models"
)

func TestStageMapping(t *testing.T) {
	tests := []struct {
		state       SandboxState
		hasSnapshot bool
		want        string
	}{
		{StateInitializing, false, "initializing"},
		{StateRecovering, false, "recovering"},
		{StateHealthy, false, "ready"},
		{StateUnhealthy, true, "needs-refresh"},
		{StateUnhealthy, false, "needs-initialization"},
		{StateExpired, true, "needs-refresh"},
		{StateFailed, false, "error"},
	}

	for _, tt := range tests {
		if got := Stage(tt.state, tt.hasSnapshot); got != tt.want {
			t.Errorf("Stage(%s, %v) = %q, want %q", tt.state, tt.hasSnapshot, got, tt.want)
		}
	}
}

func TestCheckHealthySandbox(t *testing.T) {
	shortenLaunchDelay(t)
	st := newTestStore(t)
	client := provider.NewMemoryClient()
	reg := templates.NewRegistry()
	prov := NewProvisioner(st, client, NewImageSelector(st, reg, "development"), reg)
	dev := NewDevServerController(client, st)
	statuses := cache.NewStatusCache(cache.New(config.RedisConfig{}))
	loop := NewHealthLoop(st, client, prov, dev, statuses)

	project := createTestProject(t, st, "blog")
	if _, err := prov.GetOrCreate(t.Context(), project.ID, ProvisionOptions{}); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if state := loop.Check(t.Context(), project.ID); state != StateHealthy {
		t.Errorf("state = %q, want healthy", state)
	}

	status, err := statuses.Get(t.Context(), project.ID)
	if err != nil {
		t.Fatalf("status cache: %v", err)
	}
	if status.Stage != "ready" {
		t.Errorf("stage = %q, want ready", status.Stage)
	}
}

func TestCheckMissingSandboxTriggersRecovery(t *testing.T) {
	shortenLaunchDelay(t)
	st := newTestStore(t)
	client := provider.NewMemoryClient()
	reg := templates.NewRegistry()
	prov := NewProvisioner(st, client, NewImageSelector(st, reg, "development"), reg)
	dev := NewDevServerController(client, st)
	statuses := cache.NewStatusCache(cache.New(config.RedisConfig{}))
	loop := NewHealthLoop(st, client, prov, dev, statuses)

	project := createTestProject(t, st, "blog")
	handle, err := prov.GetOrCreate(t.Context(), project.ID, ProvisionOptions{})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := client.Terminate(t.Context(), handle.ID); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	if state := loop.Check(t.Context(), project.ID); state != StateUnhealthy {
		t.Errorf("state = %q, want unhealthy", state)
	}

	// Recovery runs in the background; wait for it to settle.
	deadline := time.Now().Add(5 * time.Second)
	for {
		state, _ := loop.State(project.ID)
		if state == StateHealthy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("recovery never completed, state = %q", state)
		}
		time.Sleep(20 * time.Millisecond)
	}

	stored, err := st.GetProject(t.Context(), project.ID)
	if err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if !stored.HasSandbox() || stored.SandboxID == handle.ID {
		t.Errorf("recovery did not install a fresh sandbox: %+v", stored.SandboxID)
	}
}

func TestCheckSkipsWhileRecovering(t *testing.T) {
	st := newTestStore(t)
	client := provider.NewMemoryClient()
	reg := templates.NewRegistry()
	prov := NewProvisioner(st, client, NewImageSelector(st, reg, "development"), reg)
	dev := NewDevServerController(client, st)
	statuses := cache.NewStatusCache(cache.New(config.RedisConfig{}))
	loop := NewHealthLoop(st, client, prov, dev, statuses)

	project := createTestProject(t, st, "blog")

	loop.mu.Lock()
	loop.recovering[project.ID] = true
	loop.mu.Unlock()

	if state := loop.Check(t.Context(), project.ID); state != StateRecovering {
		t.Errorf("state = %q, want recovering while recovery is in flight", state)
	}
}

// flakyStore fails project loads on demand while delegating everything
// else to the real store.
type flakyStore struct {
	store.Store
	fail bool
}

func (f *flakyStore) GetProject(ctx context.Context, id uint) (*models.Project, error) {
	if f.fail {
		return nil, errors.New("connection refused")
	}
	return f.Store.GetProject(ctx, id)
}

func TestCheckKeepsStateOnStoreError(t *testing.T) {
	st := newTestStore(t)
	flaky := &flakyStore{Store: st}
	client := provider.NewMemoryClient()
	reg := templates.NewRegistry()
	prov := NewProvisioner(st, client, NewImageSelector(st, reg, "development"), reg)
	dev := NewDevServerController(client, st)
	statuses := cache.NewStatusCache(cache.New(config.RedisConfig{}))
	loop := NewHealthLoop(flaky, client, prov, dev, statuses)

	project := createTestProject(t, st, "blog")
	loop.Track(project.ID, StateHealthy)

	// A flaky store load keeps the previous state instead of flapping
	// to failed.
	flaky.fail = true
	if state := loop.Check(t.Context(), project.ID); state != StateHealthy {
		t.Errorf("state after store error = %q, want healthy retained", state)
	}

	// A project that is definitively gone is a real failure.
	flaky.fail = false
	if state := loop.Check(t.Context(), project.ID+99); state != StateFailed {
		t.Errorf("state for missing project = %q, want failed", state)
	}
}

func TestRefreshDebounce(t *testing.T) {
	shortenLaunchDelay(t)
	st := newTestStore(t)
	client := provider.NewMemoryClient()
	reg := templates.NewRegistry()
	prov := NewProvisioner(st, client, NewImageSelector(st, reg, "development"), reg)
	dev := NewDevServerController(client, st)
	statuses := cache.NewStatusCache(cache.New(config.RedisConfig{}))
	loop := NewHealthLoop(st, client, prov, dev, statuses)

	project := createTestProject(t, st, "blog")
	if _, err := prov.GetOrCreate(t.Context(), project.ID, ProvisionOptions{}); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	first := loop.Refresh(t.Context(), project.ID)
	if first != StateHealthy {
		t.Fatalf("first refresh = %q, want healthy", first)
	}

	// Kill the sandbox; an immediate second refresh is debounced and
	// still reports the cached healthy state.
	stored, _ := st.GetProject(t.Context(), project.ID)
	if err := client.Terminate(t.Context(), stored.SandboxID); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if second := loop.Refresh(t.Context(), project.ID); second != StateHealthy {
		t.Errorf("debounced refresh = %q, want cached healthy", second)
	}
}
