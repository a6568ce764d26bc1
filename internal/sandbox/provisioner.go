package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/Hollayemi/shp-sub005/internal/logging"
	"github.com/Hollayemi/shp-sub005/internal/metrics"
	"github.com/Hollayemi/shp-sub005/internal/provider"
	"github.com/Hollayemi/shp-sub005/internal/store"
	"github.com/Hollayemi/shp-sub005/internal/templates"
	"github.com/Hollayemi/shp-sub005/pkg/models"

	"go.uber.org/zap"
)

// Fixed compute lease for every sandbox. The provider enforces both
// timeouts; the orchestrator never blocks on them.
const (
	sandboxCPU         = 2
	sandboxMemoryMB    = 4096
	sandboxIdleTimeout = 10 * time.Minute
	sandboxMaxLifetime = 60 * time.Minute
)

// ProvisionOptions tune one GetOrCreate call.
type ProvisionOptions struct {
	// ForceNew skips the reconnect attempt and always creates.
	ForceNew bool
	// RecoveryImageID boots verbatim from a recovery snapshot.
	RecoveryImageID string
	// TemplateName overrides the project's stored template.
	TemplateName string
}

// Provisioner creates, reconnects, and tears down sandboxes, keeping the
// Project record's sandbox identity consistent through every path.
type Provisioner struct {
	store    store.Store
	client   provider.Client
	selector *ImageSelector
	restorer *FileRestorer
	patcher  *ConfigPatcher
	reg      *templates.Registry
}

// NewProvisioner wires the provisioner and its collaborators.
func NewProvisioner(st store.Store, client provider.Client, selector *ImageSelector, reg *templates.Registry) *Provisioner {
	return &Provisioner{
		store:    st,
		client:   client,
		selector: selector,
		restorer: NewFileRestorer(client),
		patcher:  NewConfigPatcher(client),
		reg:      reg,
	}
}

// GetOrCreate returns a live handle for the project's sandbox, reusing
// the recorded one when it is still alive. Identity fields are written
// only after the remote object is confirmed alive, and always id+url
// together, so a failed creation leaves the project clean.
func (p *Provisioner) GetOrCreate(ctx context.Context, projectID uint, opts ProvisionOptions) (*provider.Handle, error) {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if project.HasSandbox() && !opts.ForceNew {
		handle, err := p.client.Connect(ctx, project.SandboxID)
		if err == nil {
			// Alive: reconcile the environment-specific fixups that a
			// provider restart can lose, then reuse as-is.
			p.patcher.Apply(ctx, handle.ID, project.ImportSource)
			metrics.SandboxesReconnected.Inc()
			return handle, nil
		}
		if !errors.Is(err, provider.ErrNotFound) {
			return nil, &ProvisioningError{Op: "reconnect", Cause: err}
		}
		// Remote object is gone: clear the stale identity so the next
		// attempt starts clean, then fall through to creation.
		logging.L().Info("sandbox vanished, clearing stale identity",
			zap.Uint("project_id", projectID),
			zap.String("sandbox_id", project.SandboxID))
		if err := p.store.ClearSandboxIdentity(ctx, projectID); err != nil {
			return nil, err
		}
		metrics.StaleIdentitiesCleared.Inc()
	}

	templateName := opts.TemplateName
	if templateName == "" {
		templateName = project.Template
	}

	choice, err := p.selector.Select(ctx, ImageRequest{
		RecoveryImageID: opts.RecoveryImageID,
		FragmentID:      project.ActiveFragmentID,
		TemplateName:    templateName,
	})
	if err != nil {
		return nil, err
	}

	handle, err := p.client.Create(ctx, provider.CreateOptions{
		Image:       choice.Image,
		CPU:         sandboxCPU,
		MemoryMB:    sandboxMemoryMB,
		IdleTimeout: sandboxIdleTimeout,
		MaxLifetime: sandboxMaxLifetime,
		Ports:       []int{DevServerPort},
	})
	if err != nil {
		return nil, &ProvisioningError{Op: "create", Cause: err}
	}

	url, ok := handle.TunnelURL(DevServerPort)
	if !ok {
		// Tunnel table can lag creation on some providers; one direct
		// lookup before giving the sandbox up.
		tunnels, terr := p.client.Tunnels(ctx, handle.ID)
		if terr == nil {
			handle.Tunnels = tunnels
			url, ok = handle.TunnelURL(DevServerPort)
		}
	}
	if !ok {
		_ = p.client.Terminate(ctx, handle.ID)
		return nil, &ProvisioningError{Op: "create", Cause: errors.New("no tunnel registered for dev server port")}
	}

	if err := p.store.SetSandboxIdentity(ctx, projectID, handle.ID, url, handle.CreatedAt, handle.ExpiresAt); err != nil {
		_ = p.client.Terminate(ctx, handle.ID)
		return nil, err
	}
	metrics.SandboxesCreated.WithLabelValues(string(choice.Source)).Inc()

	// Build status is advisory UI state; a failed write must not undo a
	// live sandbox.
	if err := p.store.SetBuildStatus(ctx, projectID, models.BuildInitializing); err != nil {
		logging.L().Warn("build status update failed",
			zap.Uint("project_id", projectID), zap.Error(err))
	}

	logging.L().Info("sandbox created",
		zap.Uint("project_id", projectID),
		zap.String("sandbox_id", handle.ID),
		zap.String("image_source", string(choice.Source)))

	if choice.RestoreNeeded {
		if err := p.restoreContent(ctx, project, handle.ID, templateName); err != nil {
			return nil, err
		}
	}

	p.patcher.Apply(ctx, handle.ID, project.ImportSource)

	return handle, nil
}

// restoreContent picks the file set for a base-image boot: the active
// fragment's files when there are any, otherwise the template defaults.
func (p *Provisioner) restoreContent(ctx context.Context, project *models.Project, sandboxID, templateName string) error {
	var files map[string]string

	if project.ActiveFragmentID != nil {
		frag, err := p.store.GetFragment(ctx, *project.ActiveFragmentID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if frag != nil && len(frag.Files) > 0 {
			files = frag.Files
		}
	}
	if files == nil {
		tmpl, ok := p.reg.Get(templateName)
		if !ok {
			return &ConfigurationError{Reason: "unknown template " + templateName}
		}
		files = tmpl.Files
	}

	start := time.Now()
	mode := "sequential"
	var err error
	if project.ImportSource != models.ImportSourceNone {
		// Fresh imports can carry hundreds of files; batch mode cuts
		// the directory round-trips.
		mode = "batch"
		err = p.restorer.RestoreBatch(ctx, sandboxID, files)
	} else {
		err = p.restorer.Restore(ctx, sandboxID, files)
	}
	metrics.RestoreDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	return err
}

// Terminate tears down the project's sandbox. Remote termination is best
// effort; the identity fields are always cleared, because a project must
// never be left pointing at a dead handle.
func (p *Provisioner) Terminate(ctx context.Context, projectID uint) error {
	project, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}

	if project.HasSandbox() {
		if err := p.client.Terminate(ctx, project.SandboxID); err != nil {
			logging.L().Warn("remote termination failed",
				zap.String("sandbox_id", project.SandboxID), zap.Error(err))
		}
		metrics.SandboxesTerminated.Inc()
	}

	if err := p.store.ClearSandboxIdentity(ctx, projectID); err != nil {
		return err
	}
	if err := p.store.SetBuildStatus(ctx, projectID, models.BuildAwaitingSandbox); err != nil {
		logging.L().Warn("build status update failed",
			zap.Uint("project_id", projectID), zap.Error(err))
	}
	return nil
}

// Restorer exposes the provisioner's file restorer for tool-call flows
// that write incremental fragment updates.
func (p *Provisioner) Restorer() *FileRestorer { return p.restorer }
