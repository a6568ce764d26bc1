// Package store persists projects and fragments. It is the only layer
// that writes the Project sandbox-identity fields, and it always writes
// sandbox id and url as a pair so concurrent readers never observe a
// half-updated identity.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Hollayemi/shp-sub005/pkg/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ProjectStore reads and mutates project records.
type ProjectStore interface {
	GetProject(ctx context.Context, id uint) (*models.Project, error)
	CreateProject(ctx context.Context, p *models.Project) error

	// SetSandboxIdentity writes sandbox id, url and timestamps together.
	SetSandboxIdentity(ctx context.Context, projectID uint, sandboxID, sandboxURL string, createdAt, expiresAt time.Time) error
	// ClearSandboxIdentity removes all sandbox identity fields together.
	ClearSandboxIdentity(ctx context.Context, projectID uint) error

	SetSandboxURL(ctx context.Context, projectID uint, sandboxID, sandboxURL string) error
	SetBuildStatus(ctx context.Context, projectID uint, status models.BuildStatus) error
	SetActiveFragment(ctx context.Context, projectID, fragmentID uint) error
	SetDeployment(ctx context.Context, projectID uint, url, ref string, at time.Time) error
}

// FragmentStore reads and mutates fragment records.
type FragmentStore interface {
	GetFragment(ctx context.Context, id uint) (*models.Fragment, error)
	CreateFragment(ctx context.Context, f *models.Fragment) error

	// UpdateWorkingFiles replaces the file map of a working fragment.
	// A missing fragment is an error, never a silent re-create.
	UpdateWorkingFiles(ctx context.Context, fragmentID uint, files map[string]string) error

	// FinalizeFragment assigns a title (and optionally a commit hash),
	// marking the fragment durable.
	FinalizeFragment(ctx context.Context, fragmentID uint, title, commitHash string) error

	SetSnapshot(ctx context.Context, fragmentID uint, imageID, tag string, at time.Time) error
	ClearSnapshot(ctx context.Context, fragmentID uint) error

	// ListSnapshotFragments returns the project's fragments that carry a
	// live snapshot, newest snapshot first.
	ListSnapshotFragments(ctx context.Context, projectID uint) ([]models.Fragment, error)
}

// Store bundles both stores behind one handle.
type Store interface {
	ProjectStore
	FragmentStore
}
