package models

import (
	"time"

	"gorm.io/gorm"
)

// BuildStatus tracks where a project is in its build lifecycle.
type BuildStatus string

const (
	BuildAwaitingSandbox BuildStatus = "awaiting_sandbox"
	BuildInitializing    BuildStatus = "initializing"
	BuildGenerating      BuildStatus = "generating"
	BuildBuilding        BuildStatus = "building"
	BuildReady           BuildStatus = "ready"
	BuildError           BuildStatus = "error"
)

// ImportSource identifies where an imported project came from. Native
// projects carry ImportSourceNone and skip the config patch pass.
type ImportSource string

const (
	ImportSourceNone   ImportSource = ""
	ImportSourceZip    ImportSource = "zip"
	ImportSourceGit    ImportSource = "git"
	ImportSourceBase44 ImportSource = "base44"
)

// Project represents a user's app. The sandbox identity fields
// (SandboxID/SandboxURL) are the single source of truth for which sandbox
// is current; they are always written together, never one without the
// other, and only by the provisioner and the deployment pipeline.
type Project struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Name         string       `json:"name" gorm:"not null"`
	Template     string       `json:"template"`
	ImportSource ImportSource `json:"import_source" gorm:"type:varchar(32);default:''"`

	// Current sandbox identity. Both set or both unset.
	SandboxID        string     `json:"sandbox_id" gorm:"index"`
	SandboxURL       string     `json:"sandbox_url"`
	SandboxCreatedAt *time.Time `json:"sandbox_created_at,omitempty"`
	SandboxExpiresAt *time.Time `json:"sandbox_expires_at,omitempty"`

	// Active work references.
	ActiveFragmentID *uint  `json:"active_fragment_id,omitempty"`
	ActiveCommitHash string `json:"active_commit_hash,omitempty"`

	BuildStatus BuildStatus `json:"build_status" gorm:"type:varchar(32);default:'awaiting_sandbox'"`

	// Deployment metadata, written only by the deployment pipeline.
	DeployedURL string     `json:"deployed_url,omitempty"`
	DeployedAt  *time.Time `json:"deployed_at,omitempty"`
	DeployedRef string     `json:"deployed_ref,omitempty"`

	Fragments []Fragment `json:"fragments,omitempty" gorm:"foreignKey:ProjectID"`
}

// HasSandbox reports whether the project currently points at a sandbox.
func (p *Project) HasSandbox() bool {
	return p.SandboxID != ""
}

// Fragment is a snapshot of a project's file tree at one point in the
// agent's work. Files maps relative path to content; content is either
// UTF-8 text or a tagged base64 payload (see internal/sandbox encoding).
// A fragment without a title is a "working" fragment still being mutated
// by ongoing tool calls; once a title (and usually a commit hash or
// snapshot) is attached the file map is treated as durable.
type Fragment struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	ProjectID uint    `json:"project_id" gorm:"not null;index"`
	Project   Project `json:"-" gorm:"foreignKey:ProjectID"`

	Title string            `json:"title"`
	Files map[string]string `json:"files" gorm:"serializer:json"`

	// Provider-side frozen-filesystem reference, if a snapshot was taken.
	SnapshotImageID   string     `json:"snapshot_image_id,omitempty" gorm:"index"`
	SnapshotTag       string     `json:"snapshot_tag,omitempty"`
	SnapshotCreatedAt *time.Time `json:"snapshot_created_at,omitempty"`

	GitCommitHash string `json:"git_commit_hash,omitempty"`
}

// IsWorking reports whether the fragment is still being updated.
func (f *Fragment) IsWorking() bool {
	return f.Title == ""
}

// HasSnapshot reports whether a provider snapshot is attached.
func (f *Fragment) HasSnapshot() bool {
	return f.SnapshotImageID != ""
}
