// Package provider defines the remote sandbox-provider capability
// interface. Orchestration code depends only on this interface, never on
// a concrete vendor SDK, so any provider offering these primitives is
// substitutable and tests can run against the in-memory implementation.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a sandbox or image no longer exists on the
// provider side.
var ErrNotFound = errors.New("provider: not found")

// CreateOptions describes the compute requested for a new sandbox.
type CreateOptions struct {
	Image       string
	CPU         int
	MemoryMB    int
	IdleTimeout time.Duration
	MaxLifetime time.Duration
	Ports       []int
	Env         map[string]string
}

// Handle is a live connection to remote compute. Only ID and the primary
// tunnel URL are persisted; everything else is rebuilt on reconnect.
type Handle struct {
	ID        string
	WorkDir   string
	Tunnels   map[int]string // container port -> public URL
	CreatedAt time.Time
	ExpiresAt time.Time
}

// TunnelURL returns the public URL for a container port, if registered.
func (h *Handle) TunnelURL(port int) (string, bool) {
	url, ok := h.Tunnels[port]
	return url, ok
}

// ExecResult captures the outcome of a command run inside a sandbox.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Ok reports whether the command exited zero.
func (r *ExecResult) Ok() bool { return r.ExitCode == 0 }

// Client is the fixed operation set the orchestrator needs from a
// sandbox provider.
type Client interface {
	// Create provisions a new sandbox from a base image or snapshot.
	Create(ctx context.Context, opts CreateOptions) (*Handle, error)
	// Connect re-attaches to an existing sandbox by id. Returns
	// ErrNotFound if the remote object no longer exists.
	Connect(ctx context.Context, sandboxID string) (*Handle, error)
	// Terminate destroys a sandbox. Terminating a missing sandbox is
	// not an error.
	Terminate(ctx context.Context, sandboxID string) error

	// Exec runs a shell command inside the sandbox workdir.
	Exec(ctx context.Context, sandboxID, command string) (*ExecResult, error)

	ReadFile(ctx context.Context, sandboxID, path string) ([]byte, error)
	WriteFile(ctx context.Context, sandboxID, path string, data []byte) error
	// MakeDirs creates all given directories (and parents) in one call.
	MakeDirs(ctx context.Context, sandboxID string, paths []string) error

	// Tunnels lists active public URLs keyed by container port.
	Tunnels(ctx context.Context, sandboxID string) (map[int]string, error)

	// Snapshot freezes the sandbox filesystem into a reusable image.
	Snapshot(ctx context.Context, sandboxID, tag string) (imageID string, err error)
	// DeleteImage removes a snapshot image by id.
	DeleteImage(ctx context.Context, imageID string) error

	// Close releases the client. Called once at shutdown.
	Close() error
}
