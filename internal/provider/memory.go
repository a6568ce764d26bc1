package provider

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryClient is an in-process Client implementation. It backs unit
// tests and local development without a real provider control plane.
// Filesystems are flat path->content maps; exec is delegated to an
// optional hook so tests can script command results.
type MemoryClient struct {
	mu        sync.Mutex
	sandboxes map[string]*memorySandbox
	images    map[string]map[string][]byte // imageID -> frozen filesystem

	// ExecHook, when set, handles Exec calls. Without a hook every
	// command succeeds with empty output.
	ExecHook func(sandboxID, command string) (*ExecResult, error)

	// TunnelBase is the domain suffix used to fabricate tunnel URLs.
	TunnelBase string

	// FailWrites, when set, makes WriteFile fail for matching paths.
	FailWrites func(path string) bool

	// FailDeleteImage, when set, makes DeleteImage fail for matching ids.
	FailDeleteImage func(imageID string) bool

	deleteImageCalls []string
}

type memorySandbox struct {
	handle Handle
	files  map[string][]byte
	dirs   map[string]bool
}

// NewMemoryClient constructs an empty in-memory provider.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		sandboxes:  make(map[string]*memorySandbox),
		images:     make(map[string]map[string][]byte),
		TunnelBase: "preview.shipyard.app",
	}
}

func (m *MemoryClient) Create(ctx context.Context, opts CreateOptions) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := "sbx-" + uuid.New().String()[:8]
	now := time.Now()
	tunnels := make(map[int]string, len(opts.Ports))
	for _, port := range opts.Ports {
		tunnels[port] = fmt.Sprintf("https://%s-%d.%s", id, port, m.TunnelBase)
	}

	sb := &memorySandbox{
		handle: Handle{
			ID:        id,
			WorkDir:   "/workspace",
			Tunnels:   tunnels,
			CreatedAt: now,
			ExpiresAt: now.Add(opts.MaxLifetime),
		},
		files: make(map[string][]byte),
		dirs:  map[string]bool{"/workspace": true},
	}

	// Booting from a snapshot restores its frozen filesystem.
	if frozen, ok := m.images[opts.Image]; ok {
		for p, content := range frozen {
			sb.files[p] = append([]byte(nil), content...)
		}
	}

	m.sandboxes[id] = sb
	h := sb.handle
	return &h, nil
}

func (m *MemoryClient) Connect(ctx context.Context, sandboxID string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sb, ok := m.sandboxes[sandboxID]
	if !ok {
		return nil, ErrNotFound
	}
	h := sb.handle
	return &h, nil
}

func (m *MemoryClient) Terminate(ctx context.Context, sandboxID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sandboxes, sandboxID)
	return nil
}

func (m *MemoryClient) Exec(ctx context.Context, sandboxID, command string) (*ExecResult, error) {
	m.mu.Lock()
	_, ok := m.sandboxes[sandboxID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	if m.ExecHook != nil {
		return m.ExecHook(sandboxID, command)
	}
	return &ExecResult{ExitCode: 0}, nil
}

func (m *MemoryClient) ReadFile(ctx context.Context, sandboxID, p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sb, ok := m.sandboxes[sandboxID]
	if !ok {
		return nil, ErrNotFound
	}
	content, ok := sb.files[normalizePath(p)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), content...), nil
}

func (m *MemoryClient) WriteFile(ctx context.Context, sandboxID, p string, data []byte) error {
	if m.FailWrites != nil && m.FailWrites(p) {
		return fmt.Errorf("write %s: simulated failure", p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sb, ok := m.sandboxes[sandboxID]
	if !ok {
		return ErrNotFound
	}
	np := normalizePath(p)
	sb.files[np] = append([]byte(nil), data...)
	sb.dirs[path.Dir(np)] = true
	return nil
}

func (m *MemoryClient) MakeDirs(ctx context.Context, sandboxID string, paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sb, ok := m.sandboxes[sandboxID]
	if !ok {
		return ErrNotFound
	}
	for _, p := range paths {
		sb.dirs[normalizePath(p)] = true
	}
	return nil
}

func (m *MemoryClient) Tunnels(ctx context.Context, sandboxID string) (map[int]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sb, ok := m.sandboxes[sandboxID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(map[int]string, len(sb.handle.Tunnels))
	for port, url := range sb.handle.Tunnels {
		out[port] = url
	}
	return out, nil
}

func (m *MemoryClient) Snapshot(ctx context.Context, sandboxID, tag string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sb, ok := m.sandboxes[sandboxID]
	if !ok {
		return "", ErrNotFound
	}
	imageID := "img-" + uuid.New().String()[:8]
	frozen := make(map[string][]byte, len(sb.files))
	for p, content := range sb.files {
		frozen[p] = append([]byte(nil), content...)
	}
	m.images[imageID] = frozen
	return imageID, nil
}

func (m *MemoryClient) DeleteImage(ctx context.Context, imageID string) error {
	m.mu.Lock()
	m.deleteImageCalls = append(m.deleteImageCalls, imageID)
	m.mu.Unlock()

	if m.FailDeleteImage != nil && m.FailDeleteImage(imageID) {
		return fmt.Errorf("delete image %s: simulated failure", imageID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.images, imageID)
	return nil
}

func (m *MemoryClient) Close() error { return nil }

// SandboxCount returns the number of live sandboxes.
func (m *MemoryClient) SandboxCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sandboxes)
}

// SandboxFiles returns a sorted list of file paths in a sandbox.
func (m *MemoryClient) SandboxFiles(sandboxID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	sb, ok := m.sandboxes[sandboxID]
	if !ok {
		return nil
	}
	paths := make([]string, 0, len(sb.files))
	for p := range sb.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// DeleteImageCalls returns every image id DeleteImage was called with.
func (m *MemoryClient) DeleteImageCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleteImageCalls...)
}

// HasImage reports whether a snapshot image still exists.
func (m *MemoryClient) HasImage(imageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.images[imageID]
	return ok
}

func normalizePath(p string) string {
	p = path.Clean("/" + strings.TrimPrefix(p, "/"))
	if !strings.HasPrefix(p, "/workspace") {
		p = path.Join("/workspace", strings.TrimPrefix(p, "/"))
	}
	return p
}
