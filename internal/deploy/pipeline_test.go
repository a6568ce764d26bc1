package deploy

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Hollayemi/shp-sub005/internal/config"
	"github.com/Hollayemi/shp-sub005/internal/provider"
	"github.com/Hollayemi/shp-sub005/internal/store"
	"github.com/Hollayemi/shp-sub005/pkg/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *store.GormStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Project{}, &models.Fragment{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.NewGormStore(db)
}

// scriptedSandbox wires a MemoryClient whose exec hook behaves like a
// sandbox with a buildable app in it.
func scriptedSandbox(t *testing.T, client *provider.MemoryClient, buildExit int) string {
	t.Helper()

	handle, err := client.Create(t.Context(), provider.CreateOptions{})
	if err != nil {
		t.Fatalf("create sandbox: %v", err)
	}
	sandboxID := handle.ID

	client.ExecHook = func(id, command string) (*provider.ExecResult, error) {
		switch {
		case strings.Contains(command, "npm run build"):
			if buildExit != 0 {
				return &provider.ExecResult{ExitCode: buildExit, Stdout: "vite build failed\nmodule not found"}, nil
			}
			return &provider.ExecResult{ExitCode: 0}, nil
		case strings.Contains(command, "[ -d /workspace/dist ]"):
			return &provider.ExecResult{ExitCode: 0, Stdout: "yes\n"}, nil
		case strings.Contains(command, "[ -d "):
			return &provider.ExecResult{ExitCode: 0, Stdout: "no\n"}, nil
		case strings.Contains(command, "zip -qr"):
			if err := client.WriteFile(t.Context(), sandboxID, "/tmp/app.zip", []byte("PK-fake-zip")); err != nil {
				return nil, err
			}
			return &provider.ExecResult{ExitCode: 0}, nil
		case strings.Contains(command, "find . -type f"):
			return &provider.ExecResult{ExitCode: 0, Stdout: "index.html\nassets/app.js\n"}, nil
		default:
			return &provider.ExecResult{ExitCode: 0}, nil
		}
	}

	// Bundle files for the direct path.
	for p, content := range map[string]string{
		"dist/index.html":    "<html><body>built</body></html>",
		"dist/assets/app.js": "console.log(1)",
	} {
		if err := client.WriteFile(t.Context(), sandboxID, p, []byte(content)); err != nil {
			t.Fatalf("seed %s: %v", p, err)
		}
	}

	return sandboxID
}

func TestDeployZipStrategy(t *testing.T) {
	var zipHits, directHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/deploy":
			atomic.AddInt32(&zipHits, 1)
			json.NewEncoder(w).Encode(map[string]string{"url": "https://app-abc.sites.example.com"})
		case "/api/deploy/direct":
			atomic.AddInt32(&directHits, 1)
			json.NewEncoder(w).Encode(map[string]string{"url": "https://direct.sites.example.com"})
		}
	}))
	defer srv.Close()

	st := newTestStore(t)
	project := &models.Project{Name: "app"}
	if err := st.CreateProject(t.Context(), project); err != nil {
		t.Fatalf("create project: %v", err)
	}

	client := provider.NewMemoryClient()
	sandboxID := scriptedSandbox(t, client, 0)

	pipeline := NewPipeline(client, NewUploader(config.DeployConfig{URL: srv.URL, APIKey: "key"}), st)
	result, err := pipeline.Deploy(t.Context(), project.ID, sandboxID, "app")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if result.Strategy != "zip" {
		t.Errorf("strategy = %q, want zip", result.Strategy)
	}
	if result.URL != "https://app-abc.sites.example.com" {
		t.Errorf("url = %q", result.URL)
	}
	if atomic.LoadInt32(&directHits) != 0 {
		t.Error("direct endpoint was hit on a successful zip deploy")
	}

	stored, err := st.GetProject(t.Context(), project.ID)
	if err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if stored.DeployedURL != result.URL {
		t.Errorf("stored url = %q, want %q", stored.DeployedURL, result.URL)
	}
	if stored.BuildStatus != models.BuildReady {
		t.Errorf("build status = %q, want ready", stored.BuildStatus)
	}
}

func TestDeployBuildFailureNeverFallsBack(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	st := newTestStore(t)
	project := &models.Project{Name: "app"}
	if err := st.CreateProject(t.Context(), project); err != nil {
		t.Fatalf("create project: %v", err)
	}

	client := provider.NewMemoryClient()
	sandboxID := scriptedSandbox(t, client, 1)

	pipeline := NewPipeline(client, NewUploader(config.DeployConfig{URL: srv.URL}), st)
	_, err := pipeline.Deploy(t.Context(), project.ID, sandboxID, "app")

	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("err = %v, want BuildError", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Error("endpoint was hit despite a build failure")
	}

	stored, _ := st.GetProject(t.Context(), project.ID)
	if stored.DeployedURL != "" {
		t.Error("deployment recorded despite build failure")
	}
	if stored.BuildStatus != models.BuildError {
		t.Errorf("build status = %q, want error", stored.BuildStatus)
	}
}

func TestDeployFallsBackToDirectOnTransportFailure(t *testing.T) {
	var zipHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/deploy":
			atomic.AddInt32(&zipHits, 1)
			w.WriteHeader(http.StatusBadGateway)
		case "/api/deploy/direct":
			json.NewEncoder(w).Encode(map[string]string{"url": "https://direct.sites.example.com"})
		}
	}))
	defer srv.Close()

	st := newTestStore(t)
	project := &models.Project{Name: "app"}
	if err := st.CreateProject(t.Context(), project); err != nil {
		t.Fatalf("create project: %v", err)
	}

	client := provider.NewMemoryClient()
	sandboxID := scriptedSandbox(t, client, 0)

	pipeline := NewPipeline(client, NewUploader(config.DeployConfig{URL: srv.URL}), st)
	result, err := pipeline.Deploy(t.Context(), project.ID, sandboxID, "app")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if result.Strategy != "direct" {
		t.Errorf("strategy = %q, want direct", result.Strategy)
	}

	// First attempt plus the two transient retries.
	if got := atomic.LoadInt32(&zipHits); got != 3 {
		t.Errorf("zip attempts = %d, want 3", got)
	}
}

func TestDeployRejectedUploadSkipsRetries(t *testing.T) {
	var zipHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/deploy":
			atomic.AddInt32(&zipHits, 1)
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "quota exceeded"})
		case "/api/deploy/direct":
			json.NewEncoder(w).Encode(map[string]string{"url": "https://direct.sites.example.com"})
		}
	}))
	defer srv.Close()

	st := newTestStore(t)
	project := &models.Project{Name: "app"}
	if err := st.CreateProject(t.Context(), project); err != nil {
		t.Fatalf("create project: %v", err)
	}

	client := provider.NewMemoryClient()
	sandboxID := scriptedSandbox(t, client, 0)

	pipeline := NewPipeline(client, NewUploader(config.DeployConfig{URL: srv.URL}), st)
	if _, err := pipeline.Deploy(t.Context(), project.ID, sandboxID, "app"); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	// A definitive rejection is not retried.
	if got := atomic.LoadInt32(&zipHits); got != 1 {
		t.Errorf("zip attempts = %d, want 1", got)
	}
}

func TestDeployStripsMonitorBeforeBuild(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"url": "https://app.sites.example.com"})
	}))
	defer srv.Close()

	st := newTestStore(t)
	project := &models.Project{Name: "app"}
	if err := st.CreateProject(t.Context(), project); err != nil {
		t.Fatalf("create project: %v", err)
	}

	client := provider.NewMemoryClient()
	sandboxID := scriptedSandbox(t, client, 0)
	monitored := `<html><head><script src="/.shipyard/monitor.js"></script>` + "\n</head><body></body></html>"
	if err := client.WriteFile(t.Context(), sandboxID, "index.html", []byte(monitored)); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	pipeline := NewPipeline(client, NewUploader(config.DeployConfig{URL: srv.URL}), st)
	if _, err := pipeline.Deploy(t.Context(), project.ID, sandboxID, "app"); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	raw, err := client.ReadFile(t.Context(), sandboxID, "index.html")
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	if strings.Contains(string(raw), "monitor.js") {
		t.Error("monitor script shipped in the production source")
	}
}
