package sandbox

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Hollayemi/shp-sub005/internal/provider"
)

func TestInjectMonitorTagPlacement(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "before closing head",
			html: "<html><head><title>x</title>\n</head><body></body></html>",
			want: "</head>",
		},
		{
			name: "after body when no head",
			html: "<html><body>\n<div></div></body></html>",
			want: "<body>",
		},
		{
			name: "prepended when neither",
			html: "<div>bare fragment</div>",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, changed := InjectMonitorTag(tt.html)
			if !changed {
				t.Fatal("expected a change")
			}
			if strings.Count(out, "/.shipyard/monitor.js") != 1 {
				t.Errorf("tag count != 1:\n%s", out)
			}
			if tt.want != "" {
				tagIdx := strings.Index(out, "/.shipyard/monitor.js")
				anchorIdx := strings.Index(out, tt.want)
				if tt.want == "</head>" && tagIdx > anchorIdx {
					t.Errorf("tag after </head>:\n%s", out)
				}
				if tt.want == "<body>" && tagIdx < anchorIdx {
					t.Errorf("tag before <body>:\n%s", out)
				}
			}
		})
	}
}

func TestInjectMonitorTagIdempotent(t *testing.T) {
	html := "<html><head></head><body></body></html>"
	once, changed := InjectMonitorTag(html)
	if !changed {
		t.Fatal("first injection reported no change")
	}
	twice, changed := InjectMonitorTag(once)
	if changed {
		t.Error("second injection reported a change")
	}
	if strings.Count(twice, "/.shipyard/monitor.js") != 1 {
		t.Errorf("duplicate tags:\n%s", twice)
	}
}

func TestInjectMonitorTagReplacesLegacyInline(t *testing.T) {
	html := `<html><head><script data-shipyard-monitor>window.onerror=1</script></head><body></body></html>`
	out, changed := InjectMonitorTag(html)
	if !changed {
		t.Fatal("expected a change")
	}
	if strings.Contains(out, "data-shipyard-monitor") {
		t.Errorf("legacy block survived:\n%s", out)
	}
	if !strings.Contains(out, "/.shipyard/monitor.js") {
		t.Errorf("script reference missing:\n%s", out)
	}
}

func TestStripMonitorScript(t *testing.T) {
	html := "<html><head>  " + monitorScriptTag + "\n</head><body></body></html>"
	out := StripMonitorScript(html)
	if strings.Contains(out, "monitor.js") {
		t.Errorf("tag survived strip:\n%s", out)
	}

	// Stripping clean HTML is a no-op.
	clean := "<html><head></head><body></body></html>"
	if got := StripMonitorScript(clean); got != clean {
		t.Errorf("clean document modified:\n%s", got)
	}
}

func TestDevServerStartRecordsURL(t *testing.T) {
	shortenLaunchDelay(t)
	st := newTestStore(t)
	client := provider.NewMemoryClient()
	project := createTestProject(t, st, "blog")

	handle, err := client.Create(t.Context(), provider.CreateOptions{Ports: []int{DevServerPort}})
	if err != nil {
		t.Fatalf("create sandbox: %v", err)
	}
	// The provisioner normally records the identity before the dev
	// server starts.
	if err := st.SetSandboxIdentity(t.Context(), project.ID, handle.ID, "https://placeholder", handle.CreatedAt, handle.ExpiresAt); err != nil {
		t.Fatalf("seed identity: %v", err)
	}

	ctrl := NewDevServerController(client, st)
	url, err := ctrl.Start(t.Context(), project.ID, handle.ID, DevServerPort)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.Contains(url, "preview.shipyard.app") {
		t.Errorf("url = %q, want tunnel domain", url)
	}

	stored, err := st.GetProject(t.Context(), project.ID)
	if err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if stored.SandboxURL != url {
		t.Errorf("stored url = %q, want %q", stored.SandboxURL, url)
	}
}

func TestDevServerStartNoTunnel(t *testing.T) {
	shortenLaunchDelay(t)
	st := newTestStore(t)
	client := provider.NewMemoryClient()
	project := createTestProject(t, st, "blog")

	// Sandbox created without the dev server port exposed.
	handle, err := client.Create(t.Context(), provider.CreateOptions{})
	if err != nil {
		t.Fatalf("create sandbox: %v", err)
	}

	ctrl := NewDevServerController(client, st)
	_, err = ctrl.Start(t.Context(), project.ID, handle.ID, DevServerPort)
	var devErr *DevServerError
	if !errors.As(err, &devErr) {
		t.Fatalf("err = %v, want DevServerError", err)
	}
}

func shortenLaunchDelay(t *testing.T) {
	t.Helper()
	old := postLaunchDelay
	postLaunchDelay = 10 * time.Millisecond
	t.Cleanup(func() { postLaunchDelay = old })
}

func TestWaitUntilReady(t *testing.T) {
	client := provider.NewMemoryClient()
	handle, err := client.Create(t.Context(), provider.CreateOptions{})
	if err != nil {
		t.Fatalf("create sandbox: %v", err)
	}
	if err := client.WriteFile(t.Context(), handle.ID, "index.html", []byte("<html></html>")); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	ctrl := NewDevServerController(client, newTestStore(t))
	if !ctrl.WaitUntilReady(t.Context(), handle.ID) {
		t.Error("ready sandbox reported not ready")
	}
}
