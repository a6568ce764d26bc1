package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Hollayemi/shp-sub005/internal/logging"
	"github.com/Hollayemi/shp-sub005/internal/provider"
	"github.com/Hollayemi/shp-sub005/internal/store"

	"go.uber.org/zap"
)

// postLaunchDelay gives npm enough time to fork the real server process
// before the tunnel lookup. Variable so tests can shorten it.
var postLaunchDelay = 3 * time.Second

const (
	readinessTimeout  = 30 * time.Second
	readinessInterval = time.Second

	monitorScriptPath = ".shipyard/monitor.js"
	monitorScriptTag  = `<script src="/.shipyard/monitor.js"></script>`
)

// legacyMonitorRe matches the old inline monitor block that earlier
// builds embedded directly in index.html.
var legacyMonitorRe = regexp.MustCompile(`(?s)<script\s+data-shipyard-monitor[^>]*>.*?</script>\s*`)

// monitorScript is served from inside the sandbox and reports runtime
// errors back to the builder UI via postMessage.
const monitorScript = `(function () {
  function report(kind, payload) {
    try {
      window.parent.postMessage({ source: "shipyard-monitor", kind: kind, payload: payload }, "*");
    } catch (e) { /* parent gone */ }
  }
  window.addEventListener("error", function (e) {
    report("error", { message: e.message, filename: e.filename, lineno: e.lineno, colno: e.colno });
  });
  window.addEventListener("unhandledrejection", function (e) {
    report("rejection", { reason: String(e.reason) });
  });
  report("loaded", { href: window.location.href });
})();
`

// DevServerController launches the dev server inside a sandbox and
// tracks its readiness.
type DevServerController struct {
	client   provider.Client
	projects store.ProjectStore
}

func NewDevServerController(client provider.Client, projects store.ProjectStore) *DevServerController {
	return &DevServerController{client: client, projects: projects}
}

// Start launches the dev server on the given port and returns its
// public tunnel URL. The server runs detached under nohup so it
// survives the exec session; the PID is logged but not tracked, the
// provider's lifetime limits bound the process.
func (d *DevServerController) Start(ctx context.Context, projectID uint, sandboxID string, port int) (string, error) {
	cmd := fmt.Sprintf(
		"cd /workspace && nohup npm run dev -- --host 0.0.0.0 --port %d >/tmp/dev.log 2>&1 & echo $!",
		port)

	res, err := d.client.Exec(ctx, sandboxID, cmd)
	if err != nil {
		return "", &DevServerError{Port: port, Cause: err}
	}
	if !res.Ok() {
		return "", &DevServerError{Port: port, Cause: fmt.Errorf("launch exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))}
	}
	pid := strings.TrimSpace(res.Stdout)

	select {
	case <-time.After(postLaunchDelay):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	tunnels, err := d.client.Tunnels(ctx, sandboxID)
	if err != nil {
		return "", &DevServerError{Port: port, Cause: err}
	}
	url, ok := tunnels[port]
	if !ok {
		return "", &DevServerError{Port: port, Cause: errors.New("no tunnel for port")}
	}

	if err := d.projects.SetSandboxURL(ctx, projectID, sandboxID, url); err != nil {
		return "", err
	}

	logging.L().Info("dev server launched",
		zap.String("sandbox_id", sandboxID),
		zap.String("pid", pid),
		zap.String("url", url))

	// Monitor injection runs detached: the dev server is usable
	// without it and index.html may not exist yet.
	go d.injectMonitor(context.Background(), sandboxID)

	return url, nil
}

// WaitUntilReady polls for the app's index.html once a second. It
// reports false on timeout rather than erroring: callers treat a slow
// server as "assume ready" and let the browser retry.
func (d *DevServerController) WaitUntilReady(ctx context.Context, sandboxID string) bool {
	deadline := time.Now().Add(readinessTimeout)
	ticker := time.NewTicker(readinessInterval)
	defer ticker.Stop()

	for {
		if _, err := d.client.ReadFile(ctx, sandboxID, "index.html"); err == nil {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false
		}
	}
}

// injectMonitor writes the monitor script into the sandbox and wires a
// script tag into index.html. Every step is best effort.
func (d *DevServerController) injectMonitor(ctx context.Context, sandboxID string) {
	if err := d.client.MakeDirs(ctx, sandboxID, []string{".shipyard"}); err != nil {
		logging.L().Debug("monitor dir skipped", zap.String("sandbox_id", sandboxID), zap.Error(err))
		return
	}
	if err := d.client.WriteFile(ctx, sandboxID, monitorScriptPath, []byte(monitorScript)); err != nil {
		logging.L().Debug("monitor script skipped", zap.String("sandbox_id", sandboxID), zap.Error(err))
		return
	}

	html, err := d.client.ReadFile(ctx, sandboxID, "index.html")
	if err != nil {
		return
	}
	patched, changed := InjectMonitorTag(string(html))
	if !changed {
		return
	}
	if err := d.client.WriteFile(ctx, sandboxID, "index.html", []byte(patched)); err != nil {
		logging.L().Debug("monitor tag skipped", zap.String("sandbox_id", sandboxID), zap.Error(err))
	}
}

// InjectMonitorTag ensures index.html references the monitor script
// exactly once, replacing any legacy inline block. The second return
// reports whether the document changed.
func InjectMonitorTag(html string) (string, bool) {
	out := StripMonitorScript(html)
	if strings.Contains(out, monitorScriptPath) {
		return out, out != html
	}

	switch {
	case strings.Contains(out, "</head>"):
		out = strings.Replace(out, "</head>", "  "+monitorScriptTag+"\n</head>", 1)
	case strings.Contains(out, "<body>"):
		out = strings.Replace(out, "<body>", "<body>\n  "+monitorScriptTag, 1)
	default:
		out = monitorScriptTag + "\n" + out
	}
	return out, true
}

// StripMonitorScript removes both monitor forms from an HTML document.
// Deployment uses it so production bundles ship without the dev hook.
func StripMonitorScript(html string) string {
	out := legacyMonitorRe.ReplaceAllString(html, "")
	for _, form := range []string{
		"  " + monitorScriptTag + "\n",
		monitorScriptTag + "\n",
		monitorScriptTag,
	} {
		out = strings.ReplaceAll(out, form, "")
	}
	return out
}
