package deploy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/Hollayemi/shp-sub005/internal/logging"
	"github.com/Hollayemi/shp-sub005/internal/metrics"
	"github.com/Hollayemi/shp-sub005/internal/provider"
	"github.com/Hollayemi/shp-sub005/internal/sandbox"
	"github.com/Hollayemi/shp-sub005/internal/store"
	"github.com/Hollayemi/shp-sub005/pkg/models"

	"go.uber.org/zap"
)

// maxUploadRetries is the number of extra attempts after the first
// zip upload, taken only for transient transport failures.
const maxUploadRetries = 2

// outputDirCandidates is the production bundle search order. First hit
// wins.
var outputDirCandidates = []string{"dist", "build", "out", "public"}

// Pipeline builds the project inside its sandbox and publishes the
// bundle to the hosting endpoint.
type Pipeline struct {
	client   provider.Client
	uploader *Uploader
	projects store.ProjectStore
}

func NewPipeline(client provider.Client, uploader *Uploader, projects store.ProjectStore) *Pipeline {
	return &Pipeline{client: client, uploader: uploader, projects: projects}
}

// Result describes a finished deployment.
type Result struct {
	URL      string
	Strategy string
}

// Deploy runs the full pipeline: strip the dev monitor, build, locate
// the bundle, upload. The zip strategy is tried first; a transport
// failure falls back to direct file upload. A build failure aborts the
// deployment with no fallback.
func (p *Pipeline) Deploy(ctx context.Context, projectID uint, sandboxID, appName string) (*Result, error) {
	p.setBuildStatus(ctx, projectID, models.BuildBuilding)
	p.stripMonitor(ctx, sandboxID)

	if err := p.build(ctx, sandboxID); err != nil {
		metrics.Deployments.WithLabelValues("zip", "build_failed").Inc()
		p.setBuildStatus(ctx, projectID, models.BuildError)
		return nil, err
	}

	outputDir, err := p.findOutputDir(ctx, sandboxID)
	if err != nil {
		metrics.Deployments.WithLabelValues("zip", "no_output").Inc()
		p.setBuildStatus(ctx, projectID, models.BuildError)
		return nil, err
	}

	url, err := p.deployZip(ctx, projectID, sandboxID, appName, outputDir)
	strategy := "zip"
	if err != nil {
		logging.L().Warn("zip deployment failed, falling back to direct upload",
			zap.String("sandbox_id", sandboxID), zap.Error(err))
		strategy = "direct"
		url, err = p.deployDirect(ctx, projectID, sandboxID, appName, outputDir)
		if err != nil {
			metrics.Deployments.WithLabelValues("direct", "failed").Inc()
			p.setBuildStatus(ctx, projectID, models.BuildError)
			return nil, err
		}
	}
	metrics.Deployments.WithLabelValues(strategy, "succeeded").Inc()
	p.setBuildStatus(ctx, projectID, models.BuildReady)

	if err := p.projects.SetDeployment(ctx, projectID, url, appName, time.Now().UTC()); err != nil {
		return nil, err
	}

	logging.L().Info("deployment published",
		zap.Uint("project_id", projectID),
		zap.String("strategy", strategy),
		zap.String("url", url))

	return &Result{URL: url, Strategy: strategy}, nil
}

// setBuildStatus records the lifecycle phase. Advisory UI state; a
// failed write never aborts a deployment.
func (p *Pipeline) setBuildStatus(ctx context.Context, projectID uint, status models.BuildStatus) {
	if err := p.projects.SetBuildStatus(ctx, projectID, status); err != nil {
		logging.L().Warn("build status update failed",
			zap.Uint("project_id", projectID), zap.Error(err))
	}
}

// stripMonitor removes the dev-time monitor hook from index.html so it
// never ships in the production bundle. Best effort: a missing
// index.html just means there is nothing to strip.
func (p *Pipeline) stripMonitor(ctx context.Context, sandboxID string) {
	html, err := p.client.ReadFile(ctx, sandboxID, "index.html")
	if err != nil {
		return
	}
	stripped := sandbox.StripMonitorScript(string(html))
	if stripped == string(html) {
		return
	}
	if err := p.client.WriteFile(ctx, sandboxID, "index.html", []byte(stripped)); err != nil {
		logging.L().Warn("monitor strip failed", zap.String("sandbox_id", sandboxID), zap.Error(err))
	}
}

func (p *Pipeline) build(ctx context.Context, sandboxID string) error {
	res, err := p.client.Exec(ctx, sandboxID, "cd /workspace && npm run build 2>&1")
	if err != nil {
		return fmt.Errorf("build exec: %w", err)
	}
	if !res.Ok() {
		return &BuildError{Output: res.Stdout + res.Stderr}
	}
	return nil
}

// findOutputDir probes the candidate bundle directories in priority
// order inside the sandbox.
func (p *Pipeline) findOutputDir(ctx context.Context, sandboxID string) (string, error) {
	for _, dir := range outputDirCandidates {
		res, err := p.client.Exec(ctx, sandboxID, fmt.Sprintf("[ -d /workspace/%s ] && echo yes || echo no", dir))
		if err != nil {
			return "", fmt.Errorf("output dir probe: %w", err)
		}
		if strings.TrimSpace(res.Stdout) == "yes" {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no build output directory found")
}

// deployZip packages the bundle inside the sandbox, pulls the archive
// out, and uploads it, retrying transient transport failures.
func (p *Pipeline) deployZip(ctx context.Context, projectID uint, sandboxID, appName, outputDir string) (string, error) {
	res, err := p.client.Exec(ctx, sandboxID,
		fmt.Sprintf("cd /workspace/%s && rm -f /tmp/app.zip && zip -qr /tmp/app.zip .", outputDir))
	if err != nil {
		return "", fmt.Errorf("zip exec: %w", err)
	}
	if !res.Ok() {
		return "", fmt.Errorf("zip exited %d: %s", res.ExitCode, firstLine(res.Stderr))
	}

	zipData, err := p.client.ReadFile(ctx, sandboxID, "/tmp/app.zip")
	if err != nil {
		return "", fmt.Errorf("read archive: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxUploadRetries; attempt++ {
		url, err := p.uploader.UploadZip(ctx, projectID, appName, zipData)
		if err == nil {
			return url, nil
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
		logging.L().Warn("zip upload attempt failed",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return "", lastErr
}

// deployDirect reads the bundle file by file and posts it as JSON.
func (p *Pipeline) deployDirect(ctx context.Context, projectID uint, sandboxID, appName, outputDir string) (string, error) {
	res, err := p.client.Exec(ctx, sandboxID,
		fmt.Sprintf("cd /workspace/%s && find . -type f | sed 's|^\\./||'", outputDir))
	if err != nil {
		return "", fmt.Errorf("list bundle: %w", err)
	}
	if !res.Ok() {
		return "", fmt.Errorf("list bundle exited %d", res.ExitCode)
	}

	var files []DirectFile
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		relPath := strings.TrimSpace(line)
		if relPath == "" {
			continue
		}
		data, err := p.client.ReadFile(ctx, sandboxID, outputDir+"/"+relPath)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", relPath, err)
		}
		files = append(files, DirectFile{
			Path:     relPath,
			Content:  base64.StdEncoding.EncodeToString(data),
			Encoding: "base64",
		})
	}
	if len(files) == 0 {
		return "", fmt.Errorf("bundle directory %s is empty", outputDir)
	}

	return p.uploader.UploadFiles(ctx, projectID, appName, files)
}
