package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Hollayemi/shp-sub005/internal/logging"
	"github.com/Hollayemi/shp-sub005/internal/provider"
	"github.com/Hollayemi/shp-sub005/pkg/models"

	"go.uber.org/zap"
)

// DevServerPort is the container port the dev server must listen on; the
// tunnel for this port is the project's preview URL.
const DevServerPort = 5173

// TunnelDomainSuffix is the platform's tunnel domain. Patched dev-server
// configs must allow it as a host.
const TunnelDomainSuffix = ".preview.shipyard.app"

// allowedHostEntries are written into a patched allowed-hosts list: the
// tunnel domain plus known aliases.
var allowedHostEntries = []string{
	TunnelDomainSuffix,
	".shipyard.app",
	"localhost",
}

// devConfigCandidates are checked in order; the first that exists is
// patched. No candidate means no-op.
var devConfigCandidates = []string{
	"vite.config.ts",
	"vite.config.js",
	"vite.config.mjs",
}

// authClientCandidates locate the generated API client of a base44
// import; only that import source carries the legacy required-auth flag.
var authClientCandidates = []string{
	"src/api/base44Client.ts",
	"src/api/base44Client.js",
	"src/lib/base44.js",
}

var (
	serverBlockRe   = regexp.MustCompile(`server\s*:\s*\{`)
	allowedHostsRe  = regexp.MustCompile(`allowedHosts\s*:\s*(\[|true)`)
	hostDeclRe      = regexp.MustCompile(`host\s*:\s*(?:true|['"][^'"]*['"])`)
	portDeclRe      = regexp.MustCompile(`port\s*:\s*\d+`)
	defineConfigRe  = regexp.MustCompile(`defineConfig\s*\(\s*\{`)
	requiresAuthRe  = regexp.MustCompile(`requiresAuth\s*:\s*true`)
	requiresAuthAny = regexp.MustCompile(`requiresAuth\s*:`)
)

// ConfigPatcher idempotently rewrites generated config files so imported
// projects work inside the sandbox network. Strictly best-effort: every
// failure is logged and swallowed, because a dev server without these
// patches still beats aborting sandbox setup.
type ConfigPatcher struct {
	client provider.Client
}

// NewConfigPatcher wraps a provider client.
func NewConfigPatcher(client provider.Client) *ConfigPatcher {
	return &ConfigPatcher{client: client}
}

// Apply runs both patch passes for an imported project. Native projects
// (ImportSourceNone) are left untouched.
func (p *ConfigPatcher) Apply(ctx context.Context, sandboxID string, source models.ImportSource) {
	if source == models.ImportSourceNone {
		return
	}
	p.patchFile(ctx, sandboxID, devConfigCandidates, PatchDevServerConfig, "dev-server config")
	if source == models.ImportSourceBase44 {
		p.patchFile(ctx, sandboxID, authClientCandidates, PatchAuthClient, "auth client")
	}
}

func (p *ConfigPatcher) patchFile(ctx context.Context, sandboxID string, candidates []string, transform func(string) (string, bool), what string) {
	for _, candidate := range candidates {
		raw, err := p.client.ReadFile(ctx, sandboxID, candidate)
		if errors.Is(err, provider.ErrNotFound) {
			continue
		}
		if err != nil {
			logging.L().Warn("config patch read failed",
				zap.String("file", candidate), zap.Error(err))
			return
		}

		patched, changed := transform(string(raw))
		if !changed {
			return
		}
		if err := p.client.WriteFile(ctx, sandboxID, candidate, []byte(patched)); err != nil {
			logging.L().Warn("config patch write failed",
				zap.String("file", candidate), zap.Error(err))
			return
		}
		logging.L().Info("patched "+what, zap.String("file", candidate))
		return
	}
}

// PatchDevServerConfig rewrites a vite-style config so the dev server is
// reachable through the tunnel: allowed hosts include the tunnel domain,
// the server binds all interfaces, and the port matches the tunnel port.
// A file already satisfying all three conditions is returned unchanged.
func PatchDevServerConfig(content string) (string, bool) {
	if HasAllowedHosts(content) && HasBindAllHost(content) && HasExpectedPort(content) {
		return content, false
	}

	out := content
	changed := false

	if !serverBlockRe.MatchString(out) {
		// No server block at all: create one with everything needed.
		if loc := defineConfigRe.FindStringIndex(out); loc != nil {
			block := fmt.Sprintf("\n  server: {\n    host: '0.0.0.0',\n    port: %d,\n    allowedHosts: [%s],\n  },",
				DevServerPort, quotedHostList())
			out = out[:loc[1]] + block + out[loc[1]:]
			return out, true
		}
		// Not a config shape we understand; leave it alone.
		return content, false
	}

	if !HasAllowedHosts(out) {
		if m := allowedHostsRe.FindStringIndex(out); m != nil && strings.HasSuffix(out[m[0]:m[1]], "[") {
			// List exists but lacks our entries: widen it.
			out = out[:m[1]] + quotedHostList() + ", " + out[m[1]:]
		} else {
			out = insertIntoServerBlock(out, fmt.Sprintf("allowedHosts: [%s],", quotedHostList()))
		}
		changed = true
	}

	if !HasBindAllHost(out) {
		if hostDeclRe.MatchString(out) {
			out = hostDeclRe.ReplaceAllString(out, "host: '0.0.0.0'")
		} else {
			out = insertIntoServerBlock(out, "host: '0.0.0.0',")
		}
		changed = true
	}

	if !HasExpectedPort(out) {
		if portDeclRe.MatchString(out) {
			out = portDeclRe.ReplaceAllString(out, fmt.Sprintf("port: %d", DevServerPort))
		} else {
			out = insertIntoServerBlock(out, fmt.Sprintf("port: %d,", DevServerPort))
		}
		changed = true
	}

	return out, changed
}

// HasAllowedHosts reports whether the config already allows the tunnel
// domain (explicit entry or the `allowedHosts: true` wildcard).
func HasAllowedHosts(content string) bool {
	if regexp.MustCompile(`allowedHosts\s*:\s*true`).MatchString(content) {
		return true
	}
	return allowedHostsRe.MatchString(content) && strings.Contains(content, TunnelDomainSuffix)
}

// HasBindAllHost reports whether the server binds all interfaces.
func HasBindAllHost(content string) bool {
	return regexp.MustCompile(`host\s*:\s*(?:true|['"]0\.0\.0\.0['"])`).MatchString(content)
}

// HasExpectedPort reports whether the listening port matches the tunnel.
func HasExpectedPort(content string) bool {
	return regexp.MustCompile(fmt.Sprintf(`port\s*:\s*%d\b`, DevServerPort)).MatchString(content)
}

// PatchAuthClient flips a legacy `requiresAuth: true` flag to false. If
// the flag is absent but a client-construction call exists, the file is
// ambiguous and left as-is rather than guessed at.
func PatchAuthClient(content string) (string, bool) {
	if requiresAuthRe.MatchString(content) {
		return requiresAuthRe.ReplaceAllString(content, "requiresAuth: false"), true
	}
	return content, false
}

// HasAuthClientCall reports whether the file constructs a client without
// declaring the flag either way.
func HasAuthClientCall(content string) bool {
	return !requiresAuthAny.MatchString(content) && strings.Contains(content, "createClient(")
}

func insertIntoServerBlock(content, decl string) string {
	loc := serverBlockRe.FindStringIndex(content)
	if loc == nil {
		return content
	}
	return content[:loc[1]] + "\n    " + decl + content[loc[1]:]
}

func quotedHostList() string {
	quoted := make([]string, len(allowedHostEntries))
	for i, h := range allowedHostEntries {
		quoted[i] = "'" + h + "'"
	}
	return strings.Join(quoted, ", ")
}
