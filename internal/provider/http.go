package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Hollayemi/shp-sub005/internal/config"
)

// HTTPClient talks to a sandbox-provider control plane over its REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient constructs a provider client from configuration.
func NewHTTPClient(cfg config.ProviderConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type sandboxResponse struct {
	ID        string            `json:"id"`
	WorkDir   string            `json:"workdir"`
	Tunnels   map[string]string `json:"tunnels"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

func (r *sandboxResponse) toHandle() *Handle {
	tunnels := make(map[int]string, len(r.Tunnels))
	for port, url := range r.Tunnels {
		if p, err := strconv.Atoi(port); err == nil {
			tunnels[p] = url
		}
	}
	return &Handle{
		ID:        r.ID,
		WorkDir:   r.WorkDir,
		Tunnels:   tunnels,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
}

func (c *HTTPClient) Create(ctx context.Context, opts CreateOptions) (*Handle, error) {
	payload := map[string]interface{}{
		"image":            opts.Image,
		"cpu":              opts.CPU,
		"memory_mb":        opts.MemoryMB,
		"idle_timeout_sec": int(opts.IdleTimeout.Seconds()),
		"max_lifetime_sec": int(opts.MaxLifetime.Seconds()),
		"ports":            opts.Ports,
		"env":              opts.Env,
	}
	var resp sandboxResponse
	if err := c.do(ctx, "POST", "/v1/sandboxes", payload, &resp); err != nil {
		return nil, err
	}
	return resp.toHandle(), nil
}

func (c *HTTPClient) Connect(ctx context.Context, sandboxID string) (*Handle, error) {
	var resp sandboxResponse
	if err := c.do(ctx, "GET", "/v1/sandboxes/"+sandboxID, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toHandle(), nil
}

func (c *HTTPClient) Terminate(ctx context.Context, sandboxID string) error {
	err := c.do(ctx, "DELETE", "/v1/sandboxes/"+sandboxID, nil, nil)
	if err == ErrNotFound {
		return nil
	}
	return err
}

func (c *HTTPClient) Exec(ctx context.Context, sandboxID, command string) (*ExecResult, error) {
	payload := map[string]interface{}{"command": command}
	var resp struct {
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exit_code"`
	}
	if err := c.do(ctx, "POST", "/v1/sandboxes/"+sandboxID+"/exec", payload, &resp); err != nil {
		return nil, err
	}
	return &ExecResult{Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}, nil
}

func (c *HTTPClient) ReadFile(ctx context.Context, sandboxID, path string) ([]byte, error) {
	payload := map[string]interface{}{"path": path}
	var resp struct {
		Content string `json:"content"` // base64
	}
	if err := c.do(ctx, "POST", "/v1/sandboxes/"+sandboxID+"/files/read", payload, &resp); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("decode file content: %w", err)
	}
	return data, nil
}

func (c *HTTPClient) WriteFile(ctx context.Context, sandboxID, path string, data []byte) error {
	payload := map[string]interface{}{
		"path":    path,
		"content": base64.StdEncoding.EncodeToString(data),
	}
	return c.do(ctx, "POST", "/v1/sandboxes/"+sandboxID+"/files/write", payload, nil)
}

func (c *HTTPClient) MakeDirs(ctx context.Context, sandboxID string, paths []string) error {
	payload := map[string]interface{}{"paths": paths}
	return c.do(ctx, "POST", "/v1/sandboxes/"+sandboxID+"/files/mkdirs", payload, nil)
}

func (c *HTTPClient) Tunnels(ctx context.Context, sandboxID string) (map[int]string, error) {
	var resp struct {
		Tunnels map[string]string `json:"tunnels"`
	}
	if err := c.do(ctx, "GET", "/v1/sandboxes/"+sandboxID+"/tunnels", nil, &resp); err != nil {
		return nil, err
	}
	tunnels := make(map[int]string, len(resp.Tunnels))
	for port, url := range resp.Tunnels {
		if p, err := strconv.Atoi(port); err == nil {
			tunnels[p] = url
		}
	}
	return tunnels, nil
}

func (c *HTTPClient) Snapshot(ctx context.Context, sandboxID, tag string) (string, error) {
	payload := map[string]interface{}{"tag": tag}
	var resp struct {
		ImageID string `json:"image_id"`
	}
	if err := c.do(ctx, "POST", "/v1/sandboxes/"+sandboxID+"/snapshot", payload, &resp); err != nil {
		return "", err
	}
	return resp.ImageID, nil
}

func (c *HTTPClient) DeleteImage(ctx context.Context, imageID string) error {
	err := c.do(ctx, "DELETE", "/v1/images/"+imageID, nil, nil)
	if err == ErrNotFound {
		return nil
	}
	return err
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("provider error (%d): %s", resp.StatusCode, errResp.Error)
		}
		if errResp.Message != "" {
			return fmt.Errorf("provider error (%d): %s", resp.StatusCode, errResp.Message)
		}
		return fmt.Errorf("provider error (%d): %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
