package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Hollayemi/shp-sub005/internal/config"
)

const uploadTimeout = 120 * time.Second

// DirectFile is one file in a direct (unzipped) upload.
type DirectFile struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// Uploader talks to the external static-hosting endpoint.
type Uploader struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewUploader(cfg config.DeployConfig) *Uploader {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = uploadTimeout
	}
	return &Uploader{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// UploadZip posts a zipped site bundle and returns the published URL.
func (u *Uploader) UploadZip(ctx context.Context, projectID uint, name string, zipData []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("projectId", strconv.FormatUint(uint64(projectID), 10)); err != nil {
		return "", err
	}
	if err := mw.WriteField("name", name); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("app", "app.zip")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(zipData); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/api/deploy", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return u.do(req)
}

// UploadFiles posts raw files as JSON, bypassing zip packaging.
func (u *Uploader) UploadFiles(ctx context.Context, projectID uint, name string, files []DirectFile) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"projectId": projectID,
		"name":      name,
		"files":     files,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/api/deploy/direct", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	return u.do(req)
}

func (u *Uploader) do(req *http.Request) (string, error) {
	if u.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+u.apiKey)
	}

	resp, err := u.http.Do(req)
	if err != nil {
		// Only the connection-level error class earns the transient
		// wrap; DNS, TLS, and config errors surface as-is so the
		// pipeline does not retry them.
		if isTransient(err) {
			return "", &TransientError{Cause: err}
		}
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if isTransient(err) {
			return "", &TransientError{Cause: err}
		}
		return "", err
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", &TransientError{Cause: fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, firstLine(string(body)))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("deploy rejected (%d): %s", resp.StatusCode, apiErrorMessage(body))
	}

	return ParseDeployResponse(body)
}

// apiErrorMessage pulls {error} or {message} out of an error body,
// falling back to the raw text.
func apiErrorMessage(body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return firstLine(string(body))
}

// ParseDeployResponse extracts the published URL from an endpoint
// response. Endpoints behind misconfigured proxies sometimes answer
// with HTML landing pages and a 200, so HTML bodies and asset or
// vendor-homepage URLs are all rejected.
func ParseDeployResponse(body []byte) (string, error) {
	trimmed := strings.TrimSpace(string(body))
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html") {
		return "", fmt.Errorf("endpoint returned HTML instead of a deployment result")
	}

	var parsed struct {
		URL           string `json:"url"`
		DeploymentURL string `json:"deploymentUrl"`
		Link          string `json:"link"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("unparseable deploy response: %s", firstLine(trimmed))
	}

	for _, candidate := range []string{parsed.URL, parsed.DeploymentURL, parsed.Link} {
		if candidate == "" {
			continue
		}
		if err := validateDeployURL(candidate); err != nil {
			return "", err
		}
		return candidate, nil
	}
	return "", fmt.Errorf("deploy response carried no URL")
}

var assetExtensions = []string{".js", ".css", ".map", ".png", ".jpg", ".svg", ".ico", ".woff", ".woff2"}

var vendorHosts = []string{
	"www.netlify.com",
	"netlify.com",
	"www.vercel.com",
	"vercel.com",
}

func validateDeployURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("deploy response URL is malformed: %q", raw)
	}
	lowerPath := strings.ToLower(parsed.Path)
	for _, ext := range assetExtensions {
		if strings.HasSuffix(lowerPath, ext) {
			return fmt.Errorf("deploy response URL points at a static asset: %q", raw)
		}
	}
	host := strings.ToLower(parsed.Host)
	for _, vendor := range vendorHosts {
		if host == vendor {
			return fmt.Errorf("deploy response URL is a vendor landing page: %q", raw)
		}
	}
	return nil
}
