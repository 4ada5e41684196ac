// Package pypi implements the PypiClient capability trait: a minimal
// package-index HTTP client with the spec's offline/online contract
// (§4.2) and a FakeClient for tests, mirroring the teacher's
// cas/fetcher.go typed-client-over-http.Client shape.
package pypi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pxtool/px/internal/pxlog"
)

var log = pxlog.New("pypi")

// File describes one distribution file in a project's JSON index page.
type File struct {
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	SHA256      string `json:"sha256"`
	Size        int64  `json:"size"`
	PythonTag   string `json:"python_tag"`
	ABITag      string `json:"abi_tag"`
	PlatformTag string `json:"platform_tag"`
	PackageType string `json:"package_type"` // "bdist_wheel" or "sdist"
}

// Client fetches package file listings from a package index.
type Client interface {
	// ListFiles returns every distribution file published for name==version.
	ListFiles(ctx context.Context, name, version string) ([]File, error)
	// Download fetches the raw bytes at url.
	Download(ctx context.Context, url string) ([]byte, error)
}

// ErrOffline is returned when a remote call is attempted while the
// offline/online contract forbids it (spec §4.2).
var ErrOffline = fmt.Errorf("pypi: network access forbidden in offline mode")

const (
	maxAttempts = 3
	backoffUnit = 150 * time.Millisecond
)

// HTTPClient implements Client against a real package index (PyPI's JSON
// API by default), honoring the spec's retry/backoff and offline rules.
type HTTPClient struct {
	BaseURL string // e.g. https://pypi.org/pypi
	HTTP    *http.Client
	Online  bool
}

// NewHTTPClient constructs a client; baseURL defaults to pypi.org's JSON API.
func NewHTTPClient(baseURL string, online bool) *HTTPClient {
	if baseURL == "" {
		baseURL = "https://pypi.org/pypi"
	}
	return &HTTPClient{BaseURL: baseURL, HTTP: &http.Client{Timeout: 60 * time.Second}, Online: online}
}

type projectResponse struct {
	Releases map[string][]struct {
		Filename string `json:"filename"`
		URL      string `json:"url"`
		Digests  struct {
			SHA256 string `json:"sha256"`
		} `json:"digests"`
		Size        int64  `json:"size"`
		PythonTag   string `json:"python_version"`
		PackageType string `json:"packagetype"`
	} `json:"releases"`
}

func (c *HTTPClient) ListFiles(ctx context.Context, name, version string) ([]File, error) {
	if !c.Online {
		return nil, ErrOffline
	}
	url := fmt.Sprintf("%s/%s/%s/json", c.BaseURL, name, version)
	body, err := c.getWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}
	var resp projectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("pypi: decode %s: %w", url, err)
	}
	entries := resp.Releases[version]
	files := make([]File, 0, len(entries))
	for _, e := range entries {
		f := File{
			Filename:    e.Filename,
			URL:         e.URL,
			SHA256:      e.Digests.SHA256,
			Size:        e.Size,
			PackageType: e.PackageType,
		}
		f.PythonTag, f.ABITag, f.PlatformTag = splitWheelTags(e.Filename)
		files = append(files, f)
	}
	return files, nil
}

func (c *HTTPClient) Download(ctx context.Context, url string) ([]byte, error) {
	if !c.Online {
		return nil, ErrOffline
	}
	return c.getWithRetry(ctx, url)
}

// getWithRetry applies the spec's up-to-3-attempt, 150ms*attempt backoff
// contract; a 404 is terminal and never retried.
func (c *HTTPClient) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			lastErr = err
			log.Printf("attempt %d/%d failed for %s: %v", attempt, maxAttempts, url, err)
			time.Sleep(time.Duration(attempt) * backoffUnit)
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("pypi: %s: %d not found", url, resp.StatusCode)
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("pypi: %s: server error %d", url, resp.StatusCode)
			log.Printf("attempt %d/%d got %d for %s", attempt, maxAttempts, resp.StatusCode, url)
			time.Sleep(time.Duration(attempt) * backoffUnit)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("pypi: %s: client error %d", url, resp.StatusCode)
		}
		if readErr != nil {
			lastErr = readErr
			time.Sleep(time.Duration(attempt) * backoffUnit)
			continue
		}
		return body, nil
	}
	return nil, fmt.Errorf("pypi: %s: exhausted %d attempts: %w", url, maxAttempts, lastErr)
}

// splitWheelTags extracts (python, abi, platform) from a wheel filename
// of the form name-version-pytag-abitag-platformtag.whl; sdists and
// malformed names return empty tags.
func splitWheelTags(filename string) (pyTag, abiTag, platformTag string) {
	const suffix = ".whl"
	if len(filename) < len(suffix) || filename[len(filename)-len(suffix):] != suffix {
		return "", "", ""
	}
	trimmed := filename[:len(filename)-len(suffix)]
	parts := splitLastN(trimmed, '-', 3)
	if len(parts) != 3 {
		return "", "", ""
	}
	return parts[0], parts[1], parts[2]
}

func splitLastN(s string, sep byte, n int) []string {
	var fields []string
	start := len(s)
	for i := len(s) - 1; i >= 0 && len(fields) < n; i-- {
		if s[i] == sep {
			fields = append([]string{s[i+1 : start]}, fields...)
			start = i
		}
	}
	if len(fields) < n {
		return nil
	}
	return fields
}

// FakeClient is an in-memory Client for tests (spec §9: "Interfaces over
// inheritance... inject small capability traits so tests can substitute
// in-memory fakes without touching disk or the network").
type FakeClient struct {
	Files     map[string][]File // key: "name==version"
	Blobs     map[string][]byte // key: url
	CallCount int
}

func NewFakeClient() *FakeClient {
	return &FakeClient{Files: make(map[string][]File), Blobs: make(map[string][]byte)}
}

func (f *FakeClient) ListFiles(_ context.Context, name, version string) ([]File, error) {
	f.CallCount++
	files, ok := f.Files[name+"=="+version]
	if !ok {
		return nil, fmt.Errorf("pypi: %s==%s: 404 not found", name, version)
	}
	return files, nil
}

func (f *FakeClient) Download(_ context.Context, url string) ([]byte, error) {
	blob, ok := f.Blobs[url]
	if !ok {
		return nil, fmt.Errorf("pypi: %s: 404 not found", url)
	}
	return blob, nil
}

// AddFile registers a distribution file in the fake index.
func (f *FakeClient) AddFile(name, version string, file File, payload []byte) {
	key := name + "==" + version
	f.Files[key] = append(f.Files[key], file)
	f.Blobs[file.URL] = payload
}

// FormatSize is a small helper kept for log messages; parallels the
// teacher's fetcher.go logging of transferred byte counts.
func FormatSize(n int64) string {
	return strconv.FormatInt(n, 10) + "B"
}
