// Package versionfetch retrieves the version marker file of a repository ref
// from a raw-content host.
package versionfetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/helix-pages/preflight/internal/constants"
)

// maxMarkerBytes bounds how much of the marker body is read. Version strings
// are a handful of bytes, anything larger is misconfiguration upstream.
const maxMarkerBytes = 1 << 16

// Config holds the fetch-client configuration.
//
// It is passed in at construction time so process-wide behavior like protocol
// selection never lives in ambient global state.
type Config struct {
	Timeout      time.Duration
	DisableHTTP2 bool
	UserAgent    string
}

// FetchError reports a failure response, other than a 404, from the raw-content host.
type FetchError struct {
	StatusCode int
	Body       string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching version marker: %s", e.StatusCode, e.Body)
}

// Fetcher retrieves version markers over HTTP.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// New creates a Fetcher from the given configuration.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultFetchTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.DisableHTTP2 {
		// An empty TLSNextProto map disables HTTP/2 on the transport.
		transport.ForceAttemptHTTP2 = false
		transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}

	return &Fetcher{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		userAgent: cfg.UserAgent,
	}
}

// BuildURL returns the marker URL for owner/repo/ref under root, collapsing
// any run of consecutive slashes in the path.
func BuildURL(root, owner, repo, ref string) (string, error) {
	u, err := url.Parse(root)
	if err != nil {
		return "", fmt.Errorf("parsing repo root %q: %w", root, err)
	}

	joined := strings.Join([]string{u.Path, owner, repo, ref, constants.VersionMarkerFile}, "/")
	u.Path = "/" + strings.TrimPrefix(collapseSlashes(joined), "/")

	return u.String(), nil
}

// Version fetches the version marker for owner/repo/ref under root and
// returns its trimmed content.
//
// A missing marker (404) is not an error and yields an empty version string.
// No retry is attempted on any failure.
func (f *Fetcher) Version(ctx context.Context, owner, repo, ref, root string) (string, error) {
	target, err := BuildURL(root, owner, repo, ref)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("creating request for %s: %w", target, err)
	}
	// Bypass intermediate caches so the marker is always read fresh.
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Drain the body so the keep-alive connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxMarkerBytes))
		return "", nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMarkerBytes))
	if err != nil {
		return "", fmt.Errorf("reading version marker body: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &FetchError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return strings.TrimSpace(string(body)), nil
}

func collapseSlashes(p string) string {
	var b strings.Builder
	b.Grow(len(p))

	prevSlash := false
	for _, r := range p {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
