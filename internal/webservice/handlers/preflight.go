// Package handlers provides HTTP handlers for the server.
package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/helix-pages/preflight/internal/constants"
	"github.com/helix-pages/preflight/internal/webservice/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Header names carrying the preflight request parameters.
const (
	HeaderOwner    = "X-Owner"
	HeaderRepo     = "X-Repo"
	HeaderRef      = "X-Ref"
	HeaderRepoRoot = "X-Repo-Root-Path"
)

// CacheControlNoStore is sent on every preflight response so no cache between
// the service and the client holds on to it.
const CacheControlNoStore = "no-store, private, must-revalidate"

const (
	bodyMissingFields = "owner, repo, ref required."
	bodyNoVersion     = "no version"
	bodyFetchFailed   = "unable to fetch version"
)

// ConfigProvider is an interface that defines the configuration access methods used by the handlers.
type ConfigProvider interface {
	DefaultRoot() string       // DefaultRoot returns the configured raw-content root override, or empty if unset.
	IsRootAllowed(string) bool // IsRootAllowed checks a request-supplied repo root against the configuration.
}

// VersionFetcher retrieves the version marker for a repository ref.
type VersionFetcher interface {
	Version(ctx context.Context, owner, repo, ref, root string) (string, error)
}

// Preflight is a handler answering version lookups for an owner/repo/ref triple.
type Preflight struct {
	config   ConfigProvider
	fetcher  VersionFetcher
	outcomes *prometheus.CounterVec
}

// NewPreflight creates a new Preflight handler.
func NewPreflight(cfg ConfigProvider, fetcher VersionFetcher, outcomes *prometheus.CounterVec) *Preflight {
	return &Preflight{
		config:   cfg,
		fetcher:  fetcher,
		outcomes: outcomes,
	}
}

// ServeHTTP handles incoming preflight version requests.
func (h *Preflight) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()

	owner := strings.TrimSpace(r.Header.Get(HeaderOwner))
	repo := strings.TrimSpace(r.Header.Get(HeaderRepo))
	ref := strings.TrimSpace(r.Header.Get(HeaderRef))
	root := strings.TrimSpace(r.Header.Get(HeaderRepoRoot))

	if owner == "" || repo == "" || ref == "" {
		slog.Info("Rejecting preflight request with missing fields", "req_id", reqID)
		h.outcomes.WithLabelValues(metrics.OutcomeInvalid).Inc()
		w.Header().Set("Cache-Control", CacheControlNoStore)
		writeText(w, http.StatusBadRequest, bodyMissingFields)
		return
	}

	if root != "" && !h.config.IsRootAllowed(root) {
		slog.Error("Rejecting preflight request with forbidden repo root", "req_id", reqID, "root", root)
		h.outcomes.WithLabelValues(metrics.OutcomeForbiddenRoot).Inc()
		w.Header().Set("Cache-Control", CacheControlNoStore)
		writeText(w, http.StatusForbidden, "repo root not allowed.")
		return
	}

	if root == "" {
		root = h.config.DefaultRoot()
	}
	if root == "" {
		root = constants.DefaultRepoRoot
	}

	slog.Info("Request recv'd", "req_id", reqID, "owner", owner, "repo", repo, "ref", ref)

	version, err := h.fetcher.Version(r.Context(), owner, repo, ref, root)
	if err != nil {
		slog.Error("Failed to fetch version marker", "req_id", reqID, "owner", owner, "repo", repo, "ref", ref, "err", err)
		h.outcomes.WithLabelValues(metrics.OutcomeFetchError).Inc()
		w.Header().Set("Cache-Control", CacheControlNoStore)
		writeText(w, http.StatusGatewayTimeout, bodyFetchFailed)
		return
	}

	w.Header().Set("Cache-Control", CacheControlNoStore)
	w.Header().Set("Surrogate-Control", "max-age: 30")
	w.Header().Set("Surrogate-Key", fmt.Sprintf("preflight-%s--%s--%s", ref, repo, owner))
	w.Header().Set("Vary", "X-Owner,X-Repo,X-Ref,X-Repo-Root-Path")

	if version == "" {
		slog.Debug("No version marker found", "req_id", reqID, "owner", owner, "repo", repo, "ref", ref)
		h.outcomes.WithLabelValues(metrics.OutcomeNoVersion).Inc()
		writeText(w, http.StatusOK, bodyNoVersion)
		return
	}

	h.outcomes.WithLabelValues(metrics.OutcomeVersion).Inc()
	w.Header().Set("x-pages-version", version)
	writeText(w, http.StatusOK, version)
}

// writeText writes the body verbatim, without the trailing newline http.Error appends.
func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
