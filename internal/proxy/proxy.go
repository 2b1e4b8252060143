// Package proxy serves built sites: it maps the request host to a project
// and reverse-proxies into that project's artifact prefix in object storage.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/parkerv/shipyard/internal/domain"
	"github.com/parkerv/shipyard/internal/repository"
)

// ProjectResolver looks up the project a host serves.
// repository.ProjectRepository satisfies it.
type ProjectResolver interface {
	GetProjectBySubdomain(ctx context.Context, subdomain string) (*domain.Project, error)
	GetProjectByCustomDomain(ctx context.Context, host string) (*domain.Project, error)
}

type contextKey struct{ name string }

var projectKey = contextKey{"project"}

// Handler is the request-serving reverse proxy.
type Handler struct {
	resolver ProjectResolver
	base     *url.URL
	rp       *httputil.ReverseProxy
	logger   *slog.Logger

	requestTotal *prometheus.CounterVec
}

// New builds a Handler proxying into storageBaseURL, the bucket path that
// holds every project's artifact prefix.
func New(resolver ProjectResolver, storageBaseURL string, logger *slog.Logger) (*Handler, error) {
	base, err := url.Parse(storageBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse storage base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("storage base URL must be absolute: %q", storageBaseURL)
	}

	h := &Handler{resolver: resolver, base: base, logger: logger}
	h.rp = &httputil.ReverseProxy{
		Rewrite:      h.rewrite,
		ErrorHandler: h.proxyError,
	}
	h.initMetrics()
	return h, nil
}

// ServeHTTP resolves the host and forwards into the matching artifact prefix.
// A host that resolves to no project gets a JSON 404; the proxy never exposes
// the storage layout to guessing.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	host := stripPort(req.Host)

	project, err := h.resolve(req.Context(), host)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.record(host, http.StatusNotFound, start)
			writeJSONError(w, http.StatusNotFound, "no deployment for this host")
			return
		}
		h.logger.Error("host resolution failed", "host", host, "error", err)
		h.record(host, http.StatusBadGateway, start)
		writeJSONError(w, http.StatusBadGateway, "upstream lookup failed")
		return
	}

	ctx := context.WithValue(req.Context(), projectKey, project)
	recorder := &statusRecorder{ResponseWriter: w}
	h.rp.ServeHTTP(recorder, req.WithContext(ctx))
	status := recorder.status
	if status == 0 {
		status = http.StatusOK
	}
	h.record(project.Subdomain, status, start)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// resolve tries the full host as a custom domain first, then falls back to
// the first DNS label as a generated subdomain.
func (h *Handler) resolve(ctx context.Context, host string) (*domain.Project, error) {
	if host == "" {
		return nil, repository.ErrNotFound
	}
	project, err := h.resolver.GetProjectByCustomDomain(ctx, host)
	if err == nil {
		return project, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	label, _, _ := strings.Cut(host, ".")
	if label == "" {
		return nil, repository.ErrNotFound
	}
	return h.resolver.GetProjectBySubdomain(ctx, label)
}

func (h *Handler) rewrite(pr *httputil.ProxyRequest) {
	project, _ := pr.In.Context().Value(projectKey).(*domain.Project)
	if project == nil {
		return
	}
	path := pr.In.URL.Path
	if path == "/" || path == "" {
		path = "/index.html"
	}
	target := *h.base
	target.Path = strings.TrimSuffix(h.base.Path, "/") + "/" + project.ID + path
	target.RawQuery = pr.In.URL.RawQuery
	pr.Out.URL = &target
	pr.Out.Host = target.Host
	pr.SetXForwarded()
}

func (h *Handler) proxyError(w http.ResponseWriter, req *http.Request, err error) {
	h.logger.Error("storage fetch failed", "host", req.Host, "path", req.URL.Path, "error", err)
	writeJSONError(w, http.StatusBadGateway, "could not reach artifact storage")
}

func (h *Handler) initMetrics() {
	h.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shipyard",
		Subsystem: "proxy",
		Name:      "requests_total",
		Help:      "Count of proxied requests",
	}, []string{"status"})
	if err := prometheus.Register(h.requestTotal); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if v, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				h.requestTotal = v
			}
		}
	}
}

func (h *Handler) record(host string, status int, start time.Time) {
	h.requestTotal.With(prometheus.Labels{"status": fmt.Sprintf("%d", status)}).Inc()
	h.logger.Info("proxy_request",
		"host", host,
		"status", status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":%q}`, msg)
}
