// Package httpx exposes the coordinator API: project registration, deploy
// requests, log retrieval and the live log stream.
package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parkerv/shipyard/internal/domain"
	"github.com/parkerv/shipyard/internal/repository"
	"github.com/parkerv/shipyard/internal/service/deploy"
	"github.com/parkerv/shipyard/internal/service/logs"
	"github.com/parkerv/shipyard/internal/service/project"
	"github.com/parkerv/shipyard/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	project  project.Service
	deploy   deploy.Service
	logs     logs.Service
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error
	wsBuffer int

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitWrite     = 60
	rateLimitRead      = 120
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies. wsBuffer sizes each
// websocket subscriber's send queue; zero picks the default.
func NewRouter(logger *slog.Logger, projectSvc project.Service, deploySvc deploy.Service, logSvc logs.Service, limiter RateLimiter, dbHealth func(context.Context) error, wsBuffer int) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		project: projectSvc,
		deploy:  deploySvc,
		logs:    logSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
		wsBuffer: wsBuffer,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/project", r.audit(r.withRateLimit("project", rateLimitWrite, rateWindowDefault, r.handleCreateProject)))
	r.mux.HandleFunc("/deploy", r.audit(r.withRateLimit("deploy", rateLimitWrite, rateWindowDefault, r.handleDeploy)))
	r.mux.HandleFunc("/deployments/", r.audit(r.withRateLimit("deployments", rateLimitRead, rateWindowDefault, r.handleDeployments)))
	r.mux.HandleFunc("/delete/", r.audit(r.withRateLimit("delete", rateLimitWrite, rateWindowDefault, r.handleDelete)))
	r.mux.HandleFunc("/logs/", r.audit(r.withRateLimit("logs", rateLimitRead, rateWindowDefault, r.handleLogs)))
	r.mux.HandleFunc("/ws/logs", r.audit(r.withRateLimit("ws_logs", rateLimitWebsocket, rateWindowRealtime, r.handleLogsWS)))
}

type projectJSON struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	GitURL       string  `json:"gitUrl"`
	Subdomain    string  `json:"subdomain"`
	CustomDomain *string `json:"customDomain,omitempty"`
	OwnerID      string  `json:"userId"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt"`
}

func toProjectJSON(p domain.Project) projectJSON {
	return projectJSON{
		ID:           p.ID,
		Name:         p.Name,
		GitURL:       p.GitURL,
		Subdomain:    p.Subdomain,
		CustomDomain: p.CustomDomain,
		OwnerID:      p.OwnerID,
		Status:       p.Status,
		CreatedAt:    p.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

type logEventJSON struct {
	EventID      string `json:"event_id"`
	DeploymentID string `json:"deployment_id"`
	Log          string `json:"log"`
	Timestamp    string `json:"timestamp"`
}

func toLogEventJSON(e domain.LogEvent) logEventJSON {
	return logEventJSON{
		EventID:      e.EventID,
		DeploymentID: e.DeploymentID,
		Log:          e.Log,
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func (r *Router) handleCreateProject(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Name         string `json:"name"`
		GitURL       string `json:"gitUrl"`
		CustomDomain string `json:"customDomain"`
		UserID       string `json:"userId"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	proj, err := r.project.Create(req.Context(), project.CreateInput{
		Name:         payload.Name,
		GitURL:       payload.GitURL,
		CustomDomain: payload.CustomDomain,
		OwnerID:      payload.UserID,
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, project.ErrSubdomainExhausted) || errors.Is(err, repository.ErrDomainTaken) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"status": "success",
		"data":   map[string]any{"project": toProjectJSON(*proj)},
	})
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		ProjectID string `json:"projectId"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	deployment, err := r.deploy.Request(req.Context(), payload.ProjectID)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, repository.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "queued",
		"deployment": deployment,
		"url":        deployment.URL,
	})
}

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	userID := strings.TrimPrefix(req.URL.Path, "/deployments/")
	if userID == "" || strings.Contains(userID, "/") {
		r.notFound(w)
		return
	}
	projects, err := r.project.ListByOwner(req.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items := make([]projectJSON, 0, len(projects))
	for _, p := range projects {
		items = append(items, toProjectJSON(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": items})
}

func (r *Router) handleDelete(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	projectID := strings.TrimPrefix(req.URL.Path, "/delete/")
	if projectID == "" || strings.Contains(projectID, "/") {
		r.notFound(w)
		return
	}
	userID := req.URL.Query().Get("userId")
	result, err := r.deploy.Delete(req.Context(), projectID, userID)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, repository.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, deploy.ErrForbidden):
			status = http.StatusForbidden
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "deleted",
		"data":   result,
	})
}

func (r *Router) handleLogs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	deploymentID := strings.TrimPrefix(req.URL.Path, "/logs/")
	if deploymentID == "" || strings.Contains(deploymentID, "/") {
		r.notFound(w)
		return
	}
	events, err := r.logs.List(req.Context(), deploymentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	items := make([]logEventJSON, 0, len(events))
	for _, e := range events {
		items = append(items, toLogEventJSON(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": items})
}

func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	deploymentID := req.URL.Query().Get("deploymentId")
	if deploymentID == "" {
		writeError(w, http.StatusBadRequest, "deploymentId query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger, r.wsBuffer)
	r.logs.Hub().Register(deploymentID, client)
	go func() {
		defer func() {
			r.logs.Hub().Unregister(deploymentID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), status, duration)
	}
}

// routeLabel collapses path parameters so metrics stay low-cardinality.
func routeLabel(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "/"
	}
	return "/" + parts[0]
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
