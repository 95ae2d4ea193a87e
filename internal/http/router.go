// Package httpx exposes the deployment API over HTTP.
package httpx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/outpostd/outpost/internal/domain"
	"github.com/outpostd/outpost/internal/service/dispatch"
	"github.com/outpostd/outpost/internal/service/identity"
	"github.com/outpostd/outpost/internal/service/ledger"
	"github.com/outpostd/outpost/internal/service/registry"
	"github.com/outpostd/outpost/internal/service/stats"
	"github.com/outpostd/outpost/internal/service/status"
	"github.com/outpostd/outpost/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	registry registry.Service
	dispatch dispatch.Service
	ledger   ledger.Service
	status   status.Service
	stats    stats.Service
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	dispatchTotal      *prometheus.CounterVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitDispatch  = 60
	rateLimitModules   = 120
	rateLimitQueries   = 240
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, registrySvc registry.Service, dispatchSvc dispatch.Service, ledgerSvc ledger.Service, statusSvc status.Service, statsSvc stats.Service, hub *ws.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		registry: registrySvc,
		dispatch: dispatchSvc,
		ledger:   ledgerSvc,
		status:   statusSvc,
		stats:    statsSvc,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
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
	r.mux.HandleFunc("/healthz", r.audit("healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/api/infra", r.audit("infra", r.withRateLimit("infra", rateLimitDispatch, rateWindowDefault, r.handleInfra)))
	r.mux.HandleFunc("/api/modules", r.audit("modules", r.withRateLimit("modules", rateLimitModules, rateWindowDefault, r.handleModules)))
	r.mux.HandleFunc("/api/status", r.audit("status", r.withRateLimit("status", rateLimitQueries, rateWindowDefault, r.handleStatus)))
	r.mux.HandleFunc("/api/statistics", r.audit("statistics", r.withRateLimit("statistics", rateLimitQueries, rateWindowDefault, r.handleStatistics)))
	r.mux.HandleFunc("/ws/deployments", r.audit("ws_deployments", r.withRateLimit("ws_deployments", rateLimitWebsocket, rateWindowRealtime, r.handleDeploymentsWS)))
}

func (r *Router) handleInfra(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload domain.DeploymentRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Module == "" || payload.Name == "" {
		writeError(w, http.StatusBadRequest, "module and name are required")
		return
	}
	result, err := r.dispatch.Dispatch(req.Context(), payload)
	if err != nil {
		r.recordDispatch(string(payload.Event), "error")
		var dispatchErr *dispatch.DispatchError
		switch {
		case errors.Is(err, dispatch.ErrInvalidEvent):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, identity.ErrDeploymentNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, registry.ErrModuleNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.As(err, &dispatchErr):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	r.recordDispatch(string(payload.Event), "dispatched")
	writeJSON(w, http.StatusAccepted, result)
}

func (r *Router) handleModules(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Event       string          `json:"event"`
		Manifest    json.RawMessage `json:"manifest"`
		Module      string          `json:"module"`
		Environment string          `json:"environment"`
		Version     string          `json:"version"`
		Description string          `json:"description"`
		Reference   string          `json:"reference"`
		Force       bool            `json:"force"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch payload.Event {
	case "insert":
		raw, err := manifestBytes(payload.Manifest)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		manifest, err := r.registry.Insert(req.Context(), registry.InsertInput{
			Manifest:    raw,
			Environment: payload.Environment,
			Description: payload.Description,
			Reference:   payload.Reference,
			Force:       payload.Force,
		})
		if err != nil {
			switch {
			case errors.Is(err, registry.ErrInvalidManifest):
				writeError(w, http.StatusBadRequest, err.Error())
			case errors.Is(err, registry.ErrVersionConflict), errors.Is(err, registry.ErrStaleVersion):
				writeError(w, http.StatusConflict, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		writeJSON(w, http.StatusCreated, manifest)
	case "get_latest":
		if payload.Module == "" {
			writeError(w, http.StatusBadRequest, "module is required")
			return
		}
		manifest, err := r.registry.Latest(req.Context(), payload.Module, payload.Environment)
		if err != nil {
			r.writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, manifest)
	case "get_module":
		if payload.Module == "" || payload.Version == "" {
			writeError(w, http.StatusBadRequest, "module and version are required")
			return
		}
		manifest, err := r.registry.Get(req.Context(), payload.Module, payload.Version)
		if err != nil {
			r.writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, manifest)
	case "list_latest":
		manifests, err := r.registry.ListLatest(req.Context(), payload.Environment)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, manifests)
	case "list_environments":
		environments, err := r.registry.ListEnvironments(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, environments)
	default:
		writeError(w, http.StatusBadRequest, "unknown event: "+payload.Event)
	}
}

func (r *Router) writeRegistryError(w http.ResponseWriter, err error) {
	if errors.Is(err, registry.ErrModuleNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// manifestBytes accepts the manifest either as a YAML document embedded
// in a JSON string or as an inline JSON object.
func manifestBytes(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errors.New("manifest is required")
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, errors.New("manifest must be a YAML string or JSON object")
		}
		return []byte(text), nil
	}
	return trimmed, nil
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Type         string `json:"type"`
		DeploymentID string `json:"deployment_id"`
		Status       string `json:"status"`
		NumEntries   int    `json:"num_entries"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch payload.Type {
	case "status":
		if payload.DeploymentID == "" {
			writeError(w, http.StatusBadRequest, "deployment_id is required")
			return
		}
		rows, err := r.status.Latest(req.Context(), payload.DeploymentID, payload.NumEntries)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rows)
	case "logs":
		if payload.DeploymentID == "" {
			writeError(w, http.StatusBadRequest, "deployment_id is required")
			return
		}
		output, err := r.status.Logs(req.Context(), payload.DeploymentID)
		if err != nil {
			if errors.Is(err, status.ErrNoJobLogs) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"deployment_id": payload.DeploymentID,
			"logs":          output,
		})
	case "by_status":
		if payload.Status == "" {
			writeError(w, http.StatusBadRequest, "status is required")
			return
		}
		rows, err := r.ledger.ByStatus(req.Context(), payload.Status)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rows)
	default:
		writeError(w, http.StatusBadRequest, "unknown type: "+payload.Type)
	}
}

func (r *Router) handleStatistics(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	deploymentID := req.URL.Query().Get("deployment_id")
	if deploymentID == "" {
		writeError(w, http.StatusBadRequest, "deployment_id query parameter required")
		return
	}
	durations, err := r.stats.Durations(req.Context(), deploymentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, durations)
}

func (r *Router) handleDeploymentsWS(w http.ResponseWriter, req *http.Request) {
	deploymentID := req.URL.Query().Get("deployment_id")
	if deploymentID == "" {
		writeError(w, http.StatusBadRequest, "deployment_id query parameter required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(deploymentID, client)
	go func() {
		defer func() {
			r.hub.Unregister(deploymentID, client)
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
	healthy := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			healthy = "degraded"
			components["store"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["store"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     healthy,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if healthy != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		code := recorder.status
		if code == 0 {
			code = http.StatusOK
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, code, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", code,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		fields = append(fields, "request_id", reqID)

		switch {
		case code >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case code >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
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

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
