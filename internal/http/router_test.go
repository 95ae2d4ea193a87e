package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"log/slog"

	"github.com/outpostd/outpost/internal/domain"
	"github.com/outpostd/outpost/internal/runner"
	"github.com/outpostd/outpost/internal/service/dispatch"
	"github.com/outpostd/outpost/internal/service/identity"
	"github.com/outpostd/outpost/internal/service/ledger"
	"github.com/outpostd/outpost/internal/service/registry"
	"github.com/outpostd/outpost/internal/service/stats"
	"github.com/outpostd/outpost/internal/service/status"
	"github.com/outpostd/outpost/internal/store/memory"
	"github.com/outpostd/outpost/internal/ws"
)

type stubRunner struct {
	jobID string
	err   error
}

func (s stubRunner) Launch(ctx context.Context, job runner.Job) (string, error) {
	return s.jobID, s.err
}

const testManifest = "metadata:\n  name: S3Bucket\nspec:\n  moduleName: s3bucket\n  version: 0.0.4\n  source: s3://modules/s3bucket.zip\n"

func newTestRouter(t *testing.T, run runner.Runner) (*Router, *memory.Store) {
	t.Helper()
	st := memory.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	registrySvc := registry.New(st, st, log)
	identitySvc := identity.New(st, log)
	ledgerSvc := ledger.New(st, log)
	dispatchSvc := dispatch.New(registrySvc, identitySvc, ledgerSvc, run, log)
	statusSvc := status.New(st, nil, log)
	statsSvc := stats.New(st)

	router := NewRouter(log, registrySvc, dispatchSvc, ledgerSvc, statusSvc, statsSvc, ws.NewHub(), nil, nil)
	t.Cleanup(router.Close)
	return router, st
}

func doJSON(t *testing.T, router *Router, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "10.0.0.1:55000"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func insertTestModule(t *testing.T, router *Router) {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/modules", map[string]any{
		"event":       "insert",
		"environment": "dev",
		"manifest":    testManifest,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("module insert returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestInfraDispatch(t *testing.T) {
	router, st := newTestRouter(t, stubRunner{jobID: "job-1"})
	insertTestModule(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/infra", map[string]any{
		"event":       "apply",
		"module":      "S3Bucket",
		"name":        "site",
		"environment": "dev",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var result struct {
		DeploymentID string `json:"deployment_id"`
		Message      string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(result.DeploymentID, "S3Bucket-site-") {
		t.Fatalf("unexpected deployment id %q", result.DeploymentID)
	}
	if result.Message != "Created new deployment successfully" {
		t.Fatalf("unexpected message %q", result.Message)
	}

	rows, err := st.AllEvents(context.Background(), result.DeploymentID)
	if err != nil {
		t.Fatalf("AllEvents failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected received and initiated rows, got %d", len(rows))
	}
}

func TestInfraRejectsInvalidEvent(t *testing.T) {
	router, _ := newTestRouter(t, stubRunner{jobID: "job-1"})

	rec := doJSON(t, router, http.MethodPost, "/api/infra", map[string]any{
		"event":  "recreate",
		"module": "S3Bucket",
		"name":   "site",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestInfraUnknownModule(t *testing.T) {
	router, _ := newTestRouter(t, stubRunner{jobID: "job-1"})

	rec := doJSON(t, router, http.MethodPost, "/api/infra", map[string]any{
		"event":       "apply",
		"module":      "S3Bucket",
		"name":        "site",
		"environment": "dev",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestInfraRunnerFailure(t *testing.T) {
	router, _ := newTestRouter(t, stubRunner{err: context.DeadlineExceeded})
	insertTestModule(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/infra", map[string]any{
		"event":       "apply",
		"module":      "S3Bucket",
		"name":        "site",
		"environment": "dev",
	})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestModulesGetLatest(t *testing.T) {
	router, _ := newTestRouter(t, stubRunner{jobID: "job-1"})
	insertTestModule(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/modules", map[string]any{
		"event":       "get_latest",
		"module":      "S3Bucket",
		"environment": "dev",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var manifest domain.ModuleManifest
	if err := json.Unmarshal(rec.Body.Bytes(), &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.Version != "0.0.4" {
		t.Fatalf("unexpected version %q", manifest.Version)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/modules", map[string]any{
		"event":       "get_latest",
		"module":      "Unknown",
		"environment": "dev",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown module, got %d", rec.Code)
	}
}

func TestModulesDuplicateInsertConflicts(t *testing.T) {
	router, _ := newTestRouter(t, stubRunner{jobID: "job-1"})
	insertTestModule(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/modules", map[string]any{
		"event":       "insert",
		"environment": "dev",
		"manifest":    testManifest,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestModulesListEnvironments(t *testing.T) {
	router, _ := newTestRouter(t, stubRunner{jobID: "job-1"})
	insertTestModule(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/modules", map[string]any{
		"event": "list_environments",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var environments []domain.Environment
	if err := json.Unmarshal(rec.Body.Bytes(), &environments); err != nil {
		t.Fatalf("decode environments: %v", err)
	}
	if len(environments) != 1 || environments[0].Name != "dev" {
		t.Fatalf("expected dev environment, got %+v", environments)
	}
}

func TestModulesUnknownEvent(t *testing.T) {
	router, _ := newTestRouter(t, stubRunner{jobID: "job-1"})

	rec := doJSON(t, router, http.MethodPost, "/api/modules", map[string]any{"event": "drop_tables"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStatusQuery(t *testing.T) {
	router, _ := newTestRouter(t, stubRunner{jobID: "job-1"})
	insertTestModule(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/infra", map[string]any{
		"event":       "apply",
		"module":      "S3Bucket",
		"name":        "site",
		"environment": "dev",
	})
	var result struct {
		DeploymentID string `json:"deployment_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode dispatch response: %v", err)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/status", map[string]any{
		"type":          "status",
		"deployment_id": result.DeploymentID,
		"num_entries":   5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var rows []domain.DeploymentEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	seen := map[string]bool{}
	for _, row := range rows {
		seen[row.Status] = true
	}
	if !seen[domain.StatusReceived] || !seen[domain.StatusInitiated] {
		t.Fatalf("expected received and initiated rows, got %+v", rows)
	}
}

func TestStatisticsQuery(t *testing.T) {
	router, st := newTestRouter(t, stubRunner{jobID: "job-1"})

	for i, status := range []string{domain.StatusInitiated, domain.StatusStarted, domain.StatusFinished} {
		epoch := int64(1000 * (i + 1))
		err := st.AppendEvent(context.Background(), domain.DeploymentEvent{
			ID:           domain.EventID("dep-1", domain.EventApply, epoch, status),
			DeploymentID: "dep-1",
			Event:        domain.EventApply,
			Status:       status,
			Epoch:        epoch,
		})
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	rec := doJSON(t, router, http.MethodGet, "/api/statistics?deployment_id=dep-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var durations struct {
		InitiationDuration *float64 `json:"initiation_duration"`
		ExecutionDuration  *float64 `json:"execution_duration"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &durations); err != nil {
		t.Fatalf("decode durations: %v", err)
	}
	if durations.InitiationDuration == nil || *durations.InitiationDuration != 1 {
		t.Fatalf("expected initiation duration 1s, got %+v", durations.InitiationDuration)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/statistics", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without deployment_id, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t, stubRunner{jobID: "job-1"})

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/healthz", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
