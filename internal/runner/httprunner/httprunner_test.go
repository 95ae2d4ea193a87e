package httprunner

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"log/slog"

	"github.com/outpostd/outpost/internal/runner"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLaunchSubmitsJob(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/jobs" || req.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
		}
		if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"job_id": "job-77"})
	}))
	defer srv.Close()

	r := New(srv.URL, 5*time.Second, discardLogger())
	jobID, err := r.Launch(context.Background(), runner.Job{
		DeploymentID: "S3Bucket-site-abc",
		Event:        "apply",
		Module:       "S3Bucket",
		Env:          map[string]string{"DEPLOYMENT_ID": "S3Bucket-site-abc"},
	})
	if err != nil {
		t.Fatalf("Launch returned error: %v", err)
	}
	if jobID != "job-77" {
		t.Fatalf("unexpected job id %q", jobID)
	}
	if received["deployment_id"] != "S3Bucket-site-abc" || received["event"] != "apply" {
		t.Fatalf("unexpected payload %+v", received)
	}
}

func TestLaunchRejectedByRunner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "no capacity", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := New(srv.URL, 5*time.Second, discardLogger())
	if _, err := r.Launch(context.Background(), runner.Job{DeploymentID: "dep-1"}); err == nil {
		t.Fatal("expected error for rejected launch")
	}
}

func TestLaunchRejectsEmptyJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"job_id": ""})
	}))
	defer srv.Close()

	r := New(srv.URL, 5*time.Second, discardLogger())
	if _, err := r.Launch(context.Background(), runner.Job{DeploymentID: "dep-1"}); err == nil {
		t.Fatal("expected error for empty job id")
	}
}
