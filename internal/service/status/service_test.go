package status

import (
	"context"
	"errors"
	"io"
	"testing"

	"log/slog"

	"github.com/outpostd/outpost/internal/domain"
	"github.com/outpostd/outpost/internal/store/memory"
)

type fakeLogFetcher struct {
	output string
	err    error
	calls  []string
}

func (f *fakeLogFetcher) FetchLogs(ctx context.Context, jobID string) (string, error) {
	f.calls = append(f.calls, jobID)
	return f.output, f.err
}

func appendRow(t *testing.T, st *memory.Store, deploymentID, status, jobID string, epoch int64) {
	t.Helper()
	err := st.AppendEvent(context.Background(), domain.DeploymentEvent{
		ID:           domain.EventID(deploymentID, domain.EventApply, epoch, status),
		DeploymentID: deploymentID,
		Event:        domain.EventApply,
		Status:       status,
		Epoch:        epoch,
		JobID:        jobID,
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLatestDefaultsToOneRow(t *testing.T) {
	st := memory.New()
	appendRow(t, st, "dep-1", domain.StatusReceived, "", 1000)
	appendRow(t, st, "dep-1", domain.StatusInitiated, "job-1", 2000)

	svc := New(st, nil, discardLogger())
	rows, err := svc.Latest(context.Background(), "dep-1", 0)
	if err != nil {
		t.Fatalf("Latest returned error: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != domain.StatusInitiated {
		t.Fatalf("expected single most-recent row, got %+v", rows)
	}
}

func TestLogsSkipsPlaceholderJobIDs(t *testing.T) {
	st := memory.New()
	appendRow(t, st, "dep-1", domain.StatusInitiated, "job-real", 1000)
	appendRow(t, st, "dep-1", domain.StatusInitiationFailed, domain.NoJobID, 2000)

	fetcher := &fakeLogFetcher{output: "terraform apply complete"}
	svc := New(st, fetcher, discardLogger())

	output, err := svc.Logs(context.Background(), "dep-1")
	if err != nil {
		t.Fatalf("Logs returned error: %v", err)
	}
	if output != "terraform apply complete" {
		t.Fatalf("unexpected output %q", output)
	}
	if len(fetcher.calls) != 1 || fetcher.calls[0] != "job-real" {
		t.Fatalf("expected fetch for job-real, got %+v", fetcher.calls)
	}
}

func TestLogsWithoutUsableJob(t *testing.T) {
	st := memory.New()
	appendRow(t, st, "dep-1", domain.StatusReceived, "", 1000)
	appendRow(t, st, "dep-1", domain.StatusInitiationFailed, domain.NoJobID, 2000)

	svc := New(st, &fakeLogFetcher{}, discardLogger())
	_, err := svc.Logs(context.Background(), "dep-1")
	if !errors.Is(err, ErrNoJobLogs) {
		t.Fatalf("expected ErrNoJobLogs, got %v", err)
	}
}

func TestLogsWithoutBackend(t *testing.T) {
	svc := New(memory.New(), nil, discardLogger())
	_, err := svc.Logs(context.Background(), "dep-1")
	if !errors.Is(err, ErrNoJobLogs) {
		t.Fatalf("expected ErrNoJobLogs, got %v", err)
	}
}

func TestLogsPropagatesFetchError(t *testing.T) {
	st := memory.New()
	appendRow(t, st, "dep-1", domain.StatusInitiated, "job-1", 1000)

	fetchErr := errors.New("job expired")
	svc := New(st, &fakeLogFetcher{err: fetchErr}, discardLogger())
	_, err := svc.Logs(context.Background(), "dep-1")
	if !errors.Is(err, fetchErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}
