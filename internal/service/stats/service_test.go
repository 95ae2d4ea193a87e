package stats

import (
	"context"
	"testing"

	"github.com/outpostd/outpost/internal/domain"
	"github.com/outpostd/outpost/internal/store/memory"
)

func appendRow(t *testing.T, st *memory.Store, deploymentID, status string, epoch int64) {
	t.Helper()
	err := st.AppendEvent(context.Background(), domain.DeploymentEvent{
		ID:           domain.EventID(deploymentID, domain.EventApply, epoch, status),
		DeploymentID: deploymentID,
		Event:        domain.EventApply,
		Status:       status,
		Epoch:        epoch,
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
}

func TestDurationsFullLifecycle(t *testing.T) {
	st := memory.New()
	appendRow(t, st, "dep-1", domain.StatusReceived, 1000)
	appendRow(t, st, "dep-1", domain.StatusInitiated, 2000)
	appendRow(t, st, "dep-1", domain.StatusStarted, 4500)
	appendRow(t, st, "dep-1", domain.StatusFinished, 10500)

	out, err := New(st).Durations(context.Background(), "dep-1")
	if err != nil {
		t.Fatalf("Durations returned error: %v", err)
	}
	if out.InitiationDuration == nil || *out.InitiationDuration != 2.5 {
		t.Fatalf("expected initiation duration 2.5s, got %+v", out.InitiationDuration)
	}
	if out.ExecutionDuration == nil || *out.ExecutionDuration != 6 {
		t.Fatalf("expected execution duration 6s, got %+v", out.ExecutionDuration)
	}
}

func TestDurationsUsesEarliestOccurrence(t *testing.T) {
	st := memory.New()
	appendRow(t, st, "dep-1", domain.StatusInitiated, 2000)
	// A retried runner reports running twice; only the first counts.
	appendRow(t, st, "dep-1", domain.StatusRunning, 3000)
	appendRow(t, st, "dep-1", domain.StatusRunning, 5000)
	appendRow(t, st, "dep-1", domain.StatusFinished, 9000)

	out, err := New(st).Durations(context.Background(), "dep-1")
	if err != nil {
		t.Fatalf("Durations returned error: %v", err)
	}
	if out.InitiationDuration == nil || *out.InitiationDuration != 1 {
		t.Fatalf("expected initiation duration 1s, got %+v", out.InitiationDuration)
	}
	if out.ExecutionDuration == nil || *out.ExecutionDuration != 6 {
		t.Fatalf("expected execution duration 6s, got %+v", out.ExecutionDuration)
	}
}

func TestDurationsPartialHistory(t *testing.T) {
	st := memory.New()
	appendRow(t, st, "dep-1", domain.StatusReceived, 1000)
	appendRow(t, st, "dep-1", domain.StatusInitiated, 2000)
	appendRow(t, st, "dep-1", domain.StatusStarted, 3000)

	out, err := New(st).Durations(context.Background(), "dep-1")
	if err != nil {
		t.Fatalf("Durations returned error: %v", err)
	}
	if out.InitiationDuration == nil || *out.InitiationDuration != 1 {
		t.Fatalf("expected initiation duration 1s, got %+v", out.InitiationDuration)
	}
	if out.ExecutionDuration != nil {
		t.Fatalf("expected no execution duration, got %v", *out.ExecutionDuration)
	}
}

func TestDurationsEmptyHistory(t *testing.T) {
	out, err := New(memory.New()).Durations(context.Background(), "dep-missing")
	if err != nil {
		t.Fatalf("Durations returned error: %v", err)
	}
	if out.DeploymentID != "dep-missing" {
		t.Fatalf("expected deployment id echoed, got %q", out.DeploymentID)
	}
	if out.InitiationDuration != nil || out.ExecutionDuration != nil {
		t.Fatalf("expected nil durations, got %+v", out)
	}
}
