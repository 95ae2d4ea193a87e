package notify

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/outpostd/outpost/internal/domain"
	"github.com/outpostd/outpost/internal/store/memory"
)

type capturingPublisher struct {
	mu            sync.Mutex
	notifications []domain.ChangeNotification
	err           error
}

func (p *capturingPublisher) Publish(ctx context.Context, notification domain.ChangeNotification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, notification)
	return p.err
}

func (p *capturingPublisher) wait(t *testing.T, n int) []domain.ChangeNotification {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		if len(p.notifications) >= n {
			out := append([]domain.ChangeNotification(nil), p.notifications...)
			p.mu.Unlock()
			return out
		}
		p.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d notifications", n)
	return nil
}

func TestRunProjectsLedgerInserts(t *testing.T) {
	st := memory.New()
	publisher := &capturingPublisher{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(st, log, publisher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	// Give the notifier a moment to subscribe before the first insert.
	time.Sleep(20 * time.Millisecond)

	row := domain.DeploymentEvent{
		ID:           "S3Bucket-site-abc-apply-1000-received",
		DeploymentID: "S3Bucket-site-abc",
		Event:        domain.EventApply,
		Status:       domain.StatusReceived,
		Epoch:        1000,
		Timestamp:    "2024-03-01T12:30:45Z",
		Module:       "S3Bucket",
		Name:         "site",
		Metadata:     map[string]any{"input": "ignored by the projection"},
	}
	if err := st.AppendEvent(ctx, row); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	notifications := publisher.wait(t, 1)
	got := notifications[0]
	if got.DeploymentID != "S3Bucket-site-abc" {
		t.Fatalf("unexpected deployment id %q", got.DeploymentID)
	}
	if got.Status != domain.StatusReceived || got.Epoch != 1000 {
		t.Fatalf("unexpected projection %+v", got)
	}
	if got.Module != "S3Bucket" || got.Name != "site" {
		t.Fatalf("expected module and name on projection, got %+v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}

func TestRunFansOutToAllPublishers(t *testing.T) {
	st := memory.New()
	failing := &capturingPublisher{err: errors.New("sink offline")}
	healthy := &capturingPublisher{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(st, log, failing, healthy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)

	row := domain.DeploymentEvent{
		ID:           "dep-1-apply-2000-initiated",
		DeploymentID: "dep-1",
		Event:        domain.EventApply,
		Status:       domain.StatusInitiated,
		Epoch:        2000,
	}
	if err := st.AppendEvent(ctx, row); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	// One sink failing must not starve the other.
	healthy.wait(t, 1)
	failing.wait(t, 1)
}
