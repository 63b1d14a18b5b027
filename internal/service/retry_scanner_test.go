package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/domain"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/queue"
	"go.uber.org/zap"
)

func TestRetryScannerScanDuePublishesAndClears(t *testing.T) {
	t.Parallel()

	var published []queue.JobMessage
	var cleared []string

	jobs := &fakeJobRepo{
		getDueForRetryFn: func(ctx context.Context, limit int) ([]domain.Job, error) {
			return []domain.Job{
				{ID: "j1", Source: domain.SourceJira, Status: domain.JobStatusQueued},
				{ID: "j2", Source: domain.SourceJira, Status: domain.JobStatusQueued},
			}, nil
		},
		clearNextRetryAtFn: func(ctx context.Context, id string) error {
			cleared = append(cleared, id)
			return nil
		},
	}
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.JobMessage) error {
			if queueName != queue.NotifyQueue {
				t.Fatalf("queue = %q, want %q", queueName, queue.NotifyQueue)
			}
			published = append(published, msg)
			return nil
		},
	}

	scanner, err := NewRetryScanner(jobs, publisher, time.Second, 10, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	if err := scanner.scanDue(context.Background()); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}

	if len(published) != 2 {
		t.Fatalf("published = %d, want 2", len(published))
	}
	if len(cleared) != 2 || cleared[0] != "j1" || cleared[1] != "j2" {
		t.Fatalf("cleared = %v, want [j1 j2]", cleared)
	}
}

func TestRetryScannerReclaimsStaleSending(t *testing.T) {
	t.Parallel()

	var gotOlderThan time.Time
	var published []queue.JobMessage

	jobs := &fakeJobRepo{
		requeueStaleSendingFn: func(ctx context.Context, olderThan time.Time) (int64, error) {
			gotOlderThan = olderThan
			return 1, nil
		},
		getDueForRetryFn: func(ctx context.Context, limit int) ([]domain.Job, error) {
			// The row the sweep just flipped back to QUEUED.
			return []domain.Job{{ID: "j3", Source: domain.SourceJira, Status: domain.JobStatusQueued}}, nil
		},
	}
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.JobMessage) error {
			published = append(published, msg)
			return nil
		},
	}

	scanner, err := NewRetryScanner(jobs, publisher, time.Second, 10, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	if err := scanner.scanDue(context.Background()); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}

	wantCutoff := time.Now().Add(-staleSendingAfter)
	if gotOlderThan.IsZero() || gotOlderThan.After(wantCutoff.Add(time.Second)) || gotOlderThan.Before(wantCutoff.Add(-time.Second)) {
		t.Fatalf("olderThan = %v, want about %v", gotOlderThan, wantCutoff)
	}
	if len(published) != 1 || published[0].JobID != "j3" {
		t.Fatalf("published = %v, want the reclaimed job", published)
	}
}

func TestRetryScannerStaleSweepFailureAbortsScan(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobRepo{
		requeueStaleSendingFn: func(ctx context.Context, olderThan time.Time) (int64, error) {
			return 0, errors.New("database unavailable")
		},
		getDueForRetryFn: func(ctx context.Context, limit int) ([]domain.Job, error) {
			t.Fatal("due scan must not run when the stale sweep fails")
			return nil, nil
		},
	}

	scanner, err := NewRetryScanner(jobs, &fakePublisher{}, time.Second, 10, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	if err := scanner.scanDue(context.Background()); err == nil {
		t.Fatal("expected error from failed stale sweep")
	}
}

func TestRetryScannerPublishFailureSkipsClear(t *testing.T) {
	t.Parallel()

	clearCalled := false

	jobs := &fakeJobRepo{
		getDueForRetryFn: func(ctx context.Context, limit int) ([]domain.Job, error) {
			return []domain.Job{{ID: "j1", Source: domain.SourceJira}}, nil
		},
		clearNextRetryAtFn: func(ctx context.Context, id string) error {
			clearCalled = true
			return nil
		},
	}
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, queueName string, msg queue.JobMessage) error {
			return errors.New("broker unavailable")
		},
	}

	scanner, err := NewRetryScanner(jobs, publisher, time.Second, 10, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	if err := scanner.scanDue(context.Background()); err != nil {
		t.Fatalf("scanDue() error = %v", err)
	}
	if clearCalled {
		t.Fatal("next_retry_at must stay set when publish fails, so the job is retried later")
	}
}

func TestRetryScannerStartStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	scanner, err := NewRetryScanner(&fakeJobRepo{}, &fakePublisher{}, 10*time.Millisecond, 10, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- scanner.Start(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not stop after context cancellation")
	}
}
