package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPrunerStartPrunesOnTick(t *testing.T) {
	t.Parallel()

	pruned := make(chan int, 1)

	jobs := &fakeJobRepo{
		pruneDeliveredFn: func(ctx context.Context, keep int) (int64, error) {
			select {
			case pruned <- keep:
			default:
			}
			return 3, nil
		},
	}

	pruner, err := NewPruner(jobs, 10*time.Millisecond, 500, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPruner() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- pruner.Start(ctx)
	}()

	select {
	case keep := <-pruned:
		if keep != 500 {
			t.Fatalf("keep = %d, want 500", keep)
		}
	case <-time.After(time.Second):
		t.Fatal("prune pass did not run")
	}

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

func TestPrunerDefaults(t *testing.T) {
	t.Parallel()

	pruner, err := NewPruner(&fakeJobRepo{}, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewPruner() error = %v", err)
	}
	if pruner.interval != defaultPruneInterval {
		t.Fatalf("interval = %v, want %v", pruner.interval, defaultPruneInterval)
	}
	if pruner.keep != defaultDeliveredKeep {
		t.Fatalf("keep = %d, want %d", pruner.keep, defaultDeliveredKeep)
	}
}
