package service

import (
	"context"
	"fmt"
	"time"

	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultPruneInterval = time.Hour
	defaultDeliveredKeep = 1000
)

// Pruner periodically deletes delivered jobs beyond the retained count.
// Failed and discarded rows are kept indefinitely for inspection.
type Pruner struct {
	jobs     repository.JobRepository
	logger   *zap.Logger
	interval time.Duration
	keep     int
}

func NewPruner(
	jobs repository.JobRepository,
	interval time.Duration,
	keep int,
	logger *zap.Logger,
) (*Pruner, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if interval <= 0 {
		interval = defaultPruneInterval
	}
	if keep <= 0 {
		keep = defaultDeliveredKeep
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pruner{
		jobs:     jobs,
		logger:   logger,
		interval: interval,
		keep:     keep,
	}, nil
}

func (p *Pruner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pruned, err := p.jobs.PruneDelivered(ctx, p.keep)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Error("prune pass failed", zap.Error(err))
				continue
			}
			if pruned > 0 {
				p.logger.Info("pruned delivered jobs", zap.Int64("count", pruned))
			}
		}
	}
}
