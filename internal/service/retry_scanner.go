package service

import (
	"context"
	"fmt"
	"time"

	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/queue"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = 5 * time.Second
	defaultRetryScanLimit    = 100

	// A row may sit in SENDING for a rate-limiter wait plus the send timeout;
	// anything older than this lost its worker and must be requeued.
	staleSendingAfter = 5 * time.Minute
)

// RetryScanner periodically re-enqueues due jobs marked for retry and
// reclaims rows orphaned in SENDING by an interrupted worker.
type RetryScanner struct {
	jobs      repository.JobRepository
	publisher queue.Publisher
	logger    *zap.Logger
	interval  time.Duration
	limit     int
}

func NewRetryScanner(
	jobs repository.JobRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		jobs:      jobs,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
	}, nil
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due retries do not wait for the first ticker edge.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RetryScanner) scanDue(ctx context.Context) error {
	requeued, err := s.jobs.RequeueStaleSending(ctx, time.Now().Add(-staleSendingAfter))
	if err != nil {
		return fmt.Errorf("failed to requeue stale sending jobs: %w", err)
	}
	if requeued > 0 {
		s.logger.Warn("requeued jobs stuck in sending", zap.Int64("count", requeued))
	}

	dueJobs, err := s.jobs.GetDueForRetry(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due retries: %w", err)
	}

	for i := range dueJobs {
		job := dueJobs[i]
		msg := queue.JobMessage{
			JobID:  job.ID,
			Source: job.Source,
		}

		if err := s.publisher.Publish(ctx, queue.NotifyQueue, msg); err != nil {
			s.logger.Error("failed to enqueue retry job",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
			continue
		}

		if err := s.jobs.ClearNextRetryAt(ctx, job.ID); err != nil {
			s.logger.Error("failed to clear next retry timestamp after enqueue",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
			continue
		}
	}

	return nil
}
