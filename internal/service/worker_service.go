package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/domain"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/observability"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/provider"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/queue"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/ratelimit"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	maxRetryDelay        = 60 * time.Second
	baseRetryDelay       = time.Second
	maxRetryJitterMillis = 250
)

// WorkerService consumes queued jobs and delivers them to the recipient's
// chat. The classification verdict per attempt is the worker's only
// responsibility; retry scheduling lives in the job row.
type WorkerService struct {
	jobs        repository.JobRepository
	links       repository.LinkRepository
	attempts    repository.AttemptRepository
	consumer    queue.Consumer
	provider    provider.Provider
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
	randIntn    func(n int) int
}

func NewWorkerService(
	jobs repository.JobRepository,
	links repository.LinkRepository,
	attempts repository.AttemptRepository,
	consumer queue.Consumer,
	provider provider.Provider,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		jobs:        jobs,
		links:       links,
		attempts:    attempts,
		consumer:    consumer,
		provider:    provider,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
		randIntn:    rand.Intn,
	}, nil
}

// Start consumes the work queue until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.NotifyQueue),
			)

			err := s.consumer.Consume(groupCtx, queue.NotifyQueue, s.processMessage)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.JobMessage) error {
	ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	logger := observability.WithContextLogger(s.logger, ctx)

	job, err := s.jobs.LockForSending(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("job not found during lock, skipping",
				zap.String("jobId", msg.JobID),
			)
			return nil
		}
		return fmt.Errorf("failed to lock job for sending: %w", err)
	}

	// Nil means terminal/sending state; ack and skip.
	if job == nil {
		return nil
	}

	if s.metrics != nil {
		s.metrics.IncWorkerInFlight()
		defer s.metrics.DecWorkerInFlight()
	}

	// A malformed job can never become valid by retrying.
	if err := job.Validate(); err != nil {
		logger.Warn("discarding malformed job",
			zap.String("jobId", job.ID),
			zap.Error(err),
		)
		return s.discard(ctx, job, domain.DiscardMalformed)
	}

	identity, err := s.links.GetVerifiedIdentity(ctx, job.RecipientEmail)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.discard(ctx, job, domain.DiscardNoLinkedIdentity)
		}
		return fmt.Errorf("failed to resolve linked identity: %w", err)
	}

	chatKey := strconv.FormatInt(identity.ChatID, 10)
	if err := s.rateLimiter.Wait(ctx, chatKey); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	attemptNumber := job.AttemptCount + 1
	sendStart := s.now()
	providerResp, sendErr := s.provider.Send(ctx, identity.ChatID, *job)
	if s.metrics != nil {
		s.metrics.ObserveJobSendDuration(job.Source, s.now().Sub(sendStart))
	}

	// An interrupted send is not a verdict on the job. Leave the row in
	// SENDING for the stale sweep and let the broker redeliver the message.
	if sendErr != nil && ctx.Err() != nil {
		return fmt.Errorf("send interrupted: %w", sendErr)
	}

	if err := s.recordAttempt(ctx, job.ID, attemptNumber, providerResp, sendErr); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	if sendErr == nil {
		if err := s.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusDelivered); err != nil {
			return fmt.Errorf("failed to update job status to delivered: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncJobDelivered(job.Source)
		}
		return nil
	}

	if !provider.IsTransient(sendErr) {
		logger.Info("discarding job after permanent provider error",
			zap.String("jobId", job.ID),
			zap.Error(sendErr),
		)
		return s.discard(ctx, job, domain.DiscardChannelRejected)
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultJobMaxAttempts
	}

	if attemptNumber < maxAttempts {
		nextRetryAt := s.now().Add(s.computeRetryDelay(attemptNumber))
		if err := s.jobs.UpdateStatusWithRetry(ctx, job.ID, domain.JobStatusQueued, nextRetryAt); err != nil {
			return fmt.Errorf("failed to update job for retry: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncRetryScheduled(job.Source)
		}
		return nil
	}

	if err := s.jobs.MarkFailed(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to update job status to failed: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncJobFailed(job.Source)
	}

	return nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *WorkerService) discard(ctx context.Context, job *domain.Job, reason domain.DiscardReason) error {
	if err := s.jobs.MarkDiscarded(ctx, job.ID, reason); err != nil {
		return fmt.Errorf("failed to mark job discarded: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncJobDiscarded(job.Source, reason.String())
	}
	return nil
}

func (s *WorkerService) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	jitterMillis := 0
	if s.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = s.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func (s *WorkerService) recordAttempt(
	ctx context.Context,
	jobID string,
	attemptNumber int,
	providerResp *provider.ProviderResponse,
	sendErr error,
) error {
	var statusCode *int
	var responseBody *string
	var attemptErr *string

	if providerResp != nil {
		if providerResp.StatusCode > 0 {
			value := providerResp.StatusCode
			statusCode = &value
		}
		if body := strings.TrimSpace(providerResp.Body); body != "" {
			value := providerResp.Body
			responseBody = &value
		}
	}

	if sendErr != nil {
		value := sendErr.Error()
		attemptErr = &value

		var providerErr *provider.ProviderError
		if errors.As(sendErr, &providerErr) && providerErr.StatusCode > 0 && statusCode == nil {
			value := providerErr.StatusCode
			statusCode = &value
		}
	}

	attempt := &domain.DeliveryAttempt{
		ID:            uuid.NewString(),
		JobID:         jobID,
		AttemptNumber: attemptNumber,
		StatusCode:    statusCode,
		ResponseBody:  responseBody,
		Error:         attemptErr,
		CreatedAt:     s.now().UTC(),
	}

	return s.attempts.Create(ctx, attempt)
}
