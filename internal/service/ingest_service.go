package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/domain"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/normalize"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/observability"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/queue"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/repository"
	"go.uber.org/zap"
)

// IngestService turns verified webhook payloads into durable, enqueued jobs.
// Each fan-out job is accepted independently: one bad recipient never blocks
// the rest of the event.
type IngestService struct {
	jobs      repository.JobRepository
	publisher queue.Publisher
	logger    *zap.Logger
}

func NewIngestService(
	jobs repository.JobRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*IngestService, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IngestService{
		jobs:      jobs,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// IngestJira normalizes a Jira issue payload and enqueues one job per valid
// recipient. It returns the number of jobs accepted; zero is a valid outcome
// for payloads that normalize to nothing.
func (s *IngestService) IngestJira(ctx context.Context, body []byte, correlationID string) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = observability.WithCorrelationID(ctx, correlationID)
	logger := observability.WithContextLogger(s.logger, ctx)

	var payload normalize.JiraIssuePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("%w: malformed jira payload: %v", domain.ErrValidation, err)
	}

	jobs := normalize.NormalizeJiraIssue(payload)
	if len(jobs) == 0 {
		return 0, nil
	}

	accepted := 0
	var lastErr error
	for i := range jobs {
		if err := s.enqueueJob(ctx, &jobs[i], correlationID); err != nil {
			lastErr = err
			logger.Error("failed to enqueue job",
				zap.String("source", jobs[i].Source),
				zap.Error(err),
			)
			continue
		}
		accepted++
	}

	// Partial fan-out still counts: the caller gets the accepted count, the
	// failures stay in the log.
	if accepted == 0 && lastErr != nil {
		return 0, lastErr
	}

	return accepted, nil
}

func (s *IngestService) enqueueJob(ctx context.Context, job *domain.Job, correlationID string) error {
	job.ID = uuid.NewString()
	job.Status = domain.JobStatusAccepted
	job.AttemptCount = 0

	if err := job.Validate(); err != nil {
		return err
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("failed to persist job: %w", err)
	}

	msg := queue.JobMessage{
		JobID:         job.ID,
		Source:        job.Source,
		CorrelationID: correlationID,
	}
	if err := s.publisher.Publish(ctx, queue.NotifyQueue, msg); err != nil {
		if updateErr := s.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusFailed); updateErr != nil {
			return fmt.Errorf("failed to publish job: %w (failed to mark as failed: %v)", err, updateErr)
		}
		job.Status = domain.JobStatusFailed
		return fmt.Errorf("failed to publish job: %w", err)
	}

	if err := s.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusQueued); err != nil {
		return fmt.Errorf("failed to update job status to queued: %w", err)
	}
	job.Status = domain.JobStatusQueued

	return nil
}
