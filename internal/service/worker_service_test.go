package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/domain"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/provider"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/queue"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/ratelimit"
	"go.uber.org/zap"
)

func linkedIdentity(email string, chatID int64) *domain.LinkedIdentity {
	return &domain.LinkedIdentity{
		Email:    email,
		ChatID:   chatID,
		Verified: true,
	}
}

func queuedJob(id string) *domain.Job {
	return &domain.Job{
		ID:             id,
		Source:         domain.SourceJira,
		RecipientEmail: "dev@example.com",
		Message:        "[PROJ-1] Fix login",
		Status:         domain.JobStatusSending,
		AttemptCount:   0,
		MaxAttempts:    5,
	}
}

func newTestWorker(
	t *testing.T,
	jobs *fakeJobRepo,
	links *fakeLinkRepo,
	attempts *fakeAttemptRepo,
	providerClient provider.Provider,
	limiter ratelimit.RateLimiter,
) *WorkerService {
	t.Helper()

	if jobs == nil {
		jobs = &fakeJobRepo{}
	}
	if links == nil {
		links = &fakeLinkRepo{
			getVerifiedIdentityFn: func(ctx context.Context, email string) (*domain.LinkedIdentity, error) {
				return linkedIdentity(email, 1001), nil
			},
		}
	}
	if attempts == nil {
		attempts = &fakeAttemptRepo{}
	}
	if providerClient == nil {
		providerClient = &fakeProvider{}
	}
	if limiter == nil {
		limiter = &fakeRateLimiter{}
	}

	worker, err := NewWorkerService(jobs, links, attempts, &fakeConsumer{}, providerClient, limiter, 3, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}
	worker.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	worker.randIntn = func(n int) int { return 0 }
	return worker
}

func TestWorkerServiceProcessMessageSuccess(t *testing.T) {
	t.Parallel()

	var gotAttempt *domain.DeliveryAttempt
	var gotStatus domain.JobStatus
	var gotChatID int64

	jobs := &fakeJobRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Job, error) {
			return queuedJob("j1"), nil
		},
		updateStatusFn: func(ctx context.Context, id string, status domain.JobStatus) error {
			gotStatus = status
			return nil
		},
	}
	attempts := &fakeAttemptRepo{
		createFn: func(ctx context.Context, a *domain.DeliveryAttempt) error {
			gotAttempt = a
			return nil
		},
	}
	providerClient := &fakeProvider{
		sendFn: func(ctx context.Context, chatID int64, job domain.Job) (*provider.ProviderResponse, error) {
			gotChatID = chatID
			return &provider.ProviderResponse{
				StatusCode: 200,
				Body:       `{"ok":true}`,
			}, nil
		},
	}
	limiter := &fakeRateLimiter{
		waitFn: func(ctx context.Context, chatKey string) error {
			if chatKey != "1001" {
				t.Fatalf("chat key = %q, want 1001", chatKey)
			}
			return nil
		},
	}

	worker := newTestWorker(t, jobs, nil, attempts, providerClient, limiter)

	err := worker.processMessage(context.Background(), queue.JobMessage{JobID: "j1", Source: domain.SourceJira})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if gotStatus != domain.JobStatusDelivered {
		t.Fatalf("status = %s, want DELIVERED", gotStatus)
	}
	if gotChatID != 1001 {
		t.Fatalf("chat id = %d, want 1001", gotChatID)
	}
	if gotAttempt == nil {
		t.Fatal("attempt should be recorded")
	}
	if gotAttempt.AttemptNumber != 1 {
		t.Fatalf("attempt number = %d, want 1", gotAttempt.AttemptNumber)
	}
	if gotAttempt.StatusCode == nil || *gotAttempt.StatusCode != 200 {
		t.Fatalf("attempt status code = %v, want 200", gotAttempt.StatusCode)
	}
}

func TestWorkerServiceProcessMessageTransientRetry(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		statusCode int
	}{
		{name: "rate limited", statusCode: 429},
		{name: "server error", statusCode: 500},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var retryCalled bool
			var nextRetryAt time.Time

			jobs := &fakeJobRepo{
				lockForSendingFn: func(ctx context.Context, id string) (*domain.Job, error) {
					return queuedJob("j2"), nil
				},
				updateStatusWithRetryFn: func(ctx context.Context, id string, status domain.JobStatus, next time.Time) error {
					retryCalled = true
					nextRetryAt = next
					if status != domain.JobStatusQueued {
						t.Fatalf("status = %s, want QUEUED", status)
					}
					return nil
				},
				markFailedFn: func(ctx context.Context, id string) error {
					t.Fatal("MarkFailed should not be called on transient retry")
					return nil
				},
				markDiscardedFn: func(ctx context.Context, id string, reason domain.DiscardReason) error {
					t.Fatal("MarkDiscarded should not be called on transient retry")
					return nil
				},
			}
			providerClient := &fakeProvider{
				sendFn: func(ctx context.Context, chatID int64, job domain.Job) (*provider.ProviderResponse, error) {
					return nil, &provider.ProviderError{
						StatusCode: tc.statusCode,
						Message:    "temporary failure",
						Transient:  true,
					}
				},
			}

			worker := newTestWorker(t, jobs, nil, nil, providerClient, nil)

			err := worker.processMessage(context.Background(), queue.JobMessage{JobID: "j2", Source: domain.SourceJira})
			if err != nil {
				t.Fatalf("processMessage() error = %v", err)
			}
			if !retryCalled {
				t.Fatal("expected retry status update to be called")
			}

			wantNext := time.Unix(1_700_000_000, 0).Add(time.Second)
			if !nextRetryAt.Equal(wantNext) {
				t.Fatalf("nextRetryAt = %v, want %v", nextRetryAt, wantNext)
			}
		})
	}
}

func TestWorkerServiceProcessMessageCanceledSendLeavesJobUntouched(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs := &fakeJobRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Job, error) {
			return queuedJob("j7"), nil
		},
		updateStatusFn: func(ctx context.Context, id string, status domain.JobStatus) error {
			t.Fatalf("UpdateStatus(%s) should not be called for an interrupted send", status)
			return nil
		},
		updateStatusWithRetryFn: func(ctx context.Context, id string, status domain.JobStatus, next time.Time) error {
			t.Fatal("UpdateStatusWithRetry should not be called for an interrupted send")
			return nil
		},
		markDiscardedFn: func(ctx context.Context, id string, reason domain.DiscardReason) error {
			t.Fatalf("MarkDiscarded(%s) should not be called for an interrupted send", reason)
			return nil
		},
		markFailedFn: func(ctx context.Context, id string) error {
			t.Fatal("MarkFailed should not be called for an interrupted send")
			return nil
		},
	}
	attempts := &fakeAttemptRepo{
		createFn: func(ctx context.Context, a *domain.DeliveryAttempt) error {
			t.Fatal("no attempt row should be recorded for an interrupted send")
			return nil
		},
	}
	providerClient := &fakeProvider{
		sendFn: func(ctx context.Context, chatID int64, job domain.Job) (*provider.ProviderResponse, error) {
			// Shutdown arrives while the request is on the wire.
			cancel()
			return nil, &provider.ProviderError{
				Message:   "telegram request failed",
				Transient: true,
				Cause:     context.Canceled,
			}
		},
	}

	worker := newTestWorker(t, jobs, nil, attempts, providerClient, nil)

	err := worker.processMessage(ctx, queue.JobMessage{JobID: "j7", Source: domain.SourceJira})
	if err == nil {
		t.Fatal("expected an error so the broker redelivers the message")
	}
}

func TestWorkerServiceProcessMessagePermanentDiscard(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		statusCode int
	}{
		{name: "bad request", statusCode: 400},
		{name: "recipient blocked", statusCode: 403},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var gotReason domain.DiscardReason

			jobs := &fakeJobRepo{
				lockForSendingFn: func(ctx context.Context, id string) (*domain.Job, error) {
					return queuedJob("j3"), nil
				},
				markDiscardedFn: func(ctx context.Context, id string, reason domain.DiscardReason) error {
					gotReason = reason
					return nil
				},
				updateStatusWithRetryFn: func(ctx context.Context, id string, status domain.JobStatus, next time.Time) error {
					t.Fatal("UpdateStatusWithRetry should not be called for permanent failure")
					return nil
				},
			}
			providerClient := &fakeProvider{
				sendFn: func(ctx context.Context, chatID int64, job domain.Job) (*provider.ProviderResponse, error) {
					return nil, &provider.ProviderError{
						StatusCode: tc.statusCode,
						Message:    "rejected",
						Transient:  false,
					}
				},
			}

			worker := newTestWorker(t, jobs, nil, nil, providerClient, nil)

			err := worker.processMessage(context.Background(), queue.JobMessage{JobID: "j3", Source: domain.SourceJira})
			if err != nil {
				t.Fatalf("processMessage() error = %v", err)
			}
			if gotReason != domain.DiscardChannelRejected {
				t.Fatalf("discard reason = %s, want channel_rejected", gotReason)
			}
		})
	}
}

func TestWorkerServiceProcessMessageTransientMaxAttempts(t *testing.T) {
	t.Parallel()

	var failedCalled bool

	job := queuedJob("j4")
	job.AttemptCount = 4

	jobs := &fakeJobRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Job, error) {
			return job, nil
		},
		markFailedFn: func(ctx context.Context, id string) error {
			failedCalled = true
			return nil
		},
		updateStatusWithRetryFn: func(ctx context.Context, id string, status domain.JobStatus, next time.Time) error {
			t.Fatal("UpdateStatusWithRetry should not be called at max attempts")
			return nil
		},
	}
	providerClient := &fakeProvider{
		sendFn: func(ctx context.Context, chatID int64, job domain.Job) (*provider.ProviderResponse, error) {
			return nil, &provider.ProviderError{
				StatusCode: 503,
				Message:    "temporary failure",
				Transient:  true,
			}
		},
	}

	worker := newTestWorker(t, jobs, nil, nil, providerClient, nil)

	err := worker.processMessage(context.Background(), queue.JobMessage{JobID: "j4", Source: domain.SourceJira})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if !failedCalled {
		t.Fatal("expected job to be marked FAILED")
	}
}

func TestWorkerServiceProcessMessageMalformedJobDiscarded(t *testing.T) {
	t.Parallel()

	var gotReason domain.DiscardReason
	providerCalled := false
	linksCalled := false

	job := queuedJob("j5")
	job.RecipientEmail = ""

	jobs := &fakeJobRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Job, error) {
			return job, nil
		},
		markDiscardedFn: func(ctx context.Context, id string, reason domain.DiscardReason) error {
			gotReason = reason
			return nil
		},
	}
	links := &fakeLinkRepo{
		getVerifiedIdentityFn: func(ctx context.Context, email string) (*domain.LinkedIdentity, error) {
			linksCalled = true
			return nil, domain.ErrNotFound
		},
	}
	providerClient := &fakeProvider{
		sendFn: func(ctx context.Context, chatID int64, job domain.Job) (*provider.ProviderResponse, error) {
			providerCalled = true
			return nil, nil
		},
	}

	worker := newTestWorker(t, jobs, links, nil, providerClient, nil)

	err := worker.processMessage(context.Background(), queue.JobMessage{JobID: "j5", Source: domain.SourceJira})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if gotReason != domain.DiscardMalformed {
		t.Fatalf("discard reason = %s, want malformed", gotReason)
	}
	if linksCalled {
		t.Fatal("identity lookup should not happen for malformed job")
	}
	if providerCalled {
		t.Fatal("provider should not be called for malformed job")
	}
}

func TestWorkerServiceProcessMessageNoLinkedIdentityDiscarded(t *testing.T) {
	t.Parallel()

	var gotReason domain.DiscardReason
	providerCalled := false

	jobs := &fakeJobRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Job, error) {
			return queuedJob("j6"), nil
		},
		markDiscardedFn: func(ctx context.Context, id string, reason domain.DiscardReason) error {
			gotReason = reason
			return nil
		},
	}
	links := &fakeLinkRepo{
		getVerifiedIdentityFn: func(ctx context.Context, email string) (*domain.LinkedIdentity, error) {
			return nil, domain.ErrNotFound
		},
	}
	providerClient := &fakeProvider{
		sendFn: func(ctx context.Context, chatID int64, job domain.Job) (*provider.ProviderResponse, error) {
			providerCalled = true
			return nil, nil
		},
	}

	worker := newTestWorker(t, jobs, links, nil, providerClient, nil)

	err := worker.processMessage(context.Background(), queue.JobMessage{JobID: "j6", Source: domain.SourceJira})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if gotReason != domain.DiscardNoLinkedIdentity {
		t.Fatalf("discard reason = %s, want no_linked_identity", gotReason)
	}
	if providerCalled {
		t.Fatal("provider should not be called without a linked identity")
	}
}

func TestWorkerServiceProcessMessageRateLimiterError(t *testing.T) {
	t.Parallel()

	providerCalled := false

	jobs := &fakeJobRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Job, error) {
			return queuedJob("j7"), nil
		},
	}
	providerClient := &fakeProvider{
		sendFn: func(ctx context.Context, chatID int64, job domain.Job) (*provider.ProviderResponse, error) {
			providerCalled = true
			return &provider.ProviderResponse{StatusCode: 200}, nil
		},
	}
	limiter := &fakeRateLimiter{
		waitFn: func(ctx context.Context, chatKey string) error {
			return errors.New("rate limit wait timeout")
		},
	}

	worker := newTestWorker(t, jobs, nil, nil, providerClient, limiter)

	err := worker.processMessage(context.Background(), queue.JobMessage{JobID: "j7", Source: domain.SourceJira})
	if err == nil {
		t.Fatal("processMessage() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "rate limiter wait failed") {
		t.Fatalf("processMessage() error = %v, want rate limiter wait failure", err)
	}
	if providerCalled {
		t.Fatal("provider should not be called when rate limiter fails")
	}
}

func TestWorkerServiceProcessMessageSkipTerminal(t *testing.T) {
	t.Parallel()

	providerCalled := false
	limiterCalled := false

	jobs := &fakeJobRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Job, error) {
			return nil, nil
		},
	}
	providerClient := &fakeProvider{
		sendFn: func(ctx context.Context, chatID int64, job domain.Job) (*provider.ProviderResponse, error) {
			providerCalled = true
			return nil, nil
		},
	}
	limiter := &fakeRateLimiter{
		waitFn: func(ctx context.Context, chatKey string) error {
			limiterCalled = true
			return nil
		},
	}

	worker := newTestWorker(t, jobs, nil, nil, providerClient, limiter)

	err := worker.processMessage(context.Background(), queue.JobMessage{JobID: "j8", Source: domain.SourceJira})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if providerCalled {
		t.Fatal("provider should not be called for skipped job")
	}
	if limiterCalled {
		t.Fatal("rate limiter should not be called for skipped job")
	}
}

func TestWorkerServiceProcessMessageLockNotFoundAck(t *testing.T) {
	t.Parallel()

	jobs := &fakeJobRepo{
		lockForSendingFn: func(ctx context.Context, id string) (*domain.Job, error) {
			return nil, domain.ErrNotFound
		},
	}

	worker := newTestWorker(t, jobs, nil, nil, nil, nil)

	if err := worker.processMessage(context.Background(), queue.JobMessage{JobID: "missing", Source: domain.SourceJira}); err != nil {
		t.Fatalf("processMessage() unexpected error: %v", err)
	}
}

func TestWorkerServiceStartPropagatesConsumerError(t *testing.T) {
	t.Parallel()

	consumeErr := errors.New("consume failed")
	consumer := &fakeConsumer{
		consumeFn: func(ctx context.Context, queueName string, handler queue.MessageHandler) error {
			return consumeErr
		},
	}

	worker, err := NewWorkerService(
		&fakeJobRepo{},
		&fakeLinkRepo{},
		&fakeAttemptRepo{},
		consumer,
		&fakeProvider{},
		&fakeRateLimiter{},
		3,
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	err = worker.Start(context.Background())
	if !errors.Is(err, consumeErr) {
		t.Fatalf("Start() error = %v, want %v", err, consumeErr)
	}
}

func TestWorkerServiceComputeRetryDelay(t *testing.T) {
	t.Parallel()

	worker := newTestWorker(t, nil, nil, nil, nil, nil)
	worker.randIntn = func(n int) int { return 0 }

	if got := worker.computeRetryDelay(1); got != time.Second {
		t.Fatalf("computeRetryDelay(1) = %v, want %v", got, time.Second)
	}

	if got := worker.computeRetryDelay(10); got != maxRetryDelay {
		t.Fatalf("computeRetryDelay(10) = %v, want %v", got, maxRetryDelay)
	}

	worker.randIntn = func(n int) int {
		if n != maxRetryJitterMillis+1 {
			t.Fatalf("randIntn arg = %d, want %d", n, maxRetryJitterMillis+1)
		}
		return 125
	}

	want := 2*time.Second + 125*time.Millisecond
	if got := worker.computeRetryDelay(2); got != want {
		t.Fatalf("computeRetryDelay(2) = %v, want %v", got, want)
	}
}

type fakeProvider struct {
	sendFn func(ctx context.Context, chatID int64, job domain.Job) (*provider.ProviderResponse, error)
}

func (f *fakeProvider) Send(ctx context.Context, chatID int64, job domain.Job) (*provider.ProviderResponse, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, chatID, job)
	}
	return &provider.ProviderResponse{StatusCode: 200}, nil
}

var _ provider.Provider = (*fakeProvider)(nil)

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, chatKey string) (bool, error)
	waitFn  func(ctx context.Context, chatKey string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, chatKey string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, chatKey)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, chatKey string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, chatKey)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

type fakeAttemptRepo struct {
	createFn     func(ctx context.Context, a *domain.DeliveryAttempt) error
	getByJobIDFn func(ctx context.Context, jobID string) ([]domain.DeliveryAttempt, error)
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	return nil
}

func (f *fakeAttemptRepo) GetByJobID(ctx context.Context, jobID string) ([]domain.DeliveryAttempt, error) {
	if f.getByJobIDFn != nil {
		return f.getByJobIDFn(ctx, jobID)
	}
	return nil, nil
}
