package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/domain"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/repository"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type JobStore interface {
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Job, int64, error)
}

type AttemptStore interface {
	GetByJobID(ctx context.Context, jobID string) ([]domain.DeliveryAttempt, error)
}

// JobHandler exposes the job inspection surface. Discarded rows stay
// queryable here with their discard reason, which is the only visibility a
// dropped event gets.
type JobHandler struct {
	jobs     JobStore
	attempts AttemptStore
}

func NewJobHandler(jobs JobStore, attempts AttemptStore) (*JobHandler, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt store is required")
	}
	return &JobHandler{jobs: jobs, attempts: attempts}, nil
}

func RegisterJobRoutes(router fiber.Router, jobs JobStore, attempts AttemptStore) error {
	h, err := NewJobHandler(jobs, attempts)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/jobs/:id", h.GetJob)
	v1.Get("/jobs", h.ListJobs)
	return nil
}

type jobResponse struct {
	ID              string     `json:"id"`
	Source          string     `json:"source"`
	RecipientEmail  string     `json:"recipientEmail"`
	Message         string     `json:"message"`
	URL             *string    `json:"url,omitempty"`
	ExternalEventID *string    `json:"externalEventId,omitempty"`
	Status          string     `json:"status"`
	DiscardReason   *string    `json:"discardReason,omitempty"`
	AttemptCount    int        `json:"attemptCount"`
	MaxAttempts     int        `json:"maxAttempts"`
	NextRetryAt     *time.Time `json:"nextRetryAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt,omitempty"`
}

type attemptResponse struct {
	AttemptNumber int       `json:"attemptNumber"`
	StatusCode    *int      `json:"statusCode,omitempty"`
	ResponseBody  *string   `json:"responseBody,omitempty"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type jobDetailResponse struct {
	jobResponse
	Attempts []attemptResponse `json:"attempts"`
}

type listJobsResponse struct {
	Data []jobResponse `json:"data"`
	Meta listMeta      `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return toHTTPError(fmt.Errorf("%w: job id is required", domain.ErrValidation))
	}

	job, err := h.jobs.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	attempts, err := h.attempts.GetByJobID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]attemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		items = append(items, attemptResponse{
			AttemptNumber: attempt.AttemptNumber,
			StatusCode:    attempt.StatusCode,
			ResponseBody:  attempt.ResponseBody,
			Error:         attempt.Error,
			CreatedAt:     attempt.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(jobDetailResponse{
		jobResponse: toJobResponse(job),
		Attempts:    items,
	})
}

func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	jobs, total, err := h.jobs.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		data = append(data, toJobResponse(&jobs[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listJobsResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseJobStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawSource := strings.TrimSpace(c.Query("source")); rawSource != "" {
		source := strings.ToLower(rawSource)
		params.Source = &source
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toJobResponse(j *domain.Job) jobResponse {
	if j == nil {
		return jobResponse{}
	}

	var discardReason *string
	if j.DiscardReason != nil {
		value := j.DiscardReason.String()
		discardReason = &value
	}

	return jobResponse{
		ID:              j.ID,
		Source:          j.Source,
		RecipientEmail:  j.RecipientEmail,
		Message:         j.Message,
		URL:             j.URL,
		ExternalEventID: j.ExternalEventID,
		Status:          j.Status.String(),
		DiscardReason:   discardReason,
		AttemptCount:    j.AttemptCount,
		MaxAttempts:     j.MaxAttempts,
		NextRetryAt:     j.NextRetryAt,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
