package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a notification job.
type JobStatus string

const (
	JobStatusAccepted  JobStatus = "ACCEPTED"
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusSending   JobStatus = "SENDING"
	JobStatusDelivered JobStatus = "DELIVERED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusDiscarded JobStatus = "DISCARDED"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusAccepted, JobStatusQueued, JobStatusSending,
		JobStatusDelivered, JobStatusFailed, JobStatusDiscarded:
		return true
	}
	return false
}

// IsTerminal reports whether a job in this status will never be attempted again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDelivered, JobStatusFailed, JobStatusDiscarded:
		return true
	}
	return false
}

func ParseJobStatusFromString(s string) (JobStatus, error) {
	st := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid job status %q", ErrValidation, s)
	}
	return st, nil
}

// DiscardReason records why a job was dropped without delivery. Discarded rows
// are kept, so the reason is queryable after the fact.
type DiscardReason string

const (
	DiscardMalformed        DiscardReason = "malformed"
	DiscardNoLinkedIdentity DiscardReason = "no_linked_identity"
	DiscardChannelRejected  DiscardReason = "channel_rejected"
)

func (r DiscardReason) String() string { return string(r) }

// SourceJira is the only event source currently normalized.
const SourceJira = "jira"

// DefaultJobMaxAttempts bounds delivery attempts per job.
const DefaultJobMaxAttempts = 5

// Job is a single notification to one recipient. Immutable payload once
// enqueued; only status, attempt bookkeeping, and discard reason mutate.
type Job struct {
	ID              string
	Source          string
	RecipientEmail  string
	Message         string
	URL             *string
	ExternalEventID *string
	Status          JobStatus
	DiscardReason   *DiscardReason
	AttemptCount    int
	MaxAttempts     int
	NextRetryAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (j *Job) Validate() error {
	if strings.TrimSpace(j.Source) == "" {
		return fmt.Errorf("%w: source is required", ErrValidation)
	}
	if strings.TrimSpace(j.RecipientEmail) == "" {
		return fmt.Errorf("%w: recipient email is required", ErrValidation)
	}
	if strings.TrimSpace(j.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	return nil
}

// NewJob fills defaults for a freshly normalized job.
func NewJob(source, email, message string) Job {
	return Job{
		Source:         source,
		RecipientEmail: strings.TrimSpace(email),
		Message:        strings.TrimSpace(message),
		Status:         JobStatusAccepted,
		MaxAttempts:    DefaultJobMaxAttempts,
	}
}
