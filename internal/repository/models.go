package repository

import (
	"time"

	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/domain"
)

// JobModel is the persistence model for the notification_jobs table.
type JobModel struct {
	ID              string           `gorm:"type:uuid;primaryKey"`
	Source          string           `gorm:"type:varchar(32);not null"`
	RecipientEmail  string           `gorm:"type:varchar(255);not null"`
	Message         string           `gorm:"type:text;not null"`
	URL             *string          `gorm:"type:text"`
	ExternalEventID *string          `gorm:"type:varchar(255)"`
	Status          domain.JobStatus `gorm:"type:varchar(20);not null"`
	DiscardReason   *string          `gorm:"type:varchar(40)"`
	AttemptCount    int              `gorm:"not null;default:0"`
	MaxAttempts     int              `gorm:"not null;default:5"`
	NextRetryAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (JobModel) TableName() string {
	return "notification_jobs"
}

// PendingLinkModel is the persistence model for pending_links. Rows are only
// ever inserted or state-transitioned, never deleted.
type PendingLinkModel struct {
	ID          string           `gorm:"type:uuid;primaryKey"`
	Email       string           `gorm:"type:varchar(255);not null"`
	ChatID      int64            `gorm:"not null"`
	OTPHash     string           `gorm:"column:otp_hash;type:char(64);not null"`
	Salt        string           `gorm:"type:varchar(32);not null"`
	ExpiresAt   time.Time        `gorm:"not null"`
	Attempts    int              `gorm:"not null;default:0"`
	MaxAttempts int              `gorm:"not null;default:5"`
	State       domain.LinkState `gorm:"type:varchar(10);not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (PendingLinkModel) TableName() string {
	return "pending_links"
}

// LinkedIdentityModel is the persistence model for linked_identities.
type LinkedIdentityModel struct {
	Email     string `gorm:"type:varchar(255);primaryKey"`
	ChatID    int64  `gorm:"not null"`
	Verified  bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (LinkedIdentityModel) TableName() string {
	return "linked_identities"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
type DeliveryAttemptModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	JobID         string  `gorm:"type:uuid;not null"`
	AttemptNumber int     `gorm:"not null"`
	StatusCode    *int    `gorm:"type:int"`
	ResponseBody  *string `gorm:"type:text"`
	Error         *string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

func jobModelFromDomain(j *domain.Job) *JobModel {
	if j == nil {
		return nil
	}

	var reason *string
	if j.DiscardReason != nil {
		value := j.DiscardReason.String()
		reason = &value
	}

	return &JobModel{
		ID:              j.ID,
		Source:          j.Source,
		RecipientEmail:  j.RecipientEmail,
		Message:         j.Message,
		URL:             j.URL,
		ExternalEventID: j.ExternalEventID,
		Status:          j.Status,
		DiscardReason:   reason,
		AttemptCount:    j.AttemptCount,
		MaxAttempts:     j.MaxAttempts,
		NextRetryAt:     j.NextRetryAt,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

func jobModelToDomain(m *JobModel) *domain.Job {
	if m == nil {
		return nil
	}

	var reason *domain.DiscardReason
	if m.DiscardReason != nil {
		value := domain.DiscardReason(*m.DiscardReason)
		reason = &value
	}

	return &domain.Job{
		ID:              m.ID,
		Source:          m.Source,
		RecipientEmail:  m.RecipientEmail,
		Message:         m.Message,
		URL:             m.URL,
		ExternalEventID: m.ExternalEventID,
		Status:          m.Status,
		DiscardReason:   reason,
		AttemptCount:    m.AttemptCount,
		MaxAttempts:     m.MaxAttempts,
		NextRetryAt:     m.NextRetryAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func pendingLinkModelFromDomain(p *domain.PendingLink) *PendingLinkModel {
	if p == nil {
		return nil
	}

	return &PendingLinkModel{
		ID:          p.ID,
		Email:       p.Email,
		ChatID:      p.ChatID,
		OTPHash:     p.OTPHash,
		Salt:        p.Salt,
		ExpiresAt:   p.ExpiresAt,
		Attempts:    p.Attempts,
		MaxAttempts: p.MaxAttempts,
		State:       p.State,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func pendingLinkModelToDomain(m *PendingLinkModel) *domain.PendingLink {
	if m == nil {
		return nil
	}

	return &domain.PendingLink{
		ID:          m.ID,
		Email:       m.Email,
		ChatID:      m.ChatID,
		OTPHash:     m.OTPHash,
		Salt:        m.Salt,
		ExpiresAt:   m.ExpiresAt,
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		State:       m.State,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func identityModelToDomain(m *LinkedIdentityModel) *domain.LinkedIdentity {
	if m == nil {
		return nil
	}

	return &domain.LinkedIdentity{
		Email:     m.Email,
		ChatID:    m.ChatID,
		Verified:  m.Verified,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:            a.ID,
		JobID:         a.JobID,
		AttemptNumber: a.AttemptNumber,
		StatusCode:    a.StatusCode,
		ResponseBody:  a.ResponseBody,
		Error:         a.Error,
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:            m.ID,
		JobID:         m.JobID,
		AttemptNumber: m.AttemptNumber,
		StatusCode:    m.StatusCode,
		ResponseBody:  m.ResponseBody,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
	}
}
