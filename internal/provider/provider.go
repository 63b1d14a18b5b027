package provider

import (
	"context"

	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/domain"
)

// Provider is the outbound chat delivery port. Implementations classify
// failures via ProviderError so the worker never parses error text.
type Provider interface {
	Send(ctx context.Context, chatID int64, job domain.Job) (*ProviderResponse, error)
}

// ProviderResponse stores channel call metadata for audit and persistence.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
