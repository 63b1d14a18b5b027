package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/domain"
)

const defaultSendTimeout = 10 * time.Second

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// TelegramProvider delivers job messages via the Telegram Bot sendMessage API.
type TelegramProvider struct {
	client  *resty.Client
	baseURL string
	token   string
}

func NewTelegramProvider(baseURL, token string) (*TelegramProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return NewTelegramProviderWithClient(baseURL, token, client)
}

func NewTelegramProviderWithClient(baseURL, token string, client *resty.Client) (*TelegramProvider, error) {
	trimmedURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedURL == "" {
		return nil, fmt.Errorf("telegram api url is required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	client.SetRetryCount(0)

	return &TelegramProvider{
		client:  client,
		baseURL: trimmedURL,
		token:   strings.TrimSpace(token),
	}, nil
}

func (p *TelegramProvider) Send(ctx context.Context, chatID int64, job domain.Job) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if chatID <= 0 {
		return nil, &ProviderError{Message: "chat id is required", Transient: false}
	}
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}

	reqBody := sendMessageRequest{
		ChatID: strconv.FormatInt(chatID, 10),
		Text:   job.Message,
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(p.sendMessageURL())
	if err != nil {
		// Transport-level failures never condemn the message.
		return nil, &ProviderError{
			Message:   "telegram request failed",
			Transient: true,
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "telegram returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &ProviderResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  providerMessageID(response),
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, responseBody),
		Transient:  isTransientTelegramStatus(statusCode),
	}
}

func (p *TelegramProvider) sendMessageURL() string {
	return fmt.Sprintf("%s/bot%s/sendMessage", p.baseURL, p.token)
}

// 400 means an invalid chat and 403 means the recipient blocked the bot;
// neither can succeed on retry. Everything else, 429 included, can.
func isTransientTelegramStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusBadRequest, http.StatusForbidden:
		return false
	}
	return true
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("telegram returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func providerMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Request-Id", "X-Correlation-ID", "X-Correlation-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
