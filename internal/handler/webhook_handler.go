package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/signature"
)

const (
	signatureHeader       = "X-Hub-Signature-256"
	legacySignatureHeader = "X-Hub-Signature"
)

type WebhookIngestor interface {
	IngestJira(ctx context.Context, body []byte, correlationID string) (int, error)
}

type WebhookHandler struct {
	ingest WebhookIngestor
	secret string
}

func NewWebhookHandler(ingest WebhookIngestor, secret string) (*WebhookHandler, error) {
	if ingest == nil {
		return nil, fmt.Errorf("ingest service is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &WebhookHandler{ingest: ingest, secret: secret}, nil
}

func RegisterWebhookRoutes(router fiber.Router, ingest WebhookIngestor, secret string) error {
	h, err := NewWebhookHandler(ingest, secret)
	if err != nil {
		return err
	}

	router.Post("/webhook/jira", h.IngestJira)
	return nil
}

func (h *WebhookHandler) IngestJira(c *fiber.Ctx) error {
	contentType := strings.ToLower(strings.TrimSpace(c.Get(fiber.HeaderContentType)))
	if !strings.HasPrefix(contentType, fiber.MIMEApplicationJSON) {
		return fiber.NewError(fiber.StatusUnsupportedMediaType, "content type must be application/json")
	}

	// The signature covers the raw request bytes. Never re-serialize before
	// verifying.
	body := c.Body()

	header := c.Get(signatureHeader)
	if strings.TrimSpace(header) == "" {
		header = c.Get(legacySignatureHeader)
	}
	if !signature.Verify(body, h.secret, header) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid signature")
	}

	count, err := h.ingest.IngestJira(c.Context(), body, requestCorrelationID(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"accepted": true,
		"count":    count,
	})
}
