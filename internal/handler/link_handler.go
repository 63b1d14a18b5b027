package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/domain"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/service"
)

type LinkManager interface {
	RequestLink(ctx context.Context, email string, chatID int64) error
	VerifyLink(ctx context.Context, email string, chatID int64, code string) error
}

type LinkHandler struct {
	service LinkManager
}

func NewLinkHandler(service LinkManager) (*LinkHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("link service is required")
	}
	return &LinkHandler{service: service}, nil
}

func RegisterLinkRoutes(router fiber.Router, service LinkManager) error {
	h, err := NewLinkHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/link/request", h.RequestLink)
	v1.Post("/link/verify", h.VerifyLink)
	return nil
}

type linkRequestBody struct {
	Email  string `json:"email"`
	ChatID int64  `json:"chat_id"`
}

type linkVerifyBody struct {
	Email  string `json:"email"`
	ChatID int64  `json:"chat_id"`
	Code   string `json:"code"`
}

func (h *LinkHandler) RequestLink(c *fiber.Ctx) error {
	var req linkRequestBody
	if err := c.BodyParser(&req); err != nil {
		return linkFailure(c, fiber.StatusBadRequest, "invalid input")
	}

	if err := h.service.RequestLink(c.Context(), req.Email, req.ChatID); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return linkFailure(c, fiber.StatusBadRequest, "invalid input")
		}
		return err
	}

	// Always plain ok on issuance: the response must not reveal whether the
	// email is already linked.
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

func (h *LinkHandler) VerifyLink(c *fiber.Ctx) error {
	var req linkVerifyBody
	if err := c.BodyParser(&req); err != nil {
		return linkFailure(c, fiber.StatusBadRequest, "invalid input")
	}

	if err := h.service.VerifyLink(c.Context(), req.Email, req.ChatID, req.Code); err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return linkFailure(c, fiber.StatusBadRequest, "invalid input")
		}
		if reason := verifyFailureReason(err); reason != "" {
			return linkFailure(c, fiber.StatusBadRequest, reason)
		}
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// verifyFailureReason maps verification outcomes to their machine-checkable
// reason strings; anything else is an internal failure.
func verifyFailureReason(err error) string {
	for _, sentinel := range []error{
		service.ErrNoPendingRequest,
		service.ErrLinkExpired,
		service.ErrLinkLocked,
		service.ErrInvalidCode,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}

func linkFailure(c *fiber.Ctx, status int, reason string) error {
	return c.Status(status).JSON(fiber.Map{
		"ok":    false,
		"error": reason,
	})
}
