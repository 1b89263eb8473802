package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/gcm-relay/internal/domain"
	"github.com/kursadbilgin/gcm-relay/internal/observability"
	"github.com/kursadbilgin/gcm-relay/internal/provider"
	"github.com/kursadbilgin/gcm-relay/internal/service"
	"go.uber.org/zap"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, message *domain.Message) (*service.Report, error)
}

type MessageHandler struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

func NewMessageHandler(dispatcher Dispatcher, logger *zap.Logger) (*MessageHandler, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageHandler{dispatcher: dispatcher, logger: logger}, nil
}

func RegisterMessageRoutes(router fiber.Router, dispatcher Dispatcher, logger *zap.Logger) error {
	h, err := NewMessageHandler(dispatcher, logger)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/messages", h.SendMessage)

	return nil
}

type sendMessageRequest struct {
	To              string               `json:"to"`
	RegistrationIDs []string             `json:"registration_ids"`
	Data            map[string]any       `json:"data"`
	Notification    *domain.Notification `json:"notification"`
	Options         *domain.Options      `json:"options"`
}

func (r sendMessageRequest) toMessage() (*domain.Message, error) {
	return domain.NewMessage(domain.MessageParams{
		To:              strings.TrimSpace(r.To),
		RegistrationIDs: r.RegistrationIDs,
		Data:            r.Data,
		Notification:    r.Notification,
		Options:         r.Options,
	})
}

type sendMessageResponse struct {
	MulticastIDs []string          `json:"multicastIds"`
	Success      map[string]string `json:"success"`
	Failure      map[string]string `json:"failure"`
	CanonicalIDs map[string]string `json:"canonicalIds"`
	Unregistered []string          `json:"unregistered"`
	Unavailable  []string          `json:"unavailable"`
	MessageID    string            `json:"messageId,omitempty"`
	Error        string            `json:"error,omitempty"`
	Attempts     int               `json:"attempts"`
}

func (h *MessageHandler) SendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	message, err := req.toMessage()
	if err != nil {
		return toHTTPError(err)
	}

	ctx := c.UserContext()
	report, err := h.dispatcher.Dispatch(ctx, message)
	if err != nil {
		return toHTTPError(err)
	}

	observability.WithContextLogger(h.logger, ctx).Info("message dispatched",
		zap.Int("recipients", len(message.Recipients())),
		zap.Int("success", len(report.Success)),
		zap.Int("failure", len(report.Failure)),
		zap.Int("unregistered", len(report.Unregistered)),
		zap.Int("unavailable", len(report.Unavailable)),
		zap.Int("attempts", report.Attempts),
	)

	return c.Status(fiber.StatusOK).JSON(toSendMessageResponse(report))
}

func toSendMessageResponse(report *service.Report) sendMessageResponse {
	if report == nil {
		return sendMessageResponse{}
	}

	return sendMessageResponse{
		MulticastIDs: report.MulticastIDs,
		Success:      report.Success,
		Failure:      report.Failure,
		CanonicalIDs: report.CanonicalIDs,
		Unregistered: report.Unregistered,
		Unavailable:  report.Unavailable,
		MessageID:    report.MessageID,
		Error:        report.Error,
		Attempts:     report.Attempts,
	}
}

func toHTTPError(err error) error {
	var serviceErr *provider.ServiceError
	var malformedErr *provider.MalformedResponseError

	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.As(err, &serviceErr), errors.As(err, &malformedErr):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	case provider.IsTransient(err):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
