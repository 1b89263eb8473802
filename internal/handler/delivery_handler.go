package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/gcm-relay/internal/domain"
	"github.com/kursadbilgin/gcm-relay/internal/observability"
	"go.uber.org/zap"
)

type DeliveryService interface {
	Enqueue(ctx context.Context, message *domain.Message) (*domain.Delivery, error)
	GetByID(ctx context.Context, id string) (*domain.Delivery, error)
}

type DeliveryHandler struct {
	service DeliveryService
	logger  *zap.Logger
}

func NewDeliveryHandler(service DeliveryService, logger *zap.Logger) (*DeliveryHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("delivery service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryHandler{service: service, logger: logger}, nil
}

func RegisterDeliveryRoutes(router fiber.Router, service DeliveryService, logger *zap.Logger) error {
	h, err := NewDeliveryHandler(service, logger)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/deliveries", h.CreateDelivery)
	v1.Get("/deliveries/:id", h.GetDelivery)

	return nil
}

type deliveryResponse struct {
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Status        string          `json:"status"`
	Request       json.RawMessage `json:"request"`
	Report        json.RawMessage `json:"report,omitempty"`
	Error         *string         `json:"error,omitempty"`
	Attempts      int             `json:"attempts"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func (h *DeliveryHandler) CreateDelivery(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	message, err := req.toMessage()
	if err != nil {
		return toHTTPError(err)
	}

	ctx := c.UserContext()
	delivery, err := h.service.Enqueue(ctx, message)
	if err != nil {
		return toHTTPError(err)
	}

	observability.WithContextLogger(h.logger, ctx).Info("delivery accepted",
		zap.String("deliveryId", delivery.ID),
		zap.Int("recipients", len(message.Recipients())),
	)

	return c.Status(fiber.StatusAccepted).JSON(toDeliveryResponse(delivery))
}

func (h *DeliveryHandler) GetDelivery(c *fiber.Ctx) error {
	delivery, err := h.service.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toDeliveryResponse(delivery))
}

func toDeliveryResponse(d *domain.Delivery) deliveryResponse {
	return deliveryResponse{
		ID:            d.ID,
		CorrelationID: d.CorrelationID,
		Status:        d.Status.String(),
		Request:       d.Request,
		Report:        d.Report,
		Error:         d.Error,
		Attempts:      d.Attempts,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
