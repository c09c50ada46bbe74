package handlers

import (
	"context"
	"log/slog"
	"time"

	"lessonpay/internal/config"
	"lessonpay/internal/webhook"

	"github.com/gofiber/fiber/v3"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

// webhookTimestampTolerance is the maximum age of a webhook before it's
// rejected to prevent replay attacks
const webhookTimestampTolerance = 5 * time.Minute

// StripeWebhookHandler verifies incoming Stripe deliveries and hands them to
// the webhook processor. The processor's Result decides the HTTP status:
// success and terminal failures ACK with 2xx so Stripe stops redelivering,
// retryable failures answer 5xx to request another delivery.
type StripeWebhookHandler struct {
	processor      *webhook.Processor
	stripeConfig   *config.StripeConfig
	processTimeout time.Duration
}

// NewStripeWebhookHandler creates a new Stripe webhook handler
func NewStripeWebhookHandler(processor *webhook.Processor, stripeConfig *config.StripeConfig, processTimeout time.Duration) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		processor:      processor,
		stripeConfig:   stripeConfig,
		processTimeout: processTimeout,
	}
}

// HandleWebhook handles incoming Stripe webhook events
func (h *StripeWebhookHandler) HandleWebhook(c fiber.Ctx) error {
	signature := c.Get("Stripe-Signature")
	if signature == "" {
		slog.Warn("stripe webhook missing signature header")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing Stripe-Signature header",
		})
	}

	body := c.Body()
	event, err := stripewebhook.ConstructEventWithOptions(body, signature, h.stripeConfig.WebhookSecret, stripewebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		slog.Warn("stripe webhook signature verification failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid signature",
		})
	}

	// Validate webhook timestamp to prevent replay attacks
	eventTime := time.Unix(event.Created, 0)
	if time.Since(eventTime) > webhookTimestampTolerance {
		slog.Warn("stripe webhook rejected: timestamp too old",
			"event_id", event.ID,
			"event_time", eventTime,
			"age", time.Since(eventTime),
		)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Webhook timestamp too old",
		})
	}

	slog.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	// The processing timeout must stay well inside the ledger's 5-minute
	// stale window, otherwise a slow worker's claim could be stolen while
	// it is still running.
	ctx, cancel := context.WithTimeout(c.Context(), h.processTimeout)
	defer cancel()

	result := h.processor.Process(ctx, &event)

	if result.Success {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"received": true,
		})
	}

	if result.Failure.Terminal {
		// ACK: redelivery cannot fix a terminal failure.
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"received":   true,
			"error_code": result.Failure.Code,
			"reason":     result.Failure.Reason,
		})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":      "Webhook processing failed",
		"error_code": result.Failure.Code,
		"reason":     result.Failure.Reason,
	})
}
