package handlers

import (
	"context"
	"encoding/json"
	"time"

	"referral-engine/middleware"
	"referral-engine/models"
	"referral-engine/repository"
	"referral-engine/services"
	"referral-engine/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const topicOrdersPaid = "orders/paid"

// WebhookArchiver stores raw webhook bodies for later replay.
type WebhookArchiver interface {
	ArchiveWebhook(ctx context.Context, shop, orderID, deliveryID string, body []byte) error
}

type WebhookHandler struct {
	Conversions *services.ConversionService
	Deliveries  repository.WebhookDeliveryRepository
	// Archive is optional.
	Archive WebhookArchiver
}

func SetupWebhookRoutes(app fiber.Router, secret string, h *WebhookHandler) {
	app.Post("/webhooks/orders/paid", middleware.ShopifyWebhook(secret), h.OrdersPaid)
}

// OrdersPaid answers 200 for every business outcome so Shopify stops
// retrying, 400 for payloads that will never parse, and 500 for storage
// failures so the delivery is retried.
func (h *WebhookHandler) OrdersPaid(c *fiber.Ctx) error {
	start := time.Now()
	defer func() {
		utils.WebhookDuration.WithLabelValues(topicOrdersPaid).Observe(time.Since(start).Seconds())
	}()

	ctx := c.UserContext()
	shop := middleware.Shop(c)
	topic := c.Get(middleware.HeaderShopifyTopic)
	deliveryID := c.Get(middleware.HeaderShopifyWebhook)
	log := utils.Log.WithFields(logrus.Fields{"shop": shop, "topic": topic, "delivery_id": deliveryID})

	if topic != "" && topic != topicOrdersPaid {
		log.Info("[WEBHOOK] ignoring unexpected topic")
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	if deliveryID != "" {
		seen, err := h.Deliveries.Seen(ctx, topicOrdersPaid, deliveryID)
		if err != nil {
			log.WithError(err).Warn("⚠️ [WEBHOOK] delivery lookup failed, processing anyway")
		} else if seen {
			log.Info("[WEBHOOK] duplicate delivery")
			return c.JSON(fiber.Map{"status": "duplicate"})
		}
	}

	body := c.Body()
	var order models.OrderEvent
	if err := json.Unmarshal(body, &order); err != nil {
		log.WithError(err).Warn("❌ [WEBHOOK] invalid order payload")
		return badRequest(c, "invalid order payload")
	}
	if order.ID == "" {
		return badRequest(c, "order id missing")
	}
	log = log.WithField("order_id", order.ID.String())

	if h.Archive != nil {
		raw := append([]byte(nil), body...)
		if err := h.Archive.ArchiveWebhook(ctx, shop, order.ID.String(), deliveryID, raw); err != nil {
			log.WithError(err).Warn("⚠️ [WEBHOOK] payload not archived")
		}
	}

	outcome, err := h.Conversions.ProcessOrder(ctx, shop, &order)
	if err != nil {
		log.WithError(err).Error("❌ [WEBHOOK] order processing failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "order processing failed"})
	}

	if deliveryID != "" {
		delivery := &models.WebhookDelivery{
			Shop:        shop,
			Topic:       topicOrdersPaid,
			DeliveryID:  deliveryID,
			OrderID:     order.ID.String(),
			Outcome:     outcome.Label(),
			ProcessedAt: time.Now().UTC(),
		}
		if err := h.Deliveries.Record(context.WithoutCancel(ctx), delivery); err != nil {
			log.WithError(err).Warn("⚠️ [WEBHOOK] delivery not recorded")
		}
	}
	return c.JSON(outcome)
}
