package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"referral-engine/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const (
	HeaderShopifyHmac    = "X-Shopify-Hmac-Sha256"
	HeaderShopifyTopic   = "X-Shopify-Topic"
	HeaderShopifyDomain  = "X-Shopify-Shop-Domain"
	HeaderShopifyWebhook = "X-Shopify-Webhook-Id"
)

// SignWebhook returns the base64 HMAC-SHA256 Shopify puts in X-Shopify-Hmac-Sha256.
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ShopifyWebhook rejects webhook deliveries whose body signature does not match
// the app secret, then records the sending shop for handlers.
func ShopifyWebhook(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		log := utils.Log.WithFields(logrus.Fields{
			"path":  c.Path(),
			"topic": c.Get(HeaderShopifyTopic),
		})

		given, err := base64.StdEncoding.DecodeString(c.Get(HeaderShopifyHmac))
		if err != nil || len(given) == 0 {
			log.Warn("🚫 [WEBHOOK_AUTH] missing or malformed signature")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid webhook signature"})
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(c.Body())
		if !hmac.Equal(given, mac.Sum(nil)) {
			log.Warn("❌ [WEBHOOK_AUTH] signature mismatch")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid webhook signature"})
		}

		shop := strings.ToLower(strings.TrimSpace(c.Get(HeaderShopifyDomain)))
		if !ValidShopDomain(shop) {
			log.Warn("❌ [WEBHOOK_AUTH] missing shop domain")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing shop domain"})
		}
		c.Locals(shopLocal, shop)
		return c.Next()
	}
}
