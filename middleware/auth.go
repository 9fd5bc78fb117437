package middleware

import (
	"regexp"
	"strings"

	"referral-engine/utils"

	"github.com/gofiber/fiber/v2"
)

const shopLocal = "shop"

var shopDomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]*\.myshopify\.com$`)

// ValidShopDomain accepts "name.myshopify.com" domains only.
func ValidShopDomain(shop string) bool {
	return shopDomainPattern.MatchString(shop)
}

// ShopContext reads the shop the request acts on from X-Shop-Domain, falling back
// to the shop query parameter, and stores it for handlers.
func ShopContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		shop := strings.ToLower(strings.TrimSpace(c.Get("X-Shop-Domain")))
		if shop == "" {
			shop = strings.ToLower(strings.TrimSpace(c.Query("shop")))
		}
		if !ValidShopDomain(shop) {
			utils.Log.WithField("path", c.Path()).Warn("❌ [SHOP_CTX] missing or invalid shop domain")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "a valid shop domain is required",
			})
		}
		c.Locals(shopLocal, shop)
		return c.Next()
	}
}

// Shop returns the shop set by ShopContext, AppProxyAuth or ShopifyWebhook.
func Shop(c *fiber.Ctx) string {
	shop, _ := c.Locals(shopLocal).(string)
	return shop
}
