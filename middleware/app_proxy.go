package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"referral-engine/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const customerLocal = "customer_id"

// SignAppProxy computes the signature Shopify adds to storefront requests it
// forwards through the app proxy: every parameter except signature, as
// key=value with multiple values joined by commas, sorted, concatenated, then
// hex HMAC-SHA256.
func SignAppProxy(secret string, params url.Values) string {
	pairs := make([]string, 0, len(params))
	for key, values := range params {
		if key == "signature" {
			continue
		}
		pairs = append(pairs, key+"="+strings.Join(values, ","))
	}
	sort.Strings(pairs)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, "")))
	return hex.EncodeToString(mac.Sum(nil))
}

// AppProxyAuth verifies the app proxy signature on storefront routes and
// exposes the shop and the logged-in customer. maxAge bounds the timestamp
// parameter; zero disables the check.
func AppProxyAuth(secret string, maxAge time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		params, err := url.ParseQuery(string(c.Request().URI().QueryString()))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed query"})
		}
		shop := strings.ToLower(params.Get("shop"))
		log := utils.Log.WithFields(logrus.Fields{"path": c.Path(), "shop": shop})

		given, err := hex.DecodeString(params.Get("signature"))
		if err != nil || len(given) == 0 {
			log.Warn("🚫 [APP_PROXY] missing signature")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		expected, _ := hex.DecodeString(SignAppProxy(secret, params))
		if !hmac.Equal(given, expected) {
			log.Warn("❌ [APP_PROXY] signature mismatch")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		if maxAge > 0 {
			ts, err := strconv.ParseInt(params.Get("timestamp"), 10, 64)
			if err != nil || time.Since(time.Unix(ts, 0)) > maxAge {
				log.Warn("❌ [APP_PROXY] stale or missing timestamp")
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "request expired"})
			}
		}
		if !ValidShopDomain(shop) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "a valid shop domain is required"})
		}

		c.Locals(shopLocal, shop)
		c.Locals(customerLocal, params.Get("logged_in_customer_id"))
		return c.Next()
	}
}

// Customer returns the logged-in storefront customer id, if any.
func Customer(c *fiber.Ctx) string {
	id, _ := c.Locals(customerLocal).(string)
	return id
}
