package middleware

import (
	"time"

	"referral-engine/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs one line per request once the handler chain returns.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		entry := utils.Log.WithFields(logrus.Fields{
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.IP(),
		})
		if err != nil {
			entry = entry.WithError(err)
		}
		switch {
		case status >= 500:
			entry.Error("📥 request failed")
		case status >= 400:
			entry.Warn("📥 request rejected")
		default:
			entry.Debug("📥 request")
		}
		return err
	}
}
