package handlers

import (
	"net/url"
	"time"

	"referral-engine/services"
	"referral-engine/utils"

	"github.com/gofiber/fiber/v2"
)

// SetupTrackRoutes exposes the public referral link redirect.
func SetupTrackRoutes(app fiber.Router, tracker *services.ClickTracker) {
	app.Get("/track/:code", func(c *fiber.Ctx) error {
		incoming, _ := url.ParseQuery(string(c.Request().URI().QueryString()))
		target := tracker.RecordClick(c.UserContext(), c.Params("code"), services.ClickMeta{
			IPAddress: utils.ClientIP(c.Get(fiber.HeaderXForwardedFor), c.Get("X-Real-IP"), c.IP()),
			UserAgent: c.Get(fiber.HeaderUserAgent),
			Referer:   c.Get(fiber.HeaderReferer),
			Query:     incoming,
		})

		if target.Cookie != nil {
			c.Cookie(&fiber.Cookie{
				Name:     target.Cookie.Name,
				Value:    target.Cookie.Value,
				Path:     "/",
				MaxAge:   int(target.Cookie.MaxAge / time.Second),
				Expires:  time.Now().Add(target.Cookie.MaxAge),
				SameSite: fiber.CookieSameSiteLaxMode,
			})
		}
		return c.Redirect(target.URL, fiber.StatusFound)
	})
}
