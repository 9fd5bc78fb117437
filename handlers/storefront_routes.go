package handlers

import (
	"strings"

	"referral-engine/middleware"
	"referral-engine/models"
	"referral-engine/services"
	"referral-engine/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// StorefrontHandler serves the customer-facing routes Shopify forwards
// through the app proxy.
type StorefrontHandler struct {
	Referrals *services.ReferralService
	// Attribution is nil when customer codes are read from a store the
	// storefront cannot write to.
	Attribution services.CustomerAttributionStore
}

// publicReferral is what a shopper may see about someone else's referral.
type publicReferral struct {
	ReferralCode string                `json:"referral_code"`
	ReferralLink string                `json:"referral_link"`
	ReferrerName string                `json:"referrer_name,omitempty"`
	ProgramName  string                `json:"program_name,omitempty"`
	Status       models.ReferralStatus `json:"status"`
}

func toPublicReferral(r *models.Referral) publicReferral {
	out := publicReferral{
		ReferralCode: r.ReferralCode,
		ReferralLink: r.ReferralLink,
		ReferrerName: r.ReferrerName,
		Status:       r.Status,
	}
	if r.Program != nil {
		out.ProgramName = r.Program.Name
	}
	return out
}

func SetupStorefrontRoutes(app fiber.Router, auth fiber.Handler, h *StorefrontHandler) {
	proxy := app.Group("/proxy", auth)

	proxy.Get("/referrals/:code", h.GetReferral)
	proxy.Post("/referrals/:code/invitations", h.Invite)
	proxy.Post("/referrers/register", h.Register)
	proxy.Post("/referrers/verify", h.Verify)
	proxy.Get("/dashboard", h.Dashboard)

	if h.Attribution != nil {
		proxy.Post("/attribution/customer", h.SaveCustomerAttribution)
	}
}

func (h *StorefrontHandler) shopReferral(c *fiber.Ctx, code string) (*models.Referral, error) {
	referral, err := h.Referrals.GetReferralByCode(c.UserContext(), code)
	if err != nil {
		return nil, err
	}
	if referral.Shop != middleware.Shop(c) {
		return nil, services.ErrReferralNotFound
	}
	return referral, nil
}

func (h *StorefrontHandler) GetReferral(c *fiber.Ctx) error {
	referral, err := h.shopReferral(c, c.Params("code"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(toPublicReferral(referral))
}

func (h *StorefrontHandler) Invite(c *fiber.Ctx) error {
	var in services.InviteInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	referral, err := h.Referrals.InviteReferee(c.UserContext(), middleware.Shop(c), c.Params("code"), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":        "sent",
		"referral_code": referral.ReferralCode,
	})
}

func (h *StorefrontHandler) Register(c *fiber.Ctx) error {
	var in services.RegisterReferrerInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	in.Shop = middleware.Shop(c)

	reg, err := h.Referrals.RegisterReferrer(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	// The verification token only travels by email.
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"referrer_id":    reg.Account.ID,
		"email":          reg.Account.Email,
		"email_verified": reg.Account.IsEmailVerified,
		"referral_code":  reg.Referral.ReferralCode,
		"referral_link":  reg.Referral.ReferralLink,
	})
}

type verifyRequest struct {
	Code  string `json:"code"`
	Token string `json:"token"`
}

func (h *StorefrontHandler) Verify(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Code == "" || req.Token == "" {
		return badRequest(c, "code and token are required")
	}
	account, err := h.Referrals.VerifyReferrer(c.UserContext(), middleware.Shop(c), req.Code, req.Token)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"email": account.Email, "email_verified": account.IsEmailVerified})
}

func (h *StorefrontHandler) Dashboard(c *fiber.Ctx) error {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		return badRequest(c, "email is required")
	}
	dashboard, err := h.Referrals.ReferrerDashboard(c.UserContext(), middleware.Shop(c), email)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dashboard)
}

type customerAttributionRequest struct {
	Code string `json:"code"`
}

// SaveCustomerAttribution remembers the code a logged-in customer arrived
// with so the order can be credited even when checkout drops the cookie.
func (h *StorefrontHandler) SaveCustomerAttribution(c *fiber.Ctx) error {
	customerID := middleware.Customer(c)
	if customerID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "customer login required"})
	}
	var req customerAttributionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.Code) == "" {
		return badRequest(c, "code is required")
	}

	referral, err := h.shopReferral(c, req.Code)
	if err != nil {
		return respondError(c, err)
	}
	if referral.Program == nil || !referral.Program.IsActive || referral.Status == models.ReferralExpired {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "referral is no longer active"})
	}

	shop := middleware.Shop(c)
	if err := h.Attribution.SaveReferralCode(c.UserContext(), shop, customerID, referral.ReferralCode); err != nil {
		utils.Log.WithFields(logrus.Fields{"shop": shop, "customer_id": customerID}).
			WithError(err).Error("❌ [ATTRIBUTION] failed to save customer code")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "attribution not saved"})
	}
	return c.JSON(fiber.Map{"status": "saved", "referral_code": referral.ReferralCode})
}
