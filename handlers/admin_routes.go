package handlers

import (
	"errors"

	"referral-engine/middleware"
	"referral-engine/models"
	"referral-engine/services"

	"github.com/gofiber/fiber/v2"
)

// AdminHandler serves the merchant admin. Every route runs behind the
// gateway's service token and acts on the shop named by ShopContext.
type AdminHandler struct {
	Referrals   *services.ReferralService
	Conversions *services.ConversionService
}

func SetupAdminRoutes(app fiber.Router, serviceToken string, h *AdminHandler) {
	admin := app.Group("/admin", middleware.ServiceTokenAuth(serviceToken), middleware.ShopContext())

	admin.Get("/programs", h.ListPrograms)
	admin.Post("/programs", h.CreateProgram)
	admin.Patch("/programs/:id/status", h.SetProgramStatus)
	admin.Post("/programs/:id/close", h.CloseProgram)
	admin.Get("/programs/:id/referrals", h.ListReferrals)

	admin.Post("/referrals", h.CreateReferral)
	admin.Get("/referrals/:code", h.GetReferral)
	admin.Post("/referrals/:code/invitations", h.Invite)

	// Manual replay of an order the webhook missed.
	admin.Post("/orders", h.ProcessOrder)
}

func (h *AdminHandler) ListPrograms(c *fiber.Ctx) error {
	programs, err := h.Referrals.ListPrograms(c.UserContext(), middleware.Shop(c))
	if err != nil {
		return respondError(c, err)
	}
	if programs == nil {
		programs = []models.Program{}
	}
	return c.JSON(programs)
}

func (h *AdminHandler) CreateProgram(c *fiber.Ctx) error {
	var in services.CreateProgramInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	in.Shop = middleware.Shop(c)

	program, err := h.Referrals.CreateProgram(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(program)
}

type programStatusRequest struct {
	IsActive *bool `json:"is_active"`
}

func (h *AdminHandler) SetProgramStatus(c *fiber.Ctx) error {
	var req programStatusRequest
	if err := c.BodyParser(&req); err != nil || req.IsActive == nil {
		return badRequest(c, "is_active is required")
	}
	program, err := h.Referrals.SetProgramActive(c.UserContext(), middleware.Shop(c), c.Params("id"), *req.IsActive)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(program)
}

func (h *AdminHandler) CloseProgram(c *fiber.Ctx) error {
	program, err := h.Referrals.CloseProgram(c.UserContext(), middleware.Shop(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(program)
}

func (h *AdminHandler) ListReferrals(c *fiber.Ctx) error {
	referrals, err := h.Referrals.ListReferrals(c.UserContext(), middleware.Shop(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	if referrals == nil {
		referrals = []models.Referral{}
	}
	return c.JSON(referrals)
}

func (h *AdminHandler) CreateReferral(c *fiber.Ctx) error {
	var in services.CreateReferralInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	in.Shop = middleware.Shop(c)

	referral, created, err := h.Referrals.CreateReferral(c.UserContext(), in)
	if err != nil {
		return respondError(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(referral)
}

func (h *AdminHandler) GetReferral(c *fiber.Ctx) error {
	referral, err := h.Referrals.GetReferralByCode(c.UserContext(), c.Params("code"))
	if err == nil && referral.Shop != middleware.Shop(c) {
		err = services.ErrReferralNotFound
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(referral)
}

func (h *AdminHandler) Invite(c *fiber.Ctx) error {
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

func (h *AdminHandler) ProcessOrder(c *fiber.Ctx) error {
	var order models.OrderEvent
	if err := c.BodyParser(&order); err != nil {
		return badRequest(c, "invalid order payload")
	}
	outcome, err := h.Conversions.ProcessOrder(c.UserContext(), middleware.Shop(c), &order)
	if errors.Is(err, services.ErrInvalidOrder) {
		return badRequest(c, err.Error())
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(outcome)
}
