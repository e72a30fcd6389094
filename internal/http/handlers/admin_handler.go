package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/swap-desk/backend/internal/http/dto"
	"github.com/swap-desk/backend/internal/middleware"
	"github.com/swap-desk/backend/internal/services"
	"go.uber.org/zap"
)

// AdminHandler exposes the owner-only engine settings.
type AdminHandler struct {
	swapService *services.SwapService
	log         *zap.Logger
}

func NewAdminHandler(swapService *services.SwapService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{swapService: swapService, log: log}
}

func (h *AdminHandler) SetFeeRate(c *fiber.Ctx) error {
	var req dto.SetFeeRateRequest
	if err := c.BodyParser(&req); err != nil || req.RatePerMille == nil {
		return badRequest(c, "rate_per_mille is required")
	}
	if err := h.swapService.SetFeeRate(c.Context(), middleware.GetAddress(c), *req.RatePerMille); err != nil {
		return respondError(c, h.log, "set fee rate", err)
	}
	return h.settings(c)
}

func (h *AdminHandler) SetFeeGraceVolume(c *fiber.Ctx) error {
	var req dto.SetFeeGraceVolumeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	volume, err := dto.ParseAmount(req.Volume)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := h.swapService.SetFeeGraceVolume(c.Context(), middleware.GetAddress(c), volume); err != nil {
		return respondError(c, h.log, "set fee grace volume", err)
	}
	return h.settings(c)
}

func (h *AdminHandler) SetFeePaymentAddress(c *fiber.Ctx) error {
	var req dto.SetFeePaymentAddressRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	addr, err := dto.ParseAddress(req.Address)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := h.swapService.SetFeePaymentAddress(c.Context(), middleware.GetAddress(c), addr); err != nil {
		return respondError(c, h.log, "set fee payment address", err)
	}
	return h.settings(c)
}

func (h *AdminHandler) SetMaxBidExpiry(c *fiber.Ctx) error {
	var req dto.SetMaxBidExpiryRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	horizon := time.Duration(req.Seconds) * time.Second
	if err := h.swapService.SetMaxBidExpiry(c.Context(), middleware.GetAddress(c), horizon); err != nil {
		return respondError(c, h.log, "set max bid expiry", err)
	}
	return h.settings(c)
}

func (h *AdminHandler) AddCurrency(c *fiber.Ctx) error {
	var req dto.CurrencyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	currency, err := dto.ParseAddress(req.Currency)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := h.swapService.AddCurrency(c.Context(), middleware.GetAddress(c), currency); err != nil {
		return respondError(c, h.log, "add currency", err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.CurrencyResponse{Currency: currency.Hex(), Allowed: true}})
}

func (h *AdminHandler) RemoveCurrency(c *fiber.Ctx) error {
	currency, err := dto.ParseAddress(c.Params("address"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := h.swapService.RemoveCurrency(c.Context(), middleware.GetAddress(c), currency); err != nil {
		return respondError(c, h.log, "remove currency", err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.CurrencyResponse{Currency: currency.Hex(), Allowed: false}})
}

func (h *AdminHandler) settings(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewSettingsResponse(h.swapService.Settings())})
}
