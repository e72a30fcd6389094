package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/swap-desk/backend/internal/http/dto"
	"github.com/swap-desk/backend/internal/services"
)

// MetaHandler serves the engine-wide read endpoints.
type MetaHandler struct {
	swapService *services.SwapService
}

func NewMetaHandler(swapService *services.SwapService) *MetaHandler {
	return &MetaHandler{swapService: swapService}
}

type EngineInfo struct {
	Owner  string `json:"owner"`
	Engine string `json:"engine"` // spender to approve before bidding
}

func (h *MetaHandler) GetInfo(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: EngineInfo{
		Owner:  h.swapService.Owner().Hex(),
		Engine: h.swapService.EngineAddress().Hex(),
	}})
}

func (h *MetaHandler) GetVolume(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"volume_traded": h.swapService.VolumeTraded().String(),
	}})
}

func (h *MetaHandler) GetSettings(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewSettingsResponse(h.swapService.Settings())})
}

func (h *MetaHandler) GetCurrencies(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.AddressesHex(h.swapService.Currencies())})
}

func (h *MetaHandler) GetCurrency(c *fiber.Ctx) error {
	currency, err := dto.ParseAddress(c.Params("address"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.CurrencyResponse{
		Currency: currency.Hex(),
		Allowed:  h.swapService.IsAllowed(currency),
	}})
}
