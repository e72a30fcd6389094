package handlers

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/swap-desk/backend/internal/http/dto"
	"github.com/swap-desk/backend/internal/middleware"
	"github.com/swap-desk/backend/internal/models"
	"github.com/swap-desk/backend/internal/services"
	"go.uber.org/zap"
)

// AuditReader serves the history endpoints.
type AuditReader interface {
	GetBySwap(ctx context.Context, swapID uint64, limit, offset int) ([]models.AuditLog, error)
	GetByActor(ctx context.Context, actor string, limit, offset int) ([]models.AuditLog, error)
}

type SwapHandler struct {
	swapService *services.SwapService
	audit       AuditReader
	log         *zap.Logger
}

func NewSwapHandler(swapService *services.SwapService, audit AuditReader, log *zap.Logger) *SwapHandler {
	return &SwapHandler{swapService: swapService, audit: audit, log: log}
}

func (h *SwapHandler) CreateSwap(c *fiber.Ctx) error {
	var req dto.CreateSwapRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	amount, err := dto.ParseAmount(req.Amount)
	if err != nil {
		return badRequest(c, err.Error())
	}
	currency, err := dto.ParseAddress(req.Currency)
	if err != nil {
		return badRequest(c, "invalid currency: "+err.Error())
	}
	buyer, err := dto.ParseOptionalAddress(req.Buyer)
	if err != nil {
		return badRequest(c, "invalid buyer: "+err.Error())
	}

	swap, err := h.swapService.CreateSwap(c.Context(), middleware.GetAddress(c), amount, currency, buyer)
	if err != nil {
		return respondError(c, h.log, "create swap", err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dto.NewSwapResponseFromSwap(swap)})
}

func (h *SwapHandler) UpdateSwap(c *fiber.Ctx) error {
	id, err := swapID(c)
	if err != nil {
		return badRequest(c, "invalid swap id")
	}
	var req dto.UpdateSwapRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	amount, err := dto.ParseAmount(req.Amount)
	if err != nil {
		return badRequest(c, err.Error())
	}
	currency, err := dto.ParseAddress(req.Currency)
	if err != nil {
		return badRequest(c, "invalid currency: "+err.Error())
	}

	swap, err := h.swapService.UpdateSwap(c.Context(), middleware.GetAddress(c), id, amount, currency)
	if err != nil {
		return respondError(c, h.log, "update swap", err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewSwapResponseFromSwap(swap)})
}

func (h *SwapHandler) CancelSwap(c *fiber.Ctx) error {
	id, err := swapID(c)
	if err != nil {
		return badRequest(c, "invalid swap id")
	}
	if err := h.swapService.CancelSwap(c.Context(), middleware.GetAddress(c), id); err != nil {
		return respondError(c, h.log, "cancel swap", err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *SwapHandler) AcceptSwap(c *fiber.Ctx) error {
	id, err := swapID(c)
	if err != nil {
		return badRequest(c, "invalid swap id")
	}
	swap, err := h.swapService.AcceptSwap(c.Context(), middleware.GetAddress(c), id)
	if err != nil {
		return respondError(c, h.log, "accept swap", err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewSwapResponseFromSwap(swap)})
}

// GetSwap answers unknown ids with a zero-valued swap, found=false.
func (h *SwapHandler) GetSwap(c *fiber.Ctx) error {
	id, err := swapID(c)
	if err != nil {
		return badRequest(c, "invalid swap id")
	}
	view, err := h.swapService.GetSwap(c.Context(), id)
	if err != nil {
		return respondError(c, h.log, "get swap", err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewSwapResponse(view)})
}

func (h *SwapHandler) ListSwaps(c *fiber.Ctx) error {
	bucket := services.SwapBucket(c.Query("bucket", string(services.BucketOpen)))
	ids, ok := h.swapService.Swaps(bucket)
	if !ok {
		return badRequest(c, "bucket must be one of open, completed, canceled")
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.SwapIDsResponse{SwapIDs: nonNil(ids)}})
}

func (h *SwapHandler) SellerSwaps(c *fiber.Ctx) error {
	addr, err := dto.ParseAddress(c.Params("address"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	ids := h.swapService.SellerSwaps(addr)
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.SwapIDsResponse{SwapIDs: nonNil(ids)}})
}

// BuyerSwaps lists swaps reserved for an address. The zero address lists
// public swaps.
func (h *SwapHandler) BuyerSwaps(c *fiber.Ctx) error {
	addr, err := dto.ParseAddress(c.Params("address"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	ids := h.swapService.BuyerSwaps(addr)
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.SwapIDsResponse{SwapIDs: nonNil(ids)}})
}

func (h *SwapHandler) History(c *fiber.Ctx) error {
	id, err := swapID(c)
	if err != nil {
		return badRequest(c, "invalid swap id")
	}
	if h.audit == nil {
		return c.JSON(dto.SuccessResponse{OK: true, Data: []models.AuditLog{}})
	}
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	entries, err := h.audit.GetBySwap(c.Context(), id, limit, offset)
	if err != nil {
		h.log.Error("swap history failed", zap.Uint64("swap_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	if entries == nil {
		entries = []models.AuditLog{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

// MyHistory lists the audit entries the caller produced, newest first.
func (h *SwapHandler) MyHistory(c *fiber.Ctx) error {
	if h.audit == nil {
		return c.JSON(dto.SuccessResponse{OK: true, Data: []models.AuditLog{}})
	}
	caller := middleware.GetAddress(c)
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	entries, err := h.audit.GetByActor(c.Context(), caller.Hex(), limit, offset)
	if err != nil {
		h.log.Error("actor history failed", zap.String("caller", caller.Hex()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	if entries == nil {
		entries = []models.AuditLog{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

func swapID(c *fiber.Ctx) (uint64, error) {
	return strconv.ParseUint(c.Params("id"), 10, 64)
}

func nonNil(ids []uint64) []uint64 {
	if ids == nil {
		return []uint64{}
	}
	return ids
}
