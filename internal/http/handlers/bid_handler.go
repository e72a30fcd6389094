package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/swap-desk/backend/internal/http/dto"
	"github.com/swap-desk/backend/internal/middleware"
	"github.com/swap-desk/backend/internal/services"
	"go.uber.org/zap"
)

const maxBidQueryIDs = 100

type BidHandler struct {
	swapService *services.SwapService
	now         func() time.Time
	log         *zap.Logger
}

func NewBidHandler(swapService *services.SwapService, log *zap.Logger) *BidHandler {
	return &BidHandler{swapService: swapService, now: time.Now, log: log}
}

// PlaceBid stores a bid, or settles the swap at once when the bid meets the ask.
func (h *BidHandler) PlaceBid(c *fiber.Ctx) error {
	id, err := swapID(c)
	if err != nil {
		return badRequest(c, "invalid swap id")
	}
	var req dto.PlaceBidRequest
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
	if req.ExpiryTime <= 0 {
		return badRequest(c, "expiry_time is required")
	}

	res, err := h.swapService.PlaceBid(c.Context(), middleware.GetAddress(c), id, amount, currency, time.Unix(req.ExpiryTime, 0))
	if err != nil {
		return respondError(c, h.log, "place bid", err)
	}

	resp := dto.PlaceBidResponse{
		Matched:  res.Matched,
		Replaced: res.Replaced,
		Bid:      dto.NewBidResponse(res.Bid, h.now()),
	}
	if res.Swap != nil {
		sw := dto.NewSwapResponseFromSwap(res.Swap)
		resp.Swap = &sw
	}
	status := fiber.StatusCreated
	if res.Matched {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(dto.SuccessResponse{OK: true, Data: resp})
}

func (h *BidHandler) AcceptBid(c *fiber.Ctx) error {
	id, err := swapID(c)
	if err != nil {
		return badRequest(c, "invalid swap id")
	}
	bidder, err := dto.ParseAddress(c.Params("bidder"))
	if err != nil {
		return badRequest(c, "invalid bidder: "+err.Error())
	}

	swap, err := h.swapService.AcceptBid(c.Context(), middleware.GetAddress(c), id, bidder)
	if err != nil {
		return respondError(c, h.log, "accept bid", err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.NewSwapResponseFromSwap(swap)})
}

func (h *BidHandler) CancelBid(c *fiber.Ctx) error {
	id, err := swapID(c)
	if err != nil {
		return badRequest(c, "invalid swap id")
	}
	if err := h.swapService.CancelBid(c.Context(), middleware.GetAddress(c), id); err != nil {
		return respondError(c, h.log, "cancel bid", err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *BidHandler) CancelAllBids(c *fiber.Ctx) error {
	ids, err := h.swapService.CancelAllBids(c.Context(), middleware.GetAddress(c))
	if err != nil {
		return respondError(c, h.log, "cancel all bids", err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.SwapIDsResponse{SwapIDs: nonNil(ids)}})
}

// SwapBids lists every stored bid on a swap, expired ones included.
func (h *BidHandler) SwapBids(c *fiber.Ctx) error {
	id, err := swapID(c)
	if err != nil {
		return badRequest(c, "invalid swap id")
	}
	now := h.now()
	bids := h.swapService.SwapBids(id)
	out := make([]dto.BidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, dto.NewBidResponse(b, now))
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}

// BuyerBids returns the address's bid on each of swap_ids, in order. Missing
// bids come back as empty entries.
func (h *BidHandler) BuyerBids(c *fiber.Ctx) error {
	addr, err := dto.ParseAddress(c.Params("address"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	ids, err := parseIDList(c.Query("swap_ids"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	now := h.now()
	bids := h.swapService.GetBuyerBids(addr, ids)
	out := make([]dto.BidResponse, len(bids))
	for i := range bids {
		out[i] = dto.NewBidResponse(&bids[i], now)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}

func (h *BidHandler) BidderSwaps(c *fiber.Ctx) error {
	addr, err := dto.ParseAddress(c.Params("address"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	ids := h.swapService.BidderSwaps(addr)
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.SwapIDsResponse{SwapIDs: nonNil(ids)}})
}

func parseIDList(s string) ([]uint64, error) {
	if s == "" {
		return []uint64{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) > maxBidQueryIDs {
		return nil, fiber.NewError(fiber.StatusBadRequest, "too many swap ids")
	}
	ids := make([]uint64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "invalid swap id "+strconv.Quote(p))
		}
		ids = append(ids, id)
	}
	return ids, nil
}
