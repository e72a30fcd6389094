package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/swap-desk/backend/internal/http/dto"
	"github.com/swap-desk/backend/internal/middleware"
	"github.com/swap-desk/backend/internal/services"
	"go.uber.org/zap"
)

// statusFor maps engine error categories to HTTP status codes. ok is false
// for errors the engine does not classify.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, services.ErrInvalidSwapID),
		errors.Is(err, services.ErrNoBidExists):
		return fiber.StatusNotFound, true
	case errors.Is(err, services.ErrNotSeller),
		errors.Is(err, services.ErrNotAuthorizedBuyer),
		errors.Is(err, services.ErrUnauthorized):
		return fiber.StatusForbidden, true
	case errors.Is(err, services.ErrInvalidState):
		return fiber.StatusConflict, true
	case errors.Is(err, services.ErrUnfundedSwap),
		errors.Is(err, services.ErrInsufficientBalance),
		errors.Is(err, services.ErrInsufficientAllowance):
		return fiber.StatusUnprocessableEntity, true
	case errors.Is(err, services.ErrInvalidCurrency),
		errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrInvalidExpiry),
		errors.Is(err, services.ErrInvalidBid),
		errors.Is(err, services.ErrInvalidSetting):
		return fiber.StatusBadRequest, true
	}
	return fiber.StatusInternalServerError, false
}

func respondError(c *fiber.Ctx, log *zap.Logger, op string, err error) error {
	status, known := statusFor(err)
	reqID := middleware.GetRequestID(c)
	if !known {
		log.Error(op+" failed", zap.String("request_id", reqID), zap.Error(err))
		return c.Status(status).JSON(dto.ErrorResponse{Error: "internal server error", RequestID: reqID})
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: reqID})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, RequestID: middleware.GetRequestID(c)})
}
