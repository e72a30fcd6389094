package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/swap-desk/backend/internal/auth"
	"github.com/swap-desk/backend/internal/config"
	"github.com/swap-desk/backend/internal/http/dto"
	"github.com/swap-desk/backend/internal/rbac"
	"go.uber.org/zap"
)

type AuthHandler struct {
	nonces auth.NonceStore
	cfg    *config.Config
	log    *zap.Logger
}

func NewAuthHandler(nonces auth.NonceStore, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{nonces: nonces, cfg: cfg, log: log}
}

// Nonce issues the message a wallet must sign to log in.
func (h *AuthHandler) Nonce(c *fiber.Ctx) error {
	var req dto.NonceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	addr, err := dto.ParseAddress(req.Address)
	if err != nil {
		return badRequest(c, err.Error())
	}

	nonce, err := h.nonces.Issue(c.Context(), addr)
	if err != nil {
		h.log.Error("failed to issue nonce", zap.String("address", addr.Hex()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	return c.JSON(dto.NonceResponse{
		Nonce:     nonce,
		Message:   auth.SignInMessage(addr, nonce),
		ExpiresIn: int64(h.cfg.AuthNonceTTL.Seconds()),
	})
}

// Verify checks the signed nonce and issues a JWT for the address.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	var req dto.VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	addr, err := dto.ParseAddress(req.Address)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if req.Nonce == "" || req.Signature == "" {
		return badRequest(c, "nonce and signature are required")
	}

	if err := h.nonces.Consume(c.Context(), addr, req.Nonce); err != nil {
		if errors.Is(err, auth.ErrNonceNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		h.log.Error("failed to consume nonce", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	if err := auth.VerifySignature(addr, auth.SignInMessage(addr, req.Nonce), req.Signature); err != nil {
		h.log.Debug("signature verification failed", zap.String("address", addr.Hex()), zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid signature"})
	}

	role := rbac.RoleTrader
	if h.cfg.IsOwner(addr) {
		role = rbac.RoleOwner
	}
	token, err := auth.GenerateJWT(h.cfg.JWTSecret, addr, role, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("failed to generate jwt", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	h.log.Info("wallet signed in", zap.String("address", addr.Hex()), zap.String("role", role))
	return c.JSON(dto.AuthResponse{Token: token, Address: addr.Hex(), Role: role})
}
