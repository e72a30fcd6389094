package handlers

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/swap-desk/backend/internal/http/dto"
	"github.com/swap-desk/backend/internal/ledger"
	"github.com/swap-desk/backend/internal/middleware"
	"go.uber.org/zap"
)

// LedgerHandler drives the in-process ledger for local development. It is
// only mounted when DEV_LEDGER is enabled.
type LedgerHandler struct {
	ledger *ledger.Memory
	engine common.Address
	log    *zap.Logger
}

func NewLedgerHandler(l *ledger.Memory, engine common.Address, log *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, engine: engine, log: log}
}

func (h *LedgerHandler) Mint(c *fiber.Ctx) error {
	var req dto.MintRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	currency, err := dto.ParseAddress(req.Currency)
	if err != nil {
		return badRequest(c, "invalid currency: "+err.Error())
	}
	to, err := dto.ParseAddress(req.To)
	if err != nil {
		return badRequest(c, "invalid recipient: "+err.Error())
	}
	amount, err := dto.ParseAmount(req.Amount)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.ledger.Mint(c.Context(), currency, to, amount); err != nil {
		return badRequest(c, err.Error())
	}
	h.log.Info("dev ledger mint", zap.String("currency", currency.Hex()), zap.String("to", to.Hex()), zap.String("amount", amount.String()))
	return h.balance(c, currency, to)
}

// Lock credits restricted collateral, the balance a seller needs to list.
func (h *LedgerHandler) Lock(c *fiber.Ctx) error {
	var req dto.LockRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	to, err := dto.ParseAddress(req.To)
	if err != nil {
		return badRequest(c, "invalid recipient: "+err.Error())
	}
	amount, err := dto.ParseAmount(req.Amount)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.ledger.Lock(c.Context(), to, amount); err != nil {
		return badRequest(c, err.Error())
	}
	h.log.Info("dev ledger lock", zap.String("to", to.Hex()), zap.String("amount", amount.String()))
	return h.balance(c, h.ledger.CollateralAddress(), to)
}

// Approve sets the caller's allowance for spender, the engine by default.
func (h *LedgerHandler) Approve(c *fiber.Ctx) error {
	var req dto.ApproveRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	currency, err := dto.ParseAddress(req.Currency)
	if err != nil {
		return badRequest(c, "invalid currency: "+err.Error())
	}
	spender := h.engine
	if req.Spender != "" {
		if spender, err = dto.ParseAddress(req.Spender); err != nil {
			return badRequest(c, "invalid spender: "+err.Error())
		}
	}
	amount, err := dto.ParseAmount(req.Amount)
	if err != nil {
		return badRequest(c, err.Error())
	}

	caller := middleware.GetAddress(c)
	token, err := h.ledger.Token(currency)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := token.Approve(c.Context(), caller, spender, amount); err != nil {
		return badRequest(c, err.Error())
	}
	return h.balance(c, currency, caller)
}

// TransferAll moves the caller's whole collateral position, liquid and
// restricted, to another account. Sellers use it to fund a custody account.
func (h *LedgerHandler) TransferAll(c *fiber.Ctx) error {
	var req dto.TransferAllRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	to, err := dto.ParseAddress(req.To)
	if err != nil {
		return badRequest(c, "invalid recipient: "+err.Error())
	}

	caller := middleware.GetAddress(c)
	if err := h.ledger.Collateral().TransferAll(c.Context(), caller, to); err != nil {
		return badRequest(c, err.Error())
	}
	h.log.Info("dev ledger transfer all", zap.String("from", caller.Hex()), zap.String("to", to.Hex()))
	return h.balance(c, h.ledger.CollateralAddress(), to)
}

func (h *LedgerHandler) GetBalance(c *fiber.Ctx) error {
	currency, err := dto.ParseAddress(c.Params("currency"))
	if err != nil {
		return badRequest(c, "invalid currency: "+err.Error())
	}
	holder, err := dto.ParseAddress(c.Params("holder"))
	if err != nil {
		return badRequest(c, "invalid holder: "+err.Error())
	}
	return h.balance(c, currency, holder)
}

func (h *LedgerHandler) balance(c *fiber.Ctx, currency, holder common.Address) error {
	token, err := h.ledger.Token(currency)
	if err != nil {
		return badRequest(c, err.Error())
	}
	bal, err := token.BalanceOf(c.Context(), holder)
	if err != nil {
		return respondError(c, h.log, "balance", err)
	}
	allowance, err := token.Allowance(c.Context(), holder, h.engine)
	if err != nil {
		return respondError(c, h.log, "allowance", err)
	}
	resp := dto.BalanceResponse{
		Holder:    holder.Hex(),
		Currency:  currency.Hex(),
		Balance:   bal.String(),
		Allowance: allowance.String(),
	}
	if currency == h.ledger.CollateralAddress() {
		restricted, err := h.ledger.Collateral().RestrictedBalanceOf(c.Context(), holder)
		if err != nil {
			return respondError(c, h.log, "restricted balance", err)
		}
		resp.Restricted = restricted.String()
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: resp})
}
