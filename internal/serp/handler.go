package serp

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/stp258/serp/internal/fixed"
	"github.com/stp258/serp/internal/ledger"
	"github.com/stp258/serp/internal/pricing"
)

// Handler exposes the controller over HTTP.
type Handler struct {
	ctrl *Controller
}

// NewHandler constructs a controller handler.
func NewHandler(ctrl *Controller) *Handler {
	return &Handler{ctrl: ctrl}
}

type adjustRequest struct {
	Amount uint64 `json:"amount"`
}

// Expand mints supply of the currency in the path.
func (h *Handler) Expand(c *fiber.Ctx) error {
	var req adjustRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	adj, err := h.ctrl.ExpandSupply(c.UserContext(), currencyParam(c), req.Amount)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(adj)
}

// Contract burns supply of the currency in the path.
func (h *Handler) Contract(c *fiber.Ctx) error {
	var req adjustRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	adj, err := h.ctrl.ContractSupply(c.UserContext(), currencyParam(c), req.Amount)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(adj)
}

// SupplyChange reports the adjustment implied by the price query parameter.
func (h *Handler) SupplyChange(c *fiber.Ctx) error {
	raw := c.Query("price")
	if raw == "" {
		return fiber.NewError(http.StatusBadRequest, "price query parameter is required")
	}
	price, err := fixed.ParsePrice(raw)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	currency := currencyParam(c)
	change, err := h.ctrl.SupplyChange(c.UserContext(), currency, price)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{
		"currency_id": currency,
		"price":       price,
		"direction":   change.Direction,
		"amount":      change.Amount,
	})
}

// Issuance returns the total issuance of a currency.
func (h *Handler) Issuance(c *fiber.Ctx) error {
	currency := currencyParam(c)
	issuance, err := h.ctrl.Issuance(c.UserContext(), currency)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"currency_id": currency, "total_issuance": issuance})
}

// Balance returns the balances of an account.
func (h *Handler) Balance(c *fiber.Ctx) error {
	bal, err := h.ctrl.Balance(c.UserContext(),
		currencyParam(c), ledger.AccountID(utils.CopyString(c.Params("account"))))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(bal)
}

// currencyParam copies the path parameter out of the request buffer, which
// fiber reuses once the handler returns.
func currencyParam(c *fiber.Ctx) ledger.CurrencyID {
	return ledger.CurrencyID(utils.CopyString(c.Params("currency")))
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidTarget), errors.Is(err, pricing.ErrUnknownCurrency):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSupplyOverflow), errors.Is(err, ErrSupplyUnderflow):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrPriceUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrLedgerFailure):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
