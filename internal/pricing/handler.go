package pricing

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/stp258/serp/internal/fixed"
	"github.com/stp258/serp/internal/ledger"
	"github.com/stp258/serp/internal/registry"
)

// Handler exposes price endpoints.
type Handler struct {
	engine *Engine
}

// NewHandler constructs a pricing handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type stableRequest struct {
	ObservedPrice fixed.Price `json:"observed_price"`
}

type relativeRequest struct {
	BaseID     string      `json:"base_id"`
	BasePrice  fixed.Price `json:"base_price"`
	QuoteID    string      `json:"quote_id"`
	QuotePrice fixed.Price `json:"quote_price"`
}

type observeRequest struct {
	Price fixed.Price `json:"price"`
}

// Stable normalizes an observed peg price and records it.
func (h *Handler) Stable(c *fiber.Ctx) error {
	var req stableRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	currency := currencyParam(c)
	price, err := h.engine.StablePrice(c.UserContext(), currency, req.ObservedPrice)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"currency_id": currency,
		"price":       price,
	})
}

// Relative computes and records the price of base in quote units.
func (h *Handler) Relative(c *fiber.Ctx) error {
	var req relativeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.BaseID == "" || req.QuoteID == "" {
		return fiber.NewError(http.StatusBadRequest, "base_id and quote_id are required")
	}
	r, err := h.engine.RelativePrice(c.UserContext(),
		ledger.CurrencyID(req.BaseID), req.BasePrice, ledger.CurrencyID(req.QuoteID), req.QuotePrice)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"base_id":  req.BaseID,
		"quote_id": req.QuoteID,
		"price":    r.Price,
		"inverse":  r.Inverse,
	})
}

// Get returns the latest recorded price of a currency.
func (h *Handler) Get(c *fiber.Ctx) error {
	currency := currencyParam(c)
	price, err := h.engine.Price(c.UserContext(), currency)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{"currency_id": currency, "price": price})
}

// Observe stores a market observation pushed by the oracle.
func (h *Handler) Observe(c *fiber.Ctx) error {
	var req observeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	currency := currencyParam(c)
	if err := h.engine.Observe(c.UserContext(), currency, req.Price); err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"currency_id": currency, "price": req.Price})
}

// currencyParam copies the path parameter out of the request buffer, which
// fiber reuses once the handler returns.
func currencyParam(c *fiber.Ctx) ledger.CurrencyID {
	return ledger.CurrencyID(utils.CopyString(c.Params("currency")))
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownCurrency):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "price not found")
	case errors.Is(err, ErrPriceUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
