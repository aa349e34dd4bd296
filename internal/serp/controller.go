// Package serp implements the supply elasticity controller: it expands or
// contracts the supply of a pegged currency and settles every adjustment
// against the market maker's reserved native balance.
package serp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stp258/serp/internal/distribution"
	"github.com/stp258/serp/internal/fixed"
	"github.com/stp258/serp/internal/ledger"
	"github.com/stp258/serp/internal/metrics"
	"github.com/stp258/serp/internal/notification"
	"github.com/stp258/serp/internal/pricing"
	"github.com/stp258/serp/internal/registry"
)

// Deps are the collaborators of a Controller.
type Deps struct {
	Ledger ledger.Ledger
	// Prices is the price registry written by every quote.
	Prices registry.Registry
	// Feed holds observed market prices.
	Feed     registry.Registry
	Notifier notification.Notifier
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

// Controller serializes supply adjustments. Every adjustment touches the
// stability fund and market maker accounts, so one lock covers all
// currencies.
type Controller struct {
	mu      sync.Mutex
	params  Params
	ledger  ledger.Ledger
	engine  *pricing.Engine
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// New validates params and builds a controller.
func New(params Params, d Deps) (*Controller, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stabilizer params: %w", err)
	}
	if d.Ledger == nil || d.Prices == nil || d.Feed == nil {
		return nil, fmt.Errorf("ledger, price registry and feed are required")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.Discard{}
	}
	return &Controller{
		params:  params,
		ledger:  d.Ledger,
		engine:  pricing.NewEngine(params.PricingConfig(), d.Prices, d.Feed, d.Ledger, notifier, logger),
		metrics: d.Metrics,
		logger:  logger,
	}, nil
}

// Engine returns the quotation engine used by the controller.
func (c *Controller) Engine() *pricing.Engine { return c.engine }

// Params returns the controller configuration.
func (c *Controller) Params() Params { return c.params }

// Adjustment describes a committed supply change.
type Adjustment struct {
	Currency    ledger.CurrencyID  `json:"currency_id"`
	Direction   string             `json:"direction"`
	Amount      uint64             `json:"amount"`
	Relative    fixed.Price        `json:"relative_price"`
	QuotedPrice fixed.Price        `json:"quoted_price"`
	Share       distribution.Share `json:"share"`
	Settlement  uint64             `json:"settlement"`
	Supply      uint64             `json:"supply"`
}

// ExpandSupply mints expandBy units of currency. The stability fund receives
// its share as free balance, the market maker receives its share as reserved
// balance and pays for it with reserved native at the serp quote.
func (c *Controller) ExpandSupply(ctx context.Context, currency ledger.CurrencyID, expandBy uint64) (Adjustment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	adj, err := c.expand(ctx, currency, expandBy)
	c.finish(ctx, metrics.Expand, currency, expandBy, adj, err)
	return adj, err
}

// ContractSupply burns contractBy units of currency from the market maker's
// reserved balance and returns native to it at the serp quote.
func (c *Controller) ContractSupply(ctx context.Context, currency ledger.CurrencyID, contractBy uint64) (Adjustment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	adj, err := c.contract(ctx, currency, contractBy)
	c.finish(ctx, metrics.Contract, currency, contractBy, adj, err)
	return adj, err
}

// SupplyChange returns the raw adjustment implied by newPrice.
func (c *Controller) SupplyChange(ctx context.Context, currency ledger.CurrencyID, newPrice fixed.Price) (pricing.SupplyChange, error) {
	if currency == c.params.Native {
		return pricing.SupplyChange{}, ErrInvalidTarget
	}
	return c.engine.SupplyChange(ctx, currency, newPrice)
}

func (c *Controller) expand(ctx context.Context, currency ledger.CurrencyID, expandBy uint64) (Adjustment, error) {
	adj := Adjustment{Currency: currency, Direction: metrics.Expand, Amount: expandBy}
	if currency == c.params.Native {
		return adj, ErrInvalidTarget
	}
	if expandBy == 0 {
		return adj, nil
	}
	if _, err := c.engine.BaseUnit(currency); err != nil {
		return adj, err
	}

	supply, err := c.ledger.TotalIssuance(ctx, currency)
	if err != nil {
		return adj, fmt.Errorf("%w: %w", ErrLedgerFailure, err)
	}
	if _, ok := ledger.CheckedAdd(supply, expandBy); !ok {
		return adj, ErrSupplyOverflow
	}

	quote, err := c.engine.Quote(ctx, c.params.Native, currency)
	if err != nil {
		return adj, err
	}
	share, err := distribution.Split(expandBy, c.params.Ratios)
	if err != nil {
		return adj, err
	}
	settlement, ok := fixed.DivFloor(share.MarketMaker, quote.Quoted)
	if !ok {
		return adj, fmt.Errorf("%w: zero serp quote for %s", ErrPriceUnavailable, currency)
	}

	native, fund, mm := c.params.Native, c.params.StabilityFund, c.params.MarketMaker
	err = c.ledger.WithTx(ctx, func(tx ledger.Ledger) error {
		if err := tx.Deposit(ctx, currency, fund, share.StabilityFund); err != nil {
			return ledgerFailure("credit stability fund", err)
		}
		if err := tx.Deposit(ctx, currency, mm, share.MarketMaker); err != nil {
			return ledgerFailure("credit market maker", err)
		}
		if err := tx.Reserve(ctx, currency, mm, share.MarketMaker); err != nil {
			return ledgerFailure("reserve market maker share", err)
		}
		remaining, err := tx.SlashReserved(ctx, native, mm, settlement)
		if err != nil {
			return ledgerFailure("debit native settlement", err)
		}
		if remaining > 0 {
			return ledgerFailure("debit native settlement", ledger.ErrInsufficientFunds)
		}
		return c.recordQuote(ctx, currency, quote)
	})
	if err != nil {
		return adj, err
	}

	adj.Relative = quote.Relative.Price
	adj.QuotedPrice = quote.Quoted
	adj.Share = share
	adj.Settlement = settlement
	adj.Supply = supply + share.Total()
	return adj, nil
}

func (c *Controller) contract(ctx context.Context, currency ledger.CurrencyID, contractBy uint64) (Adjustment, error) {
	adj := Adjustment{Currency: currency, Direction: metrics.Contract, Amount: contractBy}
	if currency == c.params.Native {
		return adj, ErrInvalidTarget
	}
	if contractBy == 0 {
		return adj, nil
	}
	if _, err := c.engine.BaseUnit(currency); err != nil {
		return adj, err
	}

	supply, err := c.ledger.TotalIssuance(ctx, currency)
	if err != nil {
		return adj, fmt.Errorf("%w: %w", ErrLedgerFailure, err)
	}
	newSupply, ok := ledger.CheckedSub(supply, contractBy)
	if !ok {
		return adj, ErrSupplyUnderflow
	}

	quote, err := c.engine.Quote(ctx, c.params.Native, currency)
	if err != nil {
		return adj, err
	}
	// A quote that saturated at zero still settles, for nothing.
	settlement := quote.Quoted.MulFloor(contractBy)

	native, mm := c.params.Native, c.params.MarketMaker
	nativeSupply, err := c.ledger.TotalIssuance(ctx, native)
	if err != nil {
		return adj, fmt.Errorf("%w: %w", ErrLedgerFailure, err)
	}
	if _, ok := ledger.CheckedAdd(nativeSupply, settlement); !ok {
		return adj, ErrSupplyOverflow
	}

	err = c.ledger.WithTx(ctx, func(tx ledger.Ledger) error {
		remaining, err := tx.SlashReserved(ctx, currency, mm, contractBy)
		if err != nil {
			return ledgerFailure("burn market maker reserve", err)
		}
		if remaining > 0 {
			return ledgerFailure("burn market maker reserve", ledger.ErrInsufficientFunds)
		}
		if err := tx.Deposit(ctx, native, mm, settlement); err != nil {
			return ledgerFailure("credit native settlement", err)
		}
		if err := tx.Reserve(ctx, native, mm, settlement); err != nil {
			return ledgerFailure("reserve native settlement", err)
		}
		return c.recordQuote(ctx, currency, quote)
	})
	if err != nil {
		return adj, err
	}

	adj.Relative = quote.Relative.Price
	adj.QuotedPrice = quote.Quoted
	adj.Share = distribution.Share{MarketMaker: contractBy}
	adj.Settlement = settlement
	adj.Supply = newSupply
	return adj, nil
}

// recordQuote writes the relative price of native and the serp quote of
// currency into the price registry.
func (c *Controller) recordQuote(ctx context.Context, currency ledger.CurrencyID, quote pricing.Quote) error {
	if err := c.engine.Record(ctx, quote.Native, quote.Relative.Price); err != nil {
		return err
	}
	return c.engine.Record(ctx, currency, quote.Quoted)
}

func (c *Controller) finish(ctx context.Context, direction string, currency ledger.CurrencyID, amount uint64, adj Adjustment, err error) {
	if err != nil {
		c.metrics.Failed(c.metricLabel(currency), direction, failureReason(err))
		c.logger.Warn("supply adjustment rejected",
			"currency", currency, "direction", direction, "amount", amount, "error", err)
		return
	}
	if amount == 0 {
		return
	}

	c.metrics.Adjusted(currency, direction, amount)
	c.metrics.Quoted(currency, adj.QuotedPrice)
	c.logger.Info("supply adjusted",
		"currency", currency,
		"direction", direction,
		"amount", amount,
		"quoted_price", adj.QuotedPrice.String(),
		"settlement", adj.Settlement,
		"supply", adj.Supply,
	)

	kind := notification.KindSerpedUpSupply
	if direction == metrics.Contract {
		kind = notification.KindSerpedDownSupply
	}
	c.engine.Notify(ctx,
		notification.SupplyEvent(kind, currency, amount),
		notification.PriceEvent(c.params.Native, adj.Relative),
		notification.PriceEvent(currency, adj.QuotedPrice),
	)
}

// metricLabel keeps caller-supplied currency ids out of metric labels.
func (c *Controller) metricLabel(currency ledger.CurrencyID) ledger.CurrencyID {
	if _, ok := c.params.BaseUnits[currency]; ok {
		return currency
	}
	return metrics.UnknownCurrency
}

func ledgerFailure(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLedgerFailure, step, err)
}
