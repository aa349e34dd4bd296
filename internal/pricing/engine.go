// Package pricing computes relative prices, peg-normalized stable prices and
// the serp quote that settles every supply adjustment.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stp258/serp/internal/fixed"
	"github.com/stp258/serp/internal/ledger"
	"github.com/stp258/serp/internal/notification"
	"github.com/stp258/serp/internal/registry"
)

var (
	// ErrPriceUnavailable is returned when a price cannot be computed, either
	// because a denominator is zero or because no observation exists.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrUnknownCurrency is returned for currencies without a base unit.
	ErrUnknownCurrency = errors.New("unknown currency")
)

// IssuanceReader reads the total issuance of a currency.
type IssuanceReader interface {
	TotalIssuance(ctx context.Context, currency ledger.CurrencyID) (uint64, error)
}

// Config holds the quotation parameters.
type Config struct {
	// BaseUnits maps each currency to the number of minor units per peg unit.
	BaseUnits map[ledger.CurrencyID]uint64
	// SerpQuoteMultiple amplifies the deviation from peg in every quote.
	SerpQuoteMultiple uint64
}

// Engine is the price quotation engine.
type Engine struct {
	cfg      Config
	prices   registry.Registry
	feed     registry.Registry
	issuance IssuanceReader
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewEngine constructs an engine. prices is the price registry written by
// quotes; feed holds the observed market prices.
func NewEngine(cfg Config, prices, feed registry.Registry, issuance IssuanceReader, notifier notification.Notifier, logger *slog.Logger) *Engine {
	units := make(map[ledger.CurrencyID]uint64, len(cfg.BaseUnits))
	for k, v := range cfg.BaseUnits {
		units[k] = v
	}
	cfg.BaseUnits = units
	if notifier == nil {
		notifier = notification.Discard{}
	}
	return &Engine{cfg: cfg, prices: prices, feed: feed, issuance: issuance, notifier: notifier, logger: logger}
}

// BaseUnit returns the configured base unit of currency.
func (e *Engine) BaseUnit(currency ledger.CurrencyID) (uint64, error) {
	unit, ok := e.cfg.BaseUnits[currency]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	if unit == 0 {
		return 0, fmt.Errorf("%w: zero base unit for %s", ErrPriceUnavailable, currency)
	}
	return unit, nil
}

// Relative is a relative price together with its inverse. Inverse is nil
// when the base price is zero.
type Relative struct {
	Price   fixed.Price  `json:"price"`
	Inverse *fixed.Price `json:"inverse,omitempty"`
}

// ComputeRelative returns basePrice / quotePrice without side effects.
func ComputeRelative(basePrice, quotePrice fixed.Price) (Relative, error) {
	price, ok := basePrice.CheckedDiv(quotePrice)
	if !ok {
		return Relative{}, fmt.Errorf("%w: zero quote price", ErrPriceUnavailable)
	}
	r := Relative{Price: price}
	if inverse, ok := quotePrice.CheckedDiv(basePrice); ok {
		r.Inverse = &inverse
	}
	return r, nil
}

// RelativePrice computes the amount of quote currency needed to buy one base
// unit of base currency and records it as the latest price of base.
func (e *Engine) RelativePrice(ctx context.Context, base ledger.CurrencyID, basePrice fixed.Price, quote ledger.CurrencyID, quotePrice fixed.Price) (Relative, error) {
	r, err := ComputeRelative(basePrice, quotePrice)
	if err != nil {
		return Relative{}, fmt.Errorf("relative price %s/%s: %w", base, quote, err)
	}
	if err := e.Record(ctx, base, r.Price); err != nil {
		return Relative{}, err
	}
	e.Notify(ctx, notification.PriceEvent(base, r.Price))
	return r, nil
}

// ComputeStable multiplies an observed peg price by the base unit of
// currency, saturating.
func (e *Engine) ComputeStable(currency ledger.CurrencyID, observed fixed.Price) (fixed.Price, error) {
	unit, err := e.BaseUnit(currency)
	if err != nil {
		return fixed.Zero, err
	}
	return observed.SaturatingMulInt(unit), nil
}

// StablePrice normalizes an observed peg price into internal units and
// records it as the latest price of currency.
func (e *Engine) StablePrice(ctx context.Context, currency ledger.CurrencyID, observed fixed.Price) (fixed.Price, error) {
	price, err := e.ComputeStable(currency, observed)
	if err != nil {
		return fixed.Zero, err
	}
	if err := e.Record(ctx, currency, price); err != nil {
		return fixed.Zero, err
	}
	e.Notify(ctx, notification.PriceEvent(currency, price))
	return price, nil
}

// QuoteSerpPrice applies the stabilization formula to price:
// fraction = price / base unit, quote = fraction + (fraction - 1) * multiple.
// Below peg the premium is subtracted and the quote saturates at zero.
func (e *Engine) QuoteSerpPrice(currency ledger.CurrencyID, price fixed.Price) (fixed.Price, error) {
	unit, err := e.BaseUnit(currency)
	if err != nil {
		return fixed.Zero, err
	}
	fraction, ok := price.CheckedDivInt(unit)
	if !ok {
		return fixed.Zero, ErrPriceUnavailable
	}
	if fraction.Cmp(fixed.One) >= 0 {
		premium := fraction.SaturatingSub(fixed.One).SaturatingMulInt(e.cfg.SerpQuoteMultiple)
		return fraction.SaturatingAdd(premium), nil
	}
	discount := fixed.One.SaturatingSub(fraction).SaturatingMulInt(e.cfg.SerpQuoteMultiple)
	return fraction.SaturatingSub(discount), nil
}

// Direction of a supply change.
type Direction string

const (
	DirectionNone     Direction = "none"
	DirectionExpand   Direction = "expand"
	DirectionContract Direction = "contract"
)

// SupplyChange is the raw supply adjustment implied by a price observation.
type SupplyChange struct {
	Direction Direction `json:"direction"`
	Amount    uint64    `json:"amount"`
}

// SupplyChange returns |newPrice / base unit - 1| * total issuance, saturating,
// and whether the deviation calls for expansion or contraction.
func (e *Engine) SupplyChange(ctx context.Context, currency ledger.CurrencyID, newPrice fixed.Price) (SupplyChange, error) {
	unit, err := e.BaseUnit(currency)
	if err != nil {
		return SupplyChange{}, err
	}
	supply, err := e.issuance.TotalIssuance(ctx, currency)
	if err != nil {
		return SupplyChange{}, fmt.Errorf("read issuance of %s: %w", currency, err)
	}
	peg := fixed.FromInteger(unit)
	var change SupplyChange
	switch newPrice.Cmp(peg) {
	case 1:
		change.Direction = DirectionExpand
		change.Amount, _ = newPrice.SaturatingSub(peg).ScaleFloor(supply, unit)
	case -1:
		change.Direction = DirectionContract
		change.Amount, _ = peg.SaturatingSub(newPrice).ScaleFloor(supply, unit)
	default:
		change.Direction = DirectionNone
	}
	return change, nil
}

// Quote is the outcome of quoting a currency against the native asset.
type Quote struct {
	Native   ledger.CurrencyID `json:"native"`
	Base     fixed.Price       `json:"base"`
	Relative Relative          `json:"relative"`
	Quoted   fixed.Price       `json:"quoted"`
}

// Quote prices currency against native from the observed feed without
// recording anything: base = stable(currency, observed(native)),
// relative = base / observed(currency), quoted = serp quote of relative.
func (e *Engine) Quote(ctx context.Context, native, currency ledger.CurrencyID) (Quote, error) {
	nativeObserved, err := e.Observed(ctx, native)
	if err != nil {
		return Quote{}, err
	}
	currencyObserved, err := e.Observed(ctx, currency)
	if err != nil {
		return Quote{}, err
	}
	base, err := e.ComputeStable(currency, nativeObserved)
	if err != nil {
		return Quote{}, err
	}
	relative, err := ComputeRelative(base, currencyObserved)
	if err != nil {
		return Quote{}, fmt.Errorf("relative price %s/%s: %w", native, currency, err)
	}
	quoted, err := e.QuoteSerpPrice(currency, relative.Price)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Native: native, Base: base, Relative: relative, Quoted: quoted}, nil
}

// Price returns the latest recorded price of currency.
func (e *Engine) Price(ctx context.Context, currency ledger.CurrencyID) (fixed.Price, error) {
	return e.prices.Get(ctx, currency)
}

// Record overwrites the registry entry of currency without notifying.
func (e *Engine) Record(ctx context.Context, currency ledger.CurrencyID, price fixed.Price) error {
	if err := e.prices.Set(ctx, currency, price); err != nil {
		return fmt.Errorf("record price of %s: %w", currency, err)
	}
	return nil
}

// Observe stores a market observation for currency.
func (e *Engine) Observe(ctx context.Context, currency ledger.CurrencyID, price fixed.Price) error {
	if _, ok := e.cfg.BaseUnits[currency]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	if err := e.feed.Set(ctx, currency, price); err != nil {
		return fmt.Errorf("store observation of %s: %w", currency, err)
	}
	return nil
}

// Observed returns the latest market observation for currency.
func (e *Engine) Observed(ctx context.Context, currency ledger.CurrencyID) (fixed.Price, error) {
	price, err := e.feed.Get(ctx, currency)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return fixed.Zero, fmt.Errorf("%w: no observation for %s", ErrPriceUnavailable, currency)
		}
		return fixed.Zero, fmt.Errorf("read observation of %s: %w", currency, err)
	}
	return price, nil
}

// Notify publishes events and logs delivery failures.
func (e *Engine) Notify(ctx context.Context, events ...notification.Event) {
	if err := e.notifier.Publish(ctx, events...); err != nil && e.logger != nil {
		e.logger.Warn("event delivery failed", "error", err, "events", len(events))
	}
}
