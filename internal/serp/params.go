package serp

import (
	"errors"
	"fmt"

	"github.com/stp258/serp/internal/distribution"
	"github.com/stp258/serp/internal/ledger"
	"github.com/stp258/serp/internal/pricing"
)

// Params is the immutable stabilizer configuration.
type Params struct {
	// Native is the reserve asset. It can never be expanded or contracted.
	Native ledger.CurrencyID
	// StabilityFund (SettPay) receives its share of newly minted supply.
	StabilityFund ledger.AccountID
	// MarketMaker (Serper) settles adjustments against its reserved native
	// balance.
	MarketMaker ledger.AccountID
	Ratios      distribution.Ratios
	// SerpQuoteMultiple amplifies the deviation from peg in every quote.
	SerpQuoteMultiple uint64
	// BaseUnits holds the base unit of every known currency, native included.
	BaseUnits map[ledger.CurrencyID]uint64
}

// Validate reports the first configuration problem found.
func (p Params) Validate() error {
	if p.Native == "" {
		return errors.New("native currency must be set")
	}
	if p.StabilityFund == "" || p.MarketMaker == "" {
		return errors.New("stability fund and market maker accounts must be set")
	}
	if p.StabilityFund == p.MarketMaker {
		return errors.New("stability fund and market maker must be distinct accounts")
	}
	if err := p.Ratios.Validate(); err != nil {
		return err
	}
	if _, ok := p.BaseUnits[p.Native]; !ok {
		return fmt.Errorf("no base unit configured for native currency %s", p.Native)
	}
	for currency, unit := range p.BaseUnits {
		if unit == 0 {
			return fmt.Errorf("base unit of %s must be positive", currency)
		}
	}
	return nil
}

// PricingConfig returns the quotation engine configuration.
func (p Params) PricingConfig() pricing.Config {
	return pricing.Config{BaseUnits: p.BaseUnits, SerpQuoteMultiple: p.SerpQuoteMultiple}
}
