// Package distribution splits newly minted supply between the stability fund
// and the market maker.
package distribution

import (
	"errors"
	"fmt"

	"github.com/stp258/serp/internal/fixed"
)

// PercentDenominator is the scale of every ratio.
const PercentDenominator = 100

// ErrInvalidRatios is returned when the configured ratios exceed 100%.
var ErrInvalidRatios = errors.New("distribution ratios exceed 100 percent")

// Ratios are the stability fund and market maker shares in percent. They may
// sum to less than 100; the residual is never issued.
type Ratios struct {
	StabilityFund uint64
	MarketMaker   uint64
}

// Validate checks that the ratios consume at most the whole amount.
func (r Ratios) Validate() error {
	if r.StabilityFund > PercentDenominator || r.MarketMaker > PercentDenominator ||
		r.StabilityFund+r.MarketMaker > PercentDenominator {
		return fmt.Errorf("%w: %d + %d", ErrInvalidRatios, r.StabilityFund, r.MarketMaker)
	}
	return nil
}

// Share is the result of a split.
type Share struct {
	StabilityFund uint64 `json:"stability_fund"`
	MarketMaker   uint64 `json:"market_maker"`
}

// Total returns the amount actually distributed.
func (s Share) Total() uint64 {
	return s.StabilityFund + s.MarketMaker
}

// Split computes amount*ratio/100 for each beneficiary, rounding down. When
// the ratios sum to exactly 100 the rounding remainder is credited to the
// stability fund so that the shares add up to amount.
func Split(amount uint64, r Ratios) (Share, error) {
	if err := r.Validate(); err != nil {
		return Share{}, err
	}
	fund, _ := fixed.MulDivFloor(amount, r.StabilityFund, PercentDenominator)
	market, _ := fixed.MulDivFloor(amount, r.MarketMaker, PercentDenominator)
	if r.StabilityFund+r.MarketMaker == PercentDenominator {
		fund = amount - market
	}
	return Share{StabilityFund: fund, MarketMaker: market}, nil
}
