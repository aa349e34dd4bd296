package serp

import (
	"errors"

	"github.com/stp258/serp/internal/pricing"
)

var (
	// ErrInvalidTarget is returned when an adjustment targets the native asset.
	ErrInvalidTarget = errors.New("cannot serp native asset")
	// ErrSupplyOverflow is returned when an adjustment would overflow issuance.
	ErrSupplyOverflow = errors.New("supply overflow")
	// ErrSupplyUnderflow is returned when a contraction exceeds issuance.
	ErrSupplyUnderflow = errors.New("supply underflow")
	// ErrLedgerFailure wraps errors raised by ledger primitives.
	ErrLedgerFailure = errors.New("ledger failure")
	// ErrPriceUnavailable is returned when no quote can be computed.
	ErrPriceUnavailable = pricing.ErrPriceUnavailable
)

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, ErrSupplyOverflow):
		return "supply_overflow"
	case errors.Is(err, ErrSupplyUnderflow):
		return "supply_underflow"
	case errors.Is(err, ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, pricing.ErrUnknownCurrency):
		return "unknown_currency"
	case errors.Is(err, ErrLedgerFailure):
		return "ledger_failure"
	default:
		return "internal"
	}
}
