// Package registry stores the latest price per currency. Entries are created
// on first write, overwritten by every later write and never deleted.
package registry

import (
	"context"
	"errors"

	"github.com/stp258/serp/internal/fixed"
	"github.com/stp258/serp/internal/ledger"
)

// ErrNotFound is returned when no price was ever recorded for a currency.
var ErrNotFound = errors.New("price not found")

const (
	// NamespaceQuote holds prices computed by the quotation engine.
	NamespaceQuote = "quote"
	// NamespaceObserved holds raw market observations pushed by the oracle.
	NamespaceObserved = "observed"
)

// Registry is a last-write-wins CurrencyID -> Price mapping.
type Registry interface {
	Get(ctx context.Context, currency ledger.CurrencyID) (fixed.Price, error)
	Set(ctx context.Context, currency ledger.CurrencyID, price fixed.Price) error
}
