package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stp258/serp/internal/fixed"
	"github.com/stp258/serp/internal/ledger"
)

const (
	// KindSerpedUpSupply is emitted after supply of a currency was expanded.
	KindSerpedUpSupply = "serped_up_supply"
	// KindSerpedDownSupply is emitted after supply of a currency was contracted.
	KindSerpedDownSupply = "serped_down_supply"
	// KindNewPrice is emitted whenever a price registry entry is overwritten.
	KindNewPrice = "new_price"
)

// Event describes a state change published to downstream systems.
type Event struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	CurrencyID ledger.CurrencyID `json:"currency_id"`
	Amount     uint64            `json:"amount,omitempty"`
	Price      *fixed.Price      `json:"price,omitempty"`
	At         time.Time         `json:"at"`
}

// SupplyEvent builds a SerpedUpSupply or SerpedDownSupply event.
func SupplyEvent(kind string, currency ledger.CurrencyID, amount uint64) Event {
	return Event{ID: uuid.NewString(), Kind: kind, CurrencyID: currency, Amount: amount, At: time.Now().UTC()}
}

// PriceEvent builds a NewPrice event.
func PriceEvent(currency ledger.CurrencyID, price fixed.Price) Event {
	return Event{ID: uuid.NewString(), Kind: KindNewPrice, CurrencyID: currency, Price: &price, At: time.Now().UTC()}
}

// Notifier delivers events to downstream systems.
type Notifier interface {
	Publish(ctx context.Context, events ...Event) error
}

// LoggerNotifier writes events to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Publish writes each event to the structured logger.
func (n *LoggerNotifier) Publish(_ context.Context, events ...Event) error {
	if n == nil || n.logger == nil {
		return nil
	}
	for _, e := range events {
		attrs := []any{"id", e.ID, "kind", e.Kind, "currency", e.CurrencyID}
		if e.Amount != 0 {
			attrs = append(attrs, "amount", e.Amount)
		}
		if e.Price != nil {
			attrs = append(attrs, "price", e.Price.String())
		}
		n.logger.Info("event", attrs...)
	}
	return nil
}

// Multi fans events out to every notifier and joins their errors.
type Multi []Notifier

// Publish delivers events to all notifiers even when some of them fail.
func (m Multi) Publish(ctx context.Context, events ...Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

// Publish implements Notifier.
func (Discard) Publish(context.Context, ...Event) error { return nil }
