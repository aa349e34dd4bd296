package ledger

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientFunds occurs when an account lacks the free or reserved
	// balance required by a posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrOverflow indicates a posting would overflow a balance or the total
	// issuance of a currency.
	ErrOverflow = errors.New("balance overflow")
)

// CurrencyID identifies an asset held in the ledger.
type CurrencyID string

// AccountID identifies a holder of balances.
type AccountID string

// Ledger is the multi-asset balance capability consumed by the stabilizer.
// Balances are split into free and reserved parts; total issuance per
// currency always equals the sum of free and reserved balances across all
// accounts. Only Deposit, Withdraw, Slash and SlashReserved change issuance.
type Ledger interface {
	TotalIssuance(ctx context.Context, currency CurrencyID) (uint64, error)
	FreeBalance(ctx context.Context, currency CurrencyID, account AccountID) (uint64, error)
	ReservedBalance(ctx context.Context, currency CurrencyID, account AccountID) (uint64, error)

	// Deposit mints amount into the free balance of account.
	Deposit(ctx context.Context, currency CurrencyID, account AccountID, amount uint64) error
	// Withdraw burns amount from the free balance of account.
	Withdraw(ctx context.Context, currency CurrencyID, account AccountID, amount uint64) error
	// Slash burns up to amount, free balance first, and returns the part that
	// could not be slashed.
	Slash(ctx context.Context, currency CurrencyID, account AccountID, amount uint64) (uint64, error)
	// SlashReserved burns up to amount from the reserved balance and returns
	// the part that could not be slashed.
	SlashReserved(ctx context.Context, currency CurrencyID, account AccountID, amount uint64) (uint64, error)
	// Reserve moves amount from free to reserved.
	Reserve(ctx context.Context, currency CurrencyID, account AccountID, amount uint64) error
	// Unreserve moves up to amount from reserved to free and returns the part
	// that could not be moved.
	Unreserve(ctx context.Context, currency CurrencyID, account AccountID, amount uint64) (uint64, error)
	// Transfer moves amount of free balance between accounts.
	Transfer(ctx context.Context, currency CurrencyID, from, to AccountID, amount uint64) error

	// WithTx runs fn against a transactional view of the ledger. Every
	// mutation made through the view commits when fn returns nil and is
	// discarded otherwise.
	WithTx(ctx context.Context, fn func(tx Ledger) error) error
}

// Account is the balance pair held by one account for one currency.
type Account struct {
	Free     uint64
	Reserved uint64
}

// Total returns free plus reserved, saturating.
func (a Account) Total() uint64 {
	sum, ok := CheckedAdd(a.Free, a.Reserved)
	if !ok {
		return ^uint64(0)
	}
	return sum
}

// CheckedAdd returns a + b and false on overflow.
func CheckedAdd(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum >= a
}

// CheckedSub returns a - b and false on underflow.
func CheckedSub(a, b uint64) (uint64, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}
