package serp

import (
	"context"
	"fmt"

	"github.com/stp258/serp/internal/ledger"
)

// GenesisBalance is an initial balance credited at first start.
type GenesisBalance struct {
	Currency ledger.CurrencyID
	Account  ledger.AccountID
	Free     uint64
	Reserved uint64
}

// ApplyGenesis mints the genesis balances in one transaction. It does nothing
// and returns false when any genesis currency already has issuance, so it is
// safe to call on every start.
func ApplyGenesis(ctx context.Context, l ledger.Ledger, balances []GenesisBalance) (bool, error) {
	if len(balances) == 0 {
		return false, nil
	}
	applied := false
	err := l.WithTx(ctx, func(tx ledger.Ledger) error {
		seen := make(map[ledger.CurrencyID]struct{})
		for _, b := range balances {
			if _, ok := seen[b.Currency]; ok {
				continue
			}
			seen[b.Currency] = struct{}{}
			issuance, err := tx.TotalIssuance(ctx, b.Currency)
			if err != nil {
				return err
			}
			if issuance > 0 {
				return nil
			}
		}
		for _, b := range balances {
			total, ok := ledger.CheckedAdd(b.Free, b.Reserved)
			if !ok {
				return fmt.Errorf("genesis balance of %s/%s: %w", b.Currency, b.Account, ledger.ErrOverflow)
			}
			if err := tx.Deposit(ctx, b.Currency, b.Account, total); err != nil {
				return fmt.Errorf("genesis deposit %s/%s: %w", b.Currency, b.Account, err)
			}
			if err := tx.Reserve(ctx, b.Currency, b.Account, b.Reserved); err != nil {
				return fmt.Errorf("genesis reserve %s/%s: %w", b.Currency, b.Account, err)
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Balance is the free and reserved balance of one account.
type Balance struct {
	Currency ledger.CurrencyID `json:"currency_id"`
	Account  ledger.AccountID  `json:"account_id"`
	Free     uint64            `json:"free"`
	Reserved uint64            `json:"reserved"`
}

// Balance reads the balances of account in currency.
func (c *Controller) Balance(ctx context.Context, currency ledger.CurrencyID, account ledger.AccountID) (Balance, error) {
	free, err := c.ledger.FreeBalance(ctx, currency, account)
	if err != nil {
		return Balance{}, err
	}
	reserved, err := c.ledger.ReservedBalance(ctx, currency, account)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Currency: currency, Account: account, Free: free, Reserved: reserved}, nil
}

// Issuance reads the total issuance of currency.
func (c *Controller) Issuance(ctx context.Context, currency ledger.CurrencyID) (uint64, error) {
	return c.ledger.TotalIssuance(ctx, currency)
}
