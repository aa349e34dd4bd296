package ledger

import (
	"context"
	"sync"
)

type balanceKey struct {
	currency CurrencyID
	account  AccountID
}

type memState struct {
	accounts map[balanceKey]Account
	issuance map[CurrencyID]uint64
}

func (s *memState) clone() *memState {
	c := &memState{
		accounts: make(map[balanceKey]Account, len(s.accounts)),
		issuance: make(map[CurrencyID]uint64, len(s.issuance)),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.issuance {
		c.issuance[k] = v
	}
	return c
}

type inMemoryLedger struct {
	mu *sync.RWMutex
	st *memState
	// held is set on transactional views, which run under the parent's lock.
	held bool
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and development.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		mu: &sync.RWMutex{},
		st: &memState{
			accounts: make(map[balanceKey]Account),
			issuance: make(map[CurrencyID]uint64),
		},
	}
}

func (l *inMemoryLedger) rlock() func() {
	if l.held {
		return func() {}
	}
	l.mu.RLock()
	return l.mu.RUnlock
}

func (l *inMemoryLedger) lock() func() {
	if l.held {
		return func() {}
	}
	l.mu.Lock()
	return l.mu.Unlock
}

func (l *inMemoryLedger) TotalIssuance(_ context.Context, currency CurrencyID) (uint64, error) {
	defer l.rlock()()
	return l.st.issuance[currency], nil
}

func (l *inMemoryLedger) FreeBalance(_ context.Context, currency CurrencyID, account AccountID) (uint64, error) {
	defer l.rlock()()
	return l.st.accounts[balanceKey{currency, account}].Free, nil
}

func (l *inMemoryLedger) ReservedBalance(_ context.Context, currency CurrencyID, account AccountID) (uint64, error) {
	defer l.rlock()()
	return l.st.accounts[balanceKey{currency, account}].Reserved, nil
}

func (l *inMemoryLedger) Deposit(_ context.Context, currency CurrencyID, account AccountID, amount uint64) error {
	if amount == 0 {
		return nil
	}
	defer l.lock()()

	key := balanceKey{currency, account}
	acc := l.st.accounts[key]
	issuance, ok := CheckedAdd(l.st.issuance[currency], amount)
	if !ok {
		return ErrOverflow
	}
	free, ok := CheckedAdd(acc.Free, amount)
	if !ok {
		return ErrOverflow
	}
	acc.Free = free
	l.st.accounts[key] = acc
	l.st.issuance[currency] = issuance
	return nil
}

func (l *inMemoryLedger) Withdraw(_ context.Context, currency CurrencyID, account AccountID, amount uint64) error {
	if amount == 0 {
		return nil
	}
	defer l.lock()()

	key := balanceKey{currency, account}
	acc := l.st.accounts[key]
	if acc.Free < amount {
		return ErrInsufficientFunds
	}
	acc.Free -= amount
	l.st.accounts[key] = acc
	l.st.issuance[currency] -= amount
	return nil
}

func (l *inMemoryLedger) Slash(_ context.Context, currency CurrencyID, account AccountID, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, nil
	}
	defer l.lock()()

	key := balanceKey{currency, account}
	acc := l.st.accounts[key]
	fromFree := min(acc.Free, amount)
	fromReserved := min(acc.Reserved, amount-fromFree)
	acc.Free -= fromFree
	acc.Reserved -= fromReserved
	l.st.accounts[key] = acc
	l.st.issuance[currency] -= fromFree + fromReserved
	return amount - fromFree - fromReserved, nil
}

func (l *inMemoryLedger) SlashReserved(_ context.Context, currency CurrencyID, account AccountID, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, nil
	}
	defer l.lock()()

	key := balanceKey{currency, account}
	acc := l.st.accounts[key]
	slashed := min(acc.Reserved, amount)
	acc.Reserved -= slashed
	l.st.accounts[key] = acc
	l.st.issuance[currency] -= slashed
	return amount - slashed, nil
}

func (l *inMemoryLedger) Reserve(_ context.Context, currency CurrencyID, account AccountID, amount uint64) error {
	if amount == 0 {
		return nil
	}
	defer l.lock()()

	key := balanceKey{currency, account}
	acc := l.st.accounts[key]
	if acc.Free < amount {
		return ErrInsufficientFunds
	}
	reserved, ok := CheckedAdd(acc.Reserved, amount)
	if !ok {
		return ErrOverflow
	}
	acc.Free -= amount
	acc.Reserved = reserved
	l.st.accounts[key] = acc
	return nil
}

func (l *inMemoryLedger) Unreserve(_ context.Context, currency CurrencyID, account AccountID, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, nil
	}
	defer l.lock()()

	key := balanceKey{currency, account}
	acc := l.st.accounts[key]
	moved := min(acc.Reserved, amount)
	free, ok := CheckedAdd(acc.Free, moved)
	if !ok {
		return amount, ErrOverflow
	}
	acc.Reserved -= moved
	acc.Free = free
	l.st.accounts[key] = acc
	return amount - moved, nil
}

func (l *inMemoryLedger) Transfer(_ context.Context, currency CurrencyID, from, to AccountID, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	defer l.lock()()

	fromKey := balanceKey{currency, from}
	toKey := balanceKey{currency, to}
	fromAcc := l.st.accounts[fromKey]
	toAcc := l.st.accounts[toKey]
	if fromAcc.Free < amount {
		return ErrInsufficientFunds
	}
	credited, ok := CheckedAdd(toAcc.Free, amount)
	if !ok {
		return ErrOverflow
	}
	fromAcc.Free -= amount
	toAcc.Free = credited
	l.st.accounts[fromKey] = fromAcc
	l.st.accounts[toKey] = toAcc
	return nil
}

func (l *inMemoryLedger) WithTx(_ context.Context, fn func(tx Ledger) error) error {
	defer l.lock()()

	view := &inMemoryLedger{mu: l.mu, st: l.st.clone(), held: true}
	if err := fn(view); err != nil {
		return err
	}
	*l.st = *view.st
	return nil
}
