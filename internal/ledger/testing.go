package ledger

// SeedBalance is a test helper that overwrites the balances of an account when
// using the in-memory ledger, adjusting total issuance so it keeps matching the
// sum of all balances.
func SeedBalance(l Ledger, currency CurrencyID, account AccountID, free, reserved uint64) {
	if mem, ok := l.(*inMemoryLedger); ok {
		defer mem.lock()()
		key := balanceKey{currency, account}
		prev := mem.st.accounts[key]
		mem.st.issuance[currency] = mem.st.issuance[currency] - prev.Free - prev.Reserved + free + reserved
		mem.st.accounts[key] = Account{Free: free, Reserved: reserved}
	}
}

// SumBalances returns the sum of free and reserved balances of every account
// holding currency in the in-memory ledger. It reports false for other
// backends.
func SumBalances(l Ledger, currency CurrencyID) (uint64, bool) {
	mem, ok := l.(*inMemoryLedger)
	if !ok {
		return 0, false
	}
	defer mem.rlock()()
	var total uint64
	for k, acc := range mem.st.accounts {
		if k.currency == currency {
			total += acc.Free + acc.Reserved
		}
	}
	return total, true
}
