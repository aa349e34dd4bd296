package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	entryDeposit       = "deposit"
	entryWithdraw      = "withdraw"
	entrySlash         = "slash"
	entrySlashReserved = "slash_reserved"
	entryReserve       = "reserve"
	entryUnreserve     = "unreserve"
	entryTransferOut   = "transfer_out"
	entryTransferIn    = "transfer_in"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx; Begin on a pgx.Tx
// opens a savepoint.
type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLedger persists balances and issuance in PostgreSQL and journals
// every posting in ledger_entries.
type PostgresLedger struct {
	db querier
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// TotalIssuance returns the issuance of currency, zero when never minted.
func (l *PostgresLedger) TotalIssuance(ctx context.Context, currency CurrencyID) (uint64, error) {
	var total decimal.Decimal
	err := l.db.QueryRow(ctx, `SELECT total FROM issuance WHERE currency_id = $1`, string(currency)).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return fromNumeric(total)
}

// FreeBalance returns the free balance of account.
func (l *PostgresLedger) FreeBalance(ctx context.Context, currency CurrencyID, account AccountID) (uint64, error) {
	acc, err := l.account(ctx, currency, account)
	return acc.Free, err
}

// ReservedBalance returns the reserved balance of account.
func (l *PostgresLedger) ReservedBalance(ctx context.Context, currency CurrencyID, account AccountID) (uint64, error) {
	acc, err := l.account(ctx, currency, account)
	return acc.Reserved, err
}

func (l *PostgresLedger) account(ctx context.Context, currency CurrencyID, account AccountID) (Account, error) {
	const query = `SELECT free, reserved FROM balances WHERE currency_id = $1 AND account_id = $2`
	var free, reserved decimal.Decimal
	if err := l.db.QueryRow(ctx, query, string(currency), string(account)).Scan(&free, &reserved); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, nil
		}
		return Account{}, err
	}
	return accountFromNumeric(free, reserved)
}

// Deposit mints amount into the free balance of account.
func (l *PostgresLedger) Deposit(ctx context.Context, currency CurrencyID, account AccountID, amount uint64) error {
	_, err := l.post(ctx, currency, account, entryDeposit, amount, func(acc *Account, issuance *uint64) (uint64, error) {
		total, ok := CheckedAdd(*issuance, amount)
		if !ok {
			return amount, ErrOverflow
		}
		free, ok := CheckedAdd(acc.Free, amount)
		if !ok {
			return amount, ErrOverflow
		}
		acc.Free, *issuance = free, total
		return 0, nil
	})
	return err
}

// Withdraw burns amount from the free balance of account.
func (l *PostgresLedger) Withdraw(ctx context.Context, currency CurrencyID, account AccountID, amount uint64) error {
	_, err := l.post(ctx, currency, account, entryWithdraw, amount, func(acc *Account, issuance *uint64) (uint64, error) {
		if acc.Free < amount {
			return amount, ErrInsufficientFunds
		}
		acc.Free -= amount
		*issuance -= amount
		return 0, nil
	})
	return err
}

// Slash burns up to amount, free balance first.
func (l *PostgresLedger) Slash(ctx context.Context, currency CurrencyID, account AccountID, amount uint64) (uint64, error) {
	return l.post(ctx, currency, account, entrySlash, amount, func(acc *Account, issuance *uint64) (uint64, error) {
		fromFree := min(acc.Free, amount)
		fromReserved := min(acc.Reserved, amount-fromFree)
		acc.Free -= fromFree
		acc.Reserved -= fromReserved
		*issuance -= fromFree + fromReserved
		return amount - fromFree - fromReserved, nil
	})
}

// SlashReserved burns up to amount from the reserved balance.
func (l *PostgresLedger) SlashReserved(ctx context.Context, currency CurrencyID, account AccountID, amount uint64) (uint64, error) {
	return l.post(ctx, currency, account, entrySlashReserved, amount, func(acc *Account, issuance *uint64) (uint64, error) {
		slashed := min(acc.Reserved, amount)
		acc.Reserved -= slashed
		*issuance -= slashed
		return amount - slashed, nil
	})
}

// Reserve moves amount from free to reserved.
func (l *PostgresLedger) Reserve(ctx context.Context, currency CurrencyID, account AccountID, amount uint64) error {
	_, err := l.post(ctx, currency, account, entryReserve, amount, func(acc *Account, _ *uint64) (uint64, error) {
		if acc.Free < amount {
			return amount, ErrInsufficientFunds
		}
		reserved, ok := CheckedAdd(acc.Reserved, amount)
		if !ok {
			return amount, ErrOverflow
		}
		acc.Free -= amount
		acc.Reserved = reserved
		return 0, nil
	})
	return err
}

// Unreserve moves up to amount from reserved back to free.
func (l *PostgresLedger) Unreserve(ctx context.Context, currency CurrencyID, account AccountID, amount uint64) (uint64, error) {
	return l.post(ctx, currency, account, entryUnreserve, amount, func(acc *Account, _ *uint64) (uint64, error) {
		moved := min(acc.Reserved, amount)
		free, ok := CheckedAdd(acc.Free, moved)
		if !ok {
			return amount, ErrOverflow
		}
		acc.Reserved -= moved
		acc.Free = free
		return amount - moved, nil
	})
}

// Transfer moves amount of free balance from one account to another.
func (l *PostgresLedger) Transfer(ctx context.Context, currency CurrencyID, from, to AccountID, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	return l.mutate(ctx, func(tx pgx.Tx) error {
		// Lock in a stable order so concurrent opposite transfers cannot deadlock.
		first, second := from, to
		if second < first {
			first, second = second, first
		}
		locked := make(map[AccountID]Account, 2)
		for _, id := range []AccountID{first, second} {
			acc, err := lockAccount(ctx, tx, currency, id)
			if err != nil {
				return err
			}
			locked[id] = acc
		}

		fromAcc, toAcc := locked[from], locked[to]
		if fromAcc.Free < amount {
			return ErrInsufficientFunds
		}
		credited, ok := CheckedAdd(toAcc.Free, amount)
		if !ok {
			return ErrOverflow
		}
		fromAcc.Free -= amount
		toAcc.Free = credited

		if err := storeAccount(ctx, tx, currency, from, fromAcc); err != nil {
			return err
		}
		if err := storeAccount(ctx, tx, currency, to, toAcc); err != nil {
			return err
		}
		if err := journal(ctx, tx, currency, from, entryTransferOut, amount); err != nil {
			return err
		}
		return journal(ctx, tx, currency, to, entryTransferIn, amount)
	})
}

// WithTx runs fn inside a database transaction (a savepoint when already in
// one).
func (l *PostgresLedger) WithTx(ctx context.Context, fn func(tx Ledger) error) error {
	return l.mutate(ctx, func(tx pgx.Tx) error {
		return fn(&PostgresLedger{db: tx})
	})
}

func (l *PostgresLedger) mutate(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// post locks the issuance row and the account row, applies change and writes
// both back together with a journal entry for the amount actually moved.
func (l *PostgresLedger) post(ctx context.Context, currency CurrencyID, account AccountID, kind string, amount uint64, change func(acc *Account, issuance *uint64) (uint64, error)) (uint64, error) {
	if amount == 0 {
		return 0, nil
	}
	var remaining uint64
	err := l.mutate(ctx, func(tx pgx.Tx) error {
		issuance, err := lockIssuance(ctx, tx, currency)
		if err != nil {
			return err
		}
		acc, err := lockAccount(ctx, tx, currency, account)
		if err != nil {
			return err
		}

		prevIssuance := issuance
		remaining, err = change(&acc, &issuance)
		if err != nil {
			return err
		}
		if moved := amount - remaining; moved == 0 {
			return nil
		}

		if err := storeAccount(ctx, tx, currency, account, acc); err != nil {
			return err
		}
		if issuance != prevIssuance {
			if _, err := tx.Exec(ctx, `UPDATE issuance SET total = $2, updated_at = now() WHERE currency_id = $1`,
				string(currency), toNumeric(issuance)); err != nil {
				return err
			}
		}
		return journal(ctx, tx, currency, account, kind, amount-remaining)
	})
	if err != nil {
		return amount, err
	}
	return remaining, nil
}

func lockIssuance(ctx context.Context, tx pgx.Tx, currency CurrencyID) (uint64, error) {
	if _, err := tx.Exec(ctx, `INSERT INTO issuance (currency_id, total) VALUES ($1, 0)
        ON CONFLICT (currency_id) DO NOTHING`, string(currency)); err != nil {
		return 0, err
	}
	var total decimal.Decimal
	if err := tx.QueryRow(ctx, `SELECT total FROM issuance WHERE currency_id = $1 FOR UPDATE`, string(currency)).Scan(&total); err != nil {
		return 0, err
	}
	return fromNumeric(total)
}

func lockAccount(ctx context.Context, tx pgx.Tx, currency CurrencyID, account AccountID) (Account, error) {
	if _, err := tx.Exec(ctx, `INSERT INTO balances (currency_id, account_id, free, reserved) VALUES ($1, $2, 0, 0)
        ON CONFLICT (currency_id, account_id) DO NOTHING`, string(currency), string(account)); err != nil {
		return Account{}, err
	}
	const query = `SELECT free, reserved FROM balances WHERE currency_id = $1 AND account_id = $2 FOR UPDATE`
	var free, reserved decimal.Decimal
	if err := tx.QueryRow(ctx, query, string(currency), string(account)).Scan(&free, &reserved); err != nil {
		return Account{}, err
	}
	return accountFromNumeric(free, reserved)
}

func storeAccount(ctx context.Context, tx pgx.Tx, currency CurrencyID, account AccountID, acc Account) error {
	_, err := tx.Exec(ctx, `UPDATE balances SET free = $3, reserved = $4, updated_at = now()
        WHERE currency_id = $1 AND account_id = $2`,
		string(currency), string(account), toNumeric(acc.Free), toNumeric(acc.Reserved))
	return err
}

func journal(ctx context.Context, tx pgx.Tx, currency CurrencyID, account AccountID, kind string, amount uint64) error {
	_, err := tx.Exec(ctx, `INSERT INTO ledger_entries (id, currency_id, account_id, kind, amount)
        VALUES ($1, $2, $3, $4, $5)`, uuid.New(), string(currency), string(account), kind, toNumeric(amount))
	return err
}

func toNumeric(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func fromNumeric(d decimal.Decimal) (uint64, error) {
	if d.IsNegative() || !d.IsInteger() {
		return 0, fmt.Errorf("invalid stored balance %s", d)
	}
	v := d.BigInt()
	if !v.IsUint64() {
		return 0, fmt.Errorf("stored balance %s: %w", d, ErrOverflow)
	}
	return v.Uint64(), nil
}

func accountFromNumeric(free, reserved decimal.Decimal) (Account, error) {
	f, err := fromNumeric(free)
	if err != nil {
		return Account{}, err
	}
	r, err := fromNumeric(reserved)
	if err != nil {
		return Account{}, err
	}
	return Account{Free: f, Reserved: r}, nil
}
