package ledger

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stp258/serp/internal/infra"
)

// newPostgresLedger connects to DATABASE_URL and returns a ledger plus a
// currency id no other run uses.
func newPostgresLedger(t *testing.T) (*PostgresLedger, CurrencyID) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	pool, err := infra.NewPostgresPool(context.Background(), url, "serp-ledger-test")
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	return NewPostgresLedger(pool), CurrencyID("T-" + uuid.NewString())
}

func TestNumericConversion(t *testing.T) {
	for _, v := range []uint64{0, 1, 440_000, math.MaxUint64} {
		got, err := fromNumeric(toNumeric(v))
		if err != nil {
			t.Fatalf("convert %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("expected %d, got %d", v, got)
		}
	}

	if _, err := fromNumeric(decimal.NewFromInt(-1)); err == nil {
		t.Fatal("expected negative balance to be rejected")
	}
	if _, err := fromNumeric(decimal.RequireFromString("1.5")); err == nil {
		t.Fatal("expected fractional balance to be rejected")
	}
	if _, err := fromNumeric(decimal.RequireFromString("18446744073709551616")); err == nil {
		t.Fatal("expected out of range balance to be rejected")
	}
}

func TestPostgresLedger_Postings(t *testing.T) {
	l, cur := newPostgresLedger(t)
	ctx := context.Background()

	if err := l.Deposit(ctx, cur, "alice", 10_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Reserve(ctx, cur, "alice", 4_000); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := l.Transfer(ctx, cur, "alice", "bob", 1_000); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	remaining, err := l.SlashReserved(ctx, cur, "alice", 5_000)
	if err != nil {
		t.Fatalf("slash reserved: %v", err)
	}
	if remaining != 1_000 {
		t.Fatalf("expected 1000 unslashed, got %d", remaining)
	}
	if err := l.Withdraw(ctx, cur, "bob", 2_000); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	aliceFree, _ := l.FreeBalance(ctx, cur, "alice")
	aliceReserved, _ := l.ReservedBalance(ctx, cur, "alice")
	bobFree, _ := l.FreeBalance(ctx, cur, "bob")
	issuance, err := l.TotalIssuance(ctx, cur)
	if err != nil {
		t.Fatalf("issuance: %v", err)
	}
	if aliceFree != 5_000 || aliceReserved != 0 || bobFree != 1_000 {
		t.Fatalf("unexpected balances alice=%d/%d bob=%d", aliceFree, aliceReserved, bobFree)
	}
	if issuance != aliceFree+aliceReserved+bobFree {
		t.Fatalf("issuance %d does not match balances", issuance)
	}
}

func TestPostgresLedger_WithTxRollsBack(t *testing.T) {
	l, cur := newPostgresLedger(t)
	ctx := context.Background()
	if err := l.Deposit(ctx, cur, "alice", 1_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	boom := errors.New("boom")
	err := l.WithTx(ctx, func(tx Ledger) error {
		if err := tx.Deposit(ctx, cur, "bob", 500); err != nil {
			return err
		}
		if err := tx.Reserve(ctx, cur, "alice", 400); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	bob, _ := l.FreeBalance(ctx, cur, "bob")
	aliceReserved, _ := l.ReservedBalance(ctx, cur, "alice")
	issuance, _ := l.TotalIssuance(ctx, cur)
	if bob != 0 || aliceReserved != 0 || issuance != 1_000 {
		t.Fatalf("rollback incomplete: bob=%d alice_reserved=%d issuance=%d", bob, aliceReserved, issuance)
	}
}

func TestPostgresLedger_NestedWithTxRollsBackToSavepoint(t *testing.T) {
	l, cur := newPostgresLedger(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := l.WithTx(ctx, func(tx Ledger) error {
		if err := tx.Deposit(ctx, cur, "alice", 100); err != nil {
			return err
		}
		inner := tx.WithTx(ctx, func(tx Ledger) error {
			if err := tx.Deposit(ctx, cur, "alice", 50); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(inner, boom) {
			t.Errorf("expected boom from inner tx, got %v", inner)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("outer tx: %v", err)
	}

	alice, _ := l.FreeBalance(ctx, cur, "alice")
	issuance, _ := l.TotalIssuance(ctx, cur)
	if alice != 100 || issuance != 100 {
		t.Fatalf("expected only the outer deposit, got alice=%d issuance=%d", alice, issuance)
	}
}
