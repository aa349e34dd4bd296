package registry

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stp258/serp/internal/fixed"
	"github.com/stp258/serp/internal/ledger"
)

// PostgresRegistry stores prices in the prices table, one row per
// (namespace, currency).
type PostgresRegistry struct {
	db   *pgxpool.Pool
	kind string
}

// NewPostgres builds a registry persisted in PostgreSQL.
func NewPostgres(db *pgxpool.Pool, namespace string) *PostgresRegistry {
	return &PostgresRegistry{db: db, kind: namespace}
}

// Get reads the latest price of currency.
func (r *PostgresRegistry) Get(ctx context.Context, currency ledger.CurrencyID) (fixed.Price, error) {
	var bits decimal.Decimal
	err := r.db.QueryRow(ctx, `SELECT bits FROM prices WHERE kind = $1 AND currency_id = $2`,
		r.kind, string(currency)).Scan(&bits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fixed.Zero, ErrNotFound
		}
		return fixed.Zero, err
	}
	return fixed.FromBits(bits.BigInt()), nil
}

// Set upserts the price of currency.
func (r *PostgresRegistry) Set(ctx context.Context, currency ledger.CurrencyID, price fixed.Price) error {
	_, err := r.db.Exec(ctx, `INSERT INTO prices (kind, currency_id, bits, updated_at) VALUES ($1, $2, $3, now())
        ON CONFLICT (kind, currency_id) DO UPDATE SET bits = EXCLUDED.bits, updated_at = EXCLUDED.updated_at`,
		r.kind, string(currency), decimal.NewFromBigInt(price.Bits(), 0))
	return err
}
