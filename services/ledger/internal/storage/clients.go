package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const clientColumns = `id, name, annual_transaction_limit::text, current_annual_usage::text, reset_date, created_at, updated_at`

func scanClient(row pgx.Row) (store.Client, error) {
	var (
		c                 store.Client
		limitStr, usedStr string
	)
	if err := row.Scan(&c.ID, &c.Name, &limitStr, &usedStr, &c.ResetDate, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return store.Client{}, err
	}
	var p decimals
	c.AnnualLimit = p.parse("annual_transaction_limit", limitStr)
	c.CurrentUsage = p.parse("current_annual_usage", usedStr)
	return c, p.err
}

// CreateClient inserts the client and its zero wallets atomically.
func (s *Store) CreateClient(ctx context.Context, c store.Client, currencies []operation.Currency) (store.Client, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	var created store.Client
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Store) error {
		txs := tx.(*Store)
		var err error
		created, err = scanClient(txs.db.QueryRow(ctx, `
			INSERT INTO clients (id, name, annual_transaction_limit, current_annual_usage, reset_date)
			VALUES ($1, $2, $3::numeric, 0, COALESCE($4::date, CURRENT_DATE))
			RETURNING `+clientColumns,
			c.ID, c.Name, operation.RoundMoney(c.AnnualLimit).String(), nullDate(c),
		))
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.Invalid("id", "client already exists")
			}
			return fmt.Errorf("insert client: %w", err)
		}
		for _, cur := range currencies {
			if _, err := txs.db.Exec(ctx, `
				INSERT INTO wallets (client_id, currency, balance)
				VALUES ($1, $2, 0)
				ON CONFLICT (client_id, currency) DO NOTHING
			`, created.ID, string(cur)); err != nil {
				return fmt.Errorf("provision %s wallet: %w", cur, err)
			}
		}
		return nil
	})
	if err != nil {
		return store.Client{}, err
	}
	return created, nil
}

func nullDate(c store.Client) any {
	if c.ResetDate.IsZero() {
		return nil
	}
	return c.ResetDate
}

func (s *Store) GetClient(ctx context.Context, id uuid.UUID) (store.Client, error) {
	return s.getClient(ctx, id, "")
}

// LockClient serializes writers that check or move the client's annual usage. NO KEY UPDATE
// leaves foreign-key checks from other transactions unblocked. Outside a transaction the
// lock is released as soon as the statement ends.
func (s *Store) LockClient(ctx context.Context, id uuid.UUID) (store.Client, error) {
	return s.getClient(ctx, id, " FOR NO KEY UPDATE")
}

func (s *Store) getClient(ctx context.Context, id uuid.UUID, suffix string) (store.Client, error) {
	c, err := scanClient(s.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`+suffix, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Client{}, apperr.NotFound("client", id.String())
		}
		return store.Client{}, fmt.Errorf("get client: %w", err)
	}
	return c, nil
}

func (s *Store) UpdateLimit(ctx context.Context, id uuid.UUID, limit decimal.Decimal) (store.Client, error) {
	c, err := scanClient(s.db.QueryRow(ctx, `
		UPDATE clients SET annual_transaction_limit = $2::numeric, updated_at = now()
		WHERE id = $1
		RETURNING `+clientColumns,
		id, operation.RoundMoney(limit).String(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Client{}, apperr.NotFound("client", id.String())
		}
		return store.Client{}, fmt.Errorf("update annual limit: %w", err)
	}
	return c, nil
}
