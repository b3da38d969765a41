package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/wallet"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func (s *Store) GetBalance(ctx context.Context, clientID uuid.UUID, currency operation.Currency) (decimal.Decimal, error) {
	var balanceStr string
	err := s.db.QueryRow(ctx, `
		SELECT balance::text FROM wallets WHERE client_id = $1 AND currency = $2
	`, clientID, string(currency)).Scan(&balanceStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return parseDecimal("balance", balanceStr)
}

// ApplyDelta is a single upsert, so concurrent writers to the same wallet serialize on the
// row lock instead of racing a read-modify-write.
func (s *Store) ApplyDelta(ctx context.Context, clientID uuid.UUID, currency operation.Currency, amount decimal.Decimal, dir wallet.Direction) (decimal.Decimal, error) {
	var query string
	value := operation.RoundMoney(amount)
	switch dir {
	case wallet.Add, wallet.Subtract:
		if dir == wallet.Subtract {
			value = value.Neg()
		}
		query = `
			INSERT INTO wallets (client_id, currency, balance, updated_at)
			VALUES ($1, $2, $3::numeric, now())
			ON CONFLICT (client_id, currency)
			DO UPDATE SET balance = wallets.balance + EXCLUDED.balance, updated_at = now()
			RETURNING balance::text`
	case wallet.Set:
		query = `
			INSERT INTO wallets (client_id, currency, balance, updated_at)
			VALUES ($1, $2, $3::numeric, now())
			ON CONFLICT (client_id, currency)
			DO UPDATE SET balance = EXCLUDED.balance, updated_at = now()
			RETURNING balance::text`
	default:
		return decimal.Zero, fmt.Errorf("unknown direction %q", dir)
	}

	var balanceStr string
	if err := s.db.QueryRow(ctx, query, clientID, string(currency), value.String()).Scan(&balanceStr); err != nil {
		if isForeignKeyViolation(err) {
			return decimal.Zero, apperr.NotFound("client", clientID.String())
		}
		return decimal.Zero, fmt.Errorf("apply wallet delta: %w", err)
	}
	return parseDecimal("balance", balanceStr)
}

func (s *Store) ListBalances(ctx context.Context, clientID uuid.UUID) ([]wallet.Balance, error) {
	rows, err := s.db.Query(ctx, `
		SELECT client_id, currency, balance::text, updated_at
		FROM wallets
		WHERE client_id = $1
		ORDER BY currency
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var out []wallet.Balance
	for rows.Next() {
		var (
			b          wallet.Balance
			currency   string
			balanceStr string
		)
		if err := rows.Scan(&b.ClientID, &currency, &balanceStr, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		b.Currency = operation.Currency(currency)
		if b.Amount, err = parseDecimal("balance", balanceStr); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
