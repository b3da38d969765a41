package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/usage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const usageColumns = `id, annual_transaction_limit::text, current_annual_usage::text, reset_date`

func scanUsage(row pgx.Row) (usage.Usage, error) {
	var (
		u                 usage.Usage
		limitStr, usedStr string
	)
	if err := row.Scan(&u.ClientID, &limitStr, &usedStr, &u.ResetDate); err != nil {
		return usage.Usage{}, err
	}
	var p decimals
	u.Limit = p.parse("annual_transaction_limit", limitStr)
	u.Current = p.parse("current_annual_usage", usedStr)
	return u, p.err
}

func (s *Store) GetUsage(ctx context.Context, clientID uuid.UUID) (usage.Usage, error) {
	u, err := scanUsage(s.db.QueryRow(ctx, `SELECT `+usageColumns+` FROM clients WHERE id = $1`, clientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return usage.Usage{}, apperr.NotFound("client", clientID.String())
		}
		return usage.Usage{}, fmt.Errorf("get usage: %w", err)
	}
	return u, nil
}

// AddUsage is one atomic statement; GREATEST keeps the counter at or above zero.
func (s *Store) AddUsage(ctx context.Context, clientID uuid.UUID, delta decimal.Decimal) (usage.Usage, error) {
	u, err := scanUsage(s.db.QueryRow(ctx, `
		UPDATE clients
		SET current_annual_usage = GREATEST(current_annual_usage + $2::numeric, 0), updated_at = now()
		WHERE id = $1
		RETURNING `+usageColumns,
		clientID, operation.RoundMoney(delta).String(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return usage.Usage{}, apperr.NotFound("client", clientID.String())
		}
		return usage.Usage{}, fmt.Errorf("add usage: %w", err)
	}
	return u, nil
}

func (s *Store) ResetIfBefore(ctx context.Context, clientID uuid.UUID, year int, resetDate time.Time) (usage.Usage, bool, error) {
	u, err := scanUsage(s.db.QueryRow(ctx, `
		UPDATE clients
		SET current_annual_usage = 0, reset_date = $3::date, updated_at = now()
		WHERE id = $1 AND EXTRACT(YEAR FROM reset_date) < $2
		RETURNING `+usageColumns,
		clientID, year, resetDate,
	))
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return usage.Usage{}, false, fmt.Errorf("reset usage: %w", err)
	}
	// Nothing to reset, either because another writer already did or the client is gone.
	u, err = s.GetUsage(ctx, clientID)
	return u, false, err
}

func (s *Store) ResetAllBefore(ctx context.Context, year int, resetDate time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE clients
		SET current_annual_usage = 0, reset_date = $2::date, updated_at = now()
		WHERE EXTRACT(YEAR FROM reset_date) < $1
	`, year, resetDate)
	if err != nil {
		return 0, fmt.Errorf("reset all usage: %w", err)
	}
	return tag.RowsAffected(), nil
}
