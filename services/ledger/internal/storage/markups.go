package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/rates"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) SystemRate(ctx context.Context, pair rates.Pair) (rates.SystemRate, bool, error) {
	var markup, spread, fee string
	err := s.db.QueryRow(ctx, `
		SELECT markup_percentage::text, spread_bps::text, fixed_fee::text
		FROM system_rates
		WHERE from_currency = $1 AND to_currency = $2
	`, string(pair.From), string(pair.To)).Scan(&markup, &spread, &fee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rates.SystemRate{Pair: pair}, false, nil
		}
		return rates.SystemRate{}, false, fmt.Errorf("get system rate: %w", err)
	}
	var p decimals
	r := rates.SystemRate{
		Pair:             pair,
		MarkupPercentage: p.parse("markup_percentage", markup),
		SpreadBps:        p.parse("spread_bps", spread),
		FixedFee:         p.parse("fixed_fee", fee),
	}
	return r, p.err == nil, p.err
}

func (s *Store) ClientMarkup(ctx context.Context, clientID uuid.UUID, pair rates.Pair) (rates.ClientMarkup, bool, error) {
	var markup, fee string
	err := s.db.QueryRow(ctx, `
		SELECT markup_percentage::text, fixed_fee::text
		FROM client_markups
		WHERE client_id = $1 AND from_currency = $2 AND to_currency = $3
	`, clientID, string(pair.From), string(pair.To)).Scan(&markup, &fee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rates.ClientMarkup{ClientID: clientID, Pair: pair}, false, nil
		}
		return rates.ClientMarkup{}, false, fmt.Errorf("get client markup: %w", err)
	}
	var p decimals
	m := rates.ClientMarkup{
		ClientID:         clientID,
		Pair:             pair,
		MarkupPercentage: p.parse("markup_percentage", markup),
		FixedFee:         p.parse("fixed_fee", fee),
	}
	return m, p.err == nil, p.err
}

func (s *Store) UpsertSystemRate(ctx context.Context, r rates.SystemRate) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO system_rates (from_currency, to_currency, markup_percentage, spread_bps, fixed_fee, updated_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, now())
		ON CONFLICT (from_currency, to_currency) DO UPDATE SET
			markup_percentage = EXCLUDED.markup_percentage,
			spread_bps = EXCLUDED.spread_bps,
			fixed_fee = EXCLUDED.fixed_fee,
			updated_at = now()
	`, string(r.Pair.From), string(r.Pair.To), r.MarkupPercentage.String(), r.SpreadBps.String(), r.FixedFee.String())
	if err != nil {
		return fmt.Errorf("upsert system rate: %w", err)
	}
	return nil
}

func (s *Store) UpsertClientMarkup(ctx context.Context, m rates.ClientMarkup) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO client_markups (client_id, from_currency, to_currency, markup_percentage, fixed_fee, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, now())
		ON CONFLICT (client_id, from_currency, to_currency) DO UPDATE SET
			markup_percentage = EXCLUDED.markup_percentage,
			fixed_fee = EXCLUDED.fixed_fee,
			updated_at = now()
	`, m.ClientID, string(m.Pair.From), string(m.Pair.To), m.MarkupPercentage.String(), m.FixedFee.String())
	if err != nil {
		return fmt.Errorf("upsert client markup: %w", err)
	}
	return nil
}
