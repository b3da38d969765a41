package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const operationColumns = `
	id, kind, COALESCE(side, ''), client_id, destination_client_id::text,
	COALESCE(source_currency, ''), COALESCE(target_currency, ''),
	source_amount::text, target_amount::text, exchange_rate::text, base_rate::text,
	markup_percentage::text, fixed_rate_amount::text, home_amount::text,
	status, COALESCE(provider_order_id, ''), notes, created_at, updated_at, executed_at`

// decimals parses several numeric columns, keeping the first error.
type decimals struct {
	err error
}

func (d *decimals) parse(field, value string) decimal.Decimal {
	if d.err != nil {
		return decimal.Zero
	}
	v, err := parseDecimal(field, value)
	d.err = err
	return v
}

func scanOperation(row pgx.Row) (operation.Operation, error) {
	var (
		op                                       operation.Operation
		kind, side, status, sourceCur, targetCur string
		destination                              *string
		srcAmt, tgtAmt, rate, base               string
		markup, fee, home                        string
	)
	if err := row.Scan(
		&op.ID, &kind, &side, &op.ClientID, &destination,
		&sourceCur, &targetCur,
		&srcAmt, &tgtAmt, &rate, &base,
		&markup, &fee, &home,
		&status, &op.ProviderOrderID, &op.Notes, &op.CreatedAt, &op.UpdatedAt, &op.ExecutedAt,
	); err != nil {
		return operation.Operation{}, err
	}
	op.Kind = operation.Kind(kind)
	op.Side = operation.Side(side)
	op.Status = operation.Status(status)
	op.SourceCurrency = operation.Currency(sourceCur)
	op.TargetCurrency = operation.Currency(targetCur)
	if destination != nil {
		id, err := uuid.Parse(*destination)
		if err != nil {
			return operation.Operation{}, fmt.Errorf("parse destination_client_id: %w", err)
		}
		op.DestinationClientID = &id
	}

	var p decimals
	op.SourceAmount = p.parse("source_amount", srcAmt)
	op.TargetAmount = p.parse("target_amount", tgtAmt)
	op.ExchangeRate = p.parse("exchange_rate", rate)
	op.BaseRate = p.parse("base_rate", base)
	op.MarkupPercentage = p.parse("markup_percentage", markup)
	op.FixedRateAmount = p.parse("fixed_rate_amount", fee)
	op.HomeAmount = p.parse("home_amount", home)
	if p.err != nil {
		return operation.Operation{}, p.err
	}
	return op, nil
}

func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (s *Store) CreateOperation(ctx context.Context, op operation.Operation) (operation.Operation, error) {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	if op.Status == "" {
		op.Status = operation.DefaultStatus(op)
	}
	if op.Status == operation.StatusExecuted && op.ExecutedAt == nil {
		now := time.Now().UTC()
		op.ExecutedAt = &now
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO operations (
			id, kind, side, client_id, destination_client_id, source_currency, target_currency,
			source_amount, target_amount, exchange_rate, base_rate, markup_percentage,
			fixed_rate_amount, home_amount, status, provider_order_id, notes, executed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8::numeric, $9::numeric, $10::numeric, $11::numeric, $12::numeric,
			$13::numeric, $14::numeric, $15, $16, $17, $18
		)
		RETURNING `+operationColumns,
		op.ID, string(op.Kind), nullString(string(op.Side)), op.ClientID, op.DestinationClientID,
		nullString(string(op.SourceCurrency)), nullString(string(op.TargetCurrency)),
		operation.RoundMoney(op.SourceAmount).String(), operation.RoundMoney(op.TargetAmount).String(),
		op.ExchangeRate.String(), op.BaseRate.String(), op.MarkupPercentage.String(),
		operation.RoundMoney(op.FixedRateAmount).String(), operation.RoundMoney(op.HomeAmount).String(),
		string(op.Status), nullString(op.ProviderOrderID), op.Notes, op.ExecutedAt,
	)
	created, err := scanOperation(row)
	if err != nil {
		if isUniqueViolation(err) {
			return operation.Operation{}, apperr.Invalid("provider_order_id", "operation already recorded")
		}
		if isForeignKeyViolation(err) {
			return operation.Operation{}, apperr.NotFound("client", op.ClientID.String())
		}
		return operation.Operation{}, fmt.Errorf("insert operation: %w", err)
	}
	return created, nil
}

func (s *Store) GetOperation(ctx context.Context, id uuid.UUID) (operation.Operation, error) {
	return s.getOperation(ctx, id, "")
}

// LockOperation holds the row until the surrounding transaction ends, so a second writer
// reads the status the first one committed.
func (s *Store) LockOperation(ctx context.Context, id uuid.UUID) (operation.Operation, error) {
	return s.getOperation(ctx, id, " FOR NO KEY UPDATE")
}

func (s *Store) getOperation(ctx context.Context, id uuid.UUID, suffix string) (operation.Operation, error) {
	op, err := scanOperation(s.db.QueryRow(ctx, `SELECT `+operationColumns+` FROM operations WHERE id = $1`+suffix, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return operation.Operation{}, apperr.NotFound("operation", id.String())
		}
		return operation.Operation{}, fmt.Errorf("get operation: %w", err)
	}
	return op, nil
}

func (s *Store) FindByProviderOrder(ctx context.Context, providerOrderID string) (operation.Operation, error) {
	op, err := scanOperation(s.db.QueryRow(ctx, `SELECT `+operationColumns+` FROM operations WHERE provider_order_id = $1`, providerOrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return operation.Operation{}, apperr.NotFound("operation", providerOrderID)
		}
		return operation.Operation{}, fmt.Errorf("find operation by provider order: %w", err)
	}
	return op, nil
}

// ListOperations pages newest first over operations where the client is either side.
func (s *Store) ListOperations(ctx context.Context, clientID uuid.UUID, filter operation.Filter) ([]operation.Operation, string, error) {
	limit := operation.ClampLimit(filter.Limit)

	conds := []string{"(client_id = $1 OR destination_client_id = $1)"}
	args := []any{clientID}
	if !filter.IncludeInactive {
		conds = append(conds, "status NOT IN ('cancelled', 'failed')")
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Cursor != "" {
		ts, id, err := operation.DecodeCursor(filter.Cursor)
		if err != nil {
			return nil, "", err
		}
		args = append(args, ts, id)
		conds = append(conds, fmt.Sprintf("(created_at, id) < ($%d, $%d)", len(args)-1, len(args)))
	}
	args = append(args, limit+1)

	query := `SELECT ` + operationColumns + ` FROM operations WHERE ` + strings.Join(conds, " AND ") +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	ops := make([]operation.Operation, 0, limit)
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, "", fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(ops) > limit {
		ops = ops[:limit]
		last := ops[len(ops)-1]
		next = operation.EncodeCursor(last.CreatedAt, last.ID)
	}
	return ops, next, nil
}

func (s *Store) UpdateOperation(ctx context.Context, op operation.Operation) (operation.Operation, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE operations SET
			source_amount = $2::numeric,
			target_amount = $3::numeric,
			exchange_rate = $4::numeric,
			base_rate = $5::numeric,
			markup_percentage = $6::numeric,
			fixed_rate_amount = $7::numeric,
			home_amount = $8::numeric,
			status = $9,
			notes = $10,
			executed_at = $11,
			updated_at = now()
		WHERE id = $1
		RETURNING `+operationColumns,
		op.ID,
		operation.RoundMoney(op.SourceAmount).String(), operation.RoundMoney(op.TargetAmount).String(),
		op.ExchangeRate.String(), op.BaseRate.String(), op.MarkupPercentage.String(),
		operation.RoundMoney(op.FixedRateAmount).String(), operation.RoundMoney(op.HomeAmount).String(),
		string(op.Status), op.Notes, op.ExecutedAt,
	)
	updated, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return operation.Operation{}, apperr.NotFound("operation", op.ID.String())
		}
		return operation.Operation{}, fmt.Errorf("update operation: %w", err)
	}
	return updated, nil
}

func (s *Store) DeleteOperation(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM operations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete operation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("operation", id.String())
	}
	return nil
}
