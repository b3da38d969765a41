// Package rates composes the client-facing exchange rate from the provider's base rate and
// the system and per-client markups.
package rates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const DefaultProviderTimeout = 5 * time.Second

var (
	hundred     = decimal.NewFromInt(100)
	tenThousand = decimal.NewFromInt(10000)
)

type Pair struct {
	From operation.Currency `json:"from"`
	To   operation.Currency `json:"to"`
}

func (p Pair) String() string {
	return string(p.From) + "/" + string(p.To)
}

// SystemRate is the house markup configured for a currency pair.
type SystemRate struct {
	Pair             Pair            `json:"pair"`
	MarkupPercentage decimal.Decimal `json:"markup_percentage"`
	SpreadBps        decimal.Decimal `json:"spread_bps"`
	FixedFee         decimal.Decimal `json:"fixed_fee"`
}

// ClientMarkup overrides the markup for one client on one pair.
type ClientMarkup struct {
	ClientID         uuid.UUID       `json:"client_id"`
	Pair             Pair            `json:"pair"`
	MarkupPercentage decimal.Decimal `json:"markup_percentage"`
	FixedFee         decimal.Decimal `json:"fixed_fee"`
}

// MarkupSource reads markup configuration. A missing row is reported with found=false and
// no error; the composer treats it as a zero markup.
type MarkupSource interface {
	SystemRate(ctx context.Context, pair Pair) (SystemRate, bool, error)
	ClientMarkup(ctx context.Context, clientID uuid.UUID, pair Pair) (ClientMarkup, bool, error)
}

type PreviewRequest struct {
	Currency      operation.Currency `json:"currency"`
	QuoteCurrency operation.Currency `json:"quote_currency"`
	Amount        decimal.Decimal    `json:"amount"`
	Side          operation.Side     `json:"side"`
}

type ProviderQuote struct {
	BaseRate        decimal.Decimal `json:"base_rate"`
	ProviderOrderID string          `json:"provider_order_id"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

type Execution struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
}

// QuoteProvider is the bank/liquidity provider that prices and fills orders.
type QuoteProvider interface {
	PreviewQuote(ctx context.Context, req PreviewRequest) (ProviderQuote, error)
	ExecuteOrder(ctx context.Context, providerOrderID string) (Execution, error)
}

type Metrics interface {
	ObserveProviderCall(op, outcome string, duration time.Duration)
}

type Config struct {
	HomeCurrency    operation.Currency
	ProviderTimeout time.Duration
}

type QuoteRequest struct {
	ClientID uuid.UUID
	Pair     Pair
	Amount   decimal.Decimal
	Side     operation.Side
}

// Quote is a fully composed price. Amounts keep full precision; callers round when they
// persist or display.
type Quote struct {
	ClientID        uuid.UUID       `json:"client_id"`
	Pair            Pair            `json:"pair"`
	Side            operation.Side  `json:"side"`
	Amount          decimal.Decimal `json:"amount"`
	BaseRate        decimal.Decimal `json:"base_rate"`
	SystemMarkupPct decimal.Decimal `json:"system_markup_pct"`
	SystemSpreadBps decimal.Decimal `json:"system_spread_bps"`
	SystemFixedFee  decimal.Decimal `json:"system_fixed_fee"`
	ClientMarkupPct decimal.Decimal `json:"client_markup_pct"`
	ClientFixedFee  decimal.Decimal `json:"client_fixed_fee"`
	FinalRate       decimal.Decimal `json:"final_rate"`
	ConvertedAmount decimal.Decimal `json:"converted_amount"`
	ProviderOrderID string          `json:"provider_order_id"`
	ExpiresAt       time.Time       `json:"expires_at,omitempty"`
}

func (q Quote) MarkupPercentage() decimal.Decimal {
	return q.SystemMarkupPct.Add(q.ClientMarkupPct)
}

func (q Quote) FixedFee() decimal.Decimal {
	return q.SystemFixedFee.Add(q.ClientFixedFee)
}

// Compose applies markups to base. The spread widens the rate in the same direction for
// buys and sells.
func Compose(base decimal.Decimal, sys SystemRate, client ClientMarkup, amount decimal.Decimal) (final, converted decimal.Decimal) {
	pct := sys.MarkupPercentage.Add(client.MarkupPercentage)
	final = base.Mul(decimal.NewFromInt(1).Add(pct.Div(hundred)))
	if !sys.SpreadBps.IsZero() {
		final = final.Mul(decimal.NewFromInt(1).Add(sys.SpreadBps.Div(tenThousand)))
	}
	fee := sys.FixedFee.Add(client.FixedFee)
	converted = amount.Mul(final).Add(fee.Mul(base))
	return final, converted
}

type Composer struct {
	provider QuoteProvider
	markups  MarkupSource
	cfg      Config
	logger   *slog.Logger
	metrics  Metrics
}

func NewComposer(provider QuoteProvider, markups MarkupSource, cfg Config, logger *slog.Logger, metrics Metrics) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HomeCurrency == "" {
		cfg.HomeCurrency = operation.BRL
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	return &Composer{
		provider: provider,
		markups:  markups,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

func (c *Composer) HomeCurrency() operation.Currency {
	return c.cfg.HomeCurrency
}

func (c *Composer) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if !req.Pair.From.Valid() || !req.Pair.To.Valid() {
		return Quote{}, apperr.Invalid("pair", "unsupported currency pair "+req.Pair.String())
	}
	if req.Pair.From == req.Pair.To {
		return Quote{}, apperr.Invalid("pair", "currencies must differ")
	}
	if !req.Amount.IsPositive() {
		return Quote{}, apperr.Invalid("amount", "must be greater than zero")
	}

	pq, err := c.preview(ctx, PreviewRequest{
		Currency:      req.Pair.From,
		QuoteCurrency: req.Pair.To,
		Amount:        req.Amount,
		Side:          req.Side,
	})
	if err != nil {
		return Quote{}, err
	}

	sys, _, err := c.markups.SystemRate(ctx, req.Pair)
	if err != nil {
		return Quote{}, fmt.Errorf("load system rate %s: %w", req.Pair, err)
	}
	var client ClientMarkup
	if req.ClientID != uuid.Nil {
		client, _, err = c.markups.ClientMarkup(ctx, req.ClientID, req.Pair)
		if err != nil {
			return Quote{}, fmt.Errorf("load client markup %s: %w", req.Pair, err)
		}
	}

	final, converted := Compose(pq.BaseRate, sys, client, req.Amount)
	return Quote{
		ClientID:        req.ClientID,
		Pair:            req.Pair,
		Side:            req.Side,
		Amount:          req.Amount,
		BaseRate:        pq.BaseRate,
		SystemMarkupPct: sys.MarkupPercentage,
		SystemSpreadBps: sys.SpreadBps,
		SystemFixedFee:  sys.FixedFee,
		ClientMarkupPct: client.MarkupPercentage,
		ClientFixedFee:  client.FixedFee,
		FinalRate:       final,
		ConvertedAmount: converted,
		ProviderOrderID: pq.ProviderOrderID,
		ExpiresAt:       pq.ExpiresAt,
	}, nil
}

// HomeEquivalent converts amount of currency into the home currency at the provider's
// base rate, without markups.
func (c *Composer) HomeEquivalent(ctx context.Context, currency operation.Currency, amount decimal.Decimal) (decimal.Decimal, error) {
	if currency == c.cfg.HomeCurrency || amount.IsZero() {
		return amount, nil
	}
	pq, err := c.preview(ctx, PreviewRequest{
		Currency:      currency,
		QuoteCurrency: c.cfg.HomeCurrency,
		Amount:        amount.Abs(),
		Side:          operation.SideSell,
	})
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(pq.BaseRate), nil
}

// Execute asks the provider to fill a previously previewed order. An unsuccessful fill is
// reported as a provider error.
func (c *Composer) Execute(ctx context.Context, providerOrderID string) (Execution, error) {
	if providerOrderID == "" {
		return Execution{}, apperr.Invalid("provider_order_id", "required")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProviderTimeout)
	defer cancel()

	start := time.Now()
	exec, err := c.provider.ExecuteOrder(ctx, providerOrderID)
	if err == nil && !exec.Success {
		err = fmt.Errorf("order %s rejected: %s", providerOrderID, exec.Detail)
	}
	c.observe("execute", err, time.Since(start))
	if err != nil {
		c.logger.Error("provider execute failed", "provider_order_id", providerOrderID, "error", err)
		return exec, wrapProvider("execute", err)
	}
	return exec, nil
}

func (c *Composer) preview(ctx context.Context, req PreviewRequest) (ProviderQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProviderTimeout)
	defer cancel()

	start := time.Now()
	pq, err := c.provider.PreviewQuote(ctx, req)
	if err == nil && !pq.BaseRate.IsPositive() {
		err = fmt.Errorf("non-positive base rate %s", pq.BaseRate)
	}
	c.observe("preview", err, time.Since(start))
	if err != nil {
		c.logger.Error("provider preview failed",
			"currency", req.Currency,
			"quote_currency", req.QuoteCurrency,
			"amount", req.Amount.String(),
			"side", req.Side,
			"error", err,
		)
		return ProviderQuote{}, wrapProvider("preview", err)
	}
	return pq, nil
}

func (c *Composer) observe(op string, err error, d time.Duration) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	c.metrics.ObserveProviderCall(op, outcome, d)
}

func wrapProvider(op string, err error) error {
	var pe *apperr.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &apperr.ProviderError{Op: op, Err: err}
}
