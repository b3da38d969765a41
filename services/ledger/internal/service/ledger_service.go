package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/libs/trace"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/effects"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/rates"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/store"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/usage"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/wallet"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Quoter prices trades and converts amounts into the home currency. *rates.Composer
// implements it.
type Quoter interface {
	HomeCurrency() operation.Currency
	Quote(ctx context.Context, req rates.QuoteRequest) (rates.Quote, error)
	HomeEquivalent(ctx context.Context, currency operation.Currency, amount decimal.Decimal) (decimal.Decimal, error)
	Execute(ctx context.Context, providerOrderID string) (rates.Execution, error)
}

type Config struct {
	// DefaultAnnualLimit applies to clients provisioned without an explicit limit. Zero
	// means unlimited.
	DefaultAnnualLimit decimal.Decimal
}

type LedgerService struct {
	store       store.Store
	quoter      Quoter
	tracker     *usage.Tracker
	coordinator *Coordinator
	units       *unitRunner
	cfg         Config
	logger      *slog.Logger
	metrics     *Metrics
}

func NewLedgerService(st store.Store, quoter Quoter, tracker *usage.Tracker, publisher EventPublisher, cfg Config, logger *slog.Logger, metrics *Metrics) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	coordinator := NewCoordinator(st, tracker, publisher, logger, metrics)
	svc := &LedgerService{
		store:       st,
		quoter:      quoter,
		tracker:     tracker,
		coordinator: coordinator,
		units:       coordinator.units,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
	}
	coordinator.rehome = svc.homeAmount
	return svc
}

type FXTradeInput struct {
	ClientID       uuid.UUID
	Side           operation.Side
	SourceCurrency operation.Currency
	TargetCurrency operation.Currency
	// Amount is in SourceCurrency.
	Amount decimal.Decimal
	Notes  string
	Actor  string
}

// TransferInput moves Amount of Currency out of the client's wallet. With a destination
// the move is internal and lands in the destination's wallet of the same currency; without
// one it is an outbound transfer that waits for approval.
type TransferInput struct {
	ClientID            uuid.UUID
	DestinationClientID *uuid.UUID
	Currency            operation.Currency
	// TargetCurrency is the currency delivered by an outbound transfer; defaults to Currency.
	TargetCurrency operation.Currency
	Amount         decimal.Decimal
	Notes          string
	Actor          string
}

// MovementInput is a single-wallet credit or debit.
type MovementInput struct {
	ClientID uuid.UUID
	Currency operation.Currency
	Amount   decimal.Decimal
	Notes    string
	Actor    string
}

// ExchangeInput records a two-wallet move at a known rate.
type ExchangeInput struct {
	ClientID       uuid.UUID
	SourceCurrency operation.Currency
	TargetCurrency operation.Currency
	SourceAmount   decimal.Decimal
	TargetAmount   decimal.Decimal
	ExchangeRate   decimal.Decimal
	Notes          string
	Actor          string
}

type ClientInput struct {
	Name        string
	AnnualLimit *decimal.Decimal
}

type SettlementInput struct {
	OperationID     uuid.UUID
	ProviderOrderID string
	Status          operation.Status
	Detail          string
	// EventID makes redelivered settlements a no-op.
	EventID string
}

// Preview prices a trade without touching the ledger or filling the order.
func (s *LedgerService) Preview(ctx context.Context, in FXTradeInput) (rates.Quote, error) {
	if err := validateFX(in); err != nil {
		return rates.Quote{}, err
	}
	return s.quoter.Quote(ctx, rates.QuoteRequest{
		ClientID: in.ClientID,
		Pair:     rates.Pair{From: in.SourceCurrency, To: in.TargetCurrency},
		Amount:   in.Amount,
		Side:     in.Side,
	})
}

// ExecuteFXTrade quotes, fills the order with the provider and records the executed trade.
// Limit and balance are checked before the provider fill so an order that cannot be booked
// is never placed.
func (s *LedgerService) ExecuteFXTrade(ctx context.Context, in FXTradeInput) (report Report, err error) {
	ctx, span := trace.Start(ctx, tracerName, "ledger.execute_fx_trade")
	defer func() { trace.End(span, err) }()

	if err := validateFX(in); err != nil {
		return Report{}, err
	}
	if _, err := s.store.GetClient(ctx, in.ClientID); err != nil {
		return Report{}, err
	}

	quote, err := s.quoter.Quote(ctx, rates.QuoteRequest{
		ClientID: in.ClientID,
		Pair:     rates.Pair{From: in.SourceCurrency, To: in.TargetCurrency},
		Amount:   in.Amount,
		Side:     in.Side,
	})
	if err != nil {
		return Report{}, err
	}

	op := operation.Operation{
		ID:               uuid.New(),
		Kind:             operation.KindFXTrade,
		Side:             in.Side,
		ClientID:         in.ClientID,
		SourceCurrency:   in.SourceCurrency,
		TargetCurrency:   in.TargetCurrency,
		SourceAmount:     operation.RoundMoney(in.Amount),
		TargetAmount:     operation.RoundMoney(quote.ConvertedAmount),
		ExchangeRate:     quote.FinalRate,
		BaseRate:         quote.BaseRate,
		MarkupPercentage: quote.MarkupPercentage(),
		FixedRateAmount:  operation.RoundMoney(quote.FixedFee()),
		ProviderOrderID:  quote.ProviderOrderID,
		Notes:            in.Notes,
	}
	if op.HomeAmount, err = s.homeAmount(ctx, op); err != nil {
		return Report{}, err
	}
	if err := s.precheck(ctx, op); err != nil {
		return Report{}, err
	}

	if op.ProviderOrderID != "" {
		if _, err := s.quoter.Execute(ctx, op.ProviderOrderID); err != nil {
			return Report{}, err
		}
	}

	report, err = s.record(ctx, op, in.Actor)
	if err != nil {
		s.logger.Error("fx trade filled by provider but not booked",
			"operation_id", op.ID,
			"provider_order_id", op.ProviderOrderID,
			"client_id", op.ClientID,
			"error", err,
		)
		return Report{}, err
	}
	return report, nil
}

func (s *LedgerService) CreateTransfer(ctx context.Context, in TransferInput) (Report, error) {
	if in.ClientID == uuid.Nil {
		return Report{}, apperr.Invalid("client_id", "required")
	}
	if !in.Currency.Valid() {
		return Report{}, apperr.Invalid("currency", "unsupported currency")
	}
	if !in.Amount.IsPositive() {
		return Report{}, apperr.Invalid("amount", "must be greater than zero")
	}

	op := operation.Operation{
		Kind:           operation.KindTransfer,
		ClientID:       in.ClientID,
		SourceCurrency: in.Currency,
		SourceAmount:   in.Amount,
		Notes:          in.Notes,
	}
	if in.DestinationClientID != nil {
		dest := *in.DestinationClientID
		if dest == in.ClientID {
			return Report{}, apperr.Invalid("destination_client_id", "must differ from client_id")
		}
		op.DestinationClientID = &dest
		op.TargetCurrency = in.Currency
		op.TargetAmount = in.Amount
		op.ExchangeRate = decimal.NewFromInt(1)
	} else if in.TargetCurrency != "" && in.TargetCurrency != in.Currency {
		if !in.TargetCurrency.Valid() {
			return Report{}, apperr.Invalid("target_currency", "unsupported currency")
		}
		op.TargetCurrency = in.TargetCurrency
	}
	return s.Record(ctx, op, in.Actor)
}

func (s *LedgerService) RecordDeposit(ctx context.Context, in MovementInput) (Report, error) {
	return s.recordMovement(ctx, operation.KindDeposit, in)
}

func (s *LedgerService) RecordWithdrawal(ctx context.Context, in MovementInput) (Report, error) {
	return s.recordMovement(ctx, operation.KindWithdrawal, in)
}

func (s *LedgerService) RecordExternalDeposit(ctx context.Context, in MovementInput) (Report, error) {
	return s.Record(ctx, operation.Operation{
		Kind:           operation.KindExternalDeposit,
		ClientID:       in.ClientID,
		TargetCurrency: in.Currency,
		TargetAmount:   in.Amount,
		Notes:          in.Notes,
	}, in.Actor)
}

func (s *LedgerService) RecordExternalWithdrawal(ctx context.Context, in MovementInput) (Report, error) {
	return s.recordMovement(ctx, operation.KindExternalWithdrawal, in)
}

func (s *LedgerService) RecordArbitrage(ctx context.Context, in ExchangeInput) (Report, error) {
	return s.recordExchange(ctx, operation.KindArbitrage, in)
}

func (s *LedgerService) RecordConversion(ctx context.Context, in ExchangeInput) (Report, error) {
	return s.recordExchange(ctx, operation.KindConversion, in)
}

func (s *LedgerService) RecordInternalTransfer(ctx context.Context, in ExchangeInput) (Report, error) {
	return s.recordExchange(ctx, operation.KindInternalTransfer, in)
}

func (s *LedgerService) recordMovement(ctx context.Context, kind operation.Kind, in MovementInput) (Report, error) {
	return s.Record(ctx, operation.Operation{
		Kind:           kind,
		ClientID:       in.ClientID,
		SourceCurrency: in.Currency,
		SourceAmount:   in.Amount,
		Notes:          in.Notes,
	}, in.Actor)
}

func (s *LedgerService) recordExchange(ctx context.Context, kind operation.Kind, in ExchangeInput) (Report, error) {
	rate := in.ExchangeRate
	if rate.IsZero() && in.SourceAmount.IsPositive() {
		rate = in.TargetAmount.Div(in.SourceAmount)
	}
	return s.Record(ctx, operation.Operation{
		Kind:           kind,
		ClientID:       in.ClientID,
		SourceCurrency: in.SourceCurrency,
		TargetCurrency: in.TargetCurrency,
		SourceAmount:   in.SourceAmount,
		TargetAmount:   in.TargetAmount,
		ExchangeRate:   rate,
		Notes:          in.Notes,
	}, in.Actor)
}

// Record books an operation of any kind as given. It is the back-office entry point; the
// typed intents above build their operation and end up here.
func (s *LedgerService) Record(ctx context.Context, op operation.Operation, actor string) (Report, error) {
	if op.ID != uuid.Nil {
		return Report{}, apperr.Invalid("id", "assigned by the ledger")
	}
	if op.Status != "" && op.Status != operation.StatusPending && op.Status != operation.StatusExecuted {
		return Report{}, apperr.Invalid("status", "new operations are pending or executed")
	}
	op.ID = uuid.New()
	if _, err := s.store.GetClient(ctx, op.ClientID); err != nil {
		return Report{}, err
	}
	if op.DestinationClientID != nil {
		if _, err := s.store.GetClient(ctx, *op.DestinationClientID); err != nil {
			return Report{}, err
		}
	}
	return s.record(ctx, op, actor)
}

func (s *LedgerService) record(ctx context.Context, op operation.Operation, actor string) (Report, error) {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	op.SourceAmount = operation.RoundMoney(op.SourceAmount)
	op.TargetAmount = operation.RoundMoney(op.TargetAmount)
	if op.Status == "" {
		op.Status = operation.DefaultStatus(op)
	}
	if _, err := op.Variant(); err != nil {
		return Report{}, apperr.Invalid("operation", err.Error())
	}

	if op.HomeAmount.IsZero() {
		home, err := s.homeAmount(ctx, op)
		if err != nil {
			return Report{}, err
		}
		op.HomeAmount = home
	}
	op.HomeAmount = operation.RoundMoney(op.HomeAmount)

	deltas, err := effects.For(op)
	if err != nil {
		return Report{}, err
	}
	p := plan{
		operationID:  op.ID,
		deltas:       deltas,
		usageClient:  op.ClientID,
		usageDelta:   op.HomeAmount,
		checkLimit:   true,
		requireFunds: true,
		persist: func(ctx context.Context, st store.Store) (operation.Operation, error) {
			return st.CreateOperation(ctx, op)
		},
		audit: &store.AuditEntry{
			Actor:      actor,
			Action:     EventOperationCreated,
			EntityType: "operation",
			EntityID:   op.ID,
			Metadata: map[string]string{
				"kind":   string(op.Kind),
				"status": string(op.Status),
			},
		},
	}

	report, err := s.units.run(ctx, p)
	if err != nil {
		s.metrics.IncOperation(string(op.Kind), "rejected")
		return Report{}, err
	}
	s.metrics.IncOperation(string(op.Kind), string(report.Operation.Status))
	s.logger.Info("operation recorded",
		"operation_id", report.Operation.ID,
		"kind", report.Operation.Kind,
		"status", report.Operation.Status,
		"client_id", report.Operation.ClientID,
		"home_amount", report.Operation.HomeAmount.String(),
	)
	s.units.publish(ctx, OperationEvent{
		Type:      EventOperationCreated,
		Operation: report.Operation,
		Actor:     actor,
	}, report.Wallets)
	return report, nil
}

// precheck runs the limit and balance checks of record without writing anything, so a trade
// that cannot be booked is not filled. It is advisory: record repeats the limit check with the
// client row locked.
func (s *LedgerService) precheck(ctx context.Context, op operation.Operation) error {
	if op.HomeAmount.IsPositive() {
		if _, err := s.tracker.Require(ctx, op.ClientID, op.HomeAmount); err != nil {
			return err
		}
	}
	deltas, err := effects.For(op)
	if err != nil {
		return apperr.Invalid("operation", err.Error())
	}
	return checkFunds(ctx, s.store, deltas)
}

// homeAmount is the amount counted against the annual limit: the home-currency leg when the
// operation has one, otherwise the provider's conversion of the source (or target) amount.
func (s *LedgerService) homeAmount(ctx context.Context, op operation.Operation) (decimal.Decimal, error) {
	home := s.quoter.HomeCurrency()
	switch {
	case op.TargetCurrency == home && op.TargetAmount.IsPositive():
		return op.TargetAmount, nil
	case op.SourceCurrency == home && op.SourceAmount.IsPositive():
		return op.SourceAmount, nil
	case op.SourceAmount.IsPositive():
		amount, err := s.quoter.HomeEquivalent(ctx, op.SourceCurrency, op.SourceAmount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("home equivalent: %w", err)
		}
		return operation.RoundMoney(amount), nil
	case op.TargetAmount.IsPositive():
		amount, err := s.quoter.HomeEquivalent(ctx, op.TargetCurrency, op.TargetAmount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("home equivalent: %w", err)
		}
		return operation.RoundMoney(amount), nil
	}
	return decimal.Zero, nil
}

func (s *LedgerService) Transition(ctx context.Context, in TransitionInput) (Report, error) {
	return s.coordinator.Transition(ctx, in)
}

func (s *LedgerService) Delete(ctx context.Context, id uuid.UUID, actor string) (Report, error) {
	return s.coordinator.Delete(ctx, id, actor)
}

// Settle applies a provider settlement outcome to the matching operation.
func (s *LedgerService) Settle(ctx context.Context, in SettlementInput) (Report, error) {
	if in.Status != operation.StatusExecuted && in.Status != operation.StatusFailed {
		return Report{}, apperr.Invalid("status", "settlements are executed or failed")
	}
	id := in.OperationID
	if id == uuid.Nil {
		if strings.TrimSpace(in.ProviderOrderID) == "" {
			return Report{}, apperr.Invalid("operation_id", "operation_id or provider_order_id is required")
		}
		op, err := s.store.FindByProviderOrder(ctx, in.ProviderOrderID)
		if err != nil {
			return Report{}, err
		}
		id = op.ID
	}
	return s.coordinator.Transition(ctx, TransitionInput{
		OperationID: id,
		Status:      in.Status,
		Actor:       "provider",
		Notes:       in.Detail,
		EventID:     in.EventID,
	})
}

func (s *LedgerService) GetOperation(ctx context.Context, id uuid.UUID) (operation.Operation, error) {
	return s.store.GetOperation(ctx, id)
}

func (s *LedgerService) ListOperations(ctx context.Context, clientID uuid.UUID, filter operation.Filter) ([]operation.Operation, string, error) {
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, "", err
	}
	filter.Limit = operation.ClampLimit(filter.Limit)
	return s.store.ListOperations(ctx, clientID, filter)
}

// ProvisionClient creates a client with a zero wallet in every supported currency.
func (s *LedgerService) ProvisionClient(ctx context.Context, in ClientInput) (store.Client, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return store.Client{}, apperr.Invalid("name", "required")
	}
	limit := s.cfg.DefaultAnnualLimit
	if in.AnnualLimit != nil {
		limit = *in.AnnualLimit
	}
	if limit.IsNegative() {
		return store.Client{}, apperr.Invalid("annual_limit", "must not be negative")
	}
	now := s.units.now().UTC()
	client, err := s.store.CreateClient(ctx, store.Client{
		ID:          uuid.New(),
		Name:        name,
		AnnualLimit: operation.RoundMoney(limit),
		ResetDate:   time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC),
	}, operation.Currencies)
	if err != nil {
		return store.Client{}, err
	}
	s.logger.Info("client provisioned", "client_id", client.ID, "annual_limit", client.AnnualLimit.String())
	return client, nil
}

func (s *LedgerService) Balances(ctx context.Context, clientID uuid.UUID) ([]wallet.Balance, error) {
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return s.store.ListBalances(ctx, clientID)
}

// Usage reports the client's position against its annual limit, rolling it over first when
// a new year has started.
func (s *LedgerService) Usage(ctx context.Context, clientID uuid.UUID) (usage.Decision, error) {
	return s.tracker.CheckLimit(ctx, clientID, decimal.Zero)
}

func (s *LedgerService) UpdateLimit(ctx context.Context, clientID uuid.UUID, limit decimal.Decimal, actor string) (store.Client, error) {
	if limit.IsNegative() {
		return store.Client{}, apperr.Invalid("annual_limit", "must not be negative")
	}
	client, err := s.store.UpdateLimit(ctx, clientID, operation.RoundMoney(limit))
	if err != nil {
		return store.Client{}, err
	}
	if err := s.store.InsertAudit(ctx, store.AuditEntry{
		Actor:      actor,
		Action:     "client.limit_updated",
		EntityType: "client",
		EntityID:   clientID,
		Metadata:   map[string]string{"annual_limit": client.AnnualLimit.String()},
	}); err != nil {
		s.logger.Error("audit limit update failed", "client_id", clientID, "error", err)
	}
	return client, nil
}

func validateFX(in FXTradeInput) error {
	var fields []apperr.FieldError
	if in.ClientID == uuid.Nil {
		fields = append(fields, apperr.FieldError{Field: "client_id", Message: "required"})
	}
	if in.Side != operation.SideBuy && in.Side != operation.SideSell {
		fields = append(fields, apperr.FieldError{Field: "side", Message: "must be buy or sell"})
	}
	if !in.SourceCurrency.Valid() {
		fields = append(fields, apperr.FieldError{Field: "source_currency", Message: "unsupported currency"})
	}
	if !in.TargetCurrency.Valid() {
		fields = append(fields, apperr.FieldError{Field: "target_currency", Message: "unsupported currency"})
	}
	if in.SourceCurrency == in.TargetCurrency {
		fields = append(fields, apperr.FieldError{Field: "target_currency", Message: "must differ from source_currency"})
	}
	if !in.Amount.IsPositive() {
		fields = append(fields, apperr.FieldError{Field: "amount", Message: "must be greater than zero"})
	}
	if len(fields) > 0 {
		return &apperr.ValidationError{Fields: fields}
	}
	return nil
}
