package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	base     decimal.Decimal
	orderID  string
	err      error
	delay    time.Duration
	execOK   bool
	calls    int
	requests []PreviewRequest
}

func (s *stubProvider) PreviewQuote(ctx context.Context, req PreviewRequest) (ProviderQuote, error) {
	s.calls++
	s.requests = append(s.requests, req)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ProviderQuote{}, ctx.Err()
		}
	}
	if s.err != nil {
		return ProviderQuote{}, s.err
	}
	return ProviderQuote{BaseRate: s.base, ProviderOrderID: s.orderID}, nil
}

func (s *stubProvider) ExecuteOrder(_ context.Context, id string) (Execution, error) {
	if s.err != nil {
		return Execution{}, s.err
	}
	if !s.execOK {
		return Execution{Success: false, Detail: "insufficient liquidity"}, nil
	}
	return Execution{Success: true, Detail: id}, nil
}

type staticMarkups struct {
	system  map[Pair]SystemRate
	clients map[string]ClientMarkup
	calls   int
}

func newStaticMarkups() *staticMarkups {
	return &staticMarkups{system: map[Pair]SystemRate{}, clients: map[string]ClientMarkup{}}
}

func (s *staticMarkups) SystemRate(_ context.Context, pair Pair) (SystemRate, bool, error) {
	s.calls++
	r, ok := s.system[pair]
	return r, ok, nil
}

func (s *staticMarkups) ClientMarkup(_ context.Context, clientID uuid.UUID, pair Pair) (ClientMarkup, bool, error) {
	s.calls++
	m, ok := s.clients[clientKey(clientID, pair)]
	return m, ok, nil
}

type recordingMetrics struct {
	outcomes []string
}

func (r *recordingMetrics) ObserveProviderCall(op, outcome string, _ time.Duration) {
	r.outcomes = append(r.outcomes, op+":"+outcome)
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

var usdtBRL = Pair{From: operation.USDT, To: operation.BRL}

func TestComposeMarkupAndFixedFee(t *testing.T) {
	sys := SystemRate{MarkupPercentage: d("1"), FixedFee: d("2")}
	cli := ClientMarkup{MarkupPercentage: d("0.5"), FixedFee: d("1")}

	final, converted := Compose(d("5"), sys, cli, d("100"))
	assert.True(t, final.Equal(d("5.075")), "final = %s", final)
	// 100 * 5.075 + (2 + 1) * 5
	assert.True(t, converted.Equal(d("522.5")), "converted = %s", converted)
}

func TestComposeSpreadAppliesSameDirection(t *testing.T) {
	sys := SystemRate{MarkupPercentage: d("1"), SpreadBps: d("50")}
	final, _ := Compose(d("5"), sys, ClientMarkup{}, d("1"))
	assert.True(t, final.Equal(d("5.100375")), "final = %s", final)
}

func TestComposeZeroMarkupIsBase(t *testing.T) {
	final, converted := Compose(d("5.4"), SystemRate{}, ClientMarkup{}, d("100"))
	assert.True(t, final.Equal(d("5.4")))
	assert.True(t, converted.Equal(d("540")))
}

func TestComposeMonotonicInMarkup(t *testing.T) {
	base := d("5.1234")
	prev := decimal.Zero
	for _, pct := range []string{"0", "0.1", "0.5", "1", "2.5", "10"} {
		final, _ := Compose(base, SystemRate{MarkupPercentage: d(pct)}, ClientMarkup{}, d("1"))
		assert.True(t, final.GreaterThan(prev), "markup %s gave %s, not above %s", pct, final, prev)
		prev = final
	}
	prev = decimal.Zero
	for _, pct := range []string{"0", "0.25", "3"} {
		final, _ := Compose(base, SystemRate{MarkupPercentage: d("1")}, ClientMarkup{MarkupPercentage: d(pct)}, d("1"))
		assert.True(t, final.GreaterThan(prev), "client markup %s gave %s, not above %s", pct, final, prev)
		prev = final
	}
}

func TestQuoteCombinesSystemAndClient(t *testing.T) {
	client := uuid.New()
	markups := newStaticMarkups()
	markups.system[usdtBRL] = SystemRate{Pair: usdtBRL, MarkupPercentage: d("1"), FixedFee: d("2")}
	markups.clients[clientKey(client, usdtBRL)] = ClientMarkup{ClientID: client, Pair: usdtBRL, MarkupPercentage: d("0.5"), FixedFee: d("1")}
	provider := &stubProvider{base: d("5"), orderID: "ord-1"}
	metrics := &recordingMetrics{}

	c := NewComposer(provider, markups, Config{}, nil, metrics)
	q, err := c.Quote(context.Background(), QuoteRequest{ClientID: client, Pair: usdtBRL, Amount: d("100"), Side: operation.SideBuy})
	require.NoError(t, err)

	assert.True(t, q.FinalRate.Equal(d("5.075")))
	assert.True(t, q.ConvertedAmount.Equal(d("522.5")))
	assert.True(t, q.MarkupPercentage().Equal(d("1.5")))
	assert.True(t, q.FixedFee().Equal(d("3")))
	assert.Equal(t, "ord-1", q.ProviderOrderID)
	assert.Equal(t, []string{"preview:ok"}, metrics.outcomes)
	require.Len(t, provider.requests, 1)
	assert.Equal(t, operation.USDT, provider.requests[0].Currency)
	assert.Equal(t, operation.BRL, provider.requests[0].QuoteCurrency)
}

func TestQuoteWithoutOverridesUsesBase(t *testing.T) {
	c := NewComposer(&stubProvider{base: d("5.4")}, newStaticMarkups(), Config{}, nil, nil)
	q, err := c.Quote(context.Background(), QuoteRequest{ClientID: uuid.New(), Pair: usdtBRL, Amount: d("100"), Side: operation.SideSell})
	require.NoError(t, err)
	assert.True(t, q.FinalRate.Equal(d("5.4")))
	assert.True(t, q.ConvertedAmount.Equal(d("540")))
}

func TestQuoteProviderFailureHasNoFallback(t *testing.T) {
	provider := &stubProvider{err: errors.New("connection refused")}
	metrics := &recordingMetrics{}
	c := NewComposer(provider, newStaticMarkups(), Config{}, nil, metrics)

	_, err := c.Quote(context.Background(), QuoteRequest{Pair: usdtBRL, Amount: d("1"), Side: operation.SideBuy})
	var pe *apperr.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "preview", pe.Op)
	assert.ErrorIs(t, err, apperr.ErrProvider)
	assert.Equal(t, 1, provider.calls, "provider must not be retried")
	assert.Equal(t, []string{"preview:error"}, metrics.outcomes)
}

func TestQuoteProviderTimeout(t *testing.T) {
	provider := &stubProvider{base: d("5"), delay: time.Second}
	metrics := &recordingMetrics{}
	c := NewComposer(provider, newStaticMarkups(), Config{ProviderTimeout: 20 * time.Millisecond}, nil, metrics)

	_, err := c.Quote(context.Background(), QuoteRequest{Pair: usdtBRL, Amount: d("1"), Side: operation.SideBuy})
	require.ErrorIs(t, err, apperr.ErrProvider)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"preview:timeout"}, metrics.outcomes)
}

func TestQuoteRejectsNonPositiveBase(t *testing.T) {
	c := NewComposer(&stubProvider{base: decimal.Zero}, newStaticMarkups(), Config{}, nil, nil)
	_, err := c.Quote(context.Background(), QuoteRequest{Pair: usdtBRL, Amount: d("1"), Side: operation.SideBuy})
	assert.ErrorIs(t, err, apperr.ErrProvider)
}

func TestQuoteValidation(t *testing.T) {
	c := NewComposer(&stubProvider{base: d("5")}, newStaticMarkups(), Config{}, nil, nil)
	cases := []QuoteRequest{
		{Pair: Pair{From: "XYZ", To: operation.BRL}, Amount: d("1")},
		{Pair: Pair{From: operation.BRL, To: operation.BRL}, Amount: d("1")},
		{Pair: usdtBRL, Amount: d("0")},
		{Pair: usdtBRL, Amount: d("-5")},
	}
	for _, req := range cases {
		_, err := c.Quote(context.Background(), req)
		assert.ErrorIs(t, err, apperr.ErrValidation, "request %+v", req)
	}
}

func TestHomeEquivalent(t *testing.T) {
	provider := &stubProvider{base: d("6.2")}
	c := NewComposer(provider, newStaticMarkups(), Config{HomeCurrency: operation.BRL}, nil, nil)

	got, err := c.HomeEquivalent(context.Background(), operation.BRL, d("42"))
	require.NoError(t, err)
	assert.True(t, got.Equal(d("42")))
	assert.Zero(t, provider.calls)

	got, err = c.HomeEquivalent(context.Background(), operation.EUR, d("100"))
	require.NoError(t, err)
	assert.True(t, got.Equal(d("620")))
	assert.Equal(t, operation.EUR, provider.requests[0].Currency)
	assert.Equal(t, operation.BRL, provider.requests[0].QuoteCurrency)
}

func TestExecute(t *testing.T) {
	c := NewComposer(&stubProvider{execOK: true}, newStaticMarkups(), Config{}, nil, nil)
	exec, err := c.Execute(context.Background(), "ord-9")
	require.NoError(t, err)
	assert.True(t, exec.Success)

	c = NewComposer(&stubProvider{execOK: false}, newStaticMarkups(), Config{}, nil, nil)
	_, err = c.Execute(context.Background(), "ord-9")
	assert.ErrorIs(t, err, apperr.ErrProvider)

	_, err = c.Execute(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
