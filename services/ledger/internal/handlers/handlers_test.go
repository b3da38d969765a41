package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/memstore"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/rates"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/service"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/usage"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/wallet"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/testutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("secret")

type fixedQuoter struct {
	rate     decimal.Decimal
	quoteErr error
}

func (q *fixedQuoter) HomeCurrency() operation.Currency { return operation.BRL }

func (q *fixedQuoter) Quote(_ context.Context, req rates.QuoteRequest) (rates.Quote, error) {
	if q.quoteErr != nil {
		return rates.Quote{}, q.quoteErr
	}
	return rates.Quote{
		ClientID:        req.ClientID,
		Pair:            req.Pair,
		Side:            req.Side,
		Amount:          req.Amount,
		BaseRate:        q.rate,
		FinalRate:       q.rate,
		ConvertedAmount: req.Amount.Mul(q.rate),
		ProviderOrderID: "po-" + uuid.NewString(),
	}, nil
}

func (q *fixedQuoter) HomeEquivalent(_ context.Context, currency operation.Currency, amount decimal.Decimal) (decimal.Decimal, error) {
	if currency == operation.BRL {
		return amount, nil
	}
	return amount.Mul(q.rate), nil
}

func (q *fixedQuoter) Execute(context.Context, string) (rates.Execution, error) {
	return rates.Execution{Success: true}, nil
}

type harness struct {
	router   *gin.Engine
	store    *memstore.Store
	quoter   *fixedQuoter
	admin    string
	operator string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := memstore.New()
	quoter := &fixedQuoter{rate: decimal.RequireFromString("5.4")}
	svc := service.NewLedgerService(st, quoter, usage.NewTracker(st, nil), nil, service.Config{}, nil, nil)

	router := gin.New()
	New(svc, nil).Register(router, secret)

	admin, err := testutil.AdminJWT(secret)
	require.NoError(t, err)
	operator, err := testutil.GenerateJWT(testutil.OperatorID, secret, time.Hour, time.Now())
	require.NoError(t, err)
	return &harness{router: router, store: st, quoter: quoter, admin: admin, operator: operator}
}

func (h *harness) provision(t *testing.T, limit string, balances map[operation.Currency]string) string {
	t.Helper()
	body := map[string]string{"name": "acme"}
	if limit != "" {
		body["annual_limit"] = limit
	}
	resp := testutil.MakeAuthRequest(h.router, http.MethodPost, "/v1/clients", body, h.admin)
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	var client clientItem
	testutil.DecodeJSON(t, resp, &client)

	id := uuid.MustParse(client.ID)
	for cur, amount := range balances {
		_, err := h.store.ApplyDelta(context.Background(), id, cur, decimal.RequireFromString(amount), wallet.Set)
		require.NoError(t, err)
	}
	return client.ID
}

func (h *harness) balance(t *testing.T, clientID string, cur operation.Currency) string {
	t.Helper()
	b, err := h.store.GetBalance(context.Background(), uuid.MustParse(clientID), cur)
	require.NoError(t, err)
	return b.StringFixed(2)
}

func TestRoutesRequireToken(t *testing.T) {
	h := newHarness(t)
	resp := testutil.MakeAPIRequest(h.router, http.MethodPost, "/v1/operations/fx-trades", map[string]string{})
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeUnauthorized)
	testutil.AssertErrorMessage(t, resp, "missing token")

	resp = testutil.MakeAuthRequest(h.router, http.MethodGet, "/v1/operations/"+uuid.NewString(), nil, "not-a-jwt")
	testutil.AssertErrorMessage(t, resp, "invalid token")
}

func TestAdminRoutesRequireRole(t *testing.T) {
	h := newHarness(t)
	resp := testutil.MakeAuthRequest(h.router, http.MethodPost, "/v1/clients", map[string]string{"name": "acme"}, h.operator)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeForbidden)

	resp = testutil.MakeAuthRequest(h.router, http.MethodDelete, "/v1/operations/"+uuid.NewString(), nil, h.operator)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeForbidden)
}

func TestProvisionClientCreatesWallets(t *testing.T) {
	h := newHarness(t)
	id := h.provision(t, "100000", nil)

	resp := testutil.MakeAuthRequest(h.router, http.MethodGet, "/v1/clients/"+id+"/wallets", nil, h.operator)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var body struct {
		Wallets []walletItem `json:"wallets"`
	}
	testutil.DecodeJSON(t, resp, &body)
	assert.Len(t, body.Wallets, len(operation.Currencies))
	for _, w := range body.Wallets {
		assert.Equal(t, "0.00", w.Balance)
	}

	resp = testutil.MakeAuthRequest(h.router, http.MethodGet, "/v1/clients/"+id+"/usage", nil, h.operator)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var u usageResponse
	testutil.DecodeJSON(t, resp, &u)
	assert.Equal(t, "100000.00", u.Limit)
	assert.Equal(t, "100000.00", u.Available)
}

func TestExecuteFXTradeAndCancel(t *testing.T) {
	h := newHarness(t)
	id := h.provision(t, "100000", map[operation.Currency]string{operation.BRL: "1000"})

	resp := testutil.MakeAuthRequest(h.router, http.MethodPost, "/v1/operations/fx-trades", map[string]string{
		"client_id":       id,
		"side":            "buy",
		"source_currency": "usdt",
		"target_currency": "BRL",
		"amount":          "100",
	}, h.operator)
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	var report reportResponse
	testutil.DecodeJSON(t, resp, &report)
	require.NotNil(t, report.Operation)
	assert.Equal(t, "executed", report.Operation.Status)
	assert.Equal(t, "USDT", report.Operation.SourceCurrency)
	assert.Equal(t, "540.00", report.Operation.HomeAmount)
	require.Len(t, report.Wallets, 2)
	require.NotNil(t, report.AnnualLimit)
	assert.Equal(t, "540", report.AnnualLimit.After.String())
	assert.Equal(t, "460.00", h.balance(t, id, operation.BRL))
	assert.Equal(t, "100.00", h.balance(t, id, operation.USDT))

	resp = testutil.MakeAuthRequest(h.router, http.MethodPatch, "/v1/operations/"+report.Operation.ID+"/status",
		map[string]string{"status": "cancelled"}, h.admin)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	assert.Equal(t, "1000.00", h.balance(t, id, operation.BRL))
	assert.Equal(t, "0.00", h.balance(t, id, operation.USDT))

	resp = testutil.MakeAuthRequest(h.router, http.MethodPatch, "/v1/operations/"+report.Operation.ID+"/status",
		map[string]string{"status": "pending"}, h.admin)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidTransition)
}

func TestFXTradeValidation(t *testing.T) {
	h := newHarness(t)
	resp := testutil.MakeAuthRequest(h.router, http.MethodPost, "/v1/operations/fx-trades", map[string]string{
		"client_id":       "not-a-uuid",
		"side":            "hold",
		"source_currency": "JPY",
		"target_currency": "BRL",
		"amount":          "-5",
	}, h.operator)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)
	var body errorResponse
	testutil.DecodeJSON(t, resp, &body)
	assert.Len(t, body.Fields, 4)
}

func TestFXTradeLimitExceeded(t *testing.T) {
	h := newHarness(t)
	id := h.provision(t, "500", map[operation.Currency]string{operation.BRL: "1000"})

	resp := testutil.MakeAuthRequest(h.router, http.MethodPost, "/v1/operations/fx-trades", map[string]string{
		"client_id":       id,
		"side":            "buy",
		"source_currency": "USDT",
		"target_currency": "BRL",
		"amount":          "100",
	}, h.operator)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeLimitExceeded)
	assert.Equal(t, "500.00", testutil.ErrorDetail(t, resp, "available"))
	assert.Equal(t, "1000.00", h.balance(t, id, operation.BRL))
}

func TestFXTradeInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	id := h.provision(t, "", map[operation.Currency]string{operation.BRL: "100"})

	resp := testutil.MakeAuthRequest(h.router, http.MethodPost, "/v1/operations/fx-trades", map[string]string{
		"client_id":       id,
		"side":            "buy",
		"source_currency": "USDT",
		"target_currency": "BRL",
		"amount":          "100",
	}, h.operator)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInsufficientBalance)
	assert.Equal(t, "BRL", testutil.ErrorDetail(t, resp, "wallet"))
}

func TestProviderFailureIsBadGateway(t *testing.T) {
	h := newHarness(t)
	id := h.provision(t, "", nil)
	h.quoter.quoteErr = &apperr.ProviderError{Op: "preview", Status: 503, Err: errors.New("unavailable")}

	resp := testutil.MakeAuthRequest(h.router, http.MethodPost, "/v1/quotes", map[string]string{
		"client_id":       id,
		"side":            "sell",
		"source_currency": "USD",
		"target_currency": "BRL",
		"amount":          "10",
	}, h.operator)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeProviderError)
}

func TestPreviewQuote(t *testing.T) {
	h := newHarness(t)
	id := h.provision(t, "", nil)

	resp := testutil.MakeAuthRequest(h.router, http.MethodPost, "/v1/quotes", map[string]string{
		"client_id":       id,
		"side":            "sell",
		"source_currency": "USD",
		"target_currency": "BRL",
		"amount":          "10",
	}, h.operator)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var quote rates.Quote
	testutil.DecodeJSON(t, resp, &quote)
	assert.Equal(t, "54", quote.ConvertedAmount.String())
	assert.Equal(t, "0.00", h.balance(t, id, operation.USD))
}

func TestTransfers(t *testing.T) {
	h := newHarness(t)
	from := h.provision(t, "", map[operation.Currency]string{operation.USD: "500"})
	to := h.provision(t, "", nil)

	resp := testutil.MakeAuthRequest(h.router, http.MethodPost, "/v1/operations/transfers", map[string]string{
		"client_id":             from,
		"destination_client_id": to,
		"currency":              "USD",
		"amount":                "200",
	}, h.operator)
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	var internal reportResponse
	testutil.DecodeJSON(t, resp, &internal)
	assert.Equal(t, "executed", internal.Operation.Status)
	assert.Equal(t, "300.00", h.balance(t, from, operation.USD))
	assert.Equal(t, "200.00", h.balance(t, to, operation.USD))

	resp = testutil.MakeAuthRequest(h.router, http.MethodPost, "/v1/operations/transfers", map[string]string{
		"client_id": from,
		"currency":  "USD",
		"amount":    "100",
	}, h.operator)
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	var external reportResponse
	testutil.DecodeJSON(t, resp, &external)
	assert.Equal(t, "pending", external.Operation.Status)
	assert.Equal(t, "200.00", h.balance(t, from, operation.USD))

	resp = testutil.MakeAuthRequest(h.router, http.MethodPatch, "/v1/operations/"+external.Operation.ID+"/status",
		map[string]string{"status": "failed", "notes": "rejected by bank"}, h.admin)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	assert.Equal(t, "300.00", h.balance(t, from, operation.USD))

	resp = testutil.MakeAuthRequest(h.router, http.MethodPost, "/v1/operations/transfers", map[string]string{
		"client_id":             from,
		"destination_client_id": from,
		"currency":              "USD",
		"amount":                "1",
	}, h.operator)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)
}

func TestRecordListAndDelete(t *testing.T) {
	h := newHarness(t)
	id := h.provision(t, "", nil)

	resp := testutil.MakeAuthRequest(h.router, http.MethodPost, "/v1/operations", map[string]string{
		"type":            "deposit",
		"client_id":       id,
		"source_currency": "EUR",
		"source_amount":   "250.005",
		"notes":           "wire in",
	}, h.admin)
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	var created reportResponse
	testutil.DecodeJSON(t, resp, &created)
	assert.Equal(t, "250.01", h.balance(t, id, operation.EUR))

	resp = testutil.MakeAuthRequest(h.router, http.MethodGet, "/v1/operations/"+created.Operation.ID, nil, h.operator)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var item operationItem
	testutil.DecodeJSON(t, resp, &item)
	assert.Equal(t, "deposit", item.Type)
	assert.Equal(t, "wire in", item.Notes)

	resp = testutil.MakeAuthRequest(h.router, http.MethodGet, "/v1/clients/"+id+"/operations?limit=10&kind=deposit", nil, h.operator)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var list listOperationsResponse
	testutil.DecodeJSON(t, resp, &list)
	require.Len(t, list.Operations, 1)

	resp = testutil.MakeAuthRequest(h.router, http.MethodDelete, "/v1/operations/"+created.Operation.ID, nil, h.admin)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	assert.Equal(t, "0.00", h.balance(t, id, operation.EUR))

	resp = testutil.MakeAuthRequest(h.router, http.MethodGet, "/v1/operations/"+created.Operation.ID, nil, h.operator)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeOperationNotFound)
}

func TestAmendmentThroughStatusRoute(t *testing.T) {
	h := newHarness(t)
	id := h.provision(t, "", map[operation.Currency]string{operation.BRL: "1000"})

	resp := testutil.MakeAuthRequest(h.router, http.MethodPost, "/v1/operations/fx-trades", map[string]string{
		"client_id":       id,
		"side":            "buy",
		"source_currency": "USDT",
		"target_currency": "BRL",
		"amount":          "100",
	}, h.operator)
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	var report reportResponse
	testutil.DecodeJSON(t, resp, &report)

	resp = testutil.MakeAuthRequest(h.router, http.MethodPatch, "/v1/operations/"+report.Operation.ID+"/status",
		map[string]string{"target_amount": "600"}, h.admin)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	assert.Equal(t, "400.00", h.balance(t, id, operation.BRL))
	assert.Equal(t, "100.00", h.balance(t, id, operation.USDT))

	resp = testutil.MakeAuthRequest(h.router, http.MethodPatch, "/v1/operations/"+report.Operation.ID+"/status",
		map[string]string{}, h.admin)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)
}

func TestUpdateLimitAndUnknownClient(t *testing.T) {
	h := newHarness(t)
	id := h.provision(t, "", nil)

	resp := testutil.MakeAuthRequest(h.router, http.MethodPut, "/v1/clients/"+id+"/limit", map[string]string{"annual_limit": "2500"}, h.admin)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var client clientItem
	testutil.DecodeJSON(t, resp, &client)
	assert.Equal(t, "2500.00", client.AnnualLimit)

	resp = testutil.MakeAuthRequest(h.router, http.MethodPut, "/v1/clients/"+id+"/limit", map[string]string{"annual_limit": "-1"}, h.admin)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)

	resp = testutil.MakeAuthRequest(h.router, http.MethodGet, "/v1/clients/"+uuid.NewString()+"/wallets", nil, h.operator)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeClientNotFound)

	resp = testutil.MakeAuthRequest(h.router, http.MethodGet, "/v1/clients/nope/usage", nil, h.operator)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)
}

func TestPartialFailureResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := New(nil, nil)
	router.GET("/fail", func(c *gin.Context) {
		h.writeError(c, &apperr.PartialFailureError{OperationID: "op-1", Cause: errors.New("boom"), Applied: 2, Compensated: 1})
	})

	resp := testutil.MakeAPIRequest(router, http.MethodGet, "/fail", nil)
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodePartialFailure)
	assert.Equal(t, true, testutil.ErrorDetail(t, resp, "reconcile"))
}
