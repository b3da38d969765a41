package rates

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

type HTTPProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RPS caps outbound requests per second; zero disables throttling.
	RPS   float64
	Burst int
}

// HTTPProvider talks to the bank's JSON quote API.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func NewHTTPProvider(cfg HTTPProviderConfig, logger *slog.Logger) *HTTPProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProviderTimeout
	}
	p := &HTTPProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return p
}

type previewResponse struct {
	BaseRate        decimal.Decimal `json:"base_rate"`
	ProviderOrderID string          `json:"provider_order_id"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

func (p *HTTPProvider) PreviewQuote(ctx context.Context, req PreviewRequest) (ProviderQuote, error) {
	body := map[string]string{
		"currency":       string(req.Currency),
		"quote_currency": string(req.QuoteCurrency),
		"amount":         req.Amount.String(),
		"side":           string(req.Side),
	}
	var resp previewResponse
	if err := p.do(ctx, "preview", "/quotes/preview", body, &resp); err != nil {
		return ProviderQuote{}, err
	}
	return ProviderQuote{
		BaseRate:        resp.BaseRate,
		ProviderOrderID: resp.ProviderOrderID,
		ExpiresAt:       resp.ExpiresAt,
	}, nil
}

func (p *HTTPProvider) ExecuteOrder(ctx context.Context, providerOrderID string) (Execution, error) {
	var resp Execution
	path := "/orders/" + url.PathEscape(providerOrderID) + "/execute"
	if err := p.do(ctx, "execute", path, struct{}{}, &resp); err != nil {
		return Execution{}, err
	}
	return resp, nil
}

func (p *HTTPProvider) do(ctx context.Context, op, path string, payload, out any) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return &apperr.ProviderError{Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return &apperr.ProviderError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &apperr.ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		p.logger.Warn("provider returned error status", "op", op, "status", resp.StatusCode, "body", string(snippet))
		return &apperr.ProviderError{
			Op:     op,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(snippet))),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &apperr.ProviderError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
