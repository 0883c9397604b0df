package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/novaos/backend/internal/core"
)

const exchangeRateBaseURL = "https://api.exchangerate.host"

// ExchangeRateProvider fetches currency-pair rates from exchangerate.host.
type ExchangeRateProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewExchangeRateProvider creates the FX client.
func NewExchangeRateProvider(apiKey string, client *http.Client) *ExchangeRateProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ExchangeRateProvider{apiKey: apiKey, baseURL: exchangeRateBaseURL, client: client}
}

// WithBaseURL points the provider at a different endpoint, used in tests.
func (p *ExchangeRateProvider) WithBaseURL(base string) *ExchangeRateProvider {
	p.baseURL = strings.TrimRight(base, "/")
	return p
}

func (p *ExchangeRateProvider) Name() string { return "exchangerate" }

func (p *ExchangeRateProvider) Categories() []core.Category {
	return []core.Category{core.CategoryFX}
}

func (p *ExchangeRateProvider) Reliability() ReliabilityTier { return TierFeed }

func (p *ExchangeRateProvider) IsAvailable() bool { return true }

type exchangeRateResponse struct {
	Success bool               `json:"success"`
	Base    string             `json:"base"`
	Rates   map[string]float64 `json:"rates"`
}

// Fetch retrieves the rate for a pair expressed as "USD/EUR".
func (p *ExchangeRateProvider) Fetch(ctx context.Context, query string) core.ProviderResult {
	start := time.Now()

	base, quote, ok := splitPair(query)
	if !ok {
		return core.FailResult(InvalidSymbolFailure(query), time.Since(start))
	}

	endpoint := p.baseURL + "/latest?base=" + url.QueryEscape(base) + "&symbols=" + url.QueryEscape(quote)
	if p.apiKey != "" {
		endpoint += "&access_key=" + url.QueryEscape(p.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return core.FailResult(ClassifyTransportErr(err), time.Since(start))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return core.FailResult(ClassifyTransportErr(err), time.Since(start))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.FailResult(ClassifyHTTPStatus(resp.StatusCode, resp.Header.Get("Retry-After")), time.Since(start))
	}

	var body exchangeRateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.FailResult(&core.ProviderFailure{
			Code:      core.ErrFetch,
			Message:   "malformed rate response",
			Retryable: true,
		}, time.Since(start))
	}

	rate, ok := body.Rates[quote]
	if !ok || rate == 0 {
		return core.FailResult(&core.ProviderFailure{
			Code:    core.ErrSymbolNotFound,
			Message: "no rate for pair " + base + "/" + quote,
		}, time.Since(start))
	}

	return core.OkResult(core.FxData{Base: base, Quote: quote, Rate: rate}, time.Since(start))
}

// splitPair parses "USD/EUR" or "USDEUR" into its ISO 4217 legs.
func splitPair(query string) (base, quote string, ok bool) {
	q := strings.ToUpper(strings.TrimSpace(query))
	if i := strings.IndexByte(q, '/'); i >= 0 {
		base, quote = q[:i], q[i+1:]
	} else if len(q) == 6 {
		base, quote = q[:3], q[3:]
	} else {
		return "", "", false
	}
	if len(base) != 3 || len(quote) != 3 || !isAlpha(base) || !isAlpha(quote) {
		return "", "", false
	}
	return base, quote, true
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
