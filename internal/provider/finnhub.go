package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/novaos/backend/internal/core"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

// FinnhubProvider fetches market and crypto quotes from Finnhub.
type FinnhubProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewFinnhubProvider creates the Finnhub client. An empty apiKey makes
// the provider report unavailable instead of failing every call.
func NewFinnhubProvider(apiKey string, client *http.Client) *FinnhubProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &FinnhubProvider{apiKey: apiKey, baseURL: finnhubBaseURL, client: client}
}

// WithBaseURL points the provider at a different endpoint, used in tests.
func (p *FinnhubProvider) WithBaseURL(base string) *FinnhubProvider {
	p.baseURL = strings.TrimRight(base, "/")
	return p
}

func (p *FinnhubProvider) Name() string { return "finnhub" }

func (p *FinnhubProvider) Categories() []core.Category {
	return []core.Category{core.CategoryMarket, core.CategoryCrypto}
}

func (p *FinnhubProvider) Reliability() ReliabilityTier { return TierOfficial }

func (p *FinnhubProvider) IsAvailable() bool { return p.apiKey != "" }

// finnhubQuote is Finnhub's /quote response shape.
type finnhubQuote struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PrevClose     float64 `json:"pc"`
}

// Fetch retrieves a quote for the given ticker symbol.
func (p *FinnhubProvider) Fetch(ctx context.Context, query string) core.ProviderResult {
	start := time.Now()

	symbol := strings.ToUpper(strings.TrimSpace(query))
	if !validTicker(symbol) {
		return core.FailResult(InvalidSymbolFailure(symbol), time.Since(start))
	}

	endpoint := p.baseURL + "/quote?symbol=" + url.QueryEscape(symbol) + "&token=" + url.QueryEscape(p.apiKey)
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

	var quote finnhubQuote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return core.FailResult(&core.ProviderFailure{
			Code:      core.ErrFetch,
			Message:   "malformed quote response",
			Retryable: true,
		}, time.Since(start))
	}

	// Finnhub answers 200 with an all-zero quote for unknown symbols.
	if quote.Current == 0 && quote.PrevClose == 0 && quote.High == 0 && quote.Low == 0 {
		return core.FailResult(&core.ProviderFailure{
			Code:    core.ErrSymbolNotFound,
			Message: "symbol not found: " + symbol,
		}, time.Since(start))
	}

	return core.OkResult(core.StockData{
		Symbol:        symbol,
		Price:         quote.Current,
		Change:        quote.Change,
		ChangePercent: quote.ChangePercent,
		High:          quote.High,
		Low:           quote.Low,
		Open:          quote.Open,
		PrevClose:     quote.PrevClose,
		Currency:      "USD",
	}, time.Since(start))
}

// validTicker accepts 1-5 uppercase letters, optionally with one dot
// segment for share classes like BRK.B.
func validTicker(s string) bool {
	parts := strings.SplitN(s, ".", 2)
	if len(parts[0]) < 1 || len(parts[0]) > 5 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		for _, r := range part {
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return true
}
