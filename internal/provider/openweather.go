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

const openWeatherBaseURL = "https://api.openweathermap.org/data/2.5"

// OpenWeatherProvider fetches current conditions from OpenWeatherMap.
type OpenWeatherProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenWeatherProvider creates the weather client.
func NewOpenWeatherProvider(apiKey string, client *http.Client) *OpenWeatherProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &OpenWeatherProvider{apiKey: apiKey, baseURL: openWeatherBaseURL, client: client}
}

// WithBaseURL points the provider at a different endpoint, used in tests.
func (p *OpenWeatherProvider) WithBaseURL(base string) *OpenWeatherProvider {
	p.baseURL = strings.TrimRight(base, "/")
	return p
}

func (p *OpenWeatherProvider) Name() string { return "openweathermap" }

func (p *OpenWeatherProvider) Categories() []core.Category {
	return []core.Category{core.CategoryWeather}
}

func (p *OpenWeatherProvider) Reliability() ReliabilityTier { return TierOfficial }

func (p *OpenWeatherProvider) IsAvailable() bool { return p.apiKey != "" }

type openWeatherResponse struct {
	Name string `json:"name"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  float64 `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"` // m/s with units=metric
	} `json:"wind"`
}

// Fetch retrieves current conditions for a city name.
func (p *OpenWeatherProvider) Fetch(ctx context.Context, query string) core.ProviderResult {
	start := time.Now()

	city := strings.TrimSpace(query)
	if city == "" {
		return core.FailResult(InvalidSymbolFailure(query), time.Since(start))
	}

	endpoint := p.baseURL + "/weather?q=" + url.QueryEscape(city) +
		"&units=metric&appid=" + url.QueryEscape(p.apiKey)
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

	var body openWeatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.FailResult(&core.ProviderFailure{
			Code:      core.ErrFetch,
			Message:   "malformed weather response",
			Retryable: true,
		}, time.Since(start))
	}

	conditions := ""
	if len(body.Weather) > 0 {
		conditions = body.Weather[0].Description
	}

	return core.OkResult(core.WeatherData{
		Location:    body.Name,
		TempC:       body.Main.Temp,
		FeelsLikeC:  body.Main.FeelsLike,
		HumidityPct: body.Main.Humidity,
		Conditions:  conditions,
		WindKph:     body.Wind.Speed * 3.6,
	}, time.Since(start))
}
