package fred

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"dieselwatch/internal/model"
	"dieselwatch/internal/providers"
)

const (
	defaultBaseURL          = "https://api.stlouisfed.org/fred"
	defaultObservationsPath = "/series/observations"
	defaultLimit            = 1000
	defaultTimeoutSeconds   = 30
	defaultUserAgent        = "dieselwatch/0.1"
	defaultRateLimitPerSec  = 2
	defaultRateLimitBurst   = 2

	// FRED encodes "no data for this date" as a literal dot.
	missingValueSentinel = "."
)

type Config struct {
	BaseURL          string
	ObservationsPath string
	APIKey           string
	Limit            int
	Timeout          time.Duration
	UserAgent        string
	RateLimitPerSec  int
	RateLimitBurst   int
}

// Provider fetches daily price series from the FRED API. It holds no state
// beyond configuration and is safe for concurrent use.
type Provider struct {
	config   Config
	registry model.Registry
	client   *http.Client
	limiter  *rateLimiter
	log      *slog.Logger
}

func New(registry model.Registry, log *slog.Logger) (*Provider, error) {
	return NewWithConfig(ConfigFromEnv(), registry, log)
}

func NewWithConfig(cfg Config, registry model.Registry, log *slog.Logger) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.ObservationsPath) == "" {
		cfg.ObservationsPath = defaultObservationsPath
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeoutSeconds * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = defaultRateLimitPerSec
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultRateLimitBurst
	}
	if log == nil {
		log = slog.Default()
	}

	return &Provider{
		config:   cfg,
		registry: registry,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  newRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst),
		log:      log.With("provider", "fred"),
	}, nil
}

func ConfigFromEnv() Config {
	return Config{
		BaseURL:          getenv("FRED_BASE_URL", defaultBaseURL),
		ObservationsPath: getenv("FRED_OBSERVATIONS_PATH", defaultObservationsPath),
		APIKey:           strings.TrimSpace(os.Getenv("FRED_API_KEY")),
		Limit:            getenvInt("FRED_LIMIT", defaultLimit),
		Timeout:          time.Duration(getenvInt("FRED_TIMEOUT_SECONDS", defaultTimeoutSeconds)) * time.Second,
		UserAgent:        getenv("FRED_USER_AGENT", defaultUserAgent),
		RateLimitPerSec:  getenvInt("FRED_RATE_LIMIT_PER_SEC", defaultRateLimitPerSec),
		RateLimitBurst:   getenvInt("FRED_RATE_LIMIT_BURST", defaultRateLimitBurst),
	}
}

func (p *Provider) Source() string {
	return model.SourceFRED
}

func (p *Provider) Endpoint() string {
	return p.config.ObservationsPath
}

// Fetch returns the series' observations inside window, most recent first.
// Sentinel and unparseable points are dropped, not zeroed; they are never
// counted as fetched records.
func (p *Provider) Fetch(ctx context.Context, selector model.Selector, window model.DateRange) ([]model.Observation, error) {
	if selector.Source != model.SourceFRED {
		return nil, fmt.Errorf("%w: %s", providers.ErrUnknownSelector, selector)
	}
	spec, ok := p.registry.LookupSeries(selector.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", providers.ErrUnknownSelector, selector)
	}
	if p.config.APIKey == "" {
		return nil, fmt.Errorf("%w: FRED_API_KEY", providers.ErrMissingAPIKey)
	}
	if window.IsZero() {
		window = model.TrailingMonths(24, time.Now())
	}

	params := url.Values{}
	params.Set("series_id", spec.ID)
	params.Set("api_key", p.config.APIKey)
	params.Set("file_type", "json")
	params.Set("observation_start", window.Start.Format(model.DateLayout))
	params.Set("observation_end", window.End.Format(model.DateLayout))
	params.Set("sort_order", "desc")
	params.Set("limit", strconv.Itoa(p.config.Limit))

	body, err := p.doRequest(ctx, params)
	if err != nil {
		return nil, err
	}

	var decoded observationsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrMalformedResponse, err)
	}
	if len(decoded.Observations) >= p.config.Limit {
		// The provider caps responses; hitting the cap means the window may
		// not be fully covered.
		p.log.Warn("response hit request cap", "series", spec.ID, "limit", p.config.Limit)
	}

	observations := make([]model.Observation, 0, len(decoded.Observations))
	for _, raw := range decoded.Observations {
		if raw.Value == "" || raw.Value == missingValueSentinel {
			continue
		}
		date, err := time.Parse(model.DateLayout, raw.Date)
		if err != nil {
			p.log.Warn("skipping point with bad date", "series", spec.ID, "date", raw.Date)
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(raw.Value), 64)
		if err != nil {
			// One bad point must not abort the day's fetch.
			p.log.Warn("skipping unparseable point", "series", spec.ID, "date", raw.Date, "value", raw.Value)
			continue
		}
		observations = append(observations, model.Observation{
			Kind:     model.KindPrice,
			Source:   model.SourceFRED,
			SeriesID: spec.ID,
			Date:     date,
			Value:    &value,
			Unit:     spec.Unit,
		})
	}
	return observations, nil
}

func (p *Provider) doRequest(ctx context.Context, params url.Values) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(p.config.BaseURL, "/") + p.config.ObservationsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrUnreachable, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &providers.StatusError{
			Source:     "fred",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(truncate(string(body), 200)),
		}
	}
	return body, nil
}

type observationsResponse struct {
	Observations []rawObservation `json:"observations"`
}

type rawObservation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type rateLimiter struct {
	tokens chan struct{}
}

func newRateLimiter(ratePerSec, burst int) *rateLimiter {
	if ratePerSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}

	limiter := &rateLimiter{
		tokens: make(chan struct{}, burst),
	}
	for i := 0; i < burst; i++ {
		limiter.tokens <- struct{}{}
	}

	interval := time.Second / time.Duration(ratePerSec)
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			select {
			case limiter.tokens <- struct{}{}:
			default:
			}
		}
	}()

	return limiter
}

func (l *rateLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.tokens:
		return nil
	}
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

var _ providers.Adapter = (*Provider)(nil)
