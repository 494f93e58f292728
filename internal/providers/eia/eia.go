package eia

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
	defaultBaseURL         = "https://api.eia.gov/v2"
	defaultDataPath        = "/petroleum/sum/sndw/data/"
	defaultFrequency       = "weekly"
	defaultProductCode     = "EPD0" // distillate fuel oil
	defaultProcessCode     = "SAE"  // ending stocks
	defaultLength          = 500
	defaultTimeoutSeconds  = 30
	defaultUserAgent       = "dieselwatch/0.1"
	defaultRateLimitPerSec = 5
	defaultRateLimitBurst  = 5

	// Stored rows always carry the normalized product and unit, matching the
	// inventories natural key regardless of how EIA labels its units.
	productDistillate = "distillate"
	unitThousandBbl   = "thousand_barrels"
)

type Config struct {
	BaseURL         string
	DataPath        string
	APIKey          string
	Frequency       string
	ProductCode     string
	ProcessCode     string
	Length          int
	Timeout         time.Duration
	UserAgent       string
	RateLimitPerSec int
	RateLimitBurst  int
}

// Provider fetches weekly distillate stock levels from the EIA v2 API, one
// area per call. Stateless beyond configuration; safe for concurrent use.
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
	if strings.TrimSpace(cfg.DataPath) == "" {
		cfg.DataPath = defaultDataPath
	}
	if strings.TrimSpace(cfg.Frequency) == "" {
		cfg.Frequency = defaultFrequency
	}
	if strings.TrimSpace(cfg.ProductCode) == "" {
		cfg.ProductCode = defaultProductCode
	}
	if strings.TrimSpace(cfg.ProcessCode) == "" {
		cfg.ProcessCode = defaultProcessCode
	}
	if cfg.Length <= 0 {
		cfg.Length = defaultLength
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
		log:      log.With("provider", "eia"),
	}, nil
}

func ConfigFromEnv() Config {
	return Config{
		BaseURL:         getenv("EIA_BASE_URL", defaultBaseURL),
		DataPath:        getenv("EIA_DATA_PATH", defaultDataPath),
		APIKey:          strings.TrimSpace(os.Getenv("EIA_API_KEY")),
		Frequency:       getenv("EIA_FREQUENCY", defaultFrequency),
		ProductCode:     getenv("EIA_PRODUCT_CODE", defaultProductCode),
		ProcessCode:     getenv("EIA_PROCESS_CODE", defaultProcessCode),
		Length:          getenvInt("EIA_LENGTH", defaultLength),
		Timeout:         time.Duration(getenvInt("EIA_TIMEOUT_SECONDS", defaultTimeoutSeconds)) * time.Second,
		UserAgent:       getenv("EIA_USER_AGENT", defaultUserAgent),
		RateLimitPerSec: getenvInt("EIA_RATE_LIMIT_PER_SEC", defaultRateLimitPerSec),
		RateLimitBurst:  getenvInt("EIA_RATE_LIMIT_BURST", defaultRateLimitBurst),
	}
}

func (p *Provider) Source() string {
	return model.SourceEIA
}

func (p *Provider) Endpoint() string {
	return strings.TrimRight(p.config.DataPath, "/")
}

// Fetch returns ending-stock readings for the selector's area inside window,
// most recent first. Null values are gaps and are dropped; a point whose value
// cannot be parsed is skipped without failing the batch.
func (p *Provider) Fetch(ctx context.Context, selector model.Selector, window model.DateRange) ([]model.Observation, error) {
	if selector.Source != model.SourceEIA {
		return nil, fmt.Errorf("%w: %s", providers.ErrUnknownSelector, selector)
	}
	area, ok := p.registry.LookupArea(selector.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", providers.ErrUnknownSelector, selector)
	}
	if p.config.APIKey == "" {
		return nil, fmt.Errorf("%w: EIA_API_KEY", providers.ErrMissingAPIKey)
	}
	if window.IsZero() {
		window = model.TrailingMonths(24, time.Now())
	}

	params := url.Values{}
	params.Set("api_key", p.config.APIKey)
	params.Set("frequency", p.config.Frequency)
	params.Set("data[0]", "value")
	params.Set("facets[product][]", p.config.ProductCode)
	params.Set("facets[process][]", p.config.ProcessCode)
	params.Set("facets[duoarea][]", area.Code)
	params.Set("start", window.Start.Format(model.DateLayout))
	params.Set("end", window.End.Format(model.DateLayout))
	params.Set("sort[0][column]", "period")
	params.Set("sort[0][direction]", "desc")
	params.Set("length", strconv.Itoa(p.config.Length))

	body, err := p.doRequest(ctx, params)
	if err != nil {
		return nil, err
	}

	var decoded envelope
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrMalformedResponse, err)
	}
	if len(decoded.Response.Data) >= p.config.Length {
		// The provider caps responses; hitting the cap means the window may
		// not be fully covered.
		p.log.Warn("response hit request cap", "area", area.Code, "length", p.config.Length)
	}

	observations := make([]model.Observation, 0, len(decoded.Response.Data))
	for _, raw := range decoded.Response.Data {
		value, ok := raw.float()
		if !ok {
			if !raw.isNull() {
				p.log.Warn("skipping unparseable point", "area", area.Code, "period", raw.Period, "value", string(raw.Value))
			}
			continue
		}
		date, err := time.Parse(model.DateLayout, raw.Period)
		if err != nil {
			p.log.Warn("skipping point with bad period", "area", area.Code, "period", raw.Period)
			continue
		}
		observations = append(observations, model.Observation{
			Kind:    model.KindInventory,
			Source:  model.SourceEIA,
			Region:  area.Region,
			Product: productDistillate,
			Date:    date,
			Value:   &value,
			Unit:    unitThousandBbl,
		})
	}
	return observations, nil
}

func (p *Provider) doRequest(ctx context.Context, params url.Values) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(p.config.BaseURL, "/") + p.config.DataPath
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
			Source:     "eia",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(truncate(string(body), 200)),
		}
	}
	return body, nil
}

// envelope mirrors the EIA v2 response wrapper: data rows live under
// response.data.
type envelope struct {
	Response struct {
		Data []rawPoint `json:"data"`
	} `json:"response"`
}

// rawPoint keeps value as raw JSON: EIA emits numbers, quoted numbers, or
// null depending on the series.
type rawPoint struct {
	Period string          `json:"period"`
	Value  json.RawMessage `json:"value"`
	Units  string          `json:"units"`
}

func (r rawPoint) isNull() bool {
	trimmed := strings.TrimSpace(string(r.Value))
	return trimmed == "" || trimmed == "null"
}

func (r rawPoint) float() (float64, bool) {
	if r.isNull() {
		return 0, false
	}
	text := strings.TrimSpace(string(r.Value))
	text = strings.Trim(text, `"`)
	parsed, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
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
