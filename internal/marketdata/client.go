package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "stockfolio/internal/errors"
	"stockfolio/internal/models"
	"stockfolio/internal/performance"
	"stockfolio/pkg/utils"
)

// ClientConfig holds configuration for the HTTP market data client.
type ClientConfig struct {
	BaseURL      string
	APIKey       string
	QuoteTTL     time.Duration
	ChartTTL     time.Duration
	RateLimit    float64 // requests per second
	Burst        int
	FetchWorkers int
	Timeout      time.Duration
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		QuoteTTL:     15 * time.Second,
		ChartTTL:     5 * time.Minute,
		RateLimit:    5.0,
		Burst:        10,
		FetchWorkers: 4,
		Timeout:      10 * time.Second,
	}
}

// Client implements Source against the provider's JSON HTTP API, with a TTL
// response cache, token bucket rate limiting, and worker-pool scheduling of
// per-symbol chart fetches.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    *performance.RateLimiter
	pool       *performance.WorkerPool
	quoteCache *ttlCache[models.Quote]
	chartCache *ttlCache[models.Chart]
	logger     zerolog.Logger
}

// NewClient creates a new market data client.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = DefaultClientConfig().QuoteTTL
	}
	if cfg.ChartTTL <= 0 {
		cfg.ChartTTL = DefaultClientConfig().ChartTTL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultClientConfig().RateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultClientConfig().Burst
	}
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = DefaultClientConfig().FetchWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultClientConfig().Timeout
	}

	pool := performance.NewWorkerPool(cfg.FetchWorkers)
	pool.Start()

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    performance.NewRateLimiter(cfg.RateLimit, cfg.Burst),
		pool:       pool,
		quoteCache: newTTLCache[models.Quote](cfg.QuoteTTL),
		chartCache: newTTLCache[models.Chart](cfg.ChartTTL),
		logger:     logger.With().Str("component", "marketdata").Logger(),
	}
}

// Close stops the fetch worker pool.
func (c *Client) Close() {
	c.pool.Stop()
}

// wire types for the provider's JSON responses

type quoteResponse struct {
	Quotes []wireQuote `json:"quotes"`
}

type wireQuote struct {
	Symbol               string       `json:"symbol"`
	RegularPrice         float64      `json:"regular_price"`
	PreviousClose        float64      `json:"previous_close"`
	Open                 float64      `json:"open"`
	High                 float64      `json:"high"`
	Low                  float64      `json:"low"`
	RegularChange        float64      `json:"regular_change"`
	RegularChangePercent float64      `json:"regular_change_percent"`
	PreMarket            *wireSession `json:"pre_market,omitempty"`
	PostMarket           *wireSession `json:"post_market,omitempty"`
	Timestamp            int64        `json:"timestamp"`
}

type wireSession struct {
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
}

type chartResponse struct {
	Symbol string      `json:"symbol"`
	Range  string      `json:"range"`
	Points []wirePoint `json:"points"`
}

type wirePoint struct {
	Date  int64   `json:"date"`
	Close float64 `json:"close"`
}

// GetQuotes returns quotes for the given symbols, serving from cache where
// fresh and batching the remainder into a single provider request.
func (c *Client) GetQuotes(ctx context.Context, symbols []models.Symbol) ([]models.Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	quotes := make(map[models.Symbol]models.Quote, len(symbols))
	var missing []models.Symbol
	for _, sym := range symbols {
		if q, ok := c.quoteCache.get(quoteKey(sym)); ok {
			quotes[sym] = q
		} else {
			missing = append(missing, sym)
		}
	}

	if len(missing) > 0 {
		fetched, err := c.fetchQuotes(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, q := range fetched {
			c.quoteCache.set(quoteKey(q.Symbol), q)
			quotes[q.Symbol] = q
		}
	}

	// Preserve request order; unresolved symbols are omitted.
	result := make([]models.Quote, 0, len(quotes))
	for _, sym := range symbols {
		if q, ok := quotes[sym]; ok {
			result = append(result, q)
		}
	}
	return result, nil
}

func (c *Client) fetchQuotes(ctx context.Context, symbols []models.Symbol) ([]models.Quote, error) {
	start := time.Now()

	params := url.Values{}
	params.Set("symbols", joinSymbols(symbols))

	resp, err := utils.RetryWithResult(ctx, utils.DefaultRetryConfig(), func() (*quoteResponse, error) {
		var out quoteResponse
		if err := c.getJSON(ctx, "/v1/quotes", params, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, apperrors.NewFetchError("quotes", len(symbols), err)
	}

	quotes := make([]models.Quote, 0, len(resp.Quotes))
	for _, wq := range resp.Quotes {
		quotes = append(quotes, convertQuote(wq))
	}

	c.logger.Debug().
		Int("requested", len(symbols)).
		Int("resolved", len(quotes)).
		Dur("duration", time.Since(start)).
		Msg("Quotes fetched")

	return quotes, nil
}

// GetCharts returns chart series for the given symbols and range. Symbols
// are fetched concurrently on the worker pool; a symbol whose fetch fails is
// omitted unless every fetch failed.
func (c *Client) GetCharts(ctx context.Context, symbols []models.Symbol, r models.IntervalRange) ([]models.Chart, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	charts := make(map[models.Symbol]models.Chart, len(symbols))
	var missing []models.Symbol
	for _, sym := range symbols {
		if ch, ok := c.chartCache.get(chartKey(sym, r)); ok {
			charts[sym] = ch
		} else {
			missing = append(missing, sym)
		}
	}

	if len(missing) > 0 {
		var mu sync.Mutex
		var wg sync.WaitGroup
		var firstErr error
		failures := 0

		for _, sym := range missing {
			sym := sym
			wg.Add(1)
			task := func() {
				defer wg.Done()
				chart, err := c.fetchChart(ctx, sym, r)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures++
					if firstErr == nil {
						firstErr = err
					}
					if !apperrors.IsCancellation(err) {
						c.logger.Warn().Err(err).Str("symbol", sym.String()).Msg("Chart fetch failed")
					}
					return
				}
				c.chartCache.set(chartKey(sym, r), *chart)
				charts[sym] = *chart
			}
			if !c.pool.Submit(task) {
				// Pool saturated or stopped; run inline.
				task()
			}
		}
		wg.Wait()

		if failures == len(missing) && len(charts) == 0 {
			return nil, apperrors.NewFetchError("charts", len(symbols), firstErr)
		}
	}

	result := make([]models.Chart, 0, len(charts))
	for _, sym := range symbols {
		if ch, ok := charts[sym]; ok {
			result = append(result, ch)
		}
	}
	return result, nil
}

func (c *Client) fetchChart(ctx context.Context, symbol models.Symbol, r models.IntervalRange) (*models.Chart, error) {
	params := url.Values{}
	params.Set("symbol", symbol.String())
	params.Set("range", string(r))

	resp, err := utils.RetryWithResult(ctx, utils.DefaultRetryConfig(), func() (*chartResponse, error) {
		var out chartResponse
		if err := c.getJSON(ctx, "/v1/chart", params, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}

	chart := &models.Chart{
		Symbol: models.NewSymbol(resp.Symbol),
		Range:  r,
		Points: make([]models.ChartPoint, 0, len(resp.Points)),
	}
	for _, p := range resp.Points {
		chart.Points = append(chart.Points, models.ChartPoint{
			Date:  time.Unix(p.Date, 0).UTC(),
			Close: p.Close,
		})
	}
	return chart, nil
}

// getJSON performs a rate-limited GET against the provider and decodes the
// JSON response into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqURL := strings.TrimRight(c.config.BaseURL, "/") + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return apperrors.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.NewProviderError(resp.StatusCode, endpoint, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// InvalidateQuotes clears cached quotes for the given symbols, or all
// quotes when symbols is nil.
func (c *Client) InvalidateQuotes(symbols []models.Symbol) {
	if symbols == nil {
		c.quoteCache.clear()
		return
	}
	for _, sym := range symbols {
		c.quoteCache.delete(quoteKey(sym))
	}
}

// InvalidateCharts clears cached charts for the given symbols and range.
// A nil symbol list clears all symbols; a nil range clears all ranges.
func (c *Client) InvalidateCharts(symbols []models.Symbol, r *models.IntervalRange) {
	if symbols == nil {
		c.chartCache.clear()
		return
	}
	for _, sym := range symbols {
		if r == nil {
			c.chartCache.deletePrefix(sym.String() + ":")
		} else {
			c.chartCache.delete(chartKey(sym, *r))
		}
	}
}

// InvalidateAll clears every cached response.
func (c *Client) InvalidateAll() {
	c.quoteCache.clear()
	c.chartCache.clear()
}

func convertQuote(wq wireQuote) models.Quote {
	q := models.Quote{
		Symbol:               models.NewSymbol(wq.Symbol),
		RegularPrice:         wq.RegularPrice,
		PreviousClose:        wq.PreviousClose,
		Open:                 wq.Open,
		High:                 wq.High,
		Low:                  wq.Low,
		RegularChangeAmount:  wq.RegularChange,
		RegularChangePercent: wq.RegularChangePercent,
		RegularDirection:     models.DirectionOf(wq.RegularChange),
		Timestamp:            time.Unix(wq.Timestamp, 0).UTC(),
	}
	if wq.PreMarket != nil {
		q.PreMarket = convertSession(*wq.PreMarket)
	}
	if wq.PostMarket != nil {
		q.PostMarket = convertSession(*wq.PostMarket)
	}
	return q
}

func convertSession(ws wireSession) *models.SessionQuote {
	return &models.SessionQuote{
		Price:         ws.Price,
		ChangeAmount:  ws.Change,
		ChangePercent: ws.ChangePercent,
		Direction:     models.DirectionOf(ws.Change),
	}
}

func quoteKey(sym models.Symbol) string {
	return sym.String()
}

func chartKey(sym models.Symbol, r models.IntervalRange) string {
	return sym.String() + ":" + string(r)
}

func joinSymbols(symbols []models.Symbol) string {
	parts := make([]string, len(symbols))
	for i, s := range symbols {
		parts[i] = s.String()
	}
	return strings.Join(parts, ",")
}

var _ Source = (*Client)(nil)
