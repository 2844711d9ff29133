package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"staking-reward-report/internal/domain"
	"staking-reward-report/internal/retry"
)

const (
	marketChartRangePath = "/coins/%s/market_chart/range"
	defaultCoinID        = "polkadot"
	defaultAPIKeyHeader  = "x-cg-demo-api-key"

	// The range endpoint only returns points strictly inside the window, so
	// the upper bound is pushed out a day to cover the last daily candle.
	rangePadding = 24 * time.Hour
)

// MarketOptions parameterise the CoinGecko fetcher.
type MarketOptions struct {
	BaseURL      string
	CoinID       string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
	UserAgent    string
	Retry        retry.Policy
}

// Market fetches historical price and volume series from CoinGecko.
type Market struct {
	opts    MarketOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewMarket constructs a market fetcher.
func NewMarket(opts MarketOptions, logger zerolog.Logger) *Market {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.CoinID == "" {
		opts.CoinID = defaultCoinID
	}
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = defaultAPIKeyHeader
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &Market{
		opts:    opts,
		logger:  logger.With().Str("component", "market_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchPrices returns the price series quoted in currency, ascending by time.
func (m *Market) FetchPrices(ctx context.Context, currency string, from, to time.Time) (domain.Series, error) {
	chart, err := m.fetchChart(ctx, currency, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch %s prices: %w", currency, err)
	}
	return toSeries(chart.Prices)
}

// FetchVolumes returns the 24h volume series quoted in currency, ascending by time.
func (m *Market) FetchVolumes(ctx context.Context, currency string, from, to time.Time) (domain.Series, error) {
	chart, err := m.fetchChart(ctx, currency, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch %s volumes: %w", currency, err)
	}
	return toSeries(chart.TotalVolumes)
}

func (m *Market) fetchChart(ctx context.Context, currency string, from, to time.Time) (*marketChartResponse, error) {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		return nil, errors.New("currency required")
	}
	if !to.After(from) {
		return nil, errors.New("window end must be after start")
	}

	query := url.Values{}
	query.Set("vs_currency", currency)
	query.Set("from", strconv.FormatInt(from.Unix(), 10))
	query.Set("to", strconv.FormatInt(to.Add(rangePadding).Unix(), 10))
	endpoint := m.baseURL + fmt.Sprintf(marketChartRangePath, url.PathEscape(m.opts.CoinID)) + "?" + query.Encode()

	m.logger.Debug().Str("currency", currency).Str("coin", m.opts.CoinID).Msg("querying market chart")

	return retry.DoWithData(ctx, m.opts.Retry, m.logger, func(ctx context.Context) (*marketChartResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
			req.Header.Set("User-Agent", ua)
		} else {
			req.Header.Set("User-Agent", "rewardreport/1.0")
		}
		if m.opts.APIKey != "" {
			req.Header.Set(m.opts.APIKeyHeader, m.opts.APIKey)
		}

		resp, err := m.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		payloadBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, retry.ForStatus(resp.StatusCode, parseHTTPError(resp.StatusCode, payloadBytes))
		}

		var chart marketChartResponse
		if err := json.Unmarshal(payloadBytes, &chart); err != nil {
			return nil, retry.Permanent(fmt.Errorf("decode market chart: %w", err))
		}
		return &chart, nil
	})
}

type marketChartResponse struct {
	Prices       [][]json.Number `json:"prices"`
	MarketCaps   [][]json.Number `json:"market_caps"`
	TotalVolumes [][]json.Number `json:"total_volumes"`
}

func toSeries(rows [][]json.Number) (domain.Series, error) {
	series := make(domain.Series, 0, len(rows))
	for i, row := range rows {
		if len(row) != 2 {
			return nil, fmt.Errorf("point %d: expected [timestamp, value], got %d fields", i, len(row))
		}
		ts, err := row[0].Float64()
		if err != nil {
			return nil, fmt.Errorf("point %d timestamp: %w", i, err)
		}
		value, err := decimal.NewFromString(row[1].String())
		if err != nil {
			return nil, fmt.Errorf("point %d value: %w", i, err)
		}
		series = append(series, domain.Point{TimestampMs: int64(ts), Value: value})
	}
	return series, nil
}

type errorResponse struct {
	Error  string `json:"error"`
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Error)
		}
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("coingecko api error (%d): %s", status, apiErr.Status.ErrorMessage)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("coingecko api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("coingecko api error (%d)", status)
}

var _ MarketSeriesFetcher = (*Market)(nil)
