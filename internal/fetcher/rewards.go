package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"staking-reward-report/internal/domain"
	"staking-reward-report/internal/retry"
)

const (
	subscanRewardPath   = "/api/scan/account/reward_slash"
	defaultSubscanURL   = "https://polkadot.api.subscan.io"
	defaultPageSize     = 100
	defaultSubscanAgent = "rewardreport/1.0"
)

// RewardsOptions parameterise the Subscan reward fetcher.
type RewardsOptions struct {
	BaseURL   string
	APIKey    string
	PageSize  int
	RateLimit float64
	Timeout   time.Duration
	UserAgent string
	Retry     retry.Policy
}

// Rewards pages through Subscan's reward/slash listing.
type Rewards struct {
	opts    RewardsOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewRewards constructs a reward fetcher.
func NewRewards(opts RewardsOptions, logger zerolog.Logger) *Rewards {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultSubscanURL
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &Rewards{
		opts:    opts,
		logger:  logger.With().Str("component", "reward_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		limiter: limiter,
	}
}

// FetchRewardEvents collects every page for address, then keeps events with a
// positive amount and a timestamp in [from, to). A page that still fails after
// retries fails the whole fetch.
func (r *Rewards) FetchRewardEvents(ctx context.Context, address string, from, to time.Time) ([]domain.RewardEvent, error) {
	if address == "" {
		return nil, errors.New("address required")
	}

	var all []domain.RewardEvent
	for page := 0; ; page++ {
		r.logger.Debug().Str("address", address).Int("page", page).Msg("querying reward page")

		events, err := retry.DoWithData(ctx, r.opts.Retry, r.logger, func(ctx context.Context) ([]domain.RewardEvent, error) {
			return r.fetchPage(ctx, address, page)
		})
		if err != nil {
			return nil, fmt.Errorf("fetch rewards for %s page %d: %w", address, page, err)
		}
		if len(events) == 0 {
			break
		}
		all = append(all, events...)
	}

	filtered := FilterEvents(all, from, to)
	r.logger.Info().Str("address", address).
		Int("fetched", len(all)).
		Int("kept", len(filtered)).
		Msg("reward events fetched")
	return filtered, nil
}

// FilterEvents keeps events with amount > 0 and from <= timestamp < to, in input order.
func FilterEvents(events []domain.RewardEvent, from, to time.Time) []domain.RewardEvent {
	lo, hi := from.Unix(), to.Unix()
	out := make([]domain.RewardEvent, 0, len(events))
	for _, ev := range events {
		if ev.Amount == nil || ev.Amount.Sign() <= 0 {
			continue
		}
		if ev.BlockTimestamp < lo || ev.BlockTimestamp >= hi {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (r *Rewards) fetchPage(ctx context.Context, address string, page int) ([]domain.RewardEvent, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, retry.Permanent(err)
	}

	body, err := json.Marshal(rewardPageRequest{Row: r.opts.PageSize, Page: page, Address: address})
	if err != nil {
		return nil, retry.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+subscanRewardPath, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultSubscanAgent)
	}
	if r.opts.APIKey != "" {
		req.Header.Set("X-API-Key", r.opts.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, retry.ForStatus(resp.StatusCode, parseSubscanError(resp.StatusCode, payload))
	}

	var res rewardPageResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode reward page: %w", err))
	}
	if res.Code != 0 {
		return nil, retry.Permanent(fmt.Errorf("subscan error %d: %s", res.Code, res.Message))
	}

	events := make([]domain.RewardEvent, 0, len(res.Data.List))
	for _, item := range res.Data.List {
		amount, ok := new(big.Int).SetString(strings.TrimSpace(item.Amount), 10)
		if !ok {
			return nil, retry.Permanent(fmt.Errorf("block %d: malformed amount %q", item.BlockNum, item.Amount))
		}
		events = append(events, domain.RewardEvent{
			BlockNum:       item.BlockNum,
			ExtrinsicHash:  item.ExtrinsicHash,
			EventIdx:       item.EventIdx,
			BlockTimestamp: item.BlockTimestamp,
			Amount:         amount,
		})
	}
	return events, nil
}

type rewardPageRequest struct {
	Row     int    `json:"row"`
	Page    int    `json:"page"`
	Address string `json:"address"`
}

type rewardPageResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Count int          `json:"count"`
		List  []rewardItem `json:"list"`
	} `json:"data"`
}

type rewardItem struct {
	BlockNum       uint64 `json:"block_num"`
	ExtrinsicHash  string `json:"extrinsic_hash"`
	EventIdx       uint32 `json:"event_idx"`
	BlockTimestamp int64  `json:"block_timestamp"`
	Amount         string `json:"amount"`
}

func parseSubscanError(status int, payload []byte) error {
	var apiErr struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("subscan api error (%d): %s", status, apiErr.Message)
	}
	if len(payload) > 0 {
		return fmt.Errorf("subscan api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("subscan api error (%d)", status)
}

var _ RewardEventFetcher = (*Rewards)(nil)
