package fetcher

import (
	"context"
	"time"

	"staking-reward-report/internal/domain"
)

// RewardEventFetcher lists an account's staking reward events.
type RewardEventFetcher interface {
	FetchRewardEvents(ctx context.Context, address string, from, to time.Time) ([]domain.RewardEvent, error)
}

// MarketSeriesFetcher retrieves historical market series for the staked asset.
type MarketSeriesFetcher interface {
	FetchPrices(ctx context.Context, currency string, from, to time.Time) (domain.Series, error)
	FetchVolumes(ctx context.Context, currency string, from, to time.Time) (domain.Series, error)
}
