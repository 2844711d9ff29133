package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"staking-reward-report/internal/alerting"
	"staking-reward-report/internal/chain"
	"staking-reward-report/internal/config"
	"staking-reward-report/internal/export"
	"staking-reward-report/internal/fetcher"
	"staking-reward-report/internal/identity"
	"staking-reward-report/internal/storage"
	"staking-reward-report/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) userAgent(configured string) string {
	if configured != "" {
		return configured
	}
	return version.UserAgent()
}

func (a *App) newFetchers() (*fetcher.Rewards, *fetcher.Market) {
	rewards := fetcher.NewRewards(fetcher.RewardsOptions{
		BaseURL:   a.Config.Subscan.BaseURL,
		APIKey:    a.Config.Subscan.APIKey,
		PageSize:  a.Config.Subscan.PageSize,
		RateLimit: a.Config.Subscan.RateLimit,
		Timeout:   a.Config.Subscan.RequestTimeout,
		UserAgent: a.userAgent(a.Config.Subscan.UserAgent),
		Retry:     a.Config.Retry,
	}, a.Logger)

	market := fetcher.NewMarket(fetcher.MarketOptions{
		BaseURL:      a.Config.CoinGecko.BaseURL,
		CoinID:       a.Config.CoinGecko.CoinID,
		APIKey:       a.Config.CoinGecko.APIKey,
		APIKeyHeader: a.Config.CoinGecko.APIKeyHeader,
		Timeout:      a.Config.CoinGecko.RequestTimeout,
		UserAgent:    a.userAgent(a.Config.CoinGecko.UserAgent),
		Retry:        a.Config.Retry,
	}, a.Logger)

	return rewards, market
}

func (a *App) dialChain(ctx context.Context) (*chain.Client, error) {
	client, err := chain.Dial(ctx, chain.Options{
		RPCURL:         a.Config.Chain.RPCURL,
		IdentityRPCURL: a.Config.Chain.IdentityRPCURL,
		SS58Prefix:     a.Config.Chain.SS58Prefix,
		Timeout:        a.Config.Chain.RequestTimeout,
		Retry:          a.Config.Retry,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("connect chain: %w", err)
	}
	return client, nil
}

func (a *App) newResolver(client *chain.Client) *identity.Resolver {
	return identity.NewResolver(client, client, identity.Options{
		Overrides:    a.Config.IdentityOverrides(),
		Verification: identity.VerificationMode(a.Config.Identity.Verification),
		CacheTTL:     a.Config.Identity.CacheTTL,
		Workers:      a.Config.Concurrency.Workers,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newUploader(ctx context.Context) (*export.Uploader, error) {
	s3cfg := a.Config.Report.S3
	if s3cfg.Bucket == "" {
		return nil, nil
	}
	return export.NewUploader(ctx, export.S3Options{
		Bucket:   s3cfg.Bucket,
		Region:   s3cfg.Region,
		Endpoint: s3cfg.Endpoint,
		Prefix:   s3cfg.Prefix,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// ReportOptions override configured report settings for one run.
type ReportOptions struct {
	From      *time.Time
	To        *time.Time
	Accounts  []string
	OutputDir string
	Workers   int
	Chart     *bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Address string
	Limit   int
	Runs    bool
}
