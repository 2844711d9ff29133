package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"staking-reward-report/internal/alerting"
	"staking-reward-report/internal/domain"
	"staking-reward-report/internal/export"
	"staking-reward-report/internal/fetcher"
	"staking-reward-report/internal/report"
	"staking-reward-report/internal/storage"
)

// ErrLocked is returned when another run holds the advisory lock.
var ErrLocked = errors.New("another report run holds the advisory lock")

// Assembler enriches one account's events.
type Assembler interface {
	Assemble(ctx context.Context, account domain.Account, events []domain.RewardEvent, market report.Market) (domain.AccountReport, error)
}

// ReportWriter renders an account report and returns the written path.
type ReportWriter interface {
	Write(rep domain.AccountReport) (string, error)
}

// Uploader copies a generated file elsewhere.
type Uploader interface {
	Upload(ctx context.Context, runID, localPath string) (string, error)
}

// Options hold per-run parameters.
type Options struct {
	From           time.Time
	To             time.Time
	PriceCurrency  string
	VolumeCurrency string
	Symbol         string
	OutputDir      string
	Chart          bool
	LockKey        int64
}

// Deps are the collaborators of a run. Optional ones may be nil.
type Deps struct {
	Rewards   fetcher.RewardEventFetcher
	Market    fetcher.MarketSeriesFetcher
	Assembler Assembler
	Writer    ReportWriter
	Uploader  Uploader
	Rows      storage.RewardRowStore
	Runs      storage.RunStore
	Locker    storage.AdvisoryLocker
	Notifier  alerting.Notifier
}

// AccountResult is the outcome for one account.
type AccountResult struct {
	Account domain.Account
	Report  domain.AccountReport
	Files   []string
	Err     error
}

// Summary describes a finished run.
type Summary struct {
	RunID    string
	From     time.Time
	To       time.Time
	Started  time.Time
	Duration time.Duration
	Results  []AccountResult
}

// FailedAccounts counts accounts that could not be reported.
func (s Summary) FailedAccounts() int {
	failed := 0
	for _, r := range s.Results {
		if r.Err != nil {
			failed++
		}
	}
	return failed
}

// Events counts enriched events and those dropped for failed lookups.
func (s Summary) Events() (total, failed int) {
	for _, r := range s.Results {
		total += len(r.Report.Events)
		failed += r.Report.Failed()
	}
	return total, failed
}

// Service orchestrates fetching, enrichment, export, and persistence.
type Service struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger
}

// New constructs the report service.
func New(opts Options, deps Deps, logger zerolog.Logger) *Service {
	return &Service{
		opts:   opts,
		deps:   deps,
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// Run produces reports for accounts one at a time. A failing account is
// logged and skipped; the returned error reports how many failed.
func (s *Service) Run(ctx context.Context, accounts []domain.Account) (Summary, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return Summary{}, err
	}
	if !proceed {
		return Summary{}, ErrLocked
	}
	if unlock != nil {
		defer unlock()
	}

	summary := Summary{
		RunID:   uuid.NewString(),
		From:    s.opts.From,
		To:      s.opts.To,
		Started: time.Now().UTC(),
	}
	log := s.logger.With().Str("run_id", summary.RunID).Logger()
	log.Info().Time("from", s.opts.From).Time("to", s.opts.To).Int("accounts", len(accounts)).Msg("report run started")

	if s.deps.Runs != nil {
		run := storage.RunRecord{RunID: summary.RunID, From: s.opts.From, To: s.opts.To, Accounts: len(accounts)}
		if err := s.deps.Runs.StartRun(ctx, run); err != nil {
			log.Error().Err(err).Msg("failed to record run start")
		}
	}

	market, err := s.fetchMarket(ctx)
	if err != nil {
		s.finish(ctx, log, &summary, "failed")
		return summary, err
	}

	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			s.finish(ctx, log, &summary, "cancelled")
			return summary, err
		}
		result := s.processAccount(ctx, log, summary.RunID, account, market)
		if result.Err != nil {
			log.Error().Err(result.Err).Str("address", account.Address).Msg("account failed")
		}
		summary.Results = append(summary.Results, result)
	}

	status := "complete"
	failed := summary.FailedAccounts()
	if failed > 0 {
		status = "partial"
	}
	s.finish(ctx, log, &summary, status)

	if failed > 0 {
		return summary, fmt.Errorf("%d of %d accounts failed", failed, len(accounts))
	}
	return summary, nil
}

func (s *Service) fetchMarket(ctx context.Context) (report.Market, error) {
	var market report.Market
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		prices, err := s.deps.Market.FetchPrices(gctx, s.opts.PriceCurrency, s.opts.From, s.opts.To)
		if err != nil {
			return err
		}
		market.Prices = prices
		return nil
	})
	g.Go(func() error {
		volumes, err := s.deps.Market.FetchVolumes(gctx, s.opts.VolumeCurrency, s.opts.From, s.opts.To)
		if err != nil {
			return err
		}
		market.Volumes = volumes
		return nil
	})
	if err := g.Wait(); err != nil {
		return report.Market{}, fmt.Errorf("fetch market data: %w", err)
	}
	s.logger.Info().Int("prices", len(market.Prices)).Int("volumes", len(market.Volumes)).Msg("market data fetched")
	return market, nil
}

func (s *Service) processAccount(ctx context.Context, log zerolog.Logger, runID string, account domain.Account, market report.Market) AccountResult {
	result := AccountResult{Account: account}
	log = log.With().Str("address", account.Address).Logger()

	events, err := s.deps.Rewards.FetchRewardEvents(ctx, account.Address, s.opts.From, s.opts.To)
	if err != nil {
		result.Err = err
		return result
	}

	rep, err := s.deps.Assembler.Assemble(ctx, account, events, market)
	if err != nil {
		result.Err = err
		return result
	}
	rep.RunID = runID
	result.Report = rep

	path, err := s.deps.Writer.Write(rep)
	if err != nil {
		result.Err = fmt.Errorf("write report: %w", err)
		return result
	}
	result.Files = append(result.Files, path)

	if s.opts.Chart {
		chartPath := export.ChartPath(s.opts.OutputDir, account)
		switch err := export.WriteChart(chartPath, rep); {
		case err == nil:
			result.Files = append(result.Files, chartPath)
		case errors.Is(err, export.ErrTooFewPoints):
			log.Debug().Msg("chart skipped, not enough events")
		default:
			log.Warn().Err(err).Msg("chart rendering failed")
		}
	}

	if s.deps.Uploader != nil {
		for _, file := range result.Files {
			if _, err := s.deps.Uploader.Upload(ctx, runID, file); err != nil {
				result.Err = fmt.Errorf("upload %s: %w", file, err)
				return result
			}
		}
	}

	if s.deps.Rows != nil {
		if err := s.deps.Rows.UpsertRewardRows(ctx, storage.RowsFromReport(rep)); err != nil {
			log.Error().Err(err).Msg("failed to persist reward rows")
		}
	}

	log.Info().Int("events", len(rep.Events)).Int("skipped", rep.Failed()).Strs("files", result.Files).Msg("account reported")
	return result
}

func (s *Service) finish(ctx context.Context, log zerolog.Logger, summary *Summary, status string) {
	summary.Duration = time.Since(summary.Started)
	total, failedEvents := summary.Events()

	if s.deps.Runs != nil {
		run := storage.RunRecord{
			RunID:          summary.RunID,
			FailedAccounts: summary.FailedAccounts(),
			Events:         total,
			FailedEvents:   failedEvents,
			Status:         status,
		}
		if err := s.deps.Runs.FinishRun(ctx, run); err != nil {
			log.Error().Err(err).Msg("failed to record run result")
		}
	}

	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.Notify(ctx, s.notification(*summary)); err != nil {
			log.Error().Err(err).Msg("failed to dispatch run summary")
		}
	}

	log.Info().Str("status", status).
		Int("accounts", len(summary.Results)).
		Int("failed_accounts", summary.FailedAccounts()).
		Int("events", total).
		Int("failed_events", failedEvents).
		Dur("duration", summary.Duration).
		Msg("report run finished")
}

func (s *Service) notification(summary Summary) alerting.Notification {
	note := alerting.Notification{
		RunID:    summary.RunID,
		From:     summary.From,
		To:       summary.To,
		Symbol:   s.opts.Symbol,
		Duration: summary.Duration,
	}
	for _, r := range summary.Results {
		total := decimal.Zero
		valid := r.Report.Valid()
		for _, ev := range valid {
			total = total.Add(ev.Reward)
		}
		note.Accounts = append(note.Accounts, alerting.AccountSummary{
			Address:     r.Account.Address,
			Name:        r.Account.Name,
			Events:      len(valid),
			Failed:      r.Report.Failed(),
			TotalReward: total,
			Err:         r.Err,
		})
	}
	return note
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
