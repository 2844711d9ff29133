package service

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-reward-report/internal/alerting"
	"staking-reward-report/internal/domain"
	"staking-reward-report/internal/export"
	"staking-reward-report/internal/report"
	"staking-reward-report/internal/storage"
)

type fakeRewards struct {
	events map[string][]domain.RewardEvent
	fail   map[string]error
	order  []string
}

func (f *fakeRewards) FetchRewardEvents(_ context.Context, address string, _, _ time.Time) ([]domain.RewardEvent, error) {
	f.order = append(f.order, address)
	if err := f.fail[address]; err != nil {
		return nil, err
	}
	return f.events[address], nil
}

type fakeMarket struct {
	err error
}

func (f *fakeMarket) FetchPrices(context.Context, string, time.Time, time.Time) (domain.Series, error) {
	if f.err != nil {
		return nil, f.err
	}
	return domain.Series{{TimestampMs: 0, Value: decimal.NewFromInt(5)}}, nil
}

func (f *fakeMarket) FetchVolumes(context.Context, string, time.Time, time.Time) (domain.Series, error) {
	return domain.Series{{TimestampMs: 0, Value: decimal.NewFromInt(1000)}}, nil
}

type fakeSnapshots struct{}

func (fakeSnapshots) SnapshotAt(_ context.Context, height uint64, _ string) (domain.ChainSnapshot, error) {
	return domain.ChainSnapshot{BlockNum: height, Free: decimal.NewFromInt(1), Bonded: decimal.NewFromInt(2)}, nil
}

type fakeRows struct {
	rows []storage.RewardRow
}

func (f *fakeRows) UpsertRewardRows(_ context.Context, rows []storage.RewardRow) error {
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeRows) ListRecentRows(context.Context, string, int) ([]storage.RewardRow, error) {
	return f.rows, nil
}

func (f *fakeRows) CountRows(context.Context) (int64, error) {
	return int64(len(f.rows)), nil
}

type fakeRuns struct {
	started  []storage.RunRecord
	finished []storage.RunRecord
}

func (f *fakeRuns) StartRun(_ context.Context, run storage.RunRecord) error {
	f.started = append(f.started, run)
	return nil
}

func (f *fakeRuns) FinishRun(_ context.Context, run storage.RunRecord) error {
	f.finished = append(f.finished, run)
	return nil
}

func (f *fakeRuns) ListRecentRuns(context.Context, int) ([]storage.RunRecord, error) {
	return nil, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, note alerting.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note)
	return nil
}

type fakeLocker struct {
	held bool
}

func (f *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if f.held {
		return nil, false, nil
	}
	return func() {}, true, nil
}

func rewardEvent(block uint64, amount int64) domain.RewardEvent {
	return domain.RewardEvent{BlockNum: block, ExtrinsicHash: "0x01", BlockTimestamp: 1_704_067_200 + int64(block), Amount: big.NewInt(amount)}
}

type fixture struct {
	svc      *Service
	rewards  *fakeRewards
	rows     *fakeRows
	runs     *fakeRuns
	notifier *fakeNotifier
	dir      string
}

func newFixture(t *testing.T, market *fakeMarket) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		rewards: &fakeRewards{
			events: map[string][]domain.RewardEvent{
				"1aaa": {rewardEvent(10, 10_000_000_000), rewardEvent(11, 5_000_000_000)},
				"1ccc": {rewardEvent(20, 20_000_000_000)},
			},
			fail: map[string]error{"1bbb": errors.New("subscan unavailable")},
		},
		rows:     &fakeRows{},
		runs:     &fakeRuns{},
		notifier: &fakeNotifier{},
		dir:      dir,
	}
	logger := zerolog.Nop()
	f.svc = New(Options{
		From:           time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:             time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		PriceCurrency:  "usd",
		VolumeCurrency: "usd",
		Symbol:         "DOT",
		OutputDir:      dir,
		Chart:          true,
	}, Deps{
		Rewards:   f.rewards,
		Market:    market,
		Assembler: report.NewAssembler(fakeSnapshots{}, nil, report.Options{Workers: 2}, logger),
		Writer:    export.NewCSVWriter(export.CSVOptions{Dir: dir, PriceCurrency: "usd", VolumeCurrency: "usd"}, logger),
		Rows:      f.rows,
		Runs:      f.runs,
		Notifier:  f.notifier,
	}, logger)
	return f
}

func accounts() []domain.Account {
	return []domain.Account{
		{Address: "1aaa", Name: "Alpha", Role: domain.RoleValidator},
		{Address: "1bbb", Name: "Beta", Role: domain.RoleValidator},
		{Address: "1ccc", Name: "Gamma", Role: domain.RoleValidator},
	}
}

func TestRunContinuesPastFailedAccount(t *testing.T) {
	f := newFixture(t, &fakeMarket{})

	summary, err := f.svc.Run(context.Background(), accounts())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 accounts failed")

	assert.Equal(t, []string{"1aaa", "1bbb", "1ccc"}, f.rewards.order)
	require.Len(t, summary.Results, 3)
	assert.NoError(t, summary.Results[0].Err)
	assert.Error(t, summary.Results[1].Err)
	assert.NoError(t, summary.Results[2].Err)
	assert.NotEmpty(t, summary.RunID)

	_, statErr := os.Stat(filepath.Join(f.dir, "A-1aaa.csv"))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(f.dir, "A-1aaa.png"))
	assert.NoError(t, statErr, "two events are enough for a chart")
	_, statErr = os.Stat(filepath.Join(f.dir, "G-1ccc.png"))
	assert.True(t, os.IsNotExist(statErr), "single event chart is skipped")

	require.Len(t, f.rows.rows, 3)
	assert.Equal(t, summary.RunID, f.rows.rows[0].RunID)

	require.Len(t, f.runs.finished, 1)
	assert.Equal(t, "partial", f.runs.finished[0].Status)
	assert.Equal(t, 1, f.runs.finished[0].FailedAccounts)
	assert.Equal(t, 3, f.runs.finished[0].Events)

	require.Len(t, f.notifier.notes, 1)
	note := f.notifier.notes[0]
	assert.Equal(t, 1, note.FailedAccounts())
	assert.True(t, note.Accounts[0].TotalReward.Equal(decimal.RequireFromString("1.5")))
}

func TestRunFailsWhenMarketUnavailable(t *testing.T) {
	f := newFixture(t, &fakeMarket{err: errors.New("coingecko down")})

	_, err := f.svc.Run(context.Background(), accounts())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch market data")
	assert.Empty(t, f.rewards.order)
	require.Len(t, f.runs.finished, 1)
	assert.Equal(t, "failed", f.runs.finished[0].Status)
}

func TestRunAllAccountsSucceed(t *testing.T) {
	f := newFixture(t, &fakeMarket{})

	summary, err := f.svc.Run(context.Background(), []domain.Account{accounts()[0]})
	require.NoError(t, err)
	assert.Zero(t, summary.FailedAccounts())
	assert.Equal(t, "complete", f.runs.finished[0].Status)
}

func TestRunRespectsAdvisoryLock(t *testing.T) {
	f := newFixture(t, &fakeMarket{})
	f.svc.opts.LockKey = 7
	f.svc.deps.Locker = &fakeLocker{held: true}

	_, err := f.svc.Run(context.Background(), accounts())
	assert.ErrorIs(t, err, ErrLocked)
	assert.Empty(t, f.rewards.order)
}
