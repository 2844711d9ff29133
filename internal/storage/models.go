package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"staking-reward-report/internal/domain"
)

// RewardRow is one exported reward event as persisted.
type RewardRow struct {
	Address       string
	BlockNum      int64
	EventIdx      int32
	RunID         string
	AccountName   string
	Role          string
	ExtrinsicHash string
	BlockTime     time.Time
	Reward        decimal.Decimal
	Price         decimal.Decimal
	Volume        decimal.Decimal
	FreeBalance   decimal.Decimal
	Bonded        decimal.Decimal
	CreatedAt     time.Time
}

// RunRecord summarises one report run.
type RunRecord struct {
	RunID          string
	From           time.Time
	To             time.Time
	Accounts       int
	FailedAccounts int
	Events         int
	FailedEvents   int
	Status         string
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// RowsFromReport converts the valid events of rep into rows.
func RowsFromReport(rep domain.AccountReport) []RewardRow {
	valid := rep.Valid()
	rows := make([]RewardRow, 0, len(valid))
	for _, ev := range valid {
		rows = append(rows, RewardRow{
			Address:       rep.Account.Address,
			BlockNum:      int64(ev.BlockNum),
			EventIdx:      int32(ev.EventIdx),
			RunID:         rep.RunID,
			AccountName:   rep.Account.Name,
			Role:          string(rep.Account.Role),
			ExtrinsicHash: ev.ExtrinsicHash,
			BlockTime:     time.Unix(ev.BlockTimestamp, 0).UTC(),
			Reward:        ev.Reward,
			Price:         ev.Price,
			Volume:        ev.Volume,
			FreeBalance:   ev.Snapshot.Free,
			Bonded:        ev.Snapshot.Bonded,
		})
	}
	return rows
}
