package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertRewardRowSQL = `INSERT INTO reward_rows (
        address,
        block_num,
        event_idx,
        run_id,
        account_name,
        role,
        extrinsic_hash,
        block_ts,
        reward,
        price,
        volume,
        free_balance,
        bonded
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    ON CONFLICT (address, block_num, event_idx) DO UPDATE
    SET
        run_id         = EXCLUDED.run_id,
        account_name   = EXCLUDED.account_name,
        role           = EXCLUDED.role,
        extrinsic_hash = EXCLUDED.extrinsic_hash,
        block_ts       = EXCLUDED.block_ts,
        reward         = EXCLUDED.reward,
        price          = EXCLUDED.price,
        volume         = EXCLUDED.volume,
        free_balance   = EXCLUDED.free_balance,
        bonded         = EXCLUDED.bonded;`

	listRecentRowsSQL = `SELECT
        address,
        block_num,
        event_idx,
        run_id,
        account_name,
        role,
        extrinsic_hash,
        block_ts,
        reward::text,
        price::text,
        volume::text,
        free_balance::text,
        bonded::text,
        created_at
    FROM reward_rows
    WHERE ($1 = '' OR address = $1)
    ORDER BY block_ts DESC, block_num DESC, event_idx DESC
    LIMIT $2;`

	countRowsSQL = `SELECT COUNT(*) FROM reward_rows;`

	startRunSQL = `INSERT INTO report_runs (run_id, window_from, window_to, accounts, status)
    VALUES ($1,$2,$3,$4,'running');`

	finishRunSQL = `UPDATE report_runs
    SET failed_accounts = $2,
        events          = $3,
        failed_events   = $4,
        status          = $5,
        finished_at     = now()
    WHERE run_id = $1;`

	listRecentRunsSQL = `SELECT
        run_id,
        window_from,
        window_to,
        accounts,
        failed_accounts,
        events,
        failed_events,
        status,
        started_at,
        finished_at
    FROM report_runs
    ORDER BY started_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RewardRowStore defines operations for reward row persistence.
type RewardRowStore interface {
	UpsertRewardRows(ctx context.Context, rows []RewardRow) error
	ListRecentRows(ctx context.Context, address string, limit int) ([]RewardRow, error)
	CountRows(ctx context.Context) (int64, error)
}

// RunStore records report runs.
type RunStore interface {
	StartRun(ctx context.Context, run RunRecord) error
	FinishRun(ctx context.Context, run RunRecord) error
	ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to reward rows and runs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertRewardRows persists rows in one batch, replacing rows with the same event key.
func (s *Store) UpsertRewardRows(ctx context.Context, rows []RewardRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(upsertRewardRowSQL,
			row.Address,
			row.BlockNum,
			row.EventIdx,
			row.RunID,
			row.AccountName,
			row.Role,
			row.ExtrinsicHash,
			row.BlockTime,
			row.Reward.String(),
			row.Price.String(),
			row.Volume.String(),
			row.FreeBalance.String(),
			row.Bonded.String(),
		)
	}

	results := pool.SendBatch(ctx, batch)
	for i := range rows {
		if _, execErr := results.Exec(); execErr != nil {
			_ = results.Close()
			return fmt.Errorf("upsert reward row %s %d-%d: %w", rows[i].Address, rows[i].BlockNum, rows[i].EventIdx, execErr)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("upsert reward rows: %w", err)
	}
	return nil
}

// ListRecentRows lists the newest rows, optionally for one address.
func (s *Store) ListRecentRows(ctx context.Context, address string, limit int) ([]RewardRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRowsSQL, address, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent rows: %w", queryErr)
	}
	defer rows.Close()

	out := make([]RewardRow, 0, limit)
	for rows.Next() {
		row, scanErr := scanRewardRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// CountRows counts stored reward rows.
func (s *Store) CountRows(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRowsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count rows: %w", scanErr)
	}
	return count, nil
}

// StartRun records the beginning of a run.
func (s *Store) StartRun(ctx context.Context, run RunRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, startRunSQL, run.RunID, run.From, run.To, run.Accounts); execErr != nil {
		return fmt.Errorf("start run: %w", execErr)
	}
	return nil
}

// FinishRun stores the final counters of a run.
func (s *Store) FinishRun(ctx context.Context, run RunRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, finishRunSQL, run.RunID, run.FailedAccounts, run.Events, run.FailedEvents, run.Status)
	if execErr != nil {
		return fmt.Errorf("finish run: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListRecentRuns lists runs by descending start time.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0, limit)
	for rows.Next() {
		var run RunRecord
		if err := rows.Scan(
			&run.RunID,
			&run.From,
			&run.To,
			&run.Accounts,
			&run.FailedAccounts,
			&run.Events,
			&run.FailedEvents,
			&run.Status,
			&run.StartedAt,
			&run.FinishedAt,
		); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

func scanRewardRow(rows pgx.Rows) (RewardRow, error) {
	var (
		row                            RewardRow
		rewardStr, priceStr, volumeStr string
		freeStr, bondedStr             string
	)

	if err := rows.Scan(
		&row.Address,
		&row.BlockNum,
		&row.EventIdx,
		&row.RunID,
		&row.AccountName,
		&row.Role,
		&row.ExtrinsicHash,
		&row.BlockTime,
		&rewardStr,
		&priceStr,
		&volumeStr,
		&freeStr,
		&bondedStr,
		&row.CreatedAt,
	); err != nil {
		return RewardRow{}, err
	}

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"reward", rewardStr, &row.Reward},
		{"price", priceStr, &row.Price},
		{"volume", volumeStr, &row.Volume},
		{"free balance", freeStr, &row.FreeBalance},
		{"bonded", bondedStr, &row.Bonded},
	}
	for _, f := range fields {
		value, err := decimal.NewFromString(f.raw)
		if err != nil {
			return RewardRow{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = value
	}
	return row, nil
}

var (
	_ RewardRowStore = (*Store)(nil)
	_ RunStore       = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
