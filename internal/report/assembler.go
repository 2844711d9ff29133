// Package report joins reward events with chain state and market data.
package report

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"staking-reward-report/internal/domain"
	"staking-reward-report/internal/lookup"
)

// DefaultWorkers bounds per-account fan-out when no limit is configured.
const DefaultWorkers = 8

// SnapshotSource resolves historical account state.
type SnapshotSource interface {
	SnapshotAt(ctx context.Context, height uint64, address string) (domain.ChainSnapshot, error)
}

// NominationSource resolves a nominator's current targets.
type NominationSource interface {
	Nominations(ctx context.Context, address string) (*domain.NominationRecord, error)
}

// Market is the per-run price and volume data shared by every account.
type Market struct {
	Prices  domain.Series
	Volumes domain.Series
}

// Options parameterise the assembler.
type Options struct {
	Workers  int
	Decimals int32
}

// Assembler produces the enriched record set for one account.
type Assembler struct {
	snapshots   SnapshotSource
	nominations NominationSource
	opts        Options
	logger      zerolog.Logger
}

// NewAssembler constructs an assembler. nominations may be nil when no
// nominator accounts are configured.
func NewAssembler(snapshots SnapshotSource, nominations NominationSource, opts Options, logger zerolog.Logger) *Assembler {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Assembler{
		snapshots:   snapshots,
		nominations: nominations,
		opts:        opts,
		logger:      logger.With().Str("component", "assembler").Logger(),
	}
}

// Assemble enriches events in input order. A lookup failure marks only that
// event invalid. Nominator accounts also get their nomination record; failing
// to read it is recorded on the report and does not drop the events.
func (a *Assembler) Assemble(ctx context.Context, account domain.Account, events []domain.RewardEvent, market Market) (domain.AccountReport, error) {
	out := domain.AccountReport{Account: account, Events: make([]domain.EnrichedEvent, len(events))}
	log := a.logger.With().Str("address", account.Address).Logger()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)
	for i, ev := range events {
		g.Go(func() error {
			out.Events[i] = a.enrich(gctx, log, account.Address, ev, market)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.AccountReport{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.AccountReport{}, err
	}

	if account.Role == domain.RoleNominator && a.nominations != nil {
		rec, err := a.nominations.Nominations(ctx, account.Address)
		if err != nil {
			log.Error().Err(err).Msg("nomination lookup failed")
			out.NominationsErr = fmt.Errorf("resolve nominations: %w", err)
		} else {
			out.Nominations = rec
		}
	}

	log.Info().Int("events", len(events)).Int("failed", out.Failed()).Msg("account assembled")
	return out, nil
}

func (a *Assembler) enrich(ctx context.Context, log zerolog.Logger, address string, ev domain.RewardEvent, market Market) domain.EnrichedEvent {
	enriched := domain.EnrichedEvent{
		RewardEvent: ev,
		Reward:      domain.Scale(ev.Amount, a.decimals()),
		Price:       lookup.ValueAtUnix(ev.BlockTimestamp, market.Prices),
		Volume:      lookup.ValueAtUnix(ev.BlockTimestamp, market.Volumes),
	}

	snap, err := a.snapshots.SnapshotAt(ctx, ev.BlockNum, address)
	if err != nil {
		log.Error().Err(err).Uint64("height", ev.BlockNum).Msg("snapshot lookup failed")
		enriched.Err = err
		return enriched
	}
	enriched.Snapshot = snap
	return enriched
}

func (a *Assembler) decimals() int32 {
	if a.opts.Decimals <= 0 {
		return 10
	}
	return a.opts.Decimals
}
