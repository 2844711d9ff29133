package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"staking-reward-report/internal/chain"
	"staking-reward-report/internal/domain"
	"staking-reward-report/internal/export"
	"staking-reward-report/internal/report"
	"staking-reward-report/internal/service"
)

// Report generates the per-account reward reports for the configured window.
func (a *App) Report(ctx context.Context, opts ReportOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	from, to, err := a.Config.Window(opts.From, opts.To)
	if err != nil {
		return err
	}

	accounts, err := selectAccounts(a.Config.DomainAccounts(), opts.Accounts)
	if err != nil {
		return err
	}

	outputDir := a.Config.Report.OutputDir
	if opts.OutputDir != "" {
		outputDir = opts.OutputDir
	}
	workers := a.Config.Concurrency.Workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	chart := a.Config.Report.Chart
	if opts.Chart != nil {
		chart = *opts.Chart
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	uploader, err := a.newUploader(ctx)
	if err != nil {
		return err
	}

	client, err := a.dialChain(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	rewards, market := a.newFetchers()
	resolver := a.newResolver(client)
	snapshots := chain.NewSnapshotter(client, a.Config.Chain.Decimals)
	assembler := report.NewAssembler(snapshots, resolver, report.Options{
		Workers:  workers,
		Decimals: a.Config.Chain.Decimals,
	}, a.Logger)
	writer := export.NewCSVWriter(export.CSVOptions{
		Dir:            outputDir,
		ExplorerURL:    a.Config.Report.ExplorerURL,
		Symbol:         a.Config.Report.Symbol,
		PriceCurrency:  a.Config.Report.PriceCurrency,
		VolumeCurrency: a.Config.Report.VolumeCurrency,
	}, a.Logger)

	deps := service.Deps{
		Rewards:   rewards,
		Market:    market,
		Assembler: assembler,
		Writer:    writer,
		Notifier:  a.newNotifier(),
	}
	if uploader != nil {
		deps.Uploader = uploader
	}
	if store != nil {
		deps.Rows = store
		deps.Runs = store
		deps.Locker = store
	}

	svc := service.New(service.Options{
		From:           from,
		To:             to,
		PriceCurrency:  a.Config.Report.PriceCurrency,
		VolumeCurrency: a.Config.Report.VolumeCurrency,
		Symbol:         a.Config.Report.Symbol,
		OutputDir:      outputDir,
		Chart:          chart,
		LockKey:        a.Config.Database.AdvisoryLockKey,
	}, deps, a.Logger)

	summary, err := svc.Run(ctx, accounts)
	if err != nil {
		a.Logger.Error().Err(err).Str("run_id", summary.RunID).Msg("report run finished with errors")
		return err
	}
	return nil
}

func selectAccounts(all []domain.Account, only []string) ([]domain.Account, error) {
	if len(only) == 0 {
		return all, nil
	}

	byAddress := make(map[string]domain.Account, len(all))
	for _, acc := range all {
		byAddress[acc.Address] = acc
	}

	selected := make([]domain.Account, 0, len(only))
	for _, addr := range only {
		acc, ok := byAddress[addr]
		if !ok {
			return nil, fmt.Errorf("account %s is not configured", addr)
		}
		selected = append(selected, acc)
	}
	return selected, nil
}
