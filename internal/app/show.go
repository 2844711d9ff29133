package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/shopspring/decimal"

	"staking-reward-report/internal/storage"
)

const nameColumnWidth = 24

// Show prints recently stored reward rows, or runs when opts.Runs is set.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show rows")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Runs {
		runs, err := store.ListRecentRuns(ctx, opts.Limit)
		if err != nil {
			return err
		}
		writeRunsTable(os.Stdout, runs)
		return nil
	}

	rows, err := store.ListRecentRows(ctx, opts.Address, opts.Limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "no rows found")
		return nil
	}
	writeRowsTable(os.Stdout, rows)
	return nil
}

func writeRowsTable(w io.Writer, rows []storage.RewardRow) {
	header := []string{"Date (UTC)", "Account", "Block", "Event", "Reward", "Price", "Bonded"}
	widths := []int{10, nameColumnWidth, 10, 5, 14, 10, 14}

	lines := make([][]string, 0, len(rows))
	for _, row := range rows {
		name := row.AccountName
		if name == "" {
			name = row.Address
		}
		lines = append(lines, []string{
			row.BlockTime.UTC().Format(time.DateOnly),
			name,
			fmt.Sprintf("%d", row.BlockNum),
			fmt.Sprintf("%d", row.EventIdx),
			formatDecimal(row.Reward, 4),
			formatDecimal(row.Price, 3),
			formatDecimal(row.Bonded, 2),
		})
	}
	writeTable(w, header, widths, lines)
}

func writeRunsTable(w io.Writer, runs []storage.RunRecord) {
	header := []string{"Started (UTC)", "Run", "Status", "Accounts", "Failed", "Events", "Skipped"}
	widths := []int{20, 36, 9, 8, 6, 6, 7}

	lines := make([][]string, 0, len(runs))
	for _, run := range runs {
		lines = append(lines, []string{
			run.StartedAt.UTC().Format(time.RFC3339),
			run.RunID,
			run.Status,
			fmt.Sprintf("%d", run.Accounts),
			fmt.Sprintf("%d", run.FailedAccounts),
			fmt.Sprintf("%d", run.Events),
			fmt.Sprintf("%d", run.FailedEvents),
		})
	}
	writeTable(w, header, widths, lines)
}

// writeTable pads cells by display width so CJK and emoji names stay aligned.
func writeTable(w io.Writer, header []string, widths []int, lines [][]string) {
	render := func(cells []string) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			cell = sanitizeInline(cell)
			if runewidth.StringWidth(cell) > widths[i] {
				cell = runewidth.Truncate(cell, widths[i], "…")
			}
			parts[i] = runewidth.FillRight(cell, widths[i])
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	render(header)
	for _, line := range lines {
		render(line)
	}
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
