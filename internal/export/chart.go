package export

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"staking-reward-report/internal/domain"
)

// ErrTooFewPoints is returned when a chart would have fewer than two points.
var ErrTooFewPoints = errors.New("chart needs at least two valid events")

// ChartPath is the PNG path written next to the account's CSV.
func ChartPath(dir string, account domain.Account) string {
	return filepath.Join(dir, strings.TrimSuffix(FileName(account), ".csv")+".png")
}

// WriteChart renders cumulative rewards and bonded balance over time.
func WriteChart(path string, rep domain.AccountReport) error {
	events := rep.Valid()
	if len(events) < 2 {
		return ErrTooFewPoints
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(events))
	cumulative := make([]float64, len(events))
	bonded := make([]float64, len(events))

	total := decimal.Zero
	for i, ev := range events {
		total = total.Add(ev.Reward)
		x[i] = time.Unix(ev.BlockTimestamp, 0).UTC()
		cumulative[i] = total.InexactFloat64()
		bonded[i] = ev.Snapshot.Bonded.InexactFloat64()
	}

	amountFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  rep.Account.Name,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Cumulative reward",
			ValueFormatter: amountFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Bonded",
			ValueFormatter: amountFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Cumulative reward",
				XValues: x,
				YValues: cumulative,
			},
			chart.TimeSeries{
				Name:    "Bonded",
				XValues: x,
				YValues: bonded,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
