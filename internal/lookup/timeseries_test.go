package lookup

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"staking-reward-report/internal/domain"
)

func series(points ...[2]int64) domain.Series {
	out := make(domain.Series, 0, len(points))
	for _, p := range points {
		out = append(out, domain.Point{TimestampMs: p[0], Value: decimal.NewFromInt(p[1])})
	}
	return out
}

func TestValueAt_StepFunction(t *testing.T) {
	s := series([2]int64{1000, 10}, [2]int64{2000, 20})

	cases := []struct {
		name    string
		queryMs int64
		want    int64
	}{
		{"before first", 500, 0},
		{"exact first", 1000, 10},
		{"between", 1500, 10},
		{"exact second", 2000, 20},
		{"after last", 2500, 20},
	}
	for _, tc := range cases {
		got := ValueAt(time.UnixMilli(tc.queryMs), s)
		if !got.Equal(decimal.NewFromInt(tc.want)) {
			t.Errorf("%s: ValueAt(%dms) = %s, want %d", tc.name, tc.queryMs, got, tc.want)
		}
	}
}

func TestValueAt_EmptySeries(t *testing.T) {
	if got := ValueAt(time.Unix(100, 0), nil); !got.IsZero() {
		t.Errorf("expected 0 for empty series, got %s", got)
	}
}

func TestValueAtUnix_DailyCandles(t *testing.T) {
	s := series(
		[2]int64{1_600_000_000_000, 4},
		[2]int64{1_600_086_400_000, 5},
		[2]int64{1_600_172_800_000, 6},
	)

	if got := ValueAtUnix(1_599_999_999, s); !got.IsZero() {
		t.Errorf("expected 0 before first candle, got %s", got)
	}
	// Midway through the second day resolves to the second candle.
	if got := ValueAtUnix(1_600_086_400+3600, s); !got.Equal(decimal.NewFromInt(5)) {
		t.Errorf("expected 5, got %s", got)
	}
	if got := ValueAtUnix(1_700_000_000, s); !got.Equal(decimal.NewFromInt(6)) {
		t.Errorf("expected 6 after last candle, got %s", got)
	}
}
