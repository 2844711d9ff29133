// Package lookup aligns event times with market series sampled in milliseconds.
package lookup

import (
	"time"

	"github.com/shopspring/decimal"

	"staking-reward-report/internal/domain"
)

// ValueAt returns the value of the most recent point not after at.
// Series timestamps are milliseconds and must be ascending. A query before the
// first point (or against an empty series) yields zero: no market data existed yet.
func ValueAt(at time.Time, series domain.Series) decimal.Decimal {
	if len(series) == 0 {
		return decimal.Zero
	}
	queryMs := at.UnixMilli()
	if queryMs < series[0].TimestampMs {
		return decimal.Zero
	}

	value := series[0].Value
	for _, p := range series[1:] {
		if p.TimestampMs > queryMs {
			break
		}
		value = p.Value
	}
	return value
}

// ValueAtUnix is ValueAt for a unix timestamp in seconds.
func ValueAtUnix(sec int64, series domain.Series) decimal.Decimal {
	return ValueAt(time.Unix(sec, 0), series)
}
