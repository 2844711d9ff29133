// Package domain holds the value types shared by the report pipeline.
package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Role classifies a configured account.
type Role string

const (
	RoleValidator Role = "validator"
	RoleNominator Role = "nominator"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleValidator || r == RoleNominator
}

// Title returns the capitalised role name used in report headers.
func (r Role) Title() string {
	s := string(r)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Account is a configured address the report is produced for.
type Account struct {
	Address string
	Name    string
	Role    Role
}

// RewardEvent is one staking reward as listed by the event API.
type RewardEvent struct {
	BlockNum       uint64
	ExtrinsicHash  string
	EventIdx       uint32
	BlockTimestamp int64
	Amount         *big.Int
}

// EventRef renders the "<block>-<event>" reference used by explorers.
func (e RewardEvent) EventRef() string {
	return fmt.Sprintf("%d-%d", e.BlockNum, e.EventIdx)
}

// ChainSnapshot is the account state at the block of a reward event.
type ChainSnapshot struct {
	BlockNum uint64
	Free     decimal.Decimal
	Bonded   decimal.Decimal
}

// Point is a single market observation.
type Point struct {
	TimestampMs int64
	Value       decimal.Decimal
}

// Series is an ascending market time series.
type Series []Point

// Identity is a resolved display identity.
type Identity struct {
	Name     string
	Verified bool
	Sub      string
}

// Label renders "name" or "name / sub".
func (i Identity) Label() string {
	if i.Sub == "" {
		return i.Name
	}
	return i.Name + " / " + i.Sub
}

// NominationTarget is one validator a nominator backs.
type NominationTarget struct {
	Address  string
	Identity string
	Verified bool
	Err      error
}

// NominationRecord captures a nominator's current targets.
type NominationRecord struct {
	Era     uint32
	Targets []NominationTarget
}

// EnrichedEvent joins a reward event with chain state and market data.
// A non-nil Err marks the event invalid.
type EnrichedEvent struct {
	RewardEvent
	Snapshot ChainSnapshot
	Reward   decimal.Decimal
	Price    decimal.Decimal
	Volume   decimal.Decimal
	Err      error
}

// AccountReport is everything exported for one account in one run.
type AccountReport struct {
	RunID       string
	Account     Account
	Events      []EnrichedEvent
	Nominations *NominationRecord
	// NominationsErr is set when a nominator's targets could not be read.
	NominationsErr error
}

// Valid returns the events whose lookups succeeded, in order.
func (r AccountReport) Valid() []EnrichedEvent {
	out := make([]EnrichedEvent, 0, len(r.Events))
	for _, ev := range r.Events {
		if ev.Err == nil {
			out = append(out, ev)
		}
	}
	return out
}

// Failed counts invalid events.
func (r AccountReport) Failed() int {
	return len(r.Events) - len(r.Valid())
}

// Scale converts a smallest-unit integer into a decimal with the given precision.
func Scale(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}
