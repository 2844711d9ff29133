package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"staking-reward-report/internal/domain"
)

// DefaultDecimals is the Polkadot planck-to-DOT exponent.
const DefaultDecimals = 10

// StateReader is the subset of node access needed for historical snapshots.
type StateReader interface {
	BlockHash(ctx context.Context, height uint64) (types.Hash, error)
	FreeBalance(ctx context.Context, at types.Hash, address string) (*big.Int, error)
	ActiveBonded(ctx context.Context, at types.Hash, address string) (*big.Int, bool, error)
}

// Snapshotter resolves account state as of a historical block.
type Snapshotter struct {
	reader   StateReader
	decimals int32
}

// NewSnapshotter builds a Snapshotter scaling amounts by 10^decimals.
func NewSnapshotter(reader StateReader, decimals int32) *Snapshotter {
	if decimals <= 0 {
		decimals = DefaultDecimals
	}
	return &Snapshotter{reader: reader, decimals: decimals}
}

// SnapshotAt returns free and bonded balance of address at height.
// An account that never bonded reports zero bonded.
func (s *Snapshotter) SnapshotAt(ctx context.Context, height uint64, address string) (domain.ChainSnapshot, error) {
	hash, err := s.reader.BlockHash(ctx, height)
	if err != nil {
		return domain.ChainSnapshot{}, err
	}

	free, err := s.reader.FreeBalance(ctx, hash, address)
	if err != nil {
		return domain.ChainSnapshot{}, fmt.Errorf("free balance at %d: %w", height, err)
	}

	bonded, ok, err := s.reader.ActiveBonded(ctx, hash, address)
	if err != nil {
		return domain.ChainSnapshot{}, fmt.Errorf("bonded at %d: %w", height, err)
	}
	if !ok {
		bonded = new(big.Int)
	}

	return domain.ChainSnapshot{
		BlockNum: height,
		Free:     domain.Scale(free, s.decimals),
		Bonded:   domain.Scale(bonded, s.decimals),
	}, nil
}

var _ StateReader = (*Client)(nil)
