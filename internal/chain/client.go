package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"staking-reward-report/internal/retry"
)

// Options parameterise the node connection.
type Options struct {
	RPCURL         string
	IdentityRPCURL string
	SS58Prefix     uint16
	Timeout        time.Duration
	Retry          retry.Policy
}

// Client reads historical account, staking and identity storage from a Substrate node.
// A single connection is shared by all callers; the underlying RPC client multiplexes
// concurrent requests.
type Client struct {
	opts     Options
	logger   zerolog.Logger
	state    *endpoint
	identity *endpoint

	mu       sync.RWMutex
	accounts map[types.U32]accountLayout
	layouts  singleflight.Group
}

type endpoint struct {
	url      string
	api      *gsrpc.SubstrateAPI
	meta     *types.Metadata
	identity identityLayout
}

// Dial connects to the configured node(s) and loads runtime metadata.
func Dial(ctx context.Context, opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.RPCURL == "" {
		return nil, errors.New("chain rpc url not configured")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	c := &Client{
		opts:     opts,
		logger:   logger.With().Str("component", "chain_client").Logger(),
		accounts: make(map[types.U32]accountLayout),
	}

	state, err := c.connect(ctx, opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.state = state
	c.identity = state

	if opts.IdentityRPCURL != "" && opts.IdentityRPCURL != opts.RPCURL {
		ident, err := c.connect(ctx, opts.IdentityRPCURL)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.identity = ident
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context, url string) (*endpoint, error) {
	api, err := callWithTimeout(ctx, c.opts.Timeout, func() (*gsrpc.SubstrateAPI, error) {
		return gsrpc.NewSubstrateAPI(url)
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}

	meta, err := retry.DoWithData(ctx, c.opts.Retry, c.logger, func(ctx context.Context) (*types.Metadata, error) {
		return callWithTimeout(ctx, c.opts.Timeout, api.RPC.State.GetMetadataLatest)
	})
	if err != nil {
		closeAPI(api)
		return nil, fmt.Errorf("load metadata from %s: %w", url, err)
	}

	e := &endpoint{url: url, api: api, meta: meta, identity: identityLayoutFromMetadata(meta)}
	c.logger.Info().Str("url", url).Stringer("identity_layout", e.identity).Msg("connected to node")
	return e, nil
}

// Close releases node connections.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.identity != nil && c.identity != c.state {
		closeAPI(c.identity.api)
	}
	if c.state != nil {
		closeAPI(c.state.api)
	}
}

func closeAPI(api *gsrpc.SubstrateAPI) {
	if closer, ok := api.Client.(interface{ Close() }); ok {
		closer.Close()
	}
}

// BlockHash resolves the hash of the block at height.
func (c *Client) BlockHash(ctx context.Context, height uint64) (types.Hash, error) {
	hash, err := retry.DoWithData(ctx, c.opts.Retry, c.logger, func(ctx context.Context) (types.Hash, error) {
		return callWithTimeout(ctx, c.opts.Timeout, func() (types.Hash, error) {
			return c.state.api.RPC.Chain.GetBlockHash(height)
		})
	})
	if err != nil {
		return types.Hash{}, fmt.Errorf("block hash at %d: %w", height, err)
	}
	if hash == (types.Hash{}) {
		return types.Hash{}, fmt.Errorf("block hash at %d: block not found", height)
	}
	return hash, nil
}

// FreeBalance returns System.Account data.free at the given block, zero for unknown accounts.
func (c *Client) FreeBalance(ctx context.Context, at types.Hash, address string) (*big.Int, error) {
	raw, err := c.storage(ctx, c.state, "System", "Account", &at, address)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return new(big.Int), nil
	}
	layout, err := c.accountLayoutAt(ctx, at)
	if err != nil {
		return nil, err
	}
	free, err := decodeAccountFree(raw, layout)
	if err != nil {
		return nil, fmt.Errorf("account %s at %s: %w", address, hexutil.Encode(at[:]), err)
	}
	return free, nil
}

// ActiveBonded returns the ledger's active amount at the given block.
// ok is false when the account has no staking ledger.
func (c *Client) ActiveBonded(ctx context.Context, at types.Hash, address string) (*big.Int, bool, error) {
	raw, err := c.storage(ctx, c.state, "Staking", "Ledger", &at, address)
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	active, err := decodeLedgerActive(raw)
	if err != nil {
		return nil, false, fmt.Errorf("ledger %s at %s: %w", address, hexutil.Encode(at[:]), err)
	}
	return active, true, nil
}

// Nominations returns the current nominations of address, nil when it is not nominating.
func (c *Client) Nominations(ctx context.Context, address string) (*Nominations, error) {
	raw, err := c.storage(ctx, c.state, "Staking", "Nominators", nil, address)
	if err != nil || raw == nil {
		return nil, err
	}
	noms, err := decodeNominations(raw, c.opts.SS58Prefix)
	if err != nil {
		return nil, fmt.Errorf("nominators %s: %w", address, err)
	}
	return noms, nil
}

// IdentityOf returns the identity registration of address, nil when none is set.
func (c *Client) IdentityOf(ctx context.Context, address string) (*Registration, error) {
	raw, err := c.storage(ctx, c.identity, "Identity", "IdentityOf", nil, address)
	if err != nil || raw == nil {
		return nil, err
	}
	reg, err := decodeRegistration(raw, c.identity.identity)
	if err != nil {
		return nil, fmt.Errorf("identity %s: %w", address, err)
	}
	return reg, nil
}

// SuperOf returns the parent identity reference of a sub-account, nil when none is set.
func (c *Client) SuperOf(ctx context.Context, address string) (*SuperIdentity, error) {
	raw, err := c.storage(ctx, c.identity, "Identity", "SuperOf", nil, address)
	if err != nil || raw == nil {
		return nil, err
	}
	sup, err := decodeSuperOf(raw, c.opts.SS58Prefix)
	if err != nil {
		return nil, fmt.Errorf("super of %s: %w", address, err)
	}
	return sup, nil
}

// accountLayoutAt resolves the AccountInfo layout of the runtime active at the
// given block. Layouts are cached per spec version.
func (c *Client) accountLayoutAt(ctx context.Context, at types.Hash) (accountLayout, error) {
	rv, err := retry.DoWithData(ctx, c.opts.Retry, c.logger, func(ctx context.Context) (*types.RuntimeVersion, error) {
		return callWithTimeout(ctx, c.opts.Timeout, func() (*types.RuntimeVersion, error) {
			return c.state.api.RPC.State.GetRuntimeVersion(at)
		})
	})
	if err != nil {
		return accountUnknown, fmt.Errorf("runtime version at %s: %w", hexutil.Encode(at[:]), err)
	}
	spec := rv.SpecVersion

	c.mu.RLock()
	layout, ok := c.accounts[spec]
	c.mu.RUnlock()
	if ok {
		return layout, nil
	}

	v, err, _ := c.layouts.Do(strconv.FormatUint(uint64(spec), 10), func() (interface{}, error) {
		meta, err := retry.DoWithData(ctx, c.opts.Retry, c.logger, func(ctx context.Context) (*types.Metadata, error) {
			return callWithTimeout(ctx, c.opts.Timeout, func() (*types.Metadata, error) {
				return c.state.api.RPC.State.GetMetadata(at)
			})
		})
		if err != nil {
			return accountUnknown, fmt.Errorf("metadata for spec %d: %w", spec, err)
		}
		layout := accountLayoutFromMetadata(meta)
		c.mu.Lock()
		c.accounts[spec] = layout
		c.mu.Unlock()
		c.logger.Debug().Uint32("spec_version", uint32(spec)).Int("account_layout", int(layout)).Msg("runtime layout cached")
		return layout, nil
	})
	if err != nil {
		return accountUnknown, err
	}
	return v.(accountLayout), nil
}

// storage fetches a map entry keyed by an account id. A nil slice means the entry is absent.
func (c *Client) storage(ctx context.Context, e *endpoint, pallet, item string, at *types.Hash, address string) ([]byte, error) {
	id, _, err := DecodeAddress(address)
	if err != nil {
		return nil, err
	}
	key, err := types.CreateStorageKey(e.meta, pallet, item, id)
	if err != nil {
		return nil, fmt.Errorf("storage key %s.%s: %w", pallet, item, err)
	}

	raw, err := retry.DoWithData(ctx, c.opts.Retry, c.logger, func(ctx context.Context) (*types.StorageDataRaw, error) {
		return callWithTimeout(ctx, c.opts.Timeout, func() (*types.StorageDataRaw, error) {
			if at == nil {
				return e.api.RPC.State.GetStorageRawLatest(key)
			}
			return e.api.RPC.State.GetStorageRaw(key, *at)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("query %s.%s for %s: %w", pallet, item, address, err)
	}
	if raw == nil || len(*raw) == 0 {
		return nil, nil
	}
	return []byte(*raw), nil
}

type result[T any] struct {
	val T
	err error
}

// callWithTimeout bounds a blocking RPC call that does not take a context.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn()
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
