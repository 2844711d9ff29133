// Package identity resolves account addresses to display identities and
// nominator targets.
package identity

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"staking-reward-report/internal/chain"
	"staking-reward-report/internal/domain"
)

// VerificationMode selects how a judgement list becomes a verified flag.
type VerificationMode string

const (
	// VerifyAny marks an identity verified when any judgement is Reasonable or KnownGood.
	VerifyAny VerificationMode = "any"
	// VerifyLast lets the last judgement in the list decide.
	VerifyLast VerificationMode = "last"
)

// Valid reports whether m is a known mode.
func (m VerificationMode) Valid() bool {
	return m == VerifyAny || m == VerifyLast
}

// Registry reads the on-chain identity pallet.
type Registry interface {
	IdentityOf(ctx context.Context, address string) (*chain.Registration, error)
	SuperOf(ctx context.Context, address string) (*chain.SuperIdentity, error)
}

// NominationReader reads a nominator's current targets.
type NominationReader interface {
	Nominations(ctx context.Context, address string) (*chain.Nominations, error)
}

// Options parameterise the resolver.
type Options struct {
	// Overrides maps addresses to trusted display names that skip the chain.
	Overrides    map[string]string
	Verification VerificationMode
	CacheTTL     time.Duration
	Workers      int
}

// Resolver turns addresses into display identities.
type Resolver struct {
	opts        Options
	registry    Registry
	nominations NominationReader
	logger      zerolog.Logger
	cache       *cache.Cache
}

// NewResolver constructs a resolver.
func NewResolver(registry Registry, nominations NominationReader, opts Options, logger zerolog.Logger) *Resolver {
	if !opts.Verification.Valid() {
		opts.Verification = VerifyAny
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	return &Resolver{
		opts:        opts,
		registry:    registry,
		nominations: nominations,
		logger:      logger.With().Str("component", "identity").Logger(),
		cache:       cache.New(opts.CacheTTL, 2*opts.CacheTTL),
	}
}

// ResolveIdentity returns the display identity for address. Override entries
// win without touching the chain. An address with neither an identity nor a
// super reference resolves to itself, unverified.
func (r *Resolver) ResolveIdentity(ctx context.Context, address string) (domain.Identity, error) {
	if name, ok := r.opts.Overrides[address]; ok {
		return domain.Identity{Name: name, Verified: true}, nil
	}
	if cached, ok := r.cache.Get(address); ok {
		return cached.(domain.Identity), nil
	}

	id, err := r.resolve(ctx, address)
	if err != nil {
		return domain.Identity{}, err
	}
	r.cache.Set(address, id, cache.DefaultExpiration)
	return id, nil
}

func (r *Resolver) resolve(ctx context.Context, address string) (domain.Identity, error) {
	reg, err := r.registry.IdentityOf(ctx, address)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("identity of %s: %w", address, err)
	}
	if reg != nil {
		return r.fromRegistration(address, reg, ""), nil
	}

	super, err := r.registry.SuperOf(ctx, address)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("super of %s: %w", address, err)
	}
	if super == nil {
		return domain.Identity{Name: address}, nil
	}

	sub := DecodeRaw(super.Sub)
	parent, err := r.registry.IdentityOf(ctx, super.Parent)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("identity of %s (super of %s): %w", super.Parent, address, err)
	}
	if parent == nil {
		r.logger.Debug().Str("address", address).Str("super", super.Parent).Msg("super account has no identity")
		return domain.Identity{Name: address}, nil
	}
	return r.fromRegistration(super.Parent, parent, sub), nil
}

func (r *Resolver) fromRegistration(address string, reg *chain.Registration, sub string) domain.Identity {
	name := DecodeRaw(reg.Display)
	if name == "" {
		name = address
	}
	return domain.Identity{
		Name:     name,
		Verified: Verified(reg.Judgements, r.opts.Verification),
		Sub:      sub,
	}
}

// Verified folds a judgement list into a verified flag under mode.
func Verified(judgements []chain.Judgement, mode VerificationMode) bool {
	verified := false
	for _, j := range judgements {
		switch mode {
		case VerifyLast:
			verified = j.Good()
		default:
			verified = verified || j.Good()
		}
	}
	return verified
}

// DecodeRaw turns a 0x-prefixed hex field into its UTF-8 text. Values without
// the prefix, that fail to decode, or that are not valid UTF-8 are returned verbatim.
func DecodeRaw(value string) string {
	if !strings.HasPrefix(value, "0x") && !strings.HasPrefix(value, "0X") {
		return value
	}
	b, err := hexutil.Decode("0x" + value[2:])
	if err != nil || !utf8.Valid(b) {
		return value
	}
	return string(b)
}

// Nominations resolves the current targets of a nominator, preserving target
// order. A target whose identity lookup fails keeps its address as label and
// carries the error. An account without nominations yields an empty record.
func (r *Resolver) Nominations(ctx context.Context, address string) (*domain.NominationRecord, error) {
	noms, err := r.nominations.Nominations(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("nominations of %s: %w", address, err)
	}
	if noms == nil || len(noms.Targets) == 0 {
		return &domain.NominationRecord{Targets: []domain.NominationTarget{}}, nil
	}

	targets := make([]domain.NominationTarget, len(noms.Targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i, target := range noms.Targets {
		g.Go(func() error {
			slot := domain.NominationTarget{Address: target, Identity: target}
			id, err := r.ResolveIdentity(gctx, target)
			if err != nil {
				r.logger.Warn().Err(err).Str("nominator", address).Str("target", target).Msg("identity lookup failed")
				slot.Err = err
			} else {
				slot.Identity = id.Label()
				slot.Verified = id.Verified
			}
			targets[i] = slot
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &domain.NominationRecord{Era: noms.SubmittedIn, Targets: targets}, nil
}
