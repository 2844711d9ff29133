package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-reward-report/internal/chain"
)

type stubRegistry struct {
	mu         sync.Mutex
	identities map[string]*chain.Registration
	supers     map[string]*chain.SuperIdentity
	nominated  map[string]*chain.Nominations
	failing    map[string]error
	calls      int
}

func (s *stubRegistry) IdentityOf(_ context.Context, address string) (*chain.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.failing[address]; err != nil {
		return nil, err
	}
	return s.identities[address], nil
}

func (s *stubRegistry) SuperOf(_ context.Context, address string) (*chain.SuperIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.supers[address], nil
}

func (s *stubRegistry) Nominations(_ context.Context, address string) (*chain.Nominations, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.nominated[address], nil
}

func newResolver(reg *stubRegistry, opts Options) *Resolver {
	return NewResolver(reg, reg, opts, zerolog.Nop())
}

func TestResolveIdentityOverrideSkipsChain(t *testing.T) {
	reg := &stubRegistry{}
	r := newResolver(reg, Options{Overrides: map[string]string{"addrA": "Our Validator"}})

	id, err := r.ResolveIdentity(context.Background(), "addrA")
	require.NoError(t, err)
	assert.Equal(t, "Our Validator", id.Name)
	assert.Zero(t, reg.calls)
}

func TestResolveIdentityDirect(t *testing.T) {
	reg := &stubRegistry{identities: map[string]*chain.Registration{
		"addrA": {Display: "0x414243", Judgements: []chain.Judgement{chain.JudgementKnownGood}},
	}}
	r := newResolver(reg, Options{})

	id, err := r.ResolveIdentity(context.Background(), "addrA")
	require.NoError(t, err)
	assert.Equal(t, "ABC", id.Name)
	assert.True(t, id.Verified)
	assert.Equal(t, "ABC", id.Label())
}

func TestResolveIdentityWithoutJudgements(t *testing.T) {
	reg := &stubRegistry{identities: map[string]*chain.Registration{
		"addrA": {Display: "0x414243"},
	}}
	r := newResolver(reg, Options{})

	id, err := r.ResolveIdentity(context.Background(), "addrA")
	require.NoError(t, err)
	assert.False(t, id.Verified)
}

func TestResolveIdentityFallsBackToAddress(t *testing.T) {
	reg := &stubRegistry{}
	r := newResolver(reg, Options{})

	id, err := r.ResolveIdentity(context.Background(), "addrA")
	require.NoError(t, err)
	assert.Equal(t, "addrA", id.Name)
	assert.False(t, id.Verified)
	assert.Equal(t, 2, reg.calls)
}

func TestResolveIdentityViaSuper(t *testing.T) {
	reg := &stubRegistry{
		identities: map[string]*chain.Registration{
			"parent": {Display: "0x506172656e74", Judgements: []chain.Judgement{chain.JudgementReasonable}},
		},
		supers: map[string]*chain.SuperIdentity{
			"child": {Parent: "parent", Sub: "0x6e6f64652d31"},
		},
	}
	r := newResolver(reg, Options{})

	id, err := r.ResolveIdentity(context.Background(), "child")
	require.NoError(t, err)
	assert.Equal(t, "Parent", id.Name)
	assert.Equal(t, "node-1", id.Sub)
	assert.True(t, id.Verified)
	assert.Equal(t, "Parent / node-1", id.Label())
}

func TestResolveIdentityCachesResult(t *testing.T) {
	reg := &stubRegistry{identities: map[string]*chain.Registration{
		"addrA": {Display: "0x414243"},
	}}
	r := newResolver(reg, Options{})

	for i := 0; i < 3; i++ {
		_, err := r.ResolveIdentity(context.Background(), "addrA")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, reg.calls)
}

func TestResolveIdentityPropagatesChainError(t *testing.T) {
	reg := &stubRegistry{failing: map[string]error{"addrA": errors.New("rpc down")}}
	r := newResolver(reg, Options{})

	_, err := r.ResolveIdentity(context.Background(), "addrA")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "addrA")
}

func TestVerifiedModes(t *testing.T) {
	goodThenUnknown := []chain.Judgement{chain.JudgementKnownGood, chain.JudgementUnknown}
	unknownThenGood := []chain.Judgement{chain.JudgementErroneous, chain.JudgementReasonable}

	assert.True(t, Verified(goodThenUnknown, VerifyAny))
	assert.False(t, Verified(goodThenUnknown, VerifyLast))
	assert.True(t, Verified(unknownThenGood, VerifyAny))
	assert.True(t, Verified(unknownThenGood, VerifyLast))
	assert.False(t, Verified(nil, VerifyAny))
	assert.False(t, Verified([]chain.Judgement{chain.JudgementFeePaid}, VerifyAny))
}

func TestDecodeRaw(t *testing.T) {
	cases := map[string]string{
		"0x414243": "ABC",
		"plain":    "plain",
		"":         "",
		"0xzz":     "0xzz",
		"0xff":     "0xff",
		"0xe29883": "☃",
	}
	for in, want := range cases {
		assert.Equal(t, want, DecodeRaw(in), "input %q", in)
	}
}

func TestNominationsPreservesOrder(t *testing.T) {
	reg := &stubRegistry{
		identities: map[string]*chain.Registration{
			"v1": {Display: "0x5631", Judgements: []chain.Judgement{chain.JudgementKnownGood}},
			"v3": {Display: "0x5633"},
		},
		nominated: map[string]*chain.Nominations{
			"nominator": {Targets: []string{"v1", "v2", "v3", "v4"}, SubmittedIn: 1234},
		},
		failing: map[string]error{"v4": errors.New("timeout")},
	}
	r := newResolver(reg, Options{Workers: 2, Overrides: map[string]string{"v2": "Friendly"}})

	rec, err := r.Nominations(context.Background(), "nominator")
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), rec.Era)
	require.Len(t, rec.Targets, 4)

	assert.Equal(t, "v1", rec.Targets[0].Address)
	assert.Equal(t, "V1", rec.Targets[0].Identity)
	assert.True(t, rec.Targets[0].Verified)
	assert.Equal(t, "Friendly", rec.Targets[1].Identity)
	assert.Equal(t, "V3", rec.Targets[2].Identity)
	assert.Equal(t, "v4", rec.Targets[3].Identity)
	assert.Error(t, rec.Targets[3].Err)
}

func TestNominationsNone(t *testing.T) {
	reg := &stubRegistry{}
	r := newResolver(reg, Options{})

	rec, err := r.Nominations(context.Background(), "nominator")
	require.NoError(t, err)
	assert.Zero(t, rec.Era)
	assert.Empty(t, rec.Targets)
	assert.NotNil(t, rec.Targets)
	assert.Equal(t, 1, reg.calls)
}
