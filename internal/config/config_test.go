package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-reward-report/internal/domain"
)

const (
	alice = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	bob   = "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty"
)

const sampleYAML = `
report:
  from: "2024-01-01"
  to: "2024-02-01T00:00:00Z"
  price_currency: usd
  volume_currency: eur
accounts:
  - address: ` + alice + `
    name: Alice Stash 1
    role: Validator
  - address: ` + bob + `
    name: Bob
    role: nominator
identities:
  - address: ` + bob + `
    name: Bob (trusted)
chain:
  rpc_url: wss://example.invalid
retry:
  initial_interval: 250ms
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Subscan.PageSize)
	assert.Equal(t, int32(10), cfg.Chain.Decimals)
	assert.Equal(t, 8, cfg.Concurrency.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, "any", cfg.Identity.Verification)
	assert.Equal(t, "wss://example.invalid", cfg.Chain.RPCURL)

	from, to, err := cfg.Window(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), to)

	accounts := cfg.DomainAccounts()
	require.Len(t, accounts, 2)
	assert.Equal(t, domain.RoleValidator, accounts[0].Role)
	assert.Equal(t, domain.RoleNominator, accounts[1].Role)

	overrides := cfg.IdentityOverrides()
	assert.Equal(t, "Alice Stash 1", overrides[alice])
	assert.Equal(t, "Bob (trusted)", overrides[bob])
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("REWARDREPORT_SUBSCAN_API_KEY", "secret")
	t.Setenv("REWARDREPORT_CONCURRENCY_WORKERS", "3")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Subscan.APIKey)
	assert.Equal(t, 3, cfg.Concurrency.Workers)
}

func TestValidateRejectsBadInput(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, sampleYAML))
		require.NoError(t, err)
		return cfg
	}

	cases := map[string]func(c *Config){
		"no accounts":       func(c *Config) { c.Accounts = nil },
		"bad address":       func(c *Config) { c.Accounts[0].Address = "not-an-address" },
		"bad role":          func(c *Config) { c.Accounts[0].Role = "collator" },
		"inverted window":   func(c *Config) { c.Report.From, c.Report.To = c.Report.To, c.Report.From },
		"malformed from":    func(c *Config) { c.Report.From = "yesterday" },
		"zero workers":      func(c *Config) { c.Concurrency.Workers = 0 },
		"zero page size":    func(c *Config) { c.Subscan.PageSize = 0 },
		"bad verification":  func(c *Config) { c.Identity.Verification = "majority" },
		"telegram no token": func(c *Config) { c.Alerting.Telegram.Enabled = true },
		"override no name":  func(c *Config) { c.Identities[0].Name = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseTime(t *testing.T) {
	got, err := ParseTime("2024-03-05")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseTime("2024-03-05T10:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC), got)

	_, err = ParseTime("05/03/2024")
	assert.Error(t, err)
}

func TestWindowFromFlagsWhenConfigOmitsIt(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	cfg.Report.From, cfg.Report.To = "", ""
	require.NoError(t, cfg.Validate())

	_, _, err = cfg.Window(nil, nil)
	assert.ErrorContains(t, err, "--from")

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	gotFrom, gotTo, err := cfg.Window(&from, &to)
	require.NoError(t, err)
	assert.Equal(t, from, gotFrom)
	assert.Equal(t, to, gotTo)

	_, _, err = cfg.Window(&to, &from)
	assert.Error(t, err)
}

func TestWindowPartialOverride(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	to := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	from, got, err := cfg.Window(nil, &to)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, to, got)
}
