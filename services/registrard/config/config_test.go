package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"caregistrar/crypto"
	"caregistrar/native/names"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalYAML = `
auth:
  hmac_secret: s3cret
oracle:
  sources:
    - type: static
      price: 2000
      exponent: -2
`

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "registrard.yaml", minimalYAML))
	require.NoError(t, err)

	require.Equal(t, ":7080", cfg.ListenAddress)
	require.Equal(t, "memory", cfg.Store.Backend)
	require.Equal(t, "sqlite", cfg.Journal.Driver)
	require.NotEmpty(t, cfg.Journal.DSN)
	require.Equal(t, names.DefaultFeedID, cfg.Oracle.FeedID)
	require.Equal(t, names.DefaultMaxQuoteAge, cfg.Oracle.MaxAge.Duration)
	require.Equal(t, DefaultOracleTimeout, cfg.Oracle.Timeout.Duration)
	require.Equal(t, uint64(names.DefaultNativeBaseUnits), cfg.Pricing.NativeBaseUnits)
	require.Equal(t, "ca.", cfg.DNS.Zone)
	require.Len(t, cfg.Oracle.Sources, 1)
	require.Equal(t, "static", cfg.Oracle.Sources[0].Name)
	require.Equal(t, int32(-2), cfg.Oracle.Sources[0].Exponent)
}

func TestLoadTOML(t *testing.T) {
	body := `
listen = ":9000"

[store]
backend = "bolt"
path = "/tmp/names.db"

[oracle]
max_age = "30s"

[[oracle.sources]]
name = "hermes"
type = "hermes"
endpoint = "https://hermes.example"

[bootstrap]
base_price_usd_cents = 500
grace_period = "720h"

[auth]
hmac_secret = "toml-secret"
`
	cfg, err := Load(writeFile(t, "registrard.toml", body))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, "bolt", cfg.Store.Backend)
	require.Equal(t, 30*time.Second, cfg.Oracle.MaxAge.Duration)
	require.Equal(t, 720*time.Hour, cfg.Bootstrap.GracePeriod.Duration)
	require.Equal(t, uint64(500), cfg.Bootstrap.BasePriceUSDCents)
	require.Equal(t, "https://hermes.example", cfg.Oracle.Sources[0].Endpoint)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("REGISTRARD_LISTEN", ":8181")
	t.Setenv("REGISTRARD_AUTH_SECRET", "from-env")
	t.Setenv("REGISTRARD_ORACLE_MAX_AGE", "15s")
	t.Setenv("REGISTRARD_RATE_LIMIT_BURST", "3")

	cfg, err := Load(writeFile(t, "registrard.yaml", minimalYAML))
	require.NoError(t, err)
	require.Equal(t, ":8181", cfg.ListenAddress)
	require.Equal(t, "from-env", cfg.Auth.HMACSecret)
	require.Equal(t, 15*time.Second, cfg.Oracle.MaxAge.Duration)
	require.Equal(t, 3, cfg.RateLimit.Burst)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"missing secret": `
oracle:
  sources:
    - type: static
      price: 1
`,
		"no sources": `
auth:
  hmac_secret: x
`,
		"unknown source": `
auth:
  hmac_secret: x
oracle:
  sources:
    - type: chainlink
`,
		"hermes without endpoint": `
auth:
  hmac_secret: x
oracle:
  sources:
    - type: hermes
`,
		"disk backend without path": `
auth:
  hmac_secret: x
store:
  backend: leveldb
oracle:
  sources:
    - type: static
      price: 1
`,
		"bad authority": `
auth:
  hmac_secret: x
bootstrap:
  authority: not-an-identity
oracle:
  sources:
    - type: static
      price: 1
`,
		"static outside dev": `
environment: prod
auth:
  hmac_secret: x
oracle:
  sources:
    - type: hermes
      endpoint: https://hermes.example
    - type: static
      price: 1
`,
		"unknown field": `
auth:
  hmac_secret: x
listn: ":1"
oracle:
  sources:
    - type: static
      price: 1
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "registrard.yaml", body))
			require.Error(t, err)
		})
	}
}

func TestStaticSourceAllowedInDevEnvironments(t *testing.T) {
	for _, env := range []string{"dev", "Local", "test"} {
		cfg, err := Load(writeFile(t, "registrard.yaml", "environment: "+env+"\n"+minimalYAML))
		require.NoError(t, err, env)
		require.Equal(t, "static", cfg.Oracle.Sources[0].Type)
	}
	require.False(t, IsDevEnvironment("prod"))
	require.False(t, IsDevEnvironment(""))
}

func TestVaultIdentity(t *testing.T) {
	cfg := Config{}
	require.Equal(t, ModuleVault(), cfg.VaultIdentity())

	var raw [20]byte
	raw[19] = 7
	cfg.Custody.Vault = crypto.FormatIdentity(raw)
	require.Equal(t, raw, cfg.VaultIdentity())
}
