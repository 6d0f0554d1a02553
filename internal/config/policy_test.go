package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePolicyAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	body := []byte(`settlement:
  assets:
    - code: DOT
      chain: polkadot
      decimals: 10
  chains:
    - name: polkadot
      toleranceBps: 100
  intent:
    defaultTTL: 30m
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settlement.yml"), body, 0o600))

	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, "settlement.yml"))
	require.NoError(t, v.ReadInConfig())

	policy, err := decodePolicy(v)
	require.NoError(t, err)

	chain, ok := policy.Chain("POLKADOT")
	require.True(t, ok)
	assert.Equal(t, int64(100), chain.ToleranceBps)
	assert.Equal(t, uint64(1), chain.ConfirmationDepth)
	assert.Equal(t, uint64(100), chain.MaxBlocksPerCycle)

	asset, ok := policy.Asset("dot")
	require.True(t, ok)
	assert.Equal(t, int32(10), asset.Decimals)

	assert.Equal(t, 30*time.Minute, policy.Intent.DefaultTTL)
	assert.Equal(t, 24*time.Hour, policy.Intent.MaxTTL)

	_, ok = policy.Fiat("usd")
	assert.True(t, ok)
}

func TestValidatePolicyRejectsUnknownChain(t *testing.T) {
	policy := DefaultPolicy()
	policy.Assets = append(policy.Assets, AssetPolicy{Code: "SOL", Chain: "solana", Decimals: 9})

	err := validatePolicy(policy)
	assert.Error(t, err)
}

func TestValidatePolicyRejectsTolerance(t *testing.T) {
	policy := DefaultPolicy()
	policy.Chains[0].ToleranceBps = 10_000

	assert.Error(t, validatePolicy(policy))
}

func TestStaticPolicyHolder(t *testing.T) {
	holder := NewStaticPolicyHolder(Policy{})
	policy := holder.Get()

	assert.NotEmpty(t, policy.Assets)
	assert.Len(t, policy.AssetsForChain("ethereum"), 2)
}
