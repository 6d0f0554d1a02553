package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Policy holds settlement rules that operators tune without a restart.
type Policy struct {
	FiatCurrencies []FiatCurrency `mapstructure:"fiatCurrencies"`
	Assets         []AssetPolicy  `mapstructure:"assets"`
	Chains         []ChainPolicy  `mapstructure:"chains"`
	Intent         IntentPolicy   `mapstructure:"intent"`
}

type FiatCurrency struct {
	Code     string `mapstructure:"code"`
	Exponent int32  `mapstructure:"exponent"`
}

// AssetPolicy describes a crypto asset accepted for settlement. Contract is
// empty for the chain's native coin.
type AssetPolicy struct {
	Code     string `mapstructure:"code"`
	Chain    string `mapstructure:"chain"`
	Decimals int32  `mapstructure:"decimals"`
	Contract string `mapstructure:"contract"`
}

type ChainPolicy struct {
	Name              string `mapstructure:"name"`
	ConfirmationDepth uint64 `mapstructure:"confirmationDepth"`
	// ToleranceBps is the accepted deviation from the quoted amount, in basis points.
	ToleranceBps      int64  `mapstructure:"toleranceBps"`
	AcceptOverpayment bool   `mapstructure:"acceptOverpayment"`
	MaxBlocksPerCycle uint64 `mapstructure:"maxBlocksPerCycle"`
	StartHeight       uint64 `mapstructure:"startHeight"`
}

type IntentPolicy struct {
	MaxFiatAmount          int64         `mapstructure:"maxFiatAmount"`
	DefaultTTL             time.Duration `mapstructure:"defaultTTL"`
	MinTTL                 time.Duration `mapstructure:"minTTL"`
	MaxTTL                 time.Duration `mapstructure:"maxTTL"`
	MetadataMaxKeys        int           `mapstructure:"metadataMaxKeys"`
	MetadataMaxKeyLength   int           `mapstructure:"metadataMaxKeyLength"`
	MetadataMaxValueLength int           `mapstructure:"metadataMaxValueLength"`
	AddressCooldown        time.Duration `mapstructure:"addressCooldown"`
}

func DefaultPolicy() Policy {
	return Policy{
		FiatCurrencies: []FiatCurrency{
			{Code: "USD", Exponent: 2},
			{Code: "EUR", Exponent: 2},
			{Code: "IDR", Exponent: 2},
			{Code: "JPY", Exponent: 0},
		},
		Assets: []AssetPolicy{
			{Code: "ETH", Chain: "ethereum", Decimals: 18},
			{Code: "USDC", Chain: "ethereum", Decimals: 6, Contract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"},
		},
		Chains: []ChainPolicy{
			{Name: "ethereum", ConfirmationDepth: 12, ToleranceBps: 50, MaxBlocksPerCycle: 100},
		},
		Intent: defaultIntentPolicy(),
	}
}

func defaultIntentPolicy() IntentPolicy {
	return IntentPolicy{
		MaxFiatAmount:          100_000_000,
		DefaultTTL:             15 * time.Minute,
		MinTTL:                 time.Minute,
		MaxTTL:                 24 * time.Hour,
		MetadataMaxKeys:        20,
		MetadataMaxKeyLength:   40,
		MetadataMaxValueLength: 500,
		AddressCooldown:        time.Hour,
	}
}

func (p Policy) withDefaults() Policy {
	defaults := DefaultPolicy()
	if len(p.FiatCurrencies) == 0 {
		p.FiatCurrencies = defaults.FiatCurrencies
	}
	if len(p.Assets) == 0 {
		p.Assets = defaults.Assets
	}
	if len(p.Chains) == 0 {
		p.Chains = defaults.Chains
	}
	for i := range p.Chains {
		if p.Chains[i].ConfirmationDepth == 0 {
			p.Chains[i].ConfirmationDepth = 1
		}
		if p.Chains[i].MaxBlocksPerCycle == 0 {
			p.Chains[i].MaxBlocksPerCycle = 100
		}
	}

	intent := defaultIntentPolicy()
	if p.Intent.MaxFiatAmount <= 0 {
		p.Intent.MaxFiatAmount = intent.MaxFiatAmount
	}
	if p.Intent.DefaultTTL <= 0 {
		p.Intent.DefaultTTL = intent.DefaultTTL
	}
	if p.Intent.MinTTL <= 0 {
		p.Intent.MinTTL = intent.MinTTL
	}
	if p.Intent.MaxTTL <= 0 {
		p.Intent.MaxTTL = intent.MaxTTL
	}
	if p.Intent.MetadataMaxKeys <= 0 {
		p.Intent.MetadataMaxKeys = intent.MetadataMaxKeys
	}
	if p.Intent.MetadataMaxKeyLength <= 0 {
		p.Intent.MetadataMaxKeyLength = intent.MetadataMaxKeyLength
	}
	if p.Intent.MetadataMaxValueLength <= 0 {
		p.Intent.MetadataMaxValueLength = intent.MetadataMaxValueLength
	}
	if p.Intent.AddressCooldown <= 0 {
		p.Intent.AddressCooldown = intent.AddressCooldown
	}
	return p
}

// Fiat looks up a supported fiat currency by ISO code.
func (p Policy) Fiat(code string) (FiatCurrency, bool) {
	for _, item := range p.FiatCurrencies {
		if strings.EqualFold(item.Code, strings.TrimSpace(code)) {
			return item, true
		}
	}
	return FiatCurrency{}, false
}

func (p Policy) Asset(code string) (AssetPolicy, bool) {
	for _, item := range p.Assets {
		if strings.EqualFold(item.Code, strings.TrimSpace(code)) {
			return item, true
		}
	}
	return AssetPolicy{}, false
}

func (p Policy) AssetsForChain(chain string) []AssetPolicy {
	out := make([]AssetPolicy, 0, len(p.Assets))
	for _, item := range p.Assets {
		if strings.EqualFold(item.Chain, chain) {
			out = append(out, item)
		}
	}
	return out
}

func (p Policy) Chain(name string) (ChainPolicy, bool) {
	for _, item := range p.Chains {
		if strings.EqualFold(item.Name, strings.TrimSpace(name)) {
			return item, true
		}
	}
	return ChainPolicy{}, false
}

func validatePolicy(p Policy) error {
	seen := map[string]struct{}{}
	for _, chain := range p.Chains {
		name := strings.ToLower(strings.TrimSpace(chain.Name))
		if name == "" {
			return errors.New("settlement.chains[].name cannot be empty")
		}
		if chain.ToleranceBps < 0 || chain.ToleranceBps >= 10_000 {
			return fmt.Errorf("settlement.chains[%s].toleranceBps out of range", name)
		}
		seen[name] = struct{}{}
	}
	for _, asset := range p.Assets {
		if strings.TrimSpace(asset.Code) == "" {
			return errors.New("settlement.assets[].code cannot be empty")
		}
		if _, ok := seen[strings.ToLower(strings.TrimSpace(asset.Chain))]; !ok {
			return fmt.Errorf("settlement.assets[%s] references unknown chain %q", asset.Code, asset.Chain)
		}
		if asset.Decimals < 0 || asset.Decimals > 36 {
			return fmt.Errorf("settlement.assets[%s].decimals out of range", asset.Code)
		}
	}
	for _, fiat := range p.FiatCurrencies {
		if len(strings.TrimSpace(fiat.Code)) != 3 {
			return fmt.Errorf("settlement.fiatCurrencies[%s] is not an ISO 4217 code", fiat.Code)
		}
	}
	if p.Intent.MinTTL > p.Intent.MaxTTL {
		return errors.New("settlement.intent.minTTL exceeds maxTTL")
	}
	return nil
}

type PolicyHolder struct {
	current atomic.Value // holds Policy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(p Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(p.withDefaults())
	return holder
}

func NewPolicyHolder(log *zap.Logger) (*PolicyHolder, error) {
	log = log.Named("config.policy")
	v := viper.New()

	v.SetConfigName("settlement")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/settlement/config")
	v.AddConfigPath("/etc/settlement")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SETTLEMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Info("settlement policy file not found, using defaults")
		return NewStaticPolicyHolder(DefaultPolicy()), nil
	}

	policy, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePolicy(v)
		if err != nil {
			log.Warn("invalid settlement policy ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("settlement policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func decodePolicy(v *viper.Viper) (Policy, error) {
	var policy Policy
	if err := v.UnmarshalKey("settlement", &policy); err != nil {
		return Policy{}, err
	}
	policy = policy.withDefaults()
	if err := validatePolicy(policy); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

func (h *PolicyHolder) Get() Policy {
	return h.current.Load().(Policy)
}
