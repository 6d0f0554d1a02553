package seed

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	addressdomain "github.com/smallbiznis/settlement/internal/addresspool/domain"
	"github.com/smallbiznis/settlement/internal/config"
	webhookdomain "github.com/smallbiznis/settlement/internal/webhookendpoint/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAddresses struct {
	addressdomain.Service
	chain string
	seen  map[string]bool
}

func (f *fakeAddresses) Register(_ context.Context, chain string, addresses []string) (int, error) {
	f.chain = chain
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	added := 0
	for _, addr := range addresses {
		if !f.seen[addr] {
			f.seen[addr] = true
			added++
		}
	}
	return added, nil
}

type fakeEndpoints struct {
	webhookdomain.Service
	req webhookdomain.UpsertRequest
}

func (f *fakeEndpoints) Upsert(_ context.Context, req webhookdomain.UpsertRequest) (webhookdomain.Endpoint, error) {
	f.req = req
	return webhookdomain.Endpoint{ID: 5, MerchantID: req.MerchantID, URL: req.URL}, nil
}

func params(cfg config.SeedConfig, addresses *fakeAddresses, endpoints *fakeEndpoints) Params {
	return Params{
		Log:       zap.NewNop(),
		Cfg:       config.Config{Seed: cfg},
		Addresses: addresses,
		Endpoints: endpoints,
	}
}

func TestRunSeedsAddressesAndEndpoint(t *testing.T) {
	addresses := &fakeAddresses{}
	endpoints := &fakeEndpoints{}
	cfg := config.SeedConfig{
		Chain:         "polkadot",
		Addresses:     []string{"addr-1", "addr-2"},
		MerchantID:    1001,
		WebhookURL:    "http://localhost:9000/hooks",
		WebhookSecret: "local-signing-secret",
	}

	result, err := Run(context.Background(), params(cfg, addresses, endpoints))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Registered)
	assert.Equal(t, snowflake.ID(5), result.EndpointID)
	assert.Equal(t, "polkadot", addresses.chain)
	assert.Equal(t, snowflake.ID(1001), endpoints.req.MerchantID)

	again, err := Run(context.Background(), params(cfg, addresses, endpoints))
	require.NoError(t, err)
	assert.Zero(t, again.Registered)
}

func TestRunValidatesInput(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.SeedConfig
		want error
	}{
		{name: "empty", cfg: config.SeedConfig{}, want: ErrNothingToSeed},
		{name: "no chain", cfg: config.SeedConfig{Addresses: []string{"a"}}, want: ErrChainRequired},
		{name: "no merchant", cfg: config.SeedConfig{WebhookURL: "http://localhost/hooks"}, want: ErrMerchantNeeded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Run(context.Background(), params(tc.cfg, &fakeAddresses{}, &fakeEndpoints{}))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
