package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/webhookendpoint/domain"
	"github.com/smallbiznis/settlement/internal/webhookendpoint/repository"
	"github.com/smallbiznis/settlement/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const signingSecret = "whsec_0123456789abcdef"

func newService(t *testing.T, key string) (domain.Service, *clock.FakeClock) {
	t.Helper()
	db := dbtest.Open(t, &domain.Endpoint{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	return New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Cfg:   config.Config{WebhookSecretKey: key},
		Repo:  repository.Provide(),
	}), clk
}

func TestUpsertSealsSecretAndResolveOpensIt(t *testing.T) {
	svc, _ := newService(t, "master-key")

	endpoint, err := svc.Upsert(context.Background(), domain.UpsertRequest{
		MerchantID: 7,
		URL:        " https://merchant.example/hooks ",
		Secret:     signingSecret,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://merchant.example/hooks", endpoint.URL)
	assert.NotContains(t, string(endpoint.Secret), signingSecret)

	target, err := svc.Resolve(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "https://merchant.example/hooks", target.URL)
	assert.Equal(t, signingSecret, string(target.Secret))
}

func TestUpsertRotatesInPlace(t *testing.T) {
	svc, clk := newService(t, "master-key")

	first, err := svc.Upsert(context.Background(), domain.UpsertRequest{MerchantID: 7, URL: "https://a.example/hook", Secret: signingSecret})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	second, err := svc.Upsert(context.Background(), domain.UpsertRequest{MerchantID: 7, URL: "https://b.example/hook", Secret: "whsec_rotated_0000000"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	target, err := svc.Resolve(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "https://b.example/hook", target.URL)
	assert.Equal(t, "whsec_rotated_0000000", string(target.Secret))
}

func TestUpsertValidation(t *testing.T) {
	svc, _ := newService(t, "master-key")

	cases := []struct {
		name string
		req  domain.UpsertRequest
		want error
	}{
		{name: "merchant", req: domain.UpsertRequest{URL: "https://a.example", Secret: signingSecret}, want: domain.ErrInvalidMerchant},
		{name: "scheme", req: domain.UpsertRequest{MerchantID: 1, URL: "ftp://a.example", Secret: signingSecret}, want: domain.ErrInvalidURL},
		{name: "host", req: domain.UpsertRequest{MerchantID: 1, URL: "https://", Secret: signingSecret}, want: domain.ErrInvalidURL},
		{name: "secret", req: domain.UpsertRequest{MerchantID: 1, URL: "https://a.example", Secret: "short"}, want: domain.ErrInvalidSecret},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Upsert(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestResolveInactiveOrMissing(t *testing.T) {
	svc, _ := newService(t, "master-key")

	_, err := svc.Resolve(context.Background(), 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Upsert(context.Background(), domain.UpsertRequest{MerchantID: 7, URL: "https://a.example/hook", Secret: signingSecret})
	require.NoError(t, err)
	require.NoError(t, svc.SetActive(context.Background(), 7, false))

	_, err = svc.Resolve(context.Background(), 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMissingMasterKey(t *testing.T) {
	svc, _ := newService(t, "")
	_, err := svc.Upsert(context.Background(), domain.UpsertRequest{MerchantID: 7, URL: "https://a.example/hook", Secret: signingSecret})
	assert.ErrorIs(t, err, domain.ErrEncryptionKeyMissing)
}

func TestSealerRejectsTampering(t *testing.T) {
	box, err := newSealer("master-key")
	require.NoError(t, err)

	sealed, err := box.seal([]byte(signingSecret))
	require.NoError(t, err)

	other, err := newSealer("other-key")
	require.NoError(t, err)
	_, err = other.open(sealed)
	assert.ErrorIs(t, err, domain.ErrSealedSecretInvalid)

	_, err = box.open([]byte(`{"version":2}`))
	assert.ErrorIs(t, err, domain.ErrSealedSecretInvalid)
}
