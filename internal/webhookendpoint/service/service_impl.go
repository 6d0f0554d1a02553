package service

import (
	"context"
	"net/url"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/webhookendpoint/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const minSecretLength = 16

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config
	Repo  domain.Repository
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	repo   domain.Repository
	sealer *sealer
}

func New(p Params) domain.Service {
	log := p.Log.Named("webhookendpoint.service")
	box, err := newSealer(strings.TrimSpace(p.Cfg.WebhookSecretKey))
	if err != nil {
		log.Warn("webhook secret key unavailable, endpoints cannot be stored or resolved", zap.Error(err))
	}

	return &Service{
		db:     p.DB,
		log:    log,
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		sealer: box,
	}
}

func (s *Service) Upsert(ctx context.Context, req domain.UpsertRequest) (domain.Endpoint, error) {
	if req.MerchantID == 0 {
		return domain.Endpoint{}, domain.ErrInvalidMerchant
	}
	target, err := normalizeURL(req.URL)
	if err != nil {
		return domain.Endpoint{}, err
	}
	secret := strings.TrimSpace(req.Secret)
	if len(secret) < minSecretLength {
		return domain.Endpoint{}, domain.ErrInvalidSecret
	}
	if s.sealer == nil {
		return domain.Endpoint{}, domain.ErrEncryptionKeyMissing
	}

	sealed, err := s.sealer.seal([]byte(secret))
	if err != nil {
		return domain.Endpoint{}, err
	}

	existing, err := s.repo.FindByMerchant(ctx, s.db, req.MerchantID)
	if err != nil {
		return domain.Endpoint{}, err
	}

	now := s.clock.Now()
	endpoint := domain.Endpoint{
		ID:         s.genID.Generate(),
		MerchantID: req.MerchantID,
		URL:        target,
		Secret:     sealed,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing != nil {
		endpoint.ID = existing.ID
		endpoint.CreatedAt = existing.CreatedAt
	}

	if err := s.repo.Upsert(ctx, s.db, &endpoint); err != nil {
		return domain.Endpoint{}, err
	}

	action := "webhook endpoint registered"
	if existing != nil {
		action = "webhook endpoint rotated"
	}
	s.log.Info(action,
		zap.String("merchant_id", req.MerchantID.String()),
		zap.String("url", target),
	)
	return endpoint, nil
}

func (s *Service) SetActive(ctx context.Context, merchantID snowflake.ID, active bool) error {
	if merchantID == 0 {
		return domain.ErrInvalidMerchant
	}
	updated, err := s.repo.SetActive(ctx, s.db, merchantID, active, s.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) Resolve(ctx context.Context, merchantID snowflake.ID) (domain.Target, error) {
	endpoint, err := s.repo.FindByMerchant(ctx, s.db, merchantID)
	if err != nil {
		return domain.Target{}, err
	}
	if endpoint == nil || !endpoint.IsActive {
		return domain.Target{}, domain.ErrNotFound
	}
	if s.sealer == nil {
		return domain.Target{}, domain.ErrEncryptionKeyMissing
	}

	secret, err := s.sealer.open(endpoint.Secret)
	if err != nil {
		return domain.Target{}, err
	}
	return domain.Target{URL: endpoint.URL, Secret: secret}, nil
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", domain.ErrInvalidURL
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return "", domain.ErrInvalidURL
	}
	return parsed.String(), nil
}
