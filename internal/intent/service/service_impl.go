package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	addressdomain "github.com/smallbiznis/settlement/internal/addresspool/domain"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/intent/domain"
	"github.com/smallbiznis/settlement/internal/intent/transition"
	"github.com/smallbiznis/settlement/internal/observability/metrics"
	quotedomain "github.com/smallbiznis/settlement/internal/quote/domain"
	"github.com/smallbiznis/settlement/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Policy      *config.PolicyHolder
	Repo        domain.Repository
	Quotes      quotedomain.Provider
	Addresses   addressdomain.Service
	Transitions *transition.Transitioner
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	policy      *config.PolicyHolder
	repo        domain.Repository
	quotes      quotedomain.Provider
	addresses   addressdomain.Service
	transitions *transition.Transitioner
	metrics     *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("intent.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		policy:      p.Policy,
		repo:        p.Repo,
		quotes:      p.Quotes,
		addresses:   p.Addresses,
		transitions: p.Transitions,
		metrics:     p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateIntentRequest) (domain.PaymentIntent, error) {
	if req.MerchantID == 0 {
		return domain.PaymentIntent{}, domain.ErrInvalidMerchant
	}

	policy := s.policy.Get()
	if req.FiatAmount <= 0 || req.FiatAmount > policy.Intent.MaxFiatAmount {
		return domain.PaymentIntent{}, domain.ErrInvalidAmount
	}
	fiat, ok := policy.Fiat(req.FiatCurrency)
	if !ok {
		return domain.PaymentIntent{}, domain.ErrInvalidCurrency
	}
	asset, ok := policy.Asset(req.CryptoCurrency)
	if !ok {
		return domain.PaymentIntent{}, domain.ErrInvalidCurrency
	}
	if err := validateMetadata(req.Metadata, policy.Intent); err != nil {
		return domain.PaymentIntent{}, err
	}
	ttl, err := resolveTTL(req.TTL, policy.Intent)
	if err != nil {
		return domain.PaymentIntent{}, err
	}

	quote, err := s.quotes.Quote(ctx, quotedomain.Request{
		FiatAmount:     req.FiatAmount,
		FiatCurrency:   fiat.Code,
		CryptoCurrency: asset.Code,
	})
	if err != nil {
		if errors.Is(err, quotedomain.ErrUnsupportedPair) {
			return domain.PaymentIntent{}, domain.ErrInvalidCurrency
		}
		s.log.Warn("quote failed",
			zap.String("fiat_currency", fiat.Code),
			zap.String("crypto_currency", asset.Code),
			zap.Error(err),
		)
		return domain.PaymentIntent{}, fmt.Errorf("%w: %v", domain.ErrQuoteUnavailable, err)
	}
	if !quote.CryptoAmount.IsPositive() {
		return domain.PaymentIntent{}, domain.ErrInvalidAmount
	}

	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	now := s.clock.Now()
	intent := domain.PaymentIntent{
		ID:             s.genID.Generate(),
		MerchantID:     req.MerchantID,
		FiatAmount:     req.FiatAmount,
		FiatCurrency:   fiat.Code,
		CryptoAmount:   quote.CryptoAmount,
		CryptoCurrency: asset.Code,
		Chain:          strings.ToLower(asset.Chain),
		Status:         domain.StatusRequiresPayment,
		QuoteAsOf:      quote.AsOf.UTC(),
		ExpiresAt:      now.Add(ttl),
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		address, err := s.addresses.Assign(ctx, tx, intent.Chain, intent.ID)
		if err != nil {
			return err
		}
		intent.DestinationAddress = address
		return s.repo.Insert(ctx, tx, &intent)
	})
	if err != nil {
		// The open-address unique index rejects a lost assignment race.
		if errors.Is(err, addressdomain.ErrNoAddressAvailable) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.PaymentIntent{}, domain.ErrNoAddressAvailable
		}
		return domain.PaymentIntent{}, err
	}

	s.metrics.RecordIntentCreated(ctx, intent.CryptoCurrency)
	s.log.Info("payment intent created",
		zap.String("intent_id", intent.ID.String()),
		zap.String("merchant_id", intent.MerchantID.String()),
		zap.String("chain", intent.Chain),
		zap.String("crypto_amount", intent.CryptoAmount.String()),
		zap.Time("expires_at", intent.ExpiresAt),
	)
	return intent, nil
}

func (s *Service) Get(ctx context.Context, req domain.GetIntentRequest) (domain.PaymentIntent, error) {
	intent, err := s.load(ctx, req.MerchantID, req.ID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	return *intent, nil
}

func (s *Service) Cancel(ctx context.Context, req domain.CancelIntentRequest) (domain.PaymentIntent, error) {
	intent, err := s.load(ctx, req.MerchantID, req.ID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if intent.Status != domain.StatusRequiresPayment {
		return domain.PaymentIntent{}, domain.ErrInvalidStateTransition
	}

	result, err := s.transitions.Run(ctx, domain.TransitionParams{
		ID:   intent.ID,
		From: domain.StatusRequiresPayment,
		To:   domain.StatusCanceled,
		Now:  s.clock.Now(),
	})
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	return result.Intent, nil
}

func (s *Service) List(ctx context.Context, req domain.ListIntentRequest) (domain.ListIntentResponse, error) {
	if req.MerchantID == 0 {
		return domain.ListIntentResponse{}, domain.ErrInvalidMerchant
	}

	filter := domain.ListIntentFilter{}
	if value := strings.ToUpper(strings.TrimSpace(req.Status)); value != "" {
		status, ok := domain.ParseStatus(value)
		if !ok {
			return domain.ListIntentResponse{}, domain.ErrInvalidStatus
		}
		filter.Status = status
	}

	pageSize := int(req.PageSize)
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	items, err := s.repo.List(ctx, s.db, req.MerchantID, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return domain.ListIntentResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(intent *domain.PaymentIntent) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        intent.ID.String(),
			CreatedAt: intent.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	intents := make([]domain.PaymentIntent, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		intents = append(intents, *item)
	}

	return domain.ListIntentResponse{PageInfo: pageInfo, Intents: intents}, nil
}

func (s *Service) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	now := s.clock.Now()
	ids, err := s.repo.ListOverdue(ctx, s.db, now, limit)
	if err != nil {
		return 0, err
	}

	var (
		expired int
		errs    []error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		_, err := s.transitions.Run(ctx, domain.TransitionParams{
			ID:        id,
			From:      domain.StatusRequiresPayment,
			To:        domain.StatusExpired,
			Now:       now,
			ExpiredAt: &now,
		})
		if errors.Is(err, domain.ErrInvalidStateTransition) {
			// matched or canceled since the scan
			continue
		}
		if err != nil {
			s.log.Warn("expire intent failed", zap.String("intent_id", id.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("expire %s: %w", id, err))
			continue
		}
		expired++
	}
	return expired, errors.Join(errs...)
}

func (s *Service) load(ctx context.Context, merchantID snowflake.ID, rawID string) (*domain.PaymentIntent, error) {
	id, err := parseID(rawID)
	if err != nil {
		return nil, err
	}
	intent, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if intent == nil || (merchantID != 0 && intent.MerchantID != merchantID) {
		return nil, domain.ErrNotFound
	}
	return intent, nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func resolveTTL(ttl time.Duration, policy config.IntentPolicy) (time.Duration, error) {
	if ttl == 0 {
		return policy.DefaultTTL, nil
	}
	if ttl < policy.MinTTL || ttl > policy.MaxTTL {
		return 0, domain.ErrInvalidTTL
	}
	return ttl, nil
}

func validateMetadata(metadata map[string]any, policy config.IntentPolicy) error {
	if len(metadata) > policy.MetadataMaxKeys {
		return domain.ErrMetadataTooLarge
	}
	for key, value := range metadata {
		if strings.TrimSpace(key) == "" || len(key) > policy.MetadataMaxKeyLength {
			return domain.ErrMetadataTooLarge
		}
		size := 0
		switch v := value.(type) {
		case string:
			size = len(v)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return domain.ErrMetadataTooLarge
			}
			size = len(b)
		}
		if size > policy.MetadataMaxValueLength {
			return domain.ErrMetadataTooLarge
		}
	}
	return nil
}
