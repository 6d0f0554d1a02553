package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/addresspool/domain"
	chaindomain "github.com/smallbiznis/settlement/internal/chain/domain"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// assignCandidates bounds how many addresses one assignment races for.
const assignCandidates = 5

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Policy *config.PolicyHolder
	Repo   domain.Repository
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	policy *config.PolicyHolder
	repo   domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("addresspool.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		policy: p.Policy,
		repo:   p.Repo,
	}
}

func (s *Service) Assign(ctx context.Context, tx *gorm.DB, chain string, intentID snowflake.ID) (string, error) {
	chain = strings.ToLower(strings.TrimSpace(chain))
	if chain == "" {
		return "", domain.ErrInvalidChain
	}

	now := s.clock.Now()
	cutoff := now.Add(-s.policy.Get().Intent.AddressCooldown)

	candidates, err := s.repo.ListAvailable(ctx, tx, chain, cutoff, assignCandidates)
	if err != nil {
		return "", err
	}
	for _, candidate := range candidates {
		ok, err := s.repo.Assign(ctx, tx, candidate.ID, candidate.Version, intentID, now)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate.Address, nil
		}
		s.log.Debug("address taken concurrently",
			zap.String("chain", chain),
			zap.String("address", candidate.Address),
		)
	}
	return "", domain.ErrNoAddressAvailable
}

func (s *Service) Register(ctx context.Context, chain string, addresses []string) (int, error) {
	chain = strings.ToLower(strings.TrimSpace(chain))
	if _, ok := s.policy.Get().Chain(chain); !ok {
		return 0, domain.ErrInvalidChain
	}

	now := s.clock.Now()
	added := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, raw := range addresses {
			address := chaindomain.NormalizeAddress(raw)
			if address == "" {
				return domain.ErrInvalidAddress
			}
			inserted, err := s.repo.InsertIgnore(ctx, tx, &domain.DepositAddress{
				ID:        s.genID.Generate(),
				Chain:     chain,
				Address:   address,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if err != nil {
				return err
			}
			if inserted {
				added++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("deposit addresses registered", zap.String("chain", chain), zap.Int("added", added))
	return added, nil
}

func (s *Service) Watched(ctx context.Context, chain string) (map[string]struct{}, error) {
	addresses, err := s.repo.ListAddresses(ctx, s.db, strings.ToLower(chain))
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(addresses))
	for _, address := range addresses {
		out[address] = struct{}{}
	}
	return out, nil
}
