package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/notification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("notification.service"),
		repo: p.Repo,
	}
}

func (s *Service) ListForIntent(ctx context.Context, intentID snowflake.ID) ([]domain.Event, error) {
	if intentID == 0 {
		return nil, domain.ErrNotFound
	}

	items, err := s.repo.ListByIntent(ctx, s.db, intentID)
	if err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		events = append(events, *item)
	}
	return events, nil
}
