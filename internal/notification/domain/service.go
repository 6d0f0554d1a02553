package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	ListForIntent(ctx context.Context, intentID snowflake.ID) ([]Event, error)
}

var (
	ErrUnsupportedEventType = errors.New("unsupported_event_type")
	ErrNotFound             = errors.New("not_found")
)
