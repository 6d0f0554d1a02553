package delivery

import (
	"context"

	"go.uber.org/fx"
)

// Outbox is the delivery surface the worker loops drive.
type Outbox interface {
	Drain(ctx context.Context) (DrainSummary, error)
	Recover(ctx context.Context) (int64, error)
}

var _ Outbox = (*Engine)(nil)

var Module = fx.Module("delivery.engine",
	fx.Provide(
		fx.Annotate(New, fx.As(fx.Self()), fx.As(new(Outbox))),
	),
)
