package reconciliation

import (
	"github.com/smallbiznis/settlement/internal/reconciliation/domain"
	"github.com/smallbiznis/settlement/internal/reconciliation/engine"
	"github.com/smallbiznis/settlement/internal/reconciliation/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("reconciliation.engine",
	fx.Provide(repository.Provide),
	fx.Provide(
		fx.Annotate(engine.New, fx.As(fx.Self()), fx.As(new(domain.Engine))),
	),
)
