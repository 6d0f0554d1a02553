package intent

import (
	"github.com/smallbiznis/settlement/internal/intent/repository"
	"github.com/smallbiznis/settlement/internal/intent/service"
	"github.com/smallbiznis/settlement/internal/intent/transition"
	"go.uber.org/fx"
)

var Module = fx.Module("intent.service",
	fx.Provide(repository.Provide),
	fx.Provide(transition.New),
	fx.Provide(service.New),
)
