package webhookendpoint

import (
	"github.com/smallbiznis/settlement/internal/webhookendpoint/repository"
	"github.com/smallbiznis/settlement/internal/webhookendpoint/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhookendpoint.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
