package addresspool

import (
	"github.com/smallbiznis/settlement/internal/addresspool/repository"
	"github.com/smallbiznis/settlement/internal/addresspool/service"
	"go.uber.org/fx"
)

var Module = fx.Module("addresspool.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
