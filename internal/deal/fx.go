package deal

import (
	"github.com/smallbiznis/cashflow/internal/deal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("deal.service",
	fx.Provide(service.NewService),
)
