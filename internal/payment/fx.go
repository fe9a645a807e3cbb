package payment

import (
	"github.com/agentforge/creditledger/internal/payment/gateway"
	"github.com/agentforge/creditledger/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(gateway.NewHTTPClient),
	fx.Provide(service.NewService),
)
