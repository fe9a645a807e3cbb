package audit

import (
	"github.com/agentforge/creditledger/internal/audit/repository"
	"github.com/agentforge/creditledger/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
