package execution

import (
	"github.com/agentforge/creditledger/internal/execution/engine"
	"github.com/agentforge/creditledger/internal/execution/repository"
	"github.com/agentforge/creditledger/internal/execution/service"
	"go.uber.org/fx"
)

var Module = fx.Module("execution.service",
	fx.Provide(engine.NewHTTPClient),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
