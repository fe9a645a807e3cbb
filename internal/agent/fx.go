package agent

import (
	"github.com/agentforge/creditledger/internal/agent/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("agent.repository",
	fx.Provide(repository.Provide),
)
