package main

import (
	"github.com/agentforge/creditledger/internal/config"
	"github.com/agentforge/creditledger/internal/logger"
	"github.com/agentforge/creditledger/internal/migration"
	"github.com/agentforge/creditledger/internal/server"
	"github.com/agentforge/creditledger/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func newSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
