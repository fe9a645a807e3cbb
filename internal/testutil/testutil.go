// Package testutil provides the shared fixtures used by package tests: an
// in-memory sqlite database carrying the full schema, a snowflake node, and
// a no-op audit recorder.
package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	auditdomain "github.com/agentforge/creditledger/internal/audit/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

const schema = `
CREATE TABLE accounts (
	id TEXT PRIMARY KEY,
	email TEXT,
	balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE agents (
	id INTEGER PRIMARY KEY,
	slug TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT,
	workflow_id TEXT NOT NULL,
	credit_cost INTEGER NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX ux_agents_slug ON agents (slug);

CREATE TABLE credit_packages (
	id INTEGER PRIMARY KEY,
	slug TEXT NOT NULL,
	name TEXT NOT NULL,
	credits INTEGER NOT NULL,
	amount INTEGER NOT NULL,
	currency TEXT NOT NULL,
	agent_id INTEGER,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX ux_credit_packages_slug ON credit_packages (slug);

CREATE TABLE credit_purchases (
	id INTEGER PRIMARY KEY,
	account_id TEXT NOT NULL,
	package_id INTEGER NOT NULL,
	gateway_order_id TEXT NOT NULL,
	gateway_payment_id TEXT,
	gateway_signature TEXT,
	amount_paid INTEGER NOT NULL,
	credits INTEGER NOT NULL,
	status TEXT NOT NULL,
	currency TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX ux_credit_purchases_payment_id ON credit_purchases (gateway_payment_id);
CREATE INDEX ix_credit_purchases_account ON credit_purchases (account_id);
CREATE INDEX ix_credit_purchases_order ON credit_purchases (gateway_order_id);

CREATE TABLE agent_grants (
	id INTEGER PRIMARY KEY,
	account_id TEXT NOT NULL,
	agent_id INTEGER NOT NULL,
	purchase_id INTEGER,
	created_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX ux_agent_grants_account_agent ON agent_grants (account_id, agent_id);

CREATE TABLE executions (
	id INTEGER PRIMARY KEY,
	account_id TEXT NOT NULL,
	agent_id INTEGER NOT NULL,
	workflow_id TEXT NOT NULL,
	credits_charged INTEGER NOT NULL,
	status TEXT NOT NULL,
	input TEXT,
	result TEXT,
	error_message TEXT,
	started_at DATETIME,
	finished_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX ix_executions_account ON executions (account_id);

CREATE TABLE audit_logs (
	id INTEGER PRIMARY KEY,
	actor_type TEXT NOT NULL,
	actor_id TEXT,
	action TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id TEXT,
	metadata TEXT,
	ip_address TEXT,
	user_agent TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX ix_audit_logs_action ON audit_logs (action);
`

// OpenDB returns a fresh in-memory database carrying the full schema. Each
// call gets its own database so tests stay independent.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb_%d?mode=memory&cache=shared&_pragma=busy_timeout(5000)", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Exec(schema).Error; err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

// Node returns a snowflake node for generating test IDs.
func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// NoopAudit satisfies the audit service without persisting anything.
type NoopAudit struct{}

func (NoopAudit) Record(context.Context, *string, string, string, *string, map[string]any) error {
	return nil
}

func (NoopAudit) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}
