package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Agent is the metadata for a metered workflow listed in the marketplace.
type Agent struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Slug        string       `gorm:"type:text;not null;uniqueIndex:ux_agents_slug" json:"slug"`
	Name        string       `gorm:"type:text;not null" json:"name"`
	Description string       `gorm:"type:text" json:"description"`
	WorkflowID  string       `gorm:"type:text;not null" json:"workflow_id"`
	CreditCost  int64        `gorm:"not null" json:"credit_cost"`
	Active      bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

func (Agent) TableName() string { return "agents" }

// AgentGrant records that an account acquired access to an agent. The
// unique index is what makes a repeated purchase converge instead of
// duplicating access.
type AgentGrant struct {
	ID         snowflake.ID  `gorm:"primaryKey" json:"id"`
	AccountID  string        `gorm:"type:text;not null;uniqueIndex:ux_agent_grants_account_agent,priority:1" json:"account_id"`
	AgentID    snowflake.ID  `gorm:"not null;uniqueIndex:ux_agent_grants_account_agent,priority:2" json:"agent_id"`
	PurchaseID *snowflake.ID `json:"purchase_id,omitempty"`
	CreatedAt  time.Time     `gorm:"not null" json:"created_at"`
}

func (AgentGrant) TableName() string { return "agent_grants" }

type Repository interface {
	GetByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Agent, error)
	List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]*Agent, error)
	HasGrant(ctx context.Context, db *gorm.DB, accountID string, agentID snowflake.ID) (bool, error)
}

var (
	ErrNotFound = errors.New("agent_not_found")
	ErrInactive = errors.New("agent_inactive")
)
