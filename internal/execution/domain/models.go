package domain

import (
	"context"
	"errors"
	"time"

	"github.com/agentforge/creditledger/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ExecutionStatus string

const (
	StatusPending ExecutionStatus = "pending"
	StatusRunning ExecutionStatus = "running"
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"

	// StatusCancelled marks a run abandoned before the engine was invoked,
	// e.g. by an operator. Cancelled runs are never charged.
	StatusCancelled ExecutionStatus = "cancelled"
)

// Execution is one metered agent run. CreditsCharged is what the account
// actually paid; it stays charged even when the run fails.
type Execution struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	AccountID      string          `gorm:"type:text;not null;index" json:"account_id"`
	AgentID        snowflake.ID    `gorm:"not null" json:"agent_id"`
	WorkflowID     string          `gorm:"type:text;not null" json:"workflow_id"`
	CreditsCharged int64           `gorm:"not null" json:"credits_charged"`
	Status         ExecutionStatus `gorm:"type:text;not null" json:"status"`
	Input          datatypes.JSON  `json:"input,omitempty"`
	Result         datatypes.JSON  `json:"result,omitempty"`
	ErrorMessage   *string         `gorm:"type:text" json:"error_message,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null" json:"updated_at"`
}

func (Execution) TableName() string { return "executions" }

type RunRequest struct {
	AccountID    string
	AccountEmail string
	AgentID      snowflake.ID
	Input        map[string]any
}

// RunResult is returned for both successful and failed runs. A failed run is
// a normal outcome, not a transport error: the caller still paid for it.
type RunResult struct {
	ExecutionID      snowflake.ID    `json:"execution_id"`
	Status           ExecutionStatus `json:"status"`
	CreditsCharged   int64           `json:"credits_charged"`
	RemainingBalance int64           `json:"remaining_balance"`
	Result           datatypes.JSON  `json:"result,omitempty"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
}

type ListExecutionsRequest struct {
	pagination.Pagination
	AccountID string
}

type ListExecutionsResponse struct {
	pagination.PageInfo
	Executions []Execution `json:"executions"`
}

// Service runs metered agent workflows. Credits are deducted before the
// engine call and are not refunded when the run fails.
type Service interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
	Get(ctx context.Context, accountID string, id snowflake.ID) (*Execution, error)
	List(ctx context.Context, req ListExecutionsRequest) (ListExecutionsResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, exec *Execution) error
	Update(ctx context.Context, db *gorm.DB, exec *Execution) error
	GetByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Execution, error)
	List(ctx context.Context, db *gorm.DB, accountID string, cursor *Cursor, limit int) ([]*Execution, error)
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

var (
	ErrNotFound         = errors.New("execution_not_found")
	ErrNotEntitled      = errors.New("agent_not_entitled")
	ErrInvalidInput     = errors.New("invalid_execution_input")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
