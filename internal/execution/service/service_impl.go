package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	agentdomain "github.com/agentforge/creditledger/internal/agent/domain"
	auditdomain "github.com/agentforge/creditledger/internal/audit/domain"
	"github.com/agentforge/creditledger/internal/execution/domain"
	"github.com/agentforge/creditledger/internal/execution/engine"
	ledgerdomain "github.com/agentforge/creditledger/internal/ledger/domain"
	"github.com/agentforge/creditledger/internal/metrics"
	"github.com/agentforge/creditledger/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Agents   agentdomain.Repository
	Ledger   ledgerdomain.Service
	Engine   engine.Client
	AuditSvc auditdomain.Service
	Metrics  *metrics.Metrics
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	agents   agentdomain.Repository
	ledger   ledgerdomain.Service
	engine   engine.Client
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("execution.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		agents:   p.Agents,
		ledger:   p.Ledger,
		engine:   p.Engine,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

// Run charges the agent's credit cost and then invokes the workflow engine.
// The deduction happens before the engine call; a failed run keeps the
// charge. The execution row records both the charge and the outcome.
func (s *Service) Run(ctx context.Context, req domain.RunRequest) (*domain.RunResult, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return nil, ledgerdomain.ErrAccountNotFound
	}

	agent, err := s.agents.GetByID(ctx, s.db, req.AgentID)
	if err != nil {
		return nil, err
	}
	if !agent.Active {
		return nil, agentdomain.ErrInactive
	}

	// Access is grant membership: the account must have purchased this agent.
	entitled, err := s.agents.HasGrant(ctx, s.db, accountID, agent.ID)
	if err != nil {
		return nil, err
	}
	if !entitled {
		return nil, domain.ErrNotEntitled
	}

	var input datatypes.JSON
	if len(req.Input) > 0 {
		b, err := json.Marshal(req.Input)
		if err != nil {
			return nil, domain.ErrInvalidInput
		}
		input = datatypes.JSON(b)
	}

	if _, err := s.ledger.EnsureAccount(ctx, accountID, req.AccountEmail); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	exec := &domain.Execution{
		ID:             s.genID.Generate(),
		AccountID:      accountID,
		AgentID:        agent.ID,
		WorkflowID:     agent.WorkflowID,
		CreditsCharged: agent.CreditCost,
		Status:         domain.StatusPending,
		Input:          input,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, s.db, exec); err != nil {
		return nil, err
	}

	balance, err := s.ledger.DeductCredits(ctx, accountID, agent.CreditCost, agent.ID, exec.ID)
	if err != nil {
		msg := err.Error()
		exec.ErrorMessage = &msg
		s.finish(ctx, exec, domain.StatusFailed, nil)
		return nil, err
	}

	startedAt := time.Now().UTC()
	exec.StartedAt = &startedAt
	exec.Status = domain.StatusRunning
	exec.UpdatedAt = startedAt
	if err := s.repo.Update(ctx, s.db, exec); err != nil {
		s.log.Warn("failed to mark execution running",
			zap.String("execution_id", exec.ID.String()), zap.Error(err))
	}

	out, runErr := s.engine.RunWorkflow(ctx, engine.RunInput{
		WorkflowID:  agent.WorkflowID,
		ExecutionID: exec.ID.String(),
		Payload:     req.Input,
	})
	s.metrics.EngineDuration.Observe(time.Since(startedAt).Seconds())

	if runErr != nil {
		msg := runErr.Error()
		exec.ErrorMessage = &msg
		s.finish(ctx, exec, domain.StatusFailed, nil)
		s.recordRunAudit(ctx, exec, "execution.failed")

		// The charge stands: the engine was invoked on the account's behalf.
		return &domain.RunResult{
			ExecutionID:      exec.ID,
			Status:           domain.StatusFailed,
			CreditsCharged:   agent.CreditCost,
			RemainingBalance: balance,
			ErrorMessage:     &msg,
		}, nil
	}

	var result datatypes.JSON
	if len(out.Output) > 0 {
		result = datatypes.JSON(out.Output)
	}
	s.finish(ctx, exec, domain.StatusSuccess, result)
	s.recordRunAudit(ctx, exec, "execution.completed")

	return &domain.RunResult{
		ExecutionID:      exec.ID,
		Status:           domain.StatusSuccess,
		CreditsCharged:   agent.CreditCost,
		RemainingBalance: balance,
		Result:           result,
	}, nil
}

// finish is best-effort: the run outcome has already been decided and the
// charge already taken, so a bookkeeping failure is logged, not propagated.
func (s *Service) finish(ctx context.Context, exec *domain.Execution, status domain.ExecutionStatus, result datatypes.JSON) {
	finishedAt := time.Now().UTC()
	exec.Status = status
	exec.Result = result
	exec.FinishedAt = &finishedAt
	exec.UpdatedAt = finishedAt
	if err := s.repo.Update(ctx, s.db, exec); err != nil {
		s.log.Warn("failed to finalize execution",
			zap.String("execution_id", exec.ID.String()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
	s.metrics.ExecutionsTotal.WithLabelValues(string(status)).Inc()
}

func (s *Service) recordRunAudit(ctx context.Context, exec *domain.Execution, action string) {
	execID := exec.ID.String()
	if err := s.auditSvc.Record(ctx, &exec.AccountID, action, "execution", &execID, map[string]any{
		"agent_id":        exec.AgentID.String(),
		"workflow_id":     exec.WorkflowID,
		"credits_charged": exec.CreditsCharged,
	}); err != nil {
		s.log.Warn("failed to write execution audit log", zap.Error(err))
	}
}

func (s *Service) Get(ctx context.Context, accountID string, id snowflake.ID) (*domain.Execution, error) {
	exec, err := s.repo.GetByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if exec.AccountID != strings.TrimSpace(accountID) {
		return nil, domain.ErrNotFound
	}
	return exec, nil
}

func (s *Service) List(ctx context.Context, req domain.ListExecutionsRequest) (domain.ListExecutionsResponse, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return domain.ListExecutionsResponse{}, ledgerdomain.ErrAccountNotFound
	}

	var cursor *domain.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return domain.ListExecutionsResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListExecutionsResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.ListExecutionsResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.Cursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, s.db, accountID, cursor, pageSize+1)
	if err != nil {
		return domain.ListExecutionsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *domain.Execution) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	executions := make([]domain.Execution, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		executions = append(executions, *item)
	}

	resp := domain.ListExecutionsResponse{Executions: executions}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}
