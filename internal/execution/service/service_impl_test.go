package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	agentdomain "github.com/agentforge/creditledger/internal/agent/domain"
	agentrepo "github.com/agentforge/creditledger/internal/agent/repository"
	"github.com/agentforge/creditledger/internal/execution/domain"
	"github.com/agentforge/creditledger/internal/execution/engine"
	executionrepo "github.com/agentforge/creditledger/internal/execution/repository"
	ledgerdomain "github.com/agentforge/creditledger/internal/ledger/domain"
	ledgerservice "github.com/agentforge/creditledger/internal/ledger/service"
	"github.com/agentforge/creditledger/internal/metrics"
	"github.com/agentforge/creditledger/internal/testutil"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeEngine struct {
	calls  int
	fail   bool
	output json.RawMessage
}

func (f *fakeEngine) RunWorkflow(_ context.Context, input engine.RunInput) (*engine.RunOutput, error) {
	f.calls++
	if f.fail {
		return nil, fmt.Errorf("%w: status 500", engine.ErrRunFailed)
	}
	out := f.output
	if out == nil {
		out = json.RawMessage(`{"ok":true}`)
	}
	return &engine.RunOutput{Output: out}, nil
}

type fixture struct {
	svc    *Service
	db     *gorm.DB
	node   *snowflake.Node
	engine *fakeEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	audit := testutil.NoopAudit{}

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		AuditSvc: audit,
	})

	fake := &fakeEngine{}
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     executionrepo.Provide(),
		Agents:   agentrepo.Provide(),
		Ledger:   ledgerSvc,
		Engine:   fake,
		AuditSvc: audit,
		Metrics:  metrics.New(),
	}).(*Service)

	return &fixture{svc: svc, db: db, node: node, engine: fake}
}

func (f *fixture) seedAgent(t *testing.T, creditCost int64, active bool) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	now := time.Now().UTC()
	if err := f.db.Exec(
		`INSERT INTO agents (id, slug, name, workflow_id, credit_cost, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, "agent-"+id.String(), "Agent", "wf_"+id.String(), creditCost, active, now, now,
	).Error; err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	return id
}

func (f *fixture) seedGrant(t *testing.T, accountID string, agentID snowflake.ID) {
	t.Helper()
	if err := f.db.Exec(
		`INSERT INTO agent_grants (id, account_id, agent_id, created_at) VALUES (?, ?, ?, ?)`,
		f.node.Generate(), accountID, agentID, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed grant: %v", err)
	}
}

func (f *fixture) seedAccount(t *testing.T, id string, balance int64) {
	t.Helper()
	now := time.Now().UTC()
	if err := f.db.Exec(
		`INSERT INTO accounts (id, email, balance, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, id+"@example.com", balance, now, now,
	).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	var b int64
	if err := f.db.Raw(`SELECT balance FROM accounts WHERE id = ?`, id).Scan(&b).Error; err != nil {
		t.Fatalf("read balance: %v", err)
	}
	return b
}

func TestRunChargesAndSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agentID := f.seedAgent(t, 10, true)
	f.seedAccount(t, "user-1", 30)
	f.seedGrant(t, "user-1", agentID)

	res, err := f.svc.Run(ctx, domain.RunRequest{
		AccountID: "user-1",
		AgentID:   agentID,
		Input:     map[string]any{"query": "acme"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != domain.StatusSuccess {
		t.Fatalf("status = %q, want success", res.Status)
	}
	if res.CreditsCharged != 10 || res.RemainingBalance != 20 {
		t.Fatalf("charged/remaining = %d/%d, want 10/20", res.CreditsCharged, res.RemainingBalance)
	}
	if f.engine.calls != 1 {
		t.Fatalf("engine calls = %d, want 1", f.engine.calls)
	}

	exec, err := f.svc.Get(ctx, "user-1", res.ExecutionID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if exec.Status != domain.StatusSuccess || exec.FinishedAt == nil {
		t.Fatalf("stored execution not finalized: %+v", exec)
	}
}

func TestRunKeepsChargeOnEngineFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agentID := f.seedAgent(t, 10, true)
	f.seedAccount(t, "user-2", 30)
	f.seedGrant(t, "user-2", agentID)
	f.engine.fail = true

	res, err := f.svc.Run(ctx, domain.RunRequest{
		AccountID: "user-2",
		AgentID:   agentID,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != domain.StatusFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	if res.ErrorMessage == nil {
		t.Fatalf("expected error message on failed run")
	}

	// No refund: the engine was invoked on the account's behalf.
	if got := f.balance(t, "user-2"); got != 20 {
		t.Fatalf("balance = %d, want 20", got)
	}

	exec, err := f.svc.Get(ctx, "user-2", res.ExecutionID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if exec.Status != domain.StatusFailed || exec.CreditsCharged != 10 {
		t.Fatalf("stored execution = %+v, want failed with charge kept", exec)
	}
}

func TestRunRejectsInsufficientCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agentID := f.seedAgent(t, 50, true)
	f.seedAccount(t, "user-3", 30)
	f.seedGrant(t, "user-3", agentID)

	_, err := f.svc.Run(ctx, domain.RunRequest{
		AccountID: "user-3",
		AgentID:   agentID,
	})
	if !errors.Is(err, ledgerdomain.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}

	// The engine must never run when the charge was refused.
	if f.engine.calls != 0 {
		t.Fatalf("engine calls = %d, want 0", f.engine.calls)
	}
	if got := f.balance(t, "user-3"); got != 30 {
		t.Fatalf("balance = %d, want 30", got)
	}

	// The failed row carries the deduction error itself.
	var msg string
	if err := f.db.Raw(
		`SELECT error_message FROM executions WHERE account_id = ?`, "user-3",
	).Scan(&msg).Error; err != nil {
		t.Fatalf("read execution: %v", err)
	}
	if msg != ledgerdomain.ErrInsufficientCredits.Error() {
		t.Fatalf("error_message = %q, want %q", msg, ledgerdomain.ErrInsufficientCredits.Error())
	}
}

func TestRunRejectsInactiveAgent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agentID := f.seedAgent(t, 5, false)
	f.seedAccount(t, "user-4", 30)

	_, err := f.svc.Run(ctx, domain.RunRequest{AccountID: "user-4", AgentID: agentID})
	if !errors.Is(err, agentdomain.ErrInactive) {
		t.Fatalf("err = %v, want ErrInactive", err)
	}

	_, err = f.svc.Run(ctx, domain.RunRequest{AccountID: "user-4", AgentID: f.node.Generate()})
	if !errors.Is(err, agentdomain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRunRequiresGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agentID := f.seedAgent(t, 5, true)
	f.seedAccount(t, "user-8", 30)

	_, err := f.svc.Run(ctx, domain.RunRequest{AccountID: "user-8", AgentID: agentID})
	if !errors.Is(err, domain.ErrNotEntitled) {
		t.Fatalf("err = %v, want ErrNotEntitled", err)
	}
	if f.engine.calls != 0 {
		t.Fatalf("engine calls = %d, want 0", f.engine.calls)
	}
	if got := f.balance(t, "user-8"); got != 30 {
		t.Fatalf("balance = %d, want 30 (no charge without grant)", got)
	}
}

func TestGetHidesForeignExecutions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agentID := f.seedAgent(t, 1, true)
	f.seedAccount(t, "user-5", 10)
	f.seedGrant(t, "user-5", agentID)

	res, err := f.svc.Run(ctx, domain.RunRequest{AccountID: "user-5", AgentID: agentID})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := f.svc.Get(ctx, "someone-else", res.ExecutionID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListExecutionsPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agentID := f.seedAgent(t, 1, true)
	f.seedAccount(t, "user-6", 10)
	f.seedGrant(t, "user-6", agentID)

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Run(ctx, domain.RunRequest{AccountID: "user-6", AgentID: agentID}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	req := domain.ListExecutionsRequest{AccountID: "user-6"}
	req.PageSize = 2
	page, err := f.svc.List(ctx, req)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Executions) != 2 || !page.HasMore {
		t.Fatalf("page = %d items hasMore=%v, want 2/true", len(page.Executions), page.HasMore)
	}

	req.PageToken = page.NextPageToken
	rest, err := f.svc.List(ctx, req)
	if err != nil {
		t.Fatalf("list next: %v", err)
	}
	if len(rest.Executions) != 1 || rest.HasMore {
		t.Fatalf("next page = %d items hasMore=%v, want 1/false", len(rest.Executions), rest.HasMore)
	}
}
