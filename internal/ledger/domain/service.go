package domain

import (
	"context"
	"errors"

	agentdomain "github.com/agentforge/creditledger/internal/agent/domain"
	"github.com/agentforge/creditledger/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
)

// ApplyPurchaseRequest carries a verified gateway capture into the ledger.
type ApplyPurchaseRequest struct {
	AccountID        string
	AccountEmail     string
	PackageID        snowflake.ID
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
	AmountPaid       int64
	Credits          int64
	Currency         string
	AgentID          *snowflake.ID
}

type ApplyPurchaseResult struct {
	PurchaseID snowflake.ID
	NewBalance int64
}

type OpenPurchaseRequest struct {
	AccountID      string
	AccountEmail   string
	PackageID      snowflake.ID
	GatewayOrderID string
	Amount         int64
	Credits        int64
	Currency       string
}

type ListPurchasesRequest struct {
	pagination.Pagination
	AccountID string
}

type ListPurchasesResponse struct {
	pagination.PageInfo
	Purchases []CreditPurchase `json:"purchases"`
}

// Service is the boundary to the durable store's atomic credit operations.
// Every balance-changing decision happens inside a single transaction here;
// callers never read-modify-write a balance.
type Service interface {
	// ApplyPurchase marks the purchase paid and credits the account exactly
	// once per gateway payment id. A second call with the same payment id
	// returns ErrDuplicatePayment without touching the balance.
	ApplyPurchase(ctx context.Context, req ApplyPurchaseRequest) (ApplyPurchaseResult, error)

	// DeductCredits checks and decrements the balance in one transaction.
	// Returns the post-deduction balance, or ErrInsufficientCredits.
	DeductCredits(ctx context.Context, accountID string, amount int64, agentID, executionID snowflake.ID) (int64, error)

	// CreditAccount adds credits outside the purchase path (refunds, bonuses).
	CreditAccount(ctx context.Context, accountID string, amount int64, reason string) (int64, error)

	EnsureAccount(ctx context.Context, accountID, email string) (*Account, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	GetPackage(ctx context.Context, packageID snowflake.ID) (*CreditPackage, error)

	// EnsureAgentPackage gets or lazily creates the synthetic single-agent
	// package for ad-hoc purchases, keyed by a stable slug.
	EnsureAgentPackage(ctx context.Context, agent *agentdomain.Agent) (*CreditPackage, error)

	OpenPurchase(ctx context.Context, req OpenPurchaseRequest) (*CreditPurchase, error)
	GetPurchaseByOrderID(ctx context.Context, gatewayOrderID string) (*CreditPurchase, error)
	ListPurchases(ctx context.Context, req ListPurchasesRequest) (ListPurchasesResponse, error)
}

var (
	ErrAccountNotFound     = errors.New("account_not_found")
	ErrPackageNotFound     = errors.New("package_not_found")
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrDuplicatePayment    = errors.New("duplicate_payment")
	ErrPurchaseNotFound    = errors.New("purchase_not_found")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
)
