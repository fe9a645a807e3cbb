package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	agentdomain "github.com/agentforge/creditledger/internal/agent/domain"
	auditdomain "github.com/agentforge/creditledger/internal/audit/domain"
	ledgerdomain "github.com/agentforge/creditledger/internal/ledger/domain"
	"github.com/agentforge/creditledger/pkg/db"
	"github.com/agentforge/creditledger/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	AuditSvc auditdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	auditSvc auditdomain.Service
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ledger.service"),
		genID:    p.GenID,
		auditSvc: p.AuditSvc,
	}
}

// ApplyPurchase credits an account for a captured gateway payment inside one
// transaction. The unique index on gateway_payment_id is checked-and-claimed
// in the same transaction as the balance update, so concurrent calls with the
// same payment id (client verify racing the gateway webhook) converge on one
// credited purchase.
func (s *Service) ApplyPurchase(ctx context.Context, req ledgerdomain.ApplyPurchaseRequest) (ledgerdomain.ApplyPurchaseResult, error) {
	if req.Credits <= 0 || req.AmountPaid < 0 {
		return ledgerdomain.ApplyPurchaseResult{}, ledgerdomain.ErrInvalidAmount
	}
	accountID := strings.TrimSpace(req.AccountID)
	paymentID := strings.TrimSpace(req.GatewayPaymentID)
	orderID := strings.TrimSpace(req.GatewayOrderID)
	if accountID == "" || paymentID == "" || orderID == "" {
		return ledgerdomain.ApplyPurchaseResult{}, ledgerdomain.ErrInvalidAmount
	}

	var result ledgerdomain.ApplyPurchaseResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		if err := insertAccountIfMissing(ctx, tx, accountID, req.AccountEmail, now); err != nil {
			return err
		}

		purchaseID, err := s.claimPayment(ctx, tx, req, accountID, orderID, paymentID, now)
		if err != nil {
			return err
		}

		if err := tx.WithContext(ctx).Exec(
			`UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE id = ?`,
			req.Credits, now, accountID,
		).Error; err != nil {
			return err
		}

		if req.AgentID != nil && *req.AgentID != 0 {
			if err := tx.WithContext(ctx).Exec(
				`INSERT INTO agent_grants (id, account_id, agent_id, purchase_id, created_at)
				 VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT (account_id, agent_id) DO NOTHING`,
				s.genID.Generate(), accountID, *req.AgentID, purchaseID, now,
			).Error; err != nil {
				return err
			}
		}

		var balance int64
		if err := tx.WithContext(ctx).Raw(
			`SELECT balance FROM accounts WHERE id = ?`, accountID,
		).Scan(&balance).Error; err != nil {
			return err
		}

		result = ledgerdomain.ApplyPurchaseResult{
			PurchaseID: purchaseID,
			NewBalance: balance,
		}
		return nil
	})
	if err != nil {
		if db.Classify(err) == db.KindDuplicateKey {
			return ledgerdomain.ApplyPurchaseResult{}, ledgerdomain.ErrDuplicatePayment
		}
		return ledgerdomain.ApplyPurchaseResult{}, err
	}
	return result, nil
}

// claimPayment attaches the payment id to the open purchase row for the
// order, or inserts a fresh row when the capture arrived before any order row
// existed (webhook-first). Either way the unique payment-id index arbitrates
// duplicates.
func (s *Service) claimPayment(
	ctx context.Context,
	tx *gorm.DB,
	req ledgerdomain.ApplyPurchaseRequest,
	accountID, orderID, paymentID string,
	now time.Time,
) (snowflake.ID, error) {
	claim := tx.WithContext(ctx).Exec(
		`UPDATE credit_purchases
		 SET gateway_payment_id = ?, gateway_signature = ?, status = ?, updated_at = ?
		 WHERE gateway_order_id = ? AND account_id = ? AND gateway_payment_id IS NULL AND status = ?`,
		paymentID, req.GatewaySignature, ledgerdomain.PurchaseStatusPaid, now,
		orderID, accountID, ledgerdomain.PurchaseStatusCreated,
	)
	if claim.Error != nil {
		return 0, claim.Error
	}

	if claim.RowsAffected == 0 {
		insert := tx.WithContext(ctx).Exec(
			`INSERT INTO credit_purchases (
				id, account_id, package_id, gateway_order_id, gateway_payment_id,
				gateway_signature, amount_paid, credits, status, currency, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (gateway_payment_id) DO NOTHING`,
			s.genID.Generate(), accountID, req.PackageID, orderID, paymentID,
			req.GatewaySignature, req.AmountPaid, req.Credits,
			ledgerdomain.PurchaseStatusPaid, req.Currency, now, now,
		)
		if insert.Error != nil {
			return 0, insert.Error
		}
		if insert.RowsAffected == 0 {
			return 0, ledgerdomain.ErrDuplicatePayment
		}
	}

	var purchaseID snowflake.ID
	if err := tx.WithContext(ctx).Raw(
		`SELECT id FROM credit_purchases WHERE gateway_payment_id = ?`, paymentID,
	).Scan(&purchaseID).Error; err != nil {
		return 0, err
	}
	return purchaseID, nil
}

// DeductCredits performs the balance check and the decrement in one
// statement, so two concurrent deductions against an account with one unit
// of balance cannot both succeed.
func (s *Service) DeductCredits(ctx context.Context, accountID string, amount int64, agentID, executionID snowflake.ID) (int64, error) {
	if amount <= 0 {
		return 0, ledgerdomain.ErrInvalidAmount
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return 0, ledgerdomain.ErrAccountNotFound
	}

	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.WithContext(ctx).Exec(
			`UPDATE accounts SET balance = balance - ?, updated_at = ? WHERE id = ? AND balance >= ?`,
			amount, now, accountID, amount,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.WithContext(ctx).Raw(
				`SELECT COUNT(1) FROM accounts WHERE id = ?`, accountID,
			).Scan(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ledgerdomain.ErrAccountNotFound
			}
			return ledgerdomain.ErrInsufficientCredits
		}

		return tx.WithContext(ctx).Raw(
			`SELECT balance FROM accounts WHERE id = ?`, accountID,
		).Scan(&balance).Error
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("credits deducted",
		zap.String("account_id", accountID),
		zap.Int64("amount", amount),
		zap.String("agent_id", agentID.String()),
		zap.String("execution_id", executionID.String()),
		zap.Int64("balance", balance),
	)
	return balance, nil
}

// CreditAccount adds credits outside the purchase path (refunds, bonuses).
func (s *Service) CreditAccount(ctx context.Context, accountID string, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, ledgerdomain.ErrInvalidAmount
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return 0, ledgerdomain.ErrAccountNotFound
	}

	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.WithContext(ctx).Exec(
			`UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE id = ?`,
			amount, now, accountID,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ledgerdomain.ErrAccountNotFound
		}
		return tx.WithContext(ctx).Raw(
			`SELECT balance FROM accounts WHERE id = ?`, accountID,
		).Scan(&balance).Error
	})
	if err != nil {
		return 0, err
	}

	if err := s.auditSvc.Record(ctx, nil, "ledger.account_credited", "account", &accountID, map[string]any{
		"amount": amount,
		"reason": reason,
	}); err != nil {
		s.log.Warn("failed to write credit audit log", zap.Error(err))
	}
	return balance, nil
}

func (s *Service) EnsureAccount(ctx context.Context, accountID, email string) (*ledgerdomain.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ledgerdomain.ErrAccountNotFound
	}
	now := time.Now().UTC()
	if err := insertAccountIfMissing(ctx, s.db, accountID, email, now); err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, accountID)
}

func (s *Service) GetAccount(ctx context.Context, accountID string) (*ledgerdomain.Account, error) {
	var account ledgerdomain.Account
	err := s.db.WithContext(ctx).First(&account, "id = ?", strings.TrimSpace(accountID)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerdomain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *Service) GetPackage(ctx context.Context, packageID snowflake.ID) (*ledgerdomain.CreditPackage, error) {
	var pkg ledgerdomain.CreditPackage
	err := s.db.WithContext(ctx).First(&pkg, "id = ?", packageID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerdomain.ErrPackageNotFound
		}
		return nil, err
	}
	return &pkg, nil
}

// EnsureAgentPackage gets or lazily creates the synthetic single-agent
// package. The unique slug index makes the create idempotent under
// concurrent first-purchases.
func (s *Service) EnsureAgentPackage(ctx context.Context, agent *agentdomain.Agent) (*ledgerdomain.CreditPackage, error) {
	if agent == nil {
		return nil, ledgerdomain.ErrPackageNotFound
	}

	pkgSlug := slug.Make(fmt.Sprintf("agent-%s-access", agent.Slug))
	agentID := agent.ID
	now := time.Now().UTC()

	if err := s.db.WithContext(ctx).Exec(
		`INSERT INTO credit_packages (id, slug, name, credits, amount, currency, agent_id, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (slug) DO NOTHING`,
		s.genID.Generate(), pkgSlug, agent.Name+" access",
		agent.CreditCost, 0, "INR", agentID, true, now,
	).Error; err != nil {
		return nil, err
	}

	var pkg ledgerdomain.CreditPackage
	if err := s.db.WithContext(ctx).First(&pkg, "slug = ?", pkgSlug).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerdomain.ErrPackageNotFound
		}
		return nil, err
	}
	return &pkg, nil
}

// OpenPurchase records a gateway order before checkout. The payment id stays
// NULL until the capture is verified.
func (s *Service) OpenPurchase(ctx context.Context, req ledgerdomain.OpenPurchaseRequest) (*ledgerdomain.CreditPurchase, error) {
	accountID := strings.TrimSpace(req.AccountID)
	orderID := strings.TrimSpace(req.GatewayOrderID)
	if accountID == "" || orderID == "" || req.Credits <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	now := time.Now().UTC()
	purchase := ledgerdomain.CreditPurchase{
		ID:             s.genID.Generate(),
		AccountID:      accountID,
		PackageID:      req.PackageID,
		GatewayOrderID: orderID,
		AmountPaid:     req.Amount,
		Credits:        req.Credits,
		Status:         ledgerdomain.PurchaseStatusCreated,
		Currency:       req.Currency,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := insertAccountIfMissing(ctx, tx, accountID, req.AccountEmail, now); err != nil {
			return err
		}
		return tx.WithContext(ctx).Exec(
			`INSERT INTO credit_purchases (
				id, account_id, package_id, gateway_order_id, amount_paid,
				credits, status, currency, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			purchase.ID, purchase.AccountID, purchase.PackageID, purchase.GatewayOrderID,
			purchase.AmountPaid, purchase.Credits, purchase.Status, purchase.Currency,
			purchase.CreatedAt, purchase.UpdatedAt,
		).Error
	})
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

// GetPurchaseByOrderID resolves the newest purchase row for a gateway order.
// A retried order that spawned more than one capture keeps the latest row
// authoritative.
func (s *Service) GetPurchaseByOrderID(ctx context.Context, gatewayOrderID string) (*ledgerdomain.CreditPurchase, error) {
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	if gatewayOrderID == "" {
		return nil, ledgerdomain.ErrPurchaseNotFound
	}

	var purchase ledgerdomain.CreditPurchase
	err := s.db.WithContext(ctx).
		Where("gateway_order_id = ?", gatewayOrderID).
		Order("created_at desc, id desc").
		First(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerdomain.ErrPurchaseNotFound
		}
		return nil, err
	}
	return &purchase, nil
}

func (s *Service) ListPurchases(ctx context.Context, req ledgerdomain.ListPurchasesRequest) (ledgerdomain.ListPurchasesResponse, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return ledgerdomain.ListPurchasesResponse{}, ledgerdomain.ErrAccountNotFound
	}

	var cursor *ledgerdomain.PurchaseCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return ledgerdomain.ListPurchasesResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return ledgerdomain.ListPurchasesResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return ledgerdomain.ListPurchasesResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		cursor = &ledgerdomain.PurchaseCursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	stmt := s.db.WithContext(ctx).Model(&ledgerdomain.CreditPurchase{}).
		Where("account_id = ?", accountID)
	if cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var items []*ledgerdomain.CreditPurchase
	if err := stmt.Order("created_at desc, id desc").Limit(pageSize + 1).Find(&items).Error; err != nil {
		return ledgerdomain.ListPurchasesResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *ledgerdomain.CreditPurchase) string {
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

	purchases := make([]ledgerdomain.CreditPurchase, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		purchases = append(purchases, *item)
	}

	resp := ledgerdomain.ListPurchasesResponse{Purchases: purchases}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func insertAccountIfMissing(ctx context.Context, tx *gorm.DB, accountID, email string, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO accounts (id, email, balance, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		accountID, strings.TrimSpace(email), now, now,
	).Error
}
