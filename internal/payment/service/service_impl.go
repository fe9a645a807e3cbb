package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	agentdomain "github.com/agentforge/creditledger/internal/agent/domain"
	auditdomain "github.com/agentforge/creditledger/internal/audit/domain"
	"github.com/agentforge/creditledger/internal/config"
	ledgerdomain "github.com/agentforge/creditledger/internal/ledger/domain"
	"github.com/agentforge/creditledger/internal/metrics"
	paymentdomain "github.com/agentforge/creditledger/internal/payment/domain"
	"github.com/agentforge/creditledger/internal/payment/gateway"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg      config.Config
	DB       *gorm.DB
	Log      *zap.Logger
	Gateway  gateway.Client
	Ledger   ledgerdomain.Service
	Agents   agentdomain.Repository
	AuditSvc auditdomain.Service
	Metrics  *metrics.Metrics
}

type Service struct {
	cfg      config.GatewayConfig
	db       *gorm.DB
	log      *zap.Logger
	gateway  gateway.Client
	ledger   ledgerdomain.Service
	agents   agentdomain.Repository
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		cfg:      p.Cfg.Gateway,
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		gateway:  p.Gateway,
		ledger:   p.Ledger,
		agents:   p.Agents,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) CreateOrder(ctx context.Context, req paymentdomain.CreateOrderRequest) (*paymentdomain.CreateOrderResponse, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return nil, paymentdomain.ErrInvalidRequest
	}
	if (req.PackageID == nil) == (req.AgentID == nil) {
		return nil, paymentdomain.ErrInvalidRequest
	}

	pkg, err := s.resolvePackage(ctx, req)
	if err != nil {
		return nil, err
	}

	order, err := s.gateway.CreateOrder(ctx, pkg.Amount, pkg.Currency, fmt.Sprintf("pkg_%s", pkg.ID))
	if err != nil {
		return nil, err
	}

	purchase, err := s.ledger.OpenPurchase(ctx, ledgerdomain.OpenPurchaseRequest{
		AccountID:      accountID,
		AccountEmail:   req.AccountEmail,
		PackageID:      pkg.ID,
		GatewayOrderID: order.ID,
		Amount:         pkg.Amount,
		Credits:        pkg.Credits,
		Currency:       pkg.Currency,
	})
	if err != nil {
		return nil, err
	}

	purchaseID := purchase.ID.String()
	if err := s.auditSvc.Record(ctx, &accountID, "payment.order_created", "credit_purchase", &purchaseID, map[string]any{
		"gateway_order_id": order.ID,
		"package_id":       pkg.ID.String(),
		"amount":           pkg.Amount,
		"credits":          pkg.Credits,
	}); err != nil {
		s.log.Warn("failed to write order audit log", zap.Error(err))
	}

	return &paymentdomain.CreateOrderResponse{
		PurchaseID: purchase.ID,
		OrderID:    order.ID,
		Amount:     pkg.Amount,
		Currency:   pkg.Currency,
		Credits:    pkg.Credits,
		KeyID:      s.cfg.KeyID,
	}, nil
}

func (s *Service) resolvePackage(ctx context.Context, req paymentdomain.CreateOrderRequest) (*ledgerdomain.CreditPackage, error) {
	if req.AgentID != nil {
		agent, err := s.agents.GetByID(ctx, s.db, *req.AgentID)
		if err != nil {
			return nil, err
		}
		if !agent.Active {
			return nil, agentdomain.ErrInactive
		}
		return s.ledger.EnsureAgentPackage(ctx, agent)
	}

	pkg, err := s.ledger.GetPackage(ctx, *req.PackageID)
	if err != nil {
		return nil, err
	}
	if !pkg.Active {
		return nil, ledgerdomain.ErrPackageNotFound
	}
	return pkg, nil
}

// VerifyPayment authenticates the checkout callback and credits the account.
// The signature is checked against the server-held secret before any ledger
// read or write happens.
func (s *Service) VerifyPayment(ctx context.Context, req paymentdomain.VerifyPaymentRequest) (*paymentdomain.VerifyPaymentResult, error) {
	accountID := strings.TrimSpace(req.AccountID)
	orderID := strings.TrimSpace(req.OrderID)
	paymentID := strings.TrimSpace(req.PaymentID)
	signature := strings.TrimSpace(req.Signature)
	if accountID == "" || orderID == "" || paymentID == "" || signature == "" {
		return nil, paymentdomain.ErrInvalidRequest
	}

	if !verifyCaptureSignature(s.cfg.KeySecret, orderID, paymentID, signature) {
		s.log.Warn("capture signature mismatch",
			zap.String("account_id", accountID),
			zap.String("gateway_order_id", orderID),
			zap.String("gateway_payment_id", paymentID),
		)
		return nil, paymentdomain.ErrInvalidSignature
	}

	purchase, err := s.ledger.GetPurchaseByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if purchase.AccountID != accountID {
		return nil, ledgerdomain.ErrPurchaseNotFound
	}

	result, err := s.applyCapture(ctx, purchase, req.AccountEmail, paymentID, signature)
	if err != nil {
		return nil, err
	}

	paymentRef := paymentID
	if err := s.auditSvc.Record(ctx, &accountID, "payment.verified", "credit_purchase", &paymentRef, map[string]any{
		"gateway_order_id": orderID,
		"credits":          purchase.Credits,
		"new_balance":      result.NewBalance,
	}); err != nil {
		s.log.Warn("failed to write verify audit log", zap.Error(err))
	}

	return &paymentdomain.VerifyPaymentResult{
		PurchaseID:   result.PurchaseID,
		CreditsAdded: purchase.Credits,
		NewBalance:   result.NewBalance,
	}, nil
}

// HandleWebhook ingests the gateway's server-to-server capture event. The
// body signature is checked first; a capture already credited through
// VerifyPayment is acknowledged without a second credit.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !verifyBodySignature(s.cfg.KeySecret, body, strings.TrimSpace(signature)) {
		s.log.Warn("webhook signature mismatch")
		return paymentdomain.ErrInvalidSignature
	}

	var event paymentdomain.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return paymentdomain.ErrInvalidRequest
	}
	if event.Event != paymentdomain.EventPaymentCaptured {
		s.log.Debug("ignoring webhook event", zap.String("event", event.Event))
		return nil
	}

	orderID := strings.TrimSpace(event.Payload.Payment.OrderID)
	paymentID := strings.TrimSpace(event.Payload.Payment.ID)
	if orderID == "" || paymentID == "" {
		return paymentdomain.ErrInvalidRequest
	}

	purchase, err := s.ledger.GetPurchaseByOrderID(ctx, orderID)
	if err != nil {
		return err
	}

	result, err := s.applyCapture(ctx, purchase, "", paymentID, signature)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrDuplicatePayment) {
			s.log.Debug("webhook capture already applied",
				zap.String("gateway_payment_id", paymentID))
			return nil
		}
		return err
	}

	paymentRef := paymentID
	if err := s.auditSvc.Record(ctx, nil, "payment.webhook_applied", "credit_purchase", &paymentRef, map[string]any{
		"gateway_order_id": orderID,
		"credits":          purchase.Credits,
		"new_balance":      result.NewBalance,
	}); err != nil {
		s.log.Warn("failed to write webhook audit log", zap.Error(err))
	}
	return nil
}

func (s *Service) applyCapture(
	ctx context.Context,
	purchase *ledgerdomain.CreditPurchase,
	email, paymentID, signature string,
) (ledgerdomain.ApplyPurchaseResult, error) {
	var agentID *snowflake.ID
	if pkg, err := s.ledger.GetPackage(ctx, purchase.PackageID); err == nil {
		agentID = pkg.AgentID
	}

	result, err := s.ledger.ApplyPurchase(ctx, ledgerdomain.ApplyPurchaseRequest{
		AccountID:        purchase.AccountID,
		AccountEmail:     email,
		PackageID:        purchase.PackageID,
		GatewayOrderID:   purchase.GatewayOrderID,
		GatewayPaymentID: paymentID,
		GatewaySignature: signature,
		AmountPaid:       purchase.AmountPaid,
		Credits:          purchase.Credits,
		Currency:         purchase.Currency,
		AgentID:          agentID,
	})
	if err != nil {
		return result, err
	}
	s.metrics.PurchasesApplied.Inc()
	return result, nil
}

// verifyCaptureSignature checks the checkout callback signature:
// HMAC-SHA256(order_id + "|" + payment_id) keyed by the gateway secret,
// hex-encoded. Comparison is constant-time.
func verifyCaptureSignature(secret, orderID, paymentID, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// verifyBodySignature checks the webhook signature: HMAC-SHA256 over the raw
// request body, hex-encoded.
func verifyBodySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
