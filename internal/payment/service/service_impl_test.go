package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	agentrepo "github.com/agentforge/creditledger/internal/agent/repository"
	"github.com/agentforge/creditledger/internal/config"
	ledgerdomain "github.com/agentforge/creditledger/internal/ledger/domain"
	ledgerservice "github.com/agentforge/creditledger/internal/ledger/service"
	"github.com/agentforge/creditledger/internal/metrics"
	paymentdomain "github.com/agentforge/creditledger/internal/payment/domain"
	"github.com/agentforge/creditledger/internal/payment/gateway"
	"github.com/agentforge/creditledger/internal/testutil"
	"github.com/bwmarrin/snowflake"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "test_gateway_secret"

type fakeGateway struct {
	orders int
	fail   bool
}

func (f *fakeGateway) CreateOrder(_ context.Context, amount int64, currency, receipt string) (*gateway.Order, error) {
	if f.fail {
		return nil, paymentdomain.ErrGatewayUnavailable
	}
	f.orders++
	return &gateway.Order{
		ID:       fmt.Sprintf("order_fake_%d", f.orders),
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

type fixture struct {
	svc     *Service
	ledger  ledgerdomain.Service
	db      *gorm.DB
	node    *snowflake.Node
	gateway *fakeGateway
	metrics *metrics.Metrics
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

	fake := &fakeGateway{}
	cfg := config.Config{
		Gateway: config.GatewayConfig{
			KeyID:     "key_test",
			KeySecret: testSecret,
		},
	}
	m := metrics.New()
	svc := NewService(Params{
		Cfg:      cfg,
		DB:       db,
		Log:      zap.NewNop(),
		Gateway:  fake,
		Ledger:   ledgerSvc,
		Agents:   agentrepo.Provide(),
		AuditSvc: audit,
		Metrics:  m,
	}).(*Service)

	return &fixture{svc: svc, ledger: ledgerSvc, db: db, node: node, gateway: fake, metrics: m}
}

func (f *fixture) seedPackage(t *testing.T, credits, amount int64) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	if err := f.db.Exec(
		`INSERT INTO credit_packages (id, slug, name, credits, amount, currency, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, "starter-"+id.String(), "Starter", credits, amount, "INR", true, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed package: %v", err)
	}
	return id
}

func (f *fixture) seedAgent(t *testing.T, creditCost int64) snowflake.ID {
	t.Helper()
	id := f.node.Generate()
	now := time.Now().UTC()
	if err := f.db.Exec(
		`INSERT INTO agents (id, slug, name, workflow_id, credit_cost, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, "scout-"+id.String(), "Scout", "wf_1", creditCost, true, now, now,
	).Error; err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	return id
}

func captureSignature(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func bodySignature(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func balance(t *testing.T, db *gorm.DB, accountID string) int64 {
	t.Helper()
	var b int64
	if err := db.Raw(`SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&b).Error; err != nil {
		t.Fatalf("read balance: %v", err)
	}
	return b
}

func TestCreateOrderForPackage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pkgID := f.seedPackage(t, 500, 49900)

	resp, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{
		AccountID: "user-1",
		PackageID: &pkgID,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if resp.OrderID == "" || resp.KeyID != "key_test" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Amount != 49900 || resp.Credits != 500 {
		t.Fatalf("amount/credits = %d/%d, want 49900/500", resp.Amount, resp.Credits)
	}

	purchase, err := f.ledger.GetPurchaseByOrderID(ctx, resp.OrderID)
	if err != nil {
		t.Fatalf("lookup purchase: %v", err)
	}
	if purchase.Status != ledgerdomain.PurchaseStatusCreated {
		t.Fatalf("status = %q, want created", purchase.Status)
	}
}

func TestCreateOrderForAgentUsesSyntheticPackage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agentID := f.seedAgent(t, 25)

	resp, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{
		AccountID: "user-2",
		AgentID:   &agentID,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if resp.Credits != 25 {
		t.Fatalf("credits = %d, want agent credit cost 25", resp.Credits)
	}

	// A second order for the same agent reuses the synthetic package.
	again, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{
		AccountID: "user-2",
		AgentID:   &agentID,
	})
	if err != nil {
		t.Fatalf("create order again: %v", err)
	}
	first, _ := f.ledger.GetPurchaseByOrderID(ctx, resp.OrderID)
	second, _ := f.ledger.GetPurchaseByOrderID(ctx, again.OrderID)
	if first.PackageID != second.PackageID {
		t.Fatalf("package ids differ: %v vs %v", first.PackageID, second.PackageID)
	}
}

func TestCreateOrderRejectsAmbiguousTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pkgID := f.seedPackage(t, 10, 1000)
	agentID := f.seedAgent(t, 5)

	_, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{AccountID: "user-3"})
	if !errors.Is(err, paymentdomain.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	_, err = f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{
		AccountID: "user-3", PackageID: &pkgID, AgentID: &agentID,
	})
	if !errors.Is(err, paymentdomain.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestVerifyPaymentCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pkgID := f.seedPackage(t, 500, 49900)

	order, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{
		AccountID: "user-4",
		PackageID: &pkgID,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	req := paymentdomain.VerifyPaymentRequest{
		AccountID: "user-4",
		OrderID:   order.OrderID,
		PaymentID: "pay_ok",
		Signature: captureSignature(order.OrderID, "pay_ok"),
	}
	res, err := f.svc.VerifyPayment(ctx, req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.CreditsAdded != 500 || res.NewBalance != 500 {
		t.Fatalf("credits/balance = %d/%d, want 500/500", res.CreditsAdded, res.NewBalance)
	}

	if _, err := f.svc.VerifyPayment(ctx, req); !errors.Is(err, ledgerdomain.ErrDuplicatePayment) {
		t.Fatalf("replay err = %v, want ErrDuplicatePayment", err)
	}
	if got := balance(t, f.db, "user-4"); got != 500 {
		t.Fatalf("balance = %d, want 500", got)
	}

	// The applied-purchases counter moves once; the replay does not count.
	if got := promtestutil.ToFloat64(f.metrics.PurchasesApplied); got != 1 {
		t.Fatalf("purchases_applied_total = %v, want 1", got)
	}
}

func TestVerifyPaymentRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pkgID := f.seedPackage(t, 500, 49900)

	order, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{
		AccountID: "user-5",
		PackageID: &pkgID,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	_, err = f.svc.VerifyPayment(ctx, paymentdomain.VerifyPaymentRequest{
		AccountID: "user-5",
		OrderID:   order.OrderID,
		PaymentID: "pay_bad",
		Signature: captureSignature(order.OrderID, "pay_other"),
	})
	if !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}

	purchase, err := f.ledger.GetPurchaseByOrderID(ctx, order.OrderID)
	if err != nil {
		t.Fatalf("lookup purchase: %v", err)
	}
	if purchase.Status != ledgerdomain.PurchaseStatusCreated {
		t.Fatalf("status = %q, want created (no credit on bad signature)", purchase.Status)
	}
}

func TestVerifyPaymentHidesForeignOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pkgID := f.seedPackage(t, 10, 1000)

	order, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{
		AccountID: "owner",
		PackageID: &pkgID,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	_, err = f.svc.VerifyPayment(ctx, paymentdomain.VerifyPaymentRequest{
		AccountID: "intruder",
		OrderID:   order.OrderID,
		PaymentID: "pay_x",
		Signature: captureSignature(order.OrderID, "pay_x"),
	})
	if !errors.Is(err, ledgerdomain.ErrPurchaseNotFound) {
		t.Fatalf("err = %v, want ErrPurchaseNotFound", err)
	}
}

func TestHandleWebhookCapture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pkgID := f.seedPackage(t, 100, 9900)

	order, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{
		AccountID: "user-6",
		PackageID: &pkgID,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	var event paymentdomain.WebhookEvent
	event.Event = paymentdomain.EventPaymentCaptured
	event.Payload.Payment.ID = "pay_hook"
	event.Payload.Payment.OrderID = order.OrderID
	event.Payload.Payment.Amount = 9900
	body, _ := json.Marshal(event)

	if err := f.svc.HandleWebhook(ctx, body, bodySignature(body)); err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if got := balance(t, f.db, "user-6"); got != 100 {
		t.Fatalf("balance = %d, want 100", got)
	}

	// Gateway retries are acknowledged without crediting again.
	if err := f.svc.HandleWebhook(ctx, body, bodySignature(body)); err != nil {
		t.Fatalf("webhook replay: %v", err)
	}
	if got := balance(t, f.db, "user-6"); got != 100 {
		t.Fatalf("balance after replay = %d, want 100", got)
	}

	if err := f.svc.HandleWebhook(ctx, body, "deadbeef"); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestHandleWebhookAfterVerifyDoesNotDoubleCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pkgID := f.seedPackage(t, 100, 9900)

	order, err := f.svc.CreateOrder(ctx, paymentdomain.CreateOrderRequest{
		AccountID: "user-7",
		PackageID: &pkgID,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	_, err = f.svc.VerifyPayment(ctx, paymentdomain.VerifyPaymentRequest{
		AccountID: "user-7",
		OrderID:   order.OrderID,
		PaymentID: "pay_race",
		Signature: captureSignature(order.OrderID, "pay_race"),
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	var event paymentdomain.WebhookEvent
	event.Event = paymentdomain.EventPaymentCaptured
	event.Payload.Payment.ID = "pay_race"
	event.Payload.Payment.OrderID = order.OrderID
	body, _ := json.Marshal(event)

	if err := f.svc.HandleWebhook(ctx, body, bodySignature(body)); err != nil {
		t.Fatalf("webhook after verify: %v", err)
	}
	if got := balance(t, f.db, "user-7"); got != 100 {
		t.Fatalf("balance = %d, want 100", got)
	}
}

func TestIgnoredWebhookEvents(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"event":"payment.authorized","payload":{"payment":{"id":"pay_a","order_id":"order_a"}}}`)
	if err := f.svc.HandleWebhook(context.Background(), body, bodySignature(body)); err != nil {
		t.Fatalf("err = %v, want nil for ignored event", err)
	}
}
