package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// CreateOrderRequest opens a gateway checkout for a credit package or for
// ad-hoc access to a single agent. Exactly one of PackageID or AgentID is set.
type CreateOrderRequest struct {
	AccountID    string
	AccountEmail string
	PackageID    *snowflake.ID
	AgentID      *snowflake.ID
}

type CreateOrderResponse struct {
	PurchaseID snowflake.ID `json:"purchase_id"`
	OrderID    string       `json:"order_id"`
	Amount     int64        `json:"amount"`
	Currency   string       `json:"currency"`
	Credits    int64        `json:"credits"`
	KeyID      string       `json:"key_id"`
}

// VerifyPaymentRequest carries the client-side checkout callback fields.
type VerifyPaymentRequest struct {
	AccountID    string
	AccountEmail string
	OrderID      string
	PaymentID    string
	Signature    string
}

type VerifyPaymentResult struct {
	PurchaseID   snowflake.ID `json:"purchase_id"`
	CreditsAdded int64        `json:"credits_added"`
	NewBalance   int64        `json:"new_balance"`
}

// WebhookEvent is the gateway's server-to-server capture notification.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			ID      string `json:"id"`
			OrderID string `json:"order_id"`
			Amount  int64  `json:"amount"`
		} `json:"payment"`
	} `json:"payload"`
}

const EventPaymentCaptured = "payment.captured"

// Service verifies gateway captures and turns them into ledger credits. The
// signature check always runs before any ledger lookup or write.
type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResponse, error)
	VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (*VerifyPaymentResult, error)

	// HandleWebhook ingests a raw gateway event. A capture already applied
	// through VerifyPayment is acknowledged without crediting again.
	HandleWebhook(ctx context.Context, body []byte, signature string) error
}

var (
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrGatewayUnavailable = errors.New("gateway_unavailable")
)
