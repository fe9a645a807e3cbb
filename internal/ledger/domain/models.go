package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Account carries the durable credit balance for an identity-provider user.
// The balance is mutated only through the ledger's atomic operations, never
// by read-modify-write from application code.
type Account struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	Email     string    `gorm:"type:text" json:"email"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// CreditPackage is a purchasable bundle of credits. Ad-hoc single-agent
// purchases use a synthetic package keyed by a stable slug so concurrent
// first-purchases converge on one row.
type CreditPackage struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	Slug      string        `gorm:"type:text;not null;uniqueIndex:ux_credit_packages_slug" json:"slug"`
	Name      string        `gorm:"type:text;not null" json:"name"`
	Credits   int64         `gorm:"not null" json:"credits"`
	Amount    int64         `gorm:"not null" json:"amount"`
	Currency  string        `gorm:"type:text;not null" json:"currency"`
	AgentID   *snowflake.ID `gorm:"index" json:"agent_id,omitempty"`
	Active    bool          `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time     `gorm:"not null" json:"created_at"`
}

func (CreditPackage) TableName() string { return "credit_packages" }

type PurchaseStatus string

const (
	PurchaseStatusCreated  PurchaseStatus = "created"
	PurchaseStatusPaid     PurchaseStatus = "paid"
	PurchaseStatusFailed   PurchaseStatus = "failed"
	PurchaseStatusRefunded PurchaseStatus = "refunded"
)

// CreditPurchase is one row per payment-gateway order. GatewayPaymentID is
// unique once captured; that constraint is the idempotency boundary.
type CreditPurchase struct {
	ID               snowflake.ID   `gorm:"primaryKey" json:"id"`
	AccountID        string         `gorm:"type:text;not null;index" json:"account_id"`
	PackageID        snowflake.ID   `gorm:"not null" json:"package_id"`
	GatewayOrderID   string         `gorm:"type:text;not null;index" json:"gateway_order_id"`
	GatewayPaymentID *string        `gorm:"type:text;uniqueIndex:ux_credit_purchases_payment_id" json:"gateway_payment_id,omitempty"`
	GatewaySignature *string        `gorm:"type:text" json:"-"`
	AmountPaid       int64          `gorm:"not null" json:"amount_paid"`
	Credits          int64          `gorm:"not null" json:"credits"`
	Status           PurchaseStatus `gorm:"type:text;not null" json:"status"`
	Currency         string         `gorm:"type:text;not null" json:"currency"`
	CreatedAt        time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
}

func (CreditPurchase) TableName() string { return "credit_purchases" }

type PurchaseCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}
