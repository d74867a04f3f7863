package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is the host LMS purchase record. The reconciliation engine reads and
// mutates the payflexi_* state columns; everything else is owned by the host
// checkout flow that placed the order.
type Order struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	OrderKey string `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_key"`
	UserID   uint   `gorm:"index;not null" json:"user_id"`

	ProductID    uint   `gorm:"index;not null" json:"product_id"`
	ProductType  string `gorm:"type:varchar(32)" json:"product_type"` // course, membership
	ProductTitle string `gorm:"type:varchar(255)" json:"product_title"`
	PlanID       uint   `json:"plan_id"`
	PlanTitle    string `gorm:"type:varchar(255)" json:"plan_title"`

	BillingEmail     string `gorm:"type:varchar(255)" json:"billing_email"`
	BillingFirstName string `gorm:"type:varchar(100)" json:"billing_first_name"`
	BillingLastName  string `gorm:"type:varchar(100)" json:"billing_last_name"`

	Currency       string          `gorm:"type:varchar(10);not null" json:"currency"`
	Total          decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total"`
	Status         OrderStatus     `gorm:"type:varchar(20);not null;default:pending" json:"status"`
	PaymentGateway string          `gorm:"type:varchar(32);index;not null" json:"payment_gateway"`

	// PayFlexi installment state. PayflexiTransactionRef holds the reference
	// of the first partial payment and doubles as the de-duplication signal
	// for first-installment webhooks. PayflexiOrderAmount is the cached
	// session total; once money has been recorded against it, later events
	// can no longer overwrite it.
	PayflexiTransactionRef string           `gorm:"type:varchar(64)" json:"payflexi_transaction_ref"`
	PayflexiOrderAmount    *decimal.Decimal `gorm:"type:numeric(12,2)" json:"payflexi_order_amount,omitempty"`
	PayflexiAmountPaid     decimal.Decimal  `gorm:"type:numeric(12,2);not null;default:0" json:"payflexi_amount_paid"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BuyerName joins the billing names, empty when neither is set.
func (o *Order) BuyerName() string {
	return strings.TrimSpace(strings.TrimSpace(o.BillingFirstName) + " " + strings.TrimSpace(o.BillingLastName))
}

// Student carries the buyer profile fields the host passes alongside an
// order when initiating checkout. Used as a fallback for billing details.
type Student struct {
	ID          uint   `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}
