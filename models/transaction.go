package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TxnStatusSucceeded = "succeeded"
	PaymentTypeSingle  = "single"
)

// Source descriptions recorded against transactions, one per payment shape.
const (
	SourceDescriptionCheckout    = "PayFlexi Flexible Checkout Payment"
	SourceDescriptionOneTime     = "One-time payment via PayFlexi"
	SourceDescriptionInstallment = "PayFlexi (Pay in Installment)"
)

// Transaction is an append-only audit record created by the reconciliation
// engine for every applied payment event. Rows are never updated.
type Transaction struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	OrderID           uint            `gorm:"index;not null" json:"order_id"`
	Amount            decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	TransactionID     string          `gorm:"type:varchar(64);index;not null" json:"transaction_id"`
	Status            string          `gorm:"type:varchar(20);not null" json:"status"`
	PaymentType       string          `gorm:"type:varchar(20);not null" json:"payment_type"`
	SourceDescription string          `gorm:"type:varchar(255)" json:"source_description"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// OrderNote is a free-form, append-only note on an order.
type OrderNote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OrderID   uint      `gorm:"index;not null" json:"order_id"`
	Note      string    `gorm:"type:text;not null" json:"note"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
