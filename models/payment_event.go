package models

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentEventStatus is the normalized outcome reported by the aggregator.
type PaymentEventStatus string

const (
	PaymentEventApproved  PaymentEventStatus = "approved"
	PaymentEventDeclined  PaymentEventStatus = "declined"
	PaymentEventCancelled PaymentEventStatus = "cancelled"
	PaymentEventUnknown   PaymentEventStatus = "unknown"
)

// ParsePaymentEventStatus maps an aggregator status string to its normalized
// form. Anything unrecognized is Unknown and never treated as money received.
func ParsePaymentEventStatus(status string) PaymentEventStatus {
	switch status {
	case "approved":
		return PaymentEventApproved
	case "declined":
		return PaymentEventDeclined
	case "cancelled":
		return PaymentEventCancelled
	default:
		return PaymentEventUnknown
	}
}

// PaymentEvent is the normalized payment notification handed to the
// reconciliation engine. Both entry points (redirect confirm and webhook)
// produce this shape; amounts always come from a verified source, never the
// buyer's browser.
type PaymentEvent struct {
	OrderID          uint
	Reference        string // aggregator reference for this payment attempt
	InitialReference string // reference of the original checkout session
	Status           PaymentEventStatus
	OrderAmount      decimal.Decimal // total the aggregator expects for the session
	AmountPaid       decimal.Decimal // amount actually paid in this attempt
}

// WebhookEnvelope is the JSON body PayFlexi posts to the events endpoint.
type WebhookEnvelope struct {
	Event string           `json:"event"`
	Data  WebhookEventData `json:"data"`
}

type WebhookEventData struct {
	Status           string          `json:"status"`
	Reference        string          `json:"reference"`
	InitialReference string          `json:"initial_reference"`
	Amount           decimal.Decimal `json:"amount"`
	TxnAmount        decimal.Decimal `json:"txn_amount"`
}

// Bus event types published after reconciliation.
const (
	BusEventPaymentPartial   = "payment_partial"
	BusEventPaymentSucceeded = "payment_succeeded"
	BusEventOrderCompleted   = "order_completed"
)

// PaymentBusEvent is the message published to the payment events topic so
// downstream host services (receipts, commissions, notifications) can react.
type PaymentBusEvent struct {
	Type      string          `json:"type"`
	OrderID   uint            `json:"order_id"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Timestamp time.Time       `json:"timestamp"`
}

const referencePrefix = "LLMS"

var ErrInvalidReference = errors.New("invalid payflexi order reference")

// ParseOrderReference extracts the order id from a checkout reference of the
// form "LLMS-{orderID}-{suffix}". A reference that does not yield a positive
// order id is a fatal input error for the event carrying it.
func ParseOrderReference(reference string) (uint, error) {
	parts := strings.Split(reference, "-")
	if len(parts) < 3 || parts[0] != referencePrefix {
		return 0, ErrInvalidReference
	}
	id, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil || id == 0 {
		return 0, ErrInvalidReference
	}
	return uint(id), nil
}
