package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"time"

	"payflexi-gateway/config"
	"payflexi-gateway/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentGateway is the capability set a payment gateway exposes to the
// checkout flow and the reconciliation engine. PayFlexi is one concrete
// implementation; sibling gateways register the same surface.
type PaymentGateway interface {
	ID() string
	Title() string
	Description() string
	PaymentInstructions() string

	// HandlePendingOrder creates a checkout session for a pending order and
	// returns the hosted URL the buyer must be redirected to.
	HandlePendingOrder(ctx context.Context, order *models.Order, student *models.Student) (string, error)

	// VerifyTransaction confirms a redirect-reported payment against the
	// aggregator API. Client-supplied amounts are never trusted.
	VerifyTransaction(ctx context.Context, reference string) (*TransactionData, error)

	// VerifyWebhookSignature checks the HMAC of a raw webhook body.
	VerifyWebhookSignature(rawBody []byte, signature string) bool

	// CompleteTransaction runs host-side completion for an order settled by
	// its very first payment (receipts, commissions, and the like).
	CompleteTransaction(ctx context.Context, order *models.Order) error
}

// EventPublisher fans reconciliation outcomes out to the host event bus.
type EventPublisher interface {
	Publish(ctx context.Context, event models.PaymentBusEvent) error
}

const GatewayID = "payflexi"

type PayFlexiGateway struct {
	cfg       *config.Config
	client    *PayFlexiClient
	publisher EventPublisher
	logger    *zap.Logger
}

var _ PaymentGateway = (*PayFlexiGateway)(nil)

func NewPayFlexiGateway(cfg *config.Config, client *PayFlexiClient, publisher EventPublisher, logger *zap.Logger) *PayFlexiGateway {
	return &PayFlexiGateway{cfg: cfg, client: client, publisher: publisher, logger: logger}
}

func (g *PayFlexiGateway) ID() string    { return GatewayID }
func (g *PayFlexiGateway) Title() string { return "Pay in Installment" }
func (g *PayFlexiGateway) Description() string {
	return "Pay in flexible installment or in full using PayFlexi"
}
func (g *PayFlexiGateway) PaymentInstructions() string { return g.cfg.PaymentInstructions }

// NewCheckoutReference mints a fresh session reference for an order.
func NewCheckoutReference(orderID uint) string {
	return fmt.Sprintf("LLMS-%d-%s", orderID, uuid.NewString())
}

func (g *PayFlexiGateway) HandlePendingOrder(ctx context.Context, order *models.Order, student *models.Student) (string, error) {
	name := order.BuyerName()
	email := order.BillingEmail
	if student != nil {
		if name == "" {
			name = student.DisplayName
		}
		if student.Email != "" {
			email = student.Email
		}
	}

	req := CheckoutRequest{
		Name:         name,
		Amount:       order.Total,
		Email:        email,
		Reference:    NewCheckoutReference(order.ID),
		Currency:     order.Currency,
		CallbackURL:  fmt.Sprintf("%s/payments/confirm?order=%s", g.cfg.PublicBaseURL, order.OrderKey),
		Domain:       "global",
		Gateway:      g.cfg.EnabledPaymentGateway,
		PlansEnabled: !g.cfg.DisablePaymentPlans,
		Meta: CheckoutMeta{
			Title:      fmt.Sprintf("%s: %s", order.ProductType, order.ProductTitle),
			OrderID:    order.ID,
			OrderKey:   order.OrderKey,
			CoursePlan: order.PlanTitle,
		},
	}

	g.logger.Info("PayFlexi handle_pending_order started",
		zap.Uint("order_id", order.ID),
		zap.String("reference", req.Reference),
	)

	resp, err := g.client.CreateCheckout(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.CheckoutURL, nil
}

func (g *PayFlexiGateway) VerifyTransaction(ctx context.Context, reference string) (*TransactionData, error) {
	return g.client.FetchTransaction(ctx, reference)
}

// VerifyWebhookSignature computes HMAC-SHA-512 over the exact raw body bytes
// with the mode-selected secret and compares constant-time. Parsing and
// re-serializing the JSON before hashing would break verification, so the
// caller must pass the body untouched. Fails closed on a missing signature
// or unconfigured secret.
func (g *PayFlexiGateway) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	secret := g.cfg.SecretKey()
	if secret == "" || signature == "" || len(rawBody) == 0 {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// CompleteTransaction publishes the order-completed event downstream host
// services consume for receipts and commission handling.
func (g *PayFlexiGateway) CompleteTransaction(ctx context.Context, order *models.Order) error {
	if g.publisher == nil {
		return nil
	}
	event := models.PaymentBusEvent{
		Type:      models.BusEventOrderCompleted,
		OrderID:   order.ID,
		Reference: order.PayflexiTransactionRef,
		Amount:    order.Total,
		Currency:  order.Currency,
		Timestamp: time.Now().UTC(),
	}
	if err := g.publisher.Publish(ctx, event); err != nil {
		g.logger.Error("Failed to publish order completed event",
			zap.Uint("order_id", order.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
