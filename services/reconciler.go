package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payflexi-gateway/models"
	"payflexi-gateway/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReconcileOutcome reports how an event advanced the order.
type ReconcileOutcome string

const (
	// OutcomeIgnored: the event carried no approved payment, replayed a
	// first installment already on record, or hit an order already settled.
	// No state changed.
	OutcomeIgnored ReconcileOutcome = "ignored"
	// OutcomeCompleted: the order reached full settlement.
	OutcomeCompleted ReconcileOutcome = "completed"
	// OutcomeFirstInstallment: the opening partial payment was recorded.
	OutcomeFirstInstallment ReconcileOutcome = "first_installment"
	// OutcomeInstallment: a later partial payment was recorded, total still
	// short of the order amount.
	OutcomeInstallment ReconcileOutcome = "installment"
)

const unenrollReasonCancelled = "cancelled"

// Reconciler is the payment reconciliation state machine. It receives
// verified payment events from either entry point and advances the order
// through pending -> partial -> completed, recording a transaction and a
// note for every applied event and driving enrollment side effects.
//
// Callers must only hand it authenticated events: signature-verified webhook
// payloads or API-confirmed redirect payments. The engine takes no locks of
// its own; per-order write serialization is the repository's job.
type Reconciler struct {
	repo       repository.OrderRepository
	enrollment EnrollmentService
	gateway    PaymentGateway
	publisher  EventPublisher
	logger     *zap.Logger
}

func NewReconciler(repo repository.OrderRepository, enrollment EnrollmentService, gateway PaymentGateway, publisher EventPublisher, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		repo:       repo,
		enrollment: enrollment,
		gateway:    gateway,
		publisher:  publisher,
		logger:     logger,
	}
}

// Reconcile applies one payment event to an order. The order mutation set is
// written atomically; if it fails, nothing was applied and the event is safe
// to replay. Enrollment and event-bus calls run after the order state has
// been committed and are logged, not fatal, since the money is already on
// record.
func (r *Reconciler) Reconcile(ctx context.Context, order *models.Order, event models.PaymentEvent) (ReconcileOutcome, error) {
	if order.Status == models.OrderStatusCompleted {
		// Already settled; a redelivered event must not re-enroll or
		// re-run completion.
		r.logger.Info("Ignoring event for completed order",
			zap.Uint("order_id", order.ID),
			zap.String("reference", event.Reference),
		)
		return OutcomeIgnored, nil
	}
	if event.Status != models.PaymentEventApproved {
		r.logger.Info("Ignoring non-approved payment event",
			zap.Uint("order_id", order.ID),
			zap.String("reference", event.Reference),
			zap.String("status", string(event.Status)),
		)
		return OutcomeIgnored, nil
	}

	// The cached session total is the source of truth once set; a replayed
	// or forged later event cannot shrink the target amount.
	orderAmount := event.OrderAmount
	if order.PayflexiOrderAmount != nil && order.PayflexiOrderAmount.IsPositive() {
		orderAmount = *order.PayflexiOrderAmount
	}
	amountPaid := event.AmountPaid

	if amountPaid.GreaterThanOrEqual(orderAmount) {
		return r.settleInFull(ctx, order, event, orderAmount, amountPaid)
	}

	firstInstallment := event.Reference == event.InitialReference
	if firstInstallment && order.PayflexiTransactionRef == "" {
		return r.recordFirstInstallment(ctx, order, event, orderAmount, amountPaid)
	}
	if firstInstallment {
		// Same session reference delivered again after the opening
		// installment was saved: duplicate, acknowledge without mutating.
		r.logger.Info("Skipping duplicate first-installment event",
			zap.Uint("order_id", order.ID),
			zap.String("reference", event.Reference),
		)
		return OutcomeIgnored, nil
	}
	return r.recordInstallment(ctx, order, event, orderAmount, amountPaid)
}

// settleInFull handles a single payment covering the whole order, including
// the closing payment of an order that previously went partial.
func (r *Reconciler) settleInFull(ctx context.Context, order *models.Order, event models.PaymentEvent, orderAmount, amountPaid decimal.Decimal) (ReconcileOutcome, error) {
	firstPayment := order.PayflexiTransactionRef == ""
	description := models.SourceDescriptionInstallment
	if firstPayment {
		description = models.SourceDescriptionOneTime
	}

	update := repository.ReconciliationUpdate{
		Status: models.OrderStatusCompleted,
		StateUpdates: map[string]interface{}{
			"payflexi_order_amount": orderAmount,
		},
		Transaction: &models.Transaction{
			Amount:            amountPaid,
			TransactionID:     event.Reference,
			Status:            models.TxnStatusSucceeded,
			PaymentType:       models.PaymentTypeSingle,
			SourceDescription: description,
		},
		Note: fmt.Sprintf("Order fully paid with %s %s. PayFlexi transaction reference: %s",
			order.Currency, amountPaid.StringFixed(2), event.Reference),
	}
	if err := r.repo.ApplyReconciliation(ctx, order.ID, update); err != nil {
		if errors.Is(err, repository.ErrOrderAlreadyCompleted) {
			return OutcomeIgnored, nil
		}
		return "", fmt.Errorf("reconcile full payment: %w", err)
	}

	r.logger.Info("Order fully settled",
		zap.Uint("order_id", order.ID),
		zap.String("reference", event.Reference),
		zap.String("amount_paid", amountPaid.String()),
	)

	r.enroll(ctx, order)
	r.publish(ctx, models.BusEventPaymentSucceeded, order, event.Reference, amountPaid)

	if firstPayment {
		if err := r.gateway.CompleteTransaction(ctx, order); err != nil {
			r.logger.Error("Gateway complete-transaction hook failed",
				zap.Uint("order_id", order.ID),
				zap.Error(err),
			)
		}
	}
	return OutcomeCompleted, nil
}

// recordFirstInstallment opens the installment plan: saves the session
// reference, caches the order amount, and parks the order in partial.
func (r *Reconciler) recordFirstInstallment(ctx context.Context, order *models.Order, event models.PaymentEvent, orderAmount, amountPaid decimal.Decimal) (ReconcileOutcome, error) {
	update := repository.ReconciliationUpdate{
		Status: models.OrderStatusPartial,
		StateUpdates: map[string]interface{}{
			"payflexi_transaction_ref": event.InitialReference,
			"payflexi_order_amount":    orderAmount,
			"payflexi_amount_paid":     amountPaid,
		},
		Transaction: &models.Transaction{
			Amount:            amountPaid,
			TransactionID:     event.Reference,
			Status:            models.TxnStatusSucceeded,
			PaymentType:       models.PaymentTypeSingle,
			SourceDescription: models.SourceDescriptionCheckout,
		},
		Note: fmt.Sprintf("Order partially paid with %s %s. PayFlexi transaction reference: %s",
			order.Currency, amountPaid.StringFixed(2), event.Reference),
	}
	if err := r.repo.ApplyReconciliation(ctx, order.ID, update); err != nil {
		if errors.Is(err, repository.ErrOrderAlreadyCompleted) {
			return OutcomeIgnored, nil
		}
		return "", fmt.Errorf("reconcile first installment: %w", err)
	}

	r.logger.Info("First installment recorded",
		zap.Uint("order_id", order.ID),
		zap.String("reference", event.Reference),
		zap.String("amount_paid", amountPaid.String()),
	)

	// Access stays gated until the order settles in full.
	r.unenroll(ctx, order)
	r.publish(ctx, models.BusEventPaymentPartial, order, event.Reference, amountPaid)
	return OutcomeFirstInstallment, nil
}

// recordInstallment accumulates a follow-up installment and completes the
// order when the running total reaches the session amount.
func (r *Reconciler) recordInstallment(ctx context.Context, order *models.Order, event models.PaymentEvent, orderAmount, amountPaid decimal.Decimal) (ReconcileOutcome, error) {
	totalPaid := order.PayflexiAmountPaid.Add(amountPaid)

	txn := &models.Transaction{
		Amount:            amountPaid,
		TransactionID:     event.Reference,
		Status:            models.TxnStatusSucceeded,
		PaymentType:       models.PaymentTypeSingle,
		SourceDescription: models.SourceDescriptionInstallment,
	}

	if totalPaid.GreaterThanOrEqual(orderAmount) {
		update := repository.ReconciliationUpdate{
			Status: models.OrderStatusCompleted,
			StateUpdates: map[string]interface{}{
				"payflexi_order_amount": orderAmount,
				"payflexi_amount_paid":  totalPaid,
			},
			Transaction: txn,
			Note: fmt.Sprintf("Final installment of %s %s received. PayFlexi transaction reference: %s",
				order.Currency, amountPaid.StringFixed(2), event.Reference),
		}
		if err := r.repo.ApplyReconciliation(ctx, order.ID, update); err != nil {
			if errors.Is(err, repository.ErrOrderAlreadyCompleted) {
				return OutcomeIgnored, nil
			}
			return "", fmt.Errorf("reconcile final installment: %w", err)
		}

		r.logger.Info("Final installment settled order",
			zap.Uint("order_id", order.ID),
			zap.String("reference", event.Reference),
			zap.String("total_paid", totalPaid.String()),
		)

		r.enroll(ctx, order)
		r.publish(ctx, models.BusEventPaymentSucceeded, order, event.Reference, amountPaid)
		return OutcomeCompleted, nil
	}

	update := repository.ReconciliationUpdate{
		Status: models.OrderStatusPartial,
		StateUpdates: map[string]interface{}{
			"payflexi_order_amount": orderAmount,
			"payflexi_amount_paid":  totalPaid,
		},
		Transaction: txn,
		Note: fmt.Sprintf("Installment of %s %s received, %s %s paid so far. PayFlexi transaction reference: %s",
			order.Currency, amountPaid.StringFixed(2), order.Currency, totalPaid.StringFixed(2), event.Reference),
	}
	if err := r.repo.ApplyReconciliation(ctx, order.ID, update); err != nil {
		if errors.Is(err, repository.ErrOrderAlreadyCompleted) {
			return OutcomeIgnored, nil
		}
		return "", fmt.Errorf("reconcile installment: %w", err)
	}

	r.logger.Info("Installment recorded",
		zap.Uint("order_id", order.ID),
		zap.String("reference", event.Reference),
		zap.String("total_paid", totalPaid.String()),
	)

	r.unenroll(ctx, order)
	r.publish(ctx, models.BusEventPaymentPartial, order, event.Reference, amountPaid)
	return OutcomeInstallment, nil
}

func (r *Reconciler) enroll(ctx context.Context, order *models.Order) {
	if err := r.enrollment.Enroll(ctx, order.UserID, order.ProductID); err != nil {
		r.logger.Error("Failed to enroll student",
			zap.Uint("order_id", order.ID),
			zap.Uint("user_id", order.UserID),
			zap.Error(err),
		)
	}
}

func (r *Reconciler) unenroll(ctx context.Context, order *models.Order) {
	if err := r.enrollment.Unenroll(ctx, order.UserID, order.ProductID, unenrollReasonCancelled); err != nil {
		r.logger.Error("Failed to unenroll student",
			zap.Uint("order_id", order.ID),
			zap.Uint("user_id", order.UserID),
			zap.Error(err),
		)
	}
}

func (r *Reconciler) publish(ctx context.Context, eventType string, order *models.Order, reference string, amount decimal.Decimal) {
	if r.publisher == nil {
		return
	}
	event := models.PaymentBusEvent{
		Type:      eventType,
		OrderID:   order.ID,
		Reference: reference,
		Amount:    amount,
		Currency:  order.Currency,
		Timestamp: time.Now().UTC(),
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Error("Failed to publish payment event",
			zap.String("event_type", eventType),
			zap.Uint("order_id", order.ID),
			zap.Error(err),
		)
	}
}
