package services

import (
	"context"
	"errors"
	"testing"

	"payflexi-gateway/models"
	"payflexi-gateway/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeOrderRepo struct {
	applied []appliedReconciliation
	err     error
}

type appliedReconciliation struct {
	orderID uint
	update  repository.ReconciliationUpdate
}

func (f *fakeOrderRepo) FindByID(ctx context.Context, id uint) (*models.Order, error) {
	return nil, repository.ErrOrderNotFound
}

func (f *fakeOrderRepo) FindByOrderKey(ctx context.Context, key string) (*models.Order, error) {
	return nil, repository.ErrOrderNotFound
}

func (f *fakeOrderRepo) ApplyReconciliation(ctx context.Context, orderID uint, update repository.ReconciliationUpdate) error {
	if f.err != nil {
		return f.err
	}
	f.applied = append(f.applied, appliedReconciliation{orderID: orderID, update: update})
	return nil
}

type fakeEnrollment struct {
	enrolled   []uint
	unenrolled []uint
	reasons    []string
}

func (f *fakeEnrollment) Enroll(ctx context.Context, userID, productID uint) error {
	f.enrolled = append(f.enrolled, productID)
	return nil
}

func (f *fakeEnrollment) Unenroll(ctx context.Context, userID, productID uint, reason string) error {
	f.unenrolled = append(f.unenrolled, productID)
	f.reasons = append(f.reasons, reason)
	return nil
}

type fakePublisher struct {
	events []models.PaymentBusEvent
}

func (f *fakePublisher) Publish(ctx context.Context, event models.PaymentBusEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeGateway struct {
	completed []uint
}

func (f *fakeGateway) ID() string                  { return GatewayID }
func (f *fakeGateway) Title() string               { return "Pay in Installment" }
func (f *fakeGateway) Description() string         { return "" }
func (f *fakeGateway) PaymentInstructions() string { return "" }

func (f *fakeGateway) HandlePendingOrder(ctx context.Context, order *models.Order, student *models.Student) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeGateway) VerifyTransaction(ctx context.Context, reference string) (*TransactionData, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeGateway) VerifyWebhookSignature(rawBody []byte, signature string) bool { return true }

func (f *fakeGateway) CompleteTransaction(ctx context.Context, order *models.Order) error {
	f.completed = append(f.completed, order.ID)
	return nil
}

type reconcilerFixture struct {
	repo       *fakeOrderRepo
	enrollment *fakeEnrollment
	publisher  *fakePublisher
	gateway    *fakeGateway
	reconciler *Reconciler
}

func newReconcilerFixture() *reconcilerFixture {
	f := &reconcilerFixture{
		repo:       &fakeOrderRepo{},
		enrollment: &fakeEnrollment{},
		publisher:  &fakePublisher{},
		gateway:    &fakeGateway{},
	}
	f.reconciler = NewReconciler(f.repo, f.enrollment, f.gateway, f.publisher, zap.NewNop())
	return f
}

func pendingOrder() *models.Order {
	return &models.Order{
		ID:             42,
		OrderKey:       "ok-42",
		UserID:         7,
		ProductID:      301,
		Currency:       "USD",
		Total:          decimal.NewFromInt(10000),
		Status:         models.OrderStatusPending,
		PaymentGateway: GatewayID,
	}
}

func approvedEvent(reference, initial string, orderAmount, amountPaid int64) models.PaymentEvent {
	return models.PaymentEvent{
		OrderID:          42,
		Reference:        reference,
		InitialReference: initial,
		Status:           models.PaymentEventApproved,
		OrderAmount:      decimal.NewFromInt(orderAmount),
		AmountPaid:       decimal.NewFromInt(amountPaid),
	}
}

func TestReconcileFullPayment(t *testing.T) {
	f := newReconcilerFixture()
	order := pendingOrder()

	outcome, err := f.reconciler.Reconcile(context.Background(), order,
		approvedEvent("LLMS-42-abc", "LLMS-42-abc", 10000, 10000))

	assert.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	if assert.Len(t, f.repo.applied, 1) {
		update := f.repo.applied[0].update
		assert.Equal(t, uint(42), f.repo.applied[0].orderID)
		assert.Equal(t, models.OrderStatusCompleted, update.Status)
		if assert.NotNil(t, update.Transaction) {
			assert.Equal(t, models.SourceDescriptionOneTime, update.Transaction.SourceDescription)
			assert.True(t, update.Transaction.Amount.Equal(decimal.NewFromInt(10000)))
			assert.Equal(t, "LLMS-42-abc", update.Transaction.TransactionID)
		}
		assert.NotEmpty(t, update.Note)
	}

	assert.Equal(t, []uint{301}, f.enrollment.enrolled)
	assert.Empty(t, f.enrollment.unenrolled)
	assert.Equal(t, []uint{42}, f.gateway.completed)
	if assert.Len(t, f.publisher.events, 1) {
		assert.Equal(t, models.BusEventPaymentSucceeded, f.publisher.events[0].Type)
	}
}

func TestReconcileFirstInstallment(t *testing.T) {
	f := newReconcilerFixture()
	order := pendingOrder()

	outcome, err := f.reconciler.Reconcile(context.Background(), order,
		approvedEvent("LLMS-42-abc", "LLMS-42-abc", 10000, 4000))

	assert.NoError(t, err)
	assert.Equal(t, OutcomeFirstInstallment, outcome)

	if assert.Len(t, f.repo.applied, 1) {
		update := f.repo.applied[0].update
		assert.Equal(t, models.OrderStatusPartial, update.Status)
		assert.Equal(t, "LLMS-42-abc", update.StateUpdates["payflexi_transaction_ref"])
		paid, ok := update.StateUpdates["payflexi_amount_paid"].(decimal.Decimal)
		if assert.True(t, ok) {
			assert.True(t, paid.Equal(decimal.NewFromInt(4000)))
		}
		if assert.NotNil(t, update.Transaction) {
			assert.Equal(t, models.SourceDescriptionCheckout, update.Transaction.SourceDescription)
		}
	}

	assert.Empty(t, f.enrollment.enrolled)
	assert.Equal(t, []uint{301}, f.enrollment.unenrolled)
	assert.Equal(t, []string{"cancelled"}, f.enrollment.reasons)
	assert.Empty(t, f.gateway.completed)
	if assert.Len(t, f.publisher.events, 1) {
		assert.Equal(t, models.BusEventPaymentPartial, f.publisher.events[0].Type)
	}
}

func TestReconcileFinalInstallmentCompletesOrder(t *testing.T) {
	f := newReconcilerFixture()
	order := pendingOrder()
	order.Status = models.OrderStatusPartial
	order.PayflexiTransactionRef = "LLMS-42-abc"
	cached := decimal.NewFromInt(10000)
	order.PayflexiOrderAmount = &cached
	order.PayflexiAmountPaid = decimal.NewFromInt(4000)

	outcome, err := f.reconciler.Reconcile(context.Background(), order,
		approvedEvent("PF-second", "LLMS-42-abc", 10000, 6000))

	assert.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	if assert.Len(t, f.repo.applied, 1) {
		update := f.repo.applied[0].update
		assert.Equal(t, models.OrderStatusCompleted, update.Status)
		total, ok := update.StateUpdates["payflexi_amount_paid"].(decimal.Decimal)
		if assert.True(t, ok) {
			assert.True(t, total.Equal(decimal.NewFromInt(10000)))
		}
		if assert.NotNil(t, update.Transaction) {
			assert.Equal(t, models.SourceDescriptionInstallment, update.Transaction.SourceDescription)
		}
	}

	assert.Equal(t, []uint{301}, f.enrollment.enrolled)
	// Finalization already ran on the opening payment.
	assert.Empty(t, f.gateway.completed)
	if assert.Len(t, f.publisher.events, 1) {
		assert.Equal(t, models.BusEventPaymentSucceeded, f.publisher.events[0].Type)
	}
}

func TestReconcileIntermediateInstallmentStaysPartial(t *testing.T) {
	f := newReconcilerFixture()
	order := pendingOrder()
	order.Status = models.OrderStatusPartial
	order.PayflexiTransactionRef = "LLMS-42-abc"
	cached := decimal.NewFromInt(10000)
	order.PayflexiOrderAmount = &cached
	order.PayflexiAmountPaid = decimal.NewFromInt(4000)

	outcome, err := f.reconciler.Reconcile(context.Background(), order,
		approvedEvent("PF-second", "LLMS-42-abc", 10000, 3000))

	assert.NoError(t, err)
	assert.Equal(t, OutcomeInstallment, outcome)

	if assert.Len(t, f.repo.applied, 1) {
		update := f.repo.applied[0].update
		assert.Equal(t, models.OrderStatusPartial, update.Status)
		total, ok := update.StateUpdates["payflexi_amount_paid"].(decimal.Decimal)
		if assert.True(t, ok) {
			assert.True(t, total.Equal(decimal.NewFromInt(7000)))
		}
	}

	assert.Empty(t, f.enrollment.enrolled)
	assert.Equal(t, []uint{301}, f.enrollment.unenrolled)
}

func TestReconcileIgnoresNonApprovedEvent(t *testing.T) {
	f := newReconcilerFixture()
	order := pendingOrder()

	event := approvedEvent("LLMS-42-abc", "LLMS-42-abc", 10000, 10000)
	event.Status = models.PaymentEventDeclined

	outcome, err := f.reconciler.Reconcile(context.Background(), order, event)

	assert.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, f.repo.applied)
	assert.Empty(t, f.enrollment.enrolled)
	assert.Empty(t, f.enrollment.unenrolled)
	assert.Empty(t, f.publisher.events)
}

func TestReconcileIgnoresDuplicateFirstInstallment(t *testing.T) {
	f := newReconcilerFixture()
	order := pendingOrder()
	order.Status = models.OrderStatusPartial
	order.PayflexiTransactionRef = "LLMS-42-abc"
	cached := decimal.NewFromInt(10000)
	order.PayflexiOrderAmount = &cached
	order.PayflexiAmountPaid = decimal.NewFromInt(4000)

	outcome, err := f.reconciler.Reconcile(context.Background(), order,
		approvedEvent("LLMS-42-abc", "LLMS-42-abc", 10000, 4000))

	assert.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, f.repo.applied)
	assert.Empty(t, f.enrollment.unenrolled)
	assert.Empty(t, f.publisher.events)
}

func TestReconcileCachedOrderAmountWins(t *testing.T) {
	f := newReconcilerFixture()
	order := pendingOrder()
	order.Status = models.OrderStatusPartial
	order.PayflexiTransactionRef = "LLMS-42-abc"
	cached := decimal.NewFromInt(10000)
	order.PayflexiOrderAmount = &cached
	order.PayflexiAmountPaid = decimal.NewFromInt(4000)

	// Event claims the session total shrank to 5000; the cached amount must
	// keep the order partial at 6000 paid.
	outcome, err := f.reconciler.Reconcile(context.Background(), order,
		approvedEvent("PF-second", "LLMS-42-abc", 5000, 2000))

	assert.NoError(t, err)
	assert.Equal(t, OutcomeInstallment, outcome)
	assert.Empty(t, f.enrollment.enrolled)
	if assert.Len(t, f.repo.applied, 1) {
		assert.Equal(t, models.OrderStatusPartial, f.repo.applied[0].update.Status)
	}
}

func TestReconcileRepositoryErrorHasNoSideEffects(t *testing.T) {
	f := newReconcilerFixture()
	f.repo.err = errors.New("connection reset")
	order := pendingOrder()

	outcome, err := f.reconciler.Reconcile(context.Background(), order,
		approvedEvent("LLMS-42-abc", "LLMS-42-abc", 10000, 10000))

	assert.Error(t, err)
	assert.Equal(t, ReconcileOutcome(""), outcome)
	assert.Empty(t, f.enrollment.enrolled)
	assert.Empty(t, f.enrollment.unenrolled)
	assert.Empty(t, f.publisher.events)
	assert.Empty(t, f.gateway.completed)
}

func TestReconcileReplayOnCompletedOrderIsIgnored(t *testing.T) {
	f := newReconcilerFixture()
	order := pendingOrder()
	order.Status = models.OrderStatusCompleted
	cached := decimal.NewFromInt(10000)
	order.PayflexiOrderAmount = &cached
	order.PayflexiAmountPaid = decimal.NewFromInt(10000)

	// The same full-payment event delivered a second time.
	outcome, err := f.reconciler.Reconcile(context.Background(), order,
		approvedEvent("LLMS-42-abc", "LLMS-42-abc", 10000, 10000))

	assert.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, f.repo.applied)
	assert.Empty(t, f.enrollment.enrolled)
	assert.Empty(t, f.enrollment.unenrolled)
	assert.Empty(t, f.publisher.events)
	assert.Empty(t, f.gateway.completed)
}

func TestReconcileLostCompletionRaceIsIgnored(t *testing.T) {
	f := newReconcilerFixture()
	// The row went completed between the read and the locked write.
	f.repo.err = repository.ErrOrderAlreadyCompleted
	order := pendingOrder()

	outcome, err := f.reconciler.Reconcile(context.Background(), order,
		approvedEvent("LLMS-42-abc", "LLMS-42-abc", 10000, 10000))

	assert.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, f.enrollment.enrolled)
	assert.Empty(t, f.publisher.events)
	assert.Empty(t, f.gateway.completed)
}

func TestReconcileClosingPaymentOnPartialOrderSkipsFinalizeHook(t *testing.T) {
	f := newReconcilerFixture()
	order := pendingOrder()
	order.Status = models.OrderStatusPartial
	order.PayflexiTransactionRef = "LLMS-42-abc"
	cached := decimal.NewFromInt(10000)
	order.PayflexiOrderAmount = &cached
	order.PayflexiAmountPaid = decimal.NewFromInt(4000)

	// A single later payment covering the whole remaining session amount.
	outcome, err := f.reconciler.Reconcile(context.Background(), order,
		approvedEvent("PF-second", "LLMS-42-abc", 10000, 10000))

	assert.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Empty(t, f.gateway.completed)
	if assert.Len(t, f.repo.applied, 1) {
		if assert.NotNil(t, f.repo.applied[0].update.Transaction) {
			assert.Equal(t, models.SourceDescriptionInstallment, f.repo.applied[0].update.Transaction.SourceDescription)
		}
	}
}
