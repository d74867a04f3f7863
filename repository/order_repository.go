package repository

import (
	"context"
	"errors"

	"payflexi-gateway/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderAlreadyCompleted = errors.New("order already completed")
)

// ReconciliationUpdate is the full mutation set the reconciliation engine
// derives from one payment event. It is applied atomically: either every
// piece lands or none does, so a failed event stays safe to replay.
type ReconciliationUpdate struct {
	Status       models.OrderStatus
	StateUpdates map[string]interface{} // payflexi_* columns
	Transaction  *models.Transaction
	Note         string
}

type OrderRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Order, error)
	FindByOrderKey(ctx context.Context, key string) (*models.Order, error)
	ApplyReconciliation(ctx context.Context, orderID uint, update ReconciliationUpdate) error
}

type gormOrderRepo struct {
	db *gorm.DB
}

func NewGormOrderRepo(db *gorm.DB) OrderRepository {
	return &gormOrderRepo{db: db}
}

func (r *gormOrderRepo) FindByID(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *gormOrderRepo) FindByOrderKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("order_key = ?", key).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ApplyReconciliation runs the whole mutation set in one DB transaction,
// taking a FOR UPDATE lock on the order row so concurrent deliveries for the
// same order (webhook racing the redirect) serialize here. A row already in
// completed state is rejected under the lock, so the loser of that race
// cannot apply the same payment a second time.
func (r *gormOrderRepo) ApplyReconciliation(ctx context.Context, orderID uint, update ReconciliationUpdate) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		if order.Status == models.OrderStatusCompleted {
			return ErrOrderAlreadyCompleted
		}

		updates := map[string]interface{}{"status": update.Status}
		for col, val := range update.StateUpdates {
			updates[col] = val
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", orderID).Updates(updates).Error; err != nil {
			return err
		}

		if update.Transaction != nil {
			update.Transaction.OrderID = orderID
			if err := tx.Create(update.Transaction).Error; err != nil {
				return err
			}
		}

		if update.Note != "" {
			if err := tx.Create(&models.OrderNote{OrderID: orderID, Note: update.Note}).Error; err != nil {
				return err
			}
		}

		return nil
	})
}
