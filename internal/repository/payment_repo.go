package repository

import (
	"context"
	"errors"
	"time"

	"earnsystem/internal/model"

	"gorm.io/gorm"
)

var ErrPaymentNotFound = errors.New("payment not found")

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) error {
	return conn(r.db, tx).WithContext(ctx).Create(payment).Error
}

func (r *PaymentRepository) GetByPaymentNo(ctx context.Context, tx *gorm.DB, paymentNo string) (*model.Payment, error) {
	var payment model.Payment
	err := conn(r.db, tx).WithContext(ctx).Where("payment_no = ?", paymentNo).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) GetByPaymentNoForUpdate(ctx context.Context, tx *gorm.DB, paymentNo string) (*model.Payment, error) {
	var payment model.Payment
	err := tx.WithContext(ctx).
		Clauses(forUpdate).
		Where("payment_no = ?", paymentNo).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// UpdateStatus moves a payment from one status to another only if it is
// still in from. extra carries columns set together with the status.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, paymentNo, from, to string, extra map[string]interface{}) error {
	if !model.CanTransitionPayment(from, to) {
		return ErrInvalidStatus
	}

	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	if to == model.PaymentStatusCompleted {
		now := time.Now()
		updates["processed_at"] = &now
	}

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.Payment{}).
		Where("payment_no = ? AND status = ?", paymentNo, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidStatus
	}
	return nil
}

// ListOpenCryptoDeposits returns deposits still waiting on the gateway,
// least recently checked first.
func (r *PaymentRepository) ListOpenCryptoDeposits(ctx context.Context, limit int) ([]*model.Payment, error) {
	var payments []*model.Payment
	err := r.db.WithContext(ctx).
		Where("type = ? AND method = ? AND status IN ?", model.PaymentTypeDeposit, model.PaymentMethodCrypto,
			[]string{model.PaymentStatusPending, model.PaymentStatusProcessing}).
		Order("updated_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

// Touch bumps updated_at so the poller rotates through open deposits.
func (r *PaymentRepository) Touch(ctx context.Context, paymentNo string) error {
	return r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("payment_no = ?", paymentNo).
		Update("updated_at", time.Now()).Error
}

func (r *PaymentRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Payment, int64, error) {
	var payments []*model.Payment
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Payment{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := pageBounds(page, pageSize)
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&payments).Error
	return payments, total, err
}
