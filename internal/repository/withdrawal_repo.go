package repository

import (
	"context"
	"errors"

	"earnsystem/internal/model"

	"gorm.io/gorm"
)

var ErrWithdrawalNotFound = errors.New("withdrawal not found")

type WithdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) Create(ctx context.Context, tx *gorm.DB, w *model.WithdrawalRequest) error {
	return conn(r.db, tx).WithContext(ctx).Create(w).Error
}

func (r *WithdrawalRepository) GetByNo(ctx context.Context, tx *gorm.DB, withdrawalNo string) (*model.WithdrawalRequest, error) {
	var w model.WithdrawalRequest
	err := conn(r.db, tx).WithContext(ctx).Where("withdrawal_no = ?", withdrawalNo).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *WithdrawalRepository) GetByNoForUpdate(ctx context.Context, tx *gorm.DB, withdrawalNo string) (*model.WithdrawalRequest, error) {
	var w model.WithdrawalRequest
	err := tx.WithContext(ctx).
		Clauses(forUpdate).
		Where("withdrawal_no = ?", withdrawalNo).
		First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &w, nil
}

// UpdateStatus is a compare-and-set on status; the refund or completion
// that goes with each transition is applied in the same transaction.
func (r *WithdrawalRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, withdrawalNo, from, to string, extra map[string]interface{}) error {
	if !model.CanTransitionWithdrawal(from, to) {
		return ErrInvalidStatus
	}

	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	result := conn(r.db, tx).WithContext(ctx).
		Model(&model.WithdrawalRequest{}).
		Where("withdrawal_no = ? AND status = ?", withdrawalNo, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvalidStatus
	}
	return nil
}

func (r *WithdrawalRepository) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.WithdrawalRequest, int64, error) {
	var rows []*model.WithdrawalRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WithdrawalRequest{}).Where("status = ?", status)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := pageBounds(page, pageSize)
	err := query.Order("created_at ASC").Offset(offset).Limit(limit).Find(&rows).Error
	return rows, total, err
}

func (r *WithdrawalRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.WithdrawalRequest, int64, error) {
	var rows []*model.WithdrawalRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WithdrawalRequest{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := pageBounds(page, pageSize)
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&rows).Error
	return rows, total, err
}
