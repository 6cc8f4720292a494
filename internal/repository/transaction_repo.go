package repository

import (
	"context"

	"earnsystem/internal/model"

	"gorm.io/gorm"
)

// TransactionRepository stores the ledger journal.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Insert reports false when (ref_no, user_id) already exists.
func (r *TransactionRepository) Insert(ctx context.Context, tx *gorm.DB, row *model.AccountTransaction) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Clauses(skipOnDupes).
		Create(row)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *TransactionRepository) ListByRef(ctx context.Context, refNo string) ([]*model.AccountTransaction, error) {
	var rows []*model.AccountTransaction
	err := r.db.WithContext(ctx).
		Where("ref_no = ?", refNo).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.AccountTransaction, int64, error) {
	var rows []*model.AccountTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.AccountTransaction{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := pageBounds(page, pageSize)
	err := query.
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error

	return rows, total, err
}
