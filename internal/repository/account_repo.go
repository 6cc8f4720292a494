package repository

import (
	"context"
	"errors"

	"earnsystem/internal/model"

	"gorm.io/gorm"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrOptimisticLock  = errors.New("optimistic lock conflict")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts the account and reports false if the user already has one.
func (r *AccountRepository) Create(ctx context.Context, tx *gorm.DB, account *model.Account) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).
		Clauses(skipOnDupes).
		Create(account)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *AccountRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.Account, error) {
	var account model.Account
	err := conn(r.db, tx).WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(forUpdate).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// UpdateMoney writes already-computed column values guarded by version.
// The ledger is its only caller.
func (r *AccountRepository) UpdateMoney(ctx context.Context, tx *gorm.DB, userID int64, version int, values map[string]interface{}) error {
	values["version"] = gorm.Expr("version + 1")
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND version = ?", userID, version).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

func (r *AccountRepository) UpdateStatus(ctx context.Context, userID int64, from, to string) error {
	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND status = ?", userID, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
