package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidStatus means a compare-and-set status update found the row in a
// different state, or the transition is not in the table.
var ErrInvalidStatus = errors.New("status transition not allowed")

// conn returns tx when the caller is inside a transaction, base otherwise.
// Reads made while a transaction is open must go through tx.
func conn(base, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return base
}

var (
	forUpdate   = clause.Locking{Strength: "UPDATE"}
	skipOnDupes = clause.OnConflict{DoNothing: true}
)

func pageBounds(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	return (page - 1) * pageSize, pageSize
}
