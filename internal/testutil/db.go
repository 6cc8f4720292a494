// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"earnsystem/internal/infrastructure/database"
	"earnsystem/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq int64

// NewDB returns a migrated in-memory SQLite database private to the test.
// It has a single connection, so code under test must not use the base
// handle while a transaction is open.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := fmt.Sprintf("file:earnsystem_test_%d?mode=memory&cache=shared&_busy_timeout=5000", atomic.AddInt64(&dbSeq, 1))
	db, err := gorm.Open(sqlite.Open(name), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// SeedAccount inserts an account with the given balance and optional referrer.
func SeedAccount(t testing.TB, db *gorm.DB, userID int64, balance string, referrerID *int64) *model.Account {
	t.Helper()
	acc := &model.Account{
		UserID:     userID,
		Email:      fmt.Sprintf("user%d@example.com", userID),
		ReferrerID: referrerID,
		Status:     model.AccountStatusActive,
		Balance:    decimal.RequireFromString(balance),
	}
	require.NoError(t, db.Create(acc).Error)
	return acc
}

// Account reloads the account row.
func Account(t testing.TB, db *gorm.DB, userID int64) *model.Account {
	t.Helper()
	var acc model.Account
	require.NoError(t, db.Where("user_id = ?", userID).First(&acc).Error)
	return &acc
}

// Dec parses a decimal literal.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}
