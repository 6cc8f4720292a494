package service

import (
	"context"
	"testing"
	"time"

	"earnsystem/internal/ledger"
	"earnsystem/internal/model"
	"earnsystem/internal/testutil"
	"earnsystem/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testDay = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

var testRates = CommissionRates{
	Level1: decimal.NewFromInt(7),
	Level2: decimal.NewFromInt(5),
	Level3: decimal.NewFromInt(3),
}

type testEnv struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	graph    *ReferralGraph
	accounts *AccountService
	cascade  *CommissionCascade
	engine   *SettlementEngine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)
	l := ledger.New(db)
	graph := NewReferralGraph(db, testRates)
	cascade := NewCommissionCascade(db, l, nil)
	return &testEnv{
		db:       db,
		ledger:   l,
		graph:    graph,
		accounts: NewAccountService(db, graph, nil),
		cascade:  cascade,
		engine:   NewSettlementEngine(db, l, cascade, nil, SettlementOptions{Workers: 2, BatchSize: 2}),
	}
}

func (e *testEnv) register(t *testing.T, userID int64, referrerID *int64) {
	t.Helper()
	_, err := e.accounts.Register(context.Background(), &RegisterRequest{
		UserID:     userID,
		Email:      "user@example.com",
		ReferrerID: referrerID,
	})
	require.NoError(t, err)
}

type subOpts struct {
	kind     string
	expected string
	start    time.Time
	end      time.Time
	deviceID *int64
}

func seedSubscription(t *testing.T, db *gorm.DB, userID int64, o subOpts) *model.Subscription {
	t.Helper()
	if o.kind == "" {
		o.kind = model.SubscriptionKindInvestment
	}
	if o.start.IsZero() {
		o.start = testDay.AddDate(0, 0, -5)
	}
	if o.end.IsZero() {
		o.end = testDay.AddDate(0, 0, 25)
	}
	sub := &model.Subscription{
		SubscriptionNo:      idgen.GenerateSubscriptionNo(),
		UserID:              userID,
		Kind:                o.kind,
		DeviceID:            o.deviceID,
		Principal:           testutil.Dec("1000"),
		DailyRate:           testutil.Dec("0.5"),
		ExpectedDailyProfit: testutil.Dec(o.expected),
		Status:              model.SubscriptionStatusActive,
		StartDate:           o.start,
		EndDate:             o.end,
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func seedDevice(t *testing.T, db *gorm.DB, uptime string) *model.Device {
	t.Helper()
	d := &model.Device{
		Name:             "Miner X1",
		Model:            "X1",
		RentalPrice:      testutil.Dec("500"),
		DailyRate:        testutil.Dec("2"),
		RentalDays:       30,
		UptimePercentage: testutil.Dec(uptime),
		Status:           model.DeviceStatusAvailable,
	}
	require.NoError(t, db.Create(d).Error)
	return d
}

func reloadSubscription(t *testing.T, db *gorm.DB, id int64) *model.Subscription {
	t.Helper()
	var sub model.Subscription
	require.NoError(t, db.First(&sub, id).Error)
	return &sub
}

func countRows(t *testing.T, db *gorm.DB, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := db.Model(m)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

// recordingDispatcher keeps every event for assertions.
type recordingDispatcher struct {
	events []Event
}

func (r *recordingDispatcher) Notify(_ context.Context, e Event) {
	r.events = append(r.events, e)
}

func (r *recordingDispatcher) kinds() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

// staticSettings serves fixed values and falls back otherwise.
type staticSettings map[string]string

func (s staticSettings) GetString(_ context.Context, key, fallback string) string {
	if v, ok := s[key]; ok {
		return v
	}
	return fallback
}

func (s staticSettings) GetDecimal(_ context.Context, key string, fallback decimal.Decimal) decimal.Decimal {
	if v, ok := s[key]; ok {
		return decimal.RequireFromString(v)
	}
	return fallback
}

func (s staticSettings) GetInt(_ context.Context, key string, fallback int) int {
	if v, ok := s[key]; ok {
		d := decimal.RequireFromString(v)
		return int(d.IntPart())
	}
	return fallback
}

func (s staticSettings) GetBool(_ context.Context, key string, fallback bool) bool {
	if v, ok := s[key]; ok {
		return v == "true"
	}
	return fallback
}
