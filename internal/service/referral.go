package service

import (
	"context"
	"errors"
	"fmt"

	"earnsystem/internal/model"
	"earnsystem/internal/repository"
	"earnsystem/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReferralGraph builds and reads the precomputed upline edges.
type ReferralGraph struct {
	accounts  *repository.AccountRepository
	referrals *repository.ReferralRepository
	rates     CommissionRates
}

func NewReferralGraph(db *gorm.DB, rates CommissionRates) *ReferralGraph {
	return &ReferralGraph{
		accounts:  repository.NewAccountRepository(db),
		referrals: repository.NewReferralRepository(db),
		rates:     rates,
	}
}

func (g *ReferralGraph) Rates() CommissionRates {
	return g.rates
}

// ResolveUpline walks referrer_id links above userID and returns at most
// maxDepth ancestors, nearest first. maxDepth is capped at
// model.MaxReferralDepth. The walk stops at a missing account or a cycle.
func (g *ReferralGraph) ResolveUpline(ctx context.Context, tx *gorm.DB, userID int64, maxDepth int) ([]int64, error) {
	if maxDepth > model.MaxReferralDepth {
		maxDepth = model.MaxReferralDepth
	}
	upline := make([]int64, 0, maxDepth)
	seen := map[int64]bool{userID: true}
	current := userID

	for len(upline) < maxDepth {
		acc, err := g.accounts.GetByUserID(ctx, tx, current)
		if err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) && current != userID {
				break
			}
			return nil, fmt.Errorf("resolve upline of %d: %w", userID, err)
		}
		if acc.ReferrerID == nil {
			break
		}
		next := *acc.ReferrerID
		if seen[next] {
			logger.Warn("referral cycle detected", zap.Int64("user_id", userID), zap.Int64("at", next))
			break
		}
		seen[next] = true
		upline = append(upline, next)
		current = next
	}
	return upline, nil
}

// CreateReferralEdges gives newUserID one edge per upline level, starting at
// referrerID. It must run in the registration transaction. A user that
// already has edges is left alone, so a retried registration is harmless.
func (g *ReferralGraph) CreateReferralEdges(ctx context.Context, tx *gorm.DB, newUserID, referrerID int64) (int, error) {
	if newUserID == referrerID {
		return 0, invalid("a user cannot refer themselves")
	}

	existing, err := g.referrals.CountByReferred(ctx, tx, newUserID)
	if err != nil {
		return 0, fmt.Errorf("count edges: %w", err)
	}
	if existing > 0 {
		logger.Debug("referral edges already exist", zap.Int64("user_id", newUserID))
		return 0, nil
	}

	above, err := g.ResolveUpline(ctx, tx, referrerID, model.MaxReferralDepth-1)
	if err != nil {
		return 0, err
	}
	chain := append([]int64{referrerID}, above...)

	created := 0
	for i, ancestor := range chain {
		if ancestor == newUserID {
			break
		}
		level := i + 1
		edge := &model.ReferralEdge{
			ReferrerID:     ancestor,
			ReferredID:     newUserID,
			Level:          level,
			CommissionRate: g.rates.ForLevel(level),
			Status:         model.ReferralEdgeActive,
		}
		ok, err := g.referrals.CreateEdge(ctx, tx, edge)
		if err != nil {
			return created, fmt.Errorf("create level %d edge: %w", level, err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// Edges returns the active upline edges of userID, level 1 first.
func (g *ReferralGraph) Edges(ctx context.Context, userID int64) ([]*model.ReferralEdge, error) {
	return g.referrals.ListActiveByReferred(ctx, nil, userID)
}

// Downline returns the edges where userID is the referrer.
func (g *ReferralGraph) Downline(ctx context.Context, userID int64) ([]*model.ReferralEdge, error) {
	return g.referrals.ListByReferrer(ctx, userID)
}
