package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"earnsystem/internal/model"
	"earnsystem/internal/repository"
	"earnsystem/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AccountService struct {
	db          *gorm.DB
	accountRepo *repository.AccountRepository
	journalRepo *repository.TransactionRepository
	subRepo     *repository.SubscriptionRepository
	accrualRepo *repository.AccrualRepository
	commRepo    *repository.CommissionRepository
	graph       *ReferralGraph
	notifier    Dispatcher
}

func NewAccountService(db *gorm.DB, graph *ReferralGraph, notifier Dispatcher) *AccountService {
	if notifier == nil {
		notifier = nopDispatcher{}
	}
	return &AccountService{
		db:          db,
		accountRepo: repository.NewAccountRepository(db),
		journalRepo: repository.NewTransactionRepository(db),
		subRepo:     repository.NewSubscriptionRepository(db),
		accrualRepo: repository.NewAccrualRepository(db),
		commRepo:    repository.NewCommissionRepository(db),
		graph:       graph,
		notifier:    notifier,
	}
}

type RegisterRequest struct {
	UserID     int64  `json:"user_id" binding:"required,gt=0"`
	Email      string `json:"email" binding:"required,email"`
	ReferrerID *int64 `json:"referrer_id"`
}

// Register creates the account and its referral edges in one transaction.
func (s *AccountService) Register(ctx context.Context, req *RegisterRequest) (*model.Account, error) {
	if req.UserID <= 0 {
		return nil, invalid("user_id must be positive")
	}
	if req.ReferrerID != nil && *req.ReferrerID == req.UserID {
		return nil, invalid("a user cannot refer themselves")
	}

	account := &model.Account{
		UserID:     req.UserID,
		Email:      strings.TrimSpace(req.Email),
		ReferrerID: req.ReferrerID,
		Status:     model.AccountStatusActive,
	}

	edges := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.ReferrerID != nil {
			if _, err := s.accountRepo.GetByUserID(ctx, tx, *req.ReferrerID); err != nil {
				if errors.Is(err, repository.ErrAccountNotFound) {
					return invalid("referrer %d does not exist", *req.ReferrerID)
				}
				return err
			}
		}

		created, err := s.accountRepo.Create(ctx, tx, account)
		if err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		if !created {
			return invalid("account for user %d already exists", req.UserID)
		}

		if req.ReferrerID != nil {
			n, err := s.graph.CreateReferralEdges(ctx, tx, req.UserID, *req.ReferrerID)
			if err != nil {
				return err
			}
			edges = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("account registered", zap.Int64("user_id", req.UserID), zap.Int("referral_edges", edges))
	s.notifier.Notify(ctx, Event{
		Kind:        EventWelcome,
		RecipientID: req.UserID,
		Payload:     map[string]interface{}{"email": account.Email},
	})
	return account, nil
}

func (s *AccountService) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	return s.accountRepo.GetByUserID(ctx, nil, userID)
}

func (s *AccountService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.AccountTransaction, int64, error) {
	return s.journalRepo.ListByUserID(ctx, userID, page, pageSize)
}

func (s *AccountService) ListSubscriptions(ctx context.Context, userID int64) ([]*model.Subscription, error) {
	return s.subRepo.ListByUserID(ctx, userID)
}

func (s *AccountService) ListReferrals(ctx context.Context, userID int64) ([]*model.ReferralEdge, error) {
	return s.graph.Downline(ctx, userID)
}

// ListAccruals returns the daily profit history of one of the user's
// subscriptions.
func (s *AccountService) ListAccruals(ctx context.Context, userID, subscriptionID int64) ([]*model.AccrualRecord, error) {
	sub, err := s.subRepo.GetByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, ErrForbidden
	}
	return s.accrualRepo.ListBySubscription(ctx, subscriptionID)
}

// ListCommissions returns the referral commissions the user has earned.
func (s *AccountService) ListCommissions(ctx context.Context, userID int64, page, pageSize int) ([]*model.CommissionRecord, int64, error) {
	return s.commRepo.ListByReferrer(ctx, userID, page, pageSize)
}
