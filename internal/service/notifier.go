package service

import (
	"context"
	"encoding/json"
	"fmt"

	"earnsystem/internal/model"
	"earnsystem/internal/repository"
	"earnsystem/pkg/logger"

	"go.uber.org/zap"
)

// Notification kinds understood by the delivery side.
const (
	EventWelcome                = "welcome"
	EventDepositConfirmation    = "deposit_confirmation"
	EventWithdrawalNotification = "withdrawal_notification"
	EventDailyEarnings          = "daily_earnings"
	EventReferralBonus          = "referral_bonus"
	EventInvestmentConfirmation = "investment_confirmation"
	EventRentalActivation       = "rental_activation"
)

type Event struct {
	Kind        string                 `json:"kind"`
	RecipientID int64                  `json:"recipient_account_id"`
	Payload     map[string]interface{} `json:"payload"`
}

// Dispatcher accepts notification events. Implementations must not block
// on delivery and never report failure to the caller.
type Dispatcher interface {
	Notify(ctx context.Context, event Event)
}

// Notifier queues events in the outbox table. The outbox sender job moves
// them to the message transport.
type Notifier struct {
	outbox *repository.OutboxRepository
	topic  string
}

func NewNotifier(outbox *repository.OutboxRepository, topic string) *Notifier {
	return &Notifier{outbox: outbox, topic: topic}
}

func (n *Notifier) Notify(ctx context.Context, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		logger.Error("encode notification failed", zap.String("kind", event.Kind), zap.Error(err))
		return
	}
	msg := &model.OutboxMessage{
		MessageKey:  fmt.Sprintf("%d", event.RecipientID),
		EventKind:   event.Kind,
		RecipientID: event.RecipientID,
		Topic:       n.topic,
		Payload:     string(body),
		Status:      model.OutboxStatusPending,
	}
	if err := n.outbox.Create(ctx, nil, msg); err != nil {
		logger.Warn("queue notification failed",
			zap.String("kind", event.Kind),
			zap.Int64("recipient_id", event.RecipientID),
			zap.Error(err),
		)
	}
}

// nopDispatcher is used when no dispatcher is wired.
type nopDispatcher struct{}

func (nopDispatcher) Notify(context.Context, Event) {}
