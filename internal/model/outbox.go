package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage is a notification waiting to be handed to the message
// transport. Writing it never blocks or fails the business operation that
// produced it.
type OutboxMessage struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey  string    `gorm:"type:varchar(64);not null" json:"message_key"`
	EventKind   string    `gorm:"type:varchar(40);index;not null" json:"event_kind"`
	RecipientID int64     `gorm:"index;not null" json:"recipient_id"`
	Topic       string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload     string    `gorm:"type:text;not null" json:"payload"`
	Status      string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount  int       `gorm:"not null;default:0" json:"retry_count"`
	LastError   string    `gorm:"type:varchar(512)" json:"last_error,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
