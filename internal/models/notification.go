package models

import (
	"time"

	"github.com/google/uuid"
)

// Приоритеты уведомлений
const (
	NotificationPriorityLow    = "low"
	NotificationPriorityNormal = "normal"
	NotificationPriorityHigh   = "high"
)

// Notification — долговременная запись о событии для пользователя.
// После создания изменяется только флаг is_read; лента активности
// строится поверх этих записей.
type Notification struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	UserID        uuid.UUID  `db:"user_id" json:"user_id"`
	TransactionID *uuid.UUID `db:"transaction_id" json:"transaction_id,omitempty"`
	Type          string     `db:"type" json:"type"`
	Title         string     `db:"title" json:"title"`
	Message       string     `db:"message" json:"message"`
	Priority      string     `db:"priority" json:"priority"`
	IsRead        bool       `db:"is_read" json:"is_read"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}
