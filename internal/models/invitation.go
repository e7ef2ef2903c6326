package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы приглашения
const (
	InvitationStatusActive  = "active"
	InvitationStatusUsed    = "used"
	InvitationStatusExpired = "expired"
)

// Параметры кода приглашения
const (
	InvitationCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	InvitationCodeLength   = 6
	InvitationTTL          = 7 * 24 * time.Hour
)

// Invitation — одноразовый код, по которому вторая сторона присоединяется
// к сделке. Переход active -> used происходит ровно один раз.
type Invitation struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	TransactionID uuid.UUID  `db:"transaction_id" json:"transaction_id"`
	Code          string     `db:"code" json:"code"`
	Status        string     `db:"status" json:"status"`
	ExpiresAt     time.Time  `db:"expires_at" json:"expires_at"`
	UsedAt        *time.Time `db:"used_at" json:"used_at,omitempty"`
	UsedBy        *uuid.UUID `db:"used_by" json:"used_by,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// IsExpired проверяет срок действия на момент чтения. Статус в БД может
// ещё числиться active — истечение всегда проверяется по времени.
func (i *Invitation) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
