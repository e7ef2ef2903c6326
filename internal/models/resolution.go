package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Типы разрешения спора
const (
	ResolutionTypeAutomatic     = "automatic"
	ResolutionTypeMediation     = "mediation"
	ResolutionTypeArbitration   = "arbitration"
	ResolutionTypeAdminDecision = "admin_decision"
)

// Варианты решения
const (
	ResolutionRefundFull     = "refund_full"
	ResolutionRefundPartial  = "refund_partial"
	ResolutionReleasePayment = "release_payment"
	ResolutionNoAction       = "no_action"
)

// Статусы предложенного решения
const (
	ResolutionStatusPending  = "pending"
	ResolutionStatusAccepted = "accepted"
	ResolutionStatusRejected = "rejected"
	ResolutionStatusExpired  = "expired"
)

// Срок действия предложенного решения по умолчанию.
const ResolutionTTL = 7 * 24 * time.Hour

// DisputeResolution — предложение о разрешении спора. Для mediation спор
// разрешается только после двух принятых записей; сумма частичного возврата
// хранится здесь и является источником истины (статус сделки её не несёт).
type DisputeResolution struct {
	ID             uuid.UUID        `db:"id" json:"id"`
	DisputeID      uuid.UUID        `db:"dispute_id" json:"dispute_id"`
	ResolutionType string           `db:"resolution_type" json:"resolution_type"`
	ProposedBy     uuid.UUID        `db:"proposed_by" json:"proposed_by"`
	Resolution     string           `db:"resolution" json:"resolution"`
	Amount         *decimal.Decimal `db:"amount" json:"amount,omitempty"`
	Reason         string           `db:"reason" json:"reason"`
	Status         string           `db:"status" json:"status"`
	ExpiresAt      time.Time        `db:"expires_at" json:"expires_at"`
	AcceptedBy     *uuid.UUID       `db:"accepted_by" json:"accepted_by,omitempty"`
	RejectedBy     *uuid.UUID       `db:"rejected_by" json:"rejected_by,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// IsExpired проверяет срок действия на момент чтения.
func (r *DisputeResolution) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
