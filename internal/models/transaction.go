package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Статусы сделки
const (
	TransactionStatusPending                  = "pending"
	TransactionStatusActive                   = "active"
	TransactionStatusWaitingForPayment        = "waiting_for_payment"
	TransactionStatusPaymentMade              = "payment_made"
	TransactionStatusWaitingForShipment       = "waiting_for_shipment"
	TransactionStatusWaitingForBuyerConfirm   = "waiting_for_buyer_confirmation"
	TransactionStatusCompleted                = "completed"
	TransactionStatusCancelled                = "cancelled"
	TransactionStatusFailed                   = "failed"
	TransactionStatusDisputed                 = "disputed"
)

// Роли участников сделки
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
)

// Transaction описывает escrow-сделку между двумя участниками.
// Создатель задаёт свою роль, вторая сторона всегда получает противоположную.
type Transaction struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	Description      string           `db:"description" json:"description"`
	Currency         string           `db:"currency" json:"currency"`
	Price            decimal.Decimal  `db:"price" json:"price"`
	Fee              decimal.Decimal  `db:"fee" json:"fee"`
	Total            decimal.Decimal  `db:"total" json:"total"`
	CreatorID        uuid.UUID        `db:"creator_id" json:"creator_id"`
	CreatorRole      string           `db:"creator_role" json:"creator_role"`
	CounterpartyID   *uuid.UUID       `db:"counterparty_id" json:"counterparty_id,omitempty"`
	CounterpartyRole *string          `db:"counterparty_role" json:"counterparty_role,omitempty"`
	UseCourier       bool             `db:"use_courier" json:"use_courier"`
	Status           string           `db:"status" json:"status"`
	DeliveryDetails  *DeliveryDetails `db:"delivery_details" json:"delivery_details,omitempty"`
	ShippingDetails  *ShippingDetails `db:"shipping_details" json:"shipping_details,omitempty"`
	PaymentMethod    *string          `db:"payment_method" json:"payment_method,omitempty"`
	PaymentReference *string          `db:"payment_reference" json:"payment_reference,omitempty"`
	PaidAt           *time.Time       `db:"paid_at" json:"paid_at,omitempty"`
	ShippedAt        *time.Time       `db:"shipped_at" json:"shipped_at,omitempty"`
	CompletedAt      *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt      *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// OppositeRole возвращает противоположную роль.
func OppositeRole(role string) string {
	if role == RoleBuyer {
		return RoleSeller
	}
	return RoleBuyer
}

// EffectiveRole вычисляет роль участника в сделке по его идентификатору.
// Единственное место в системе, где выводится роль: и жизненный цикл,
// и споры обязаны использовать эту функцию, а не повторять логику.
func EffectiveRole(tx *Transaction, actorID uuid.UUID) (string, bool) {
	if actorID == tx.CreatorID {
		return tx.CreatorRole, true
	}
	if tx.CounterpartyID != nil && actorID == *tx.CounterpartyID {
		if tx.CounterpartyRole != nil {
			return *tx.CounterpartyRole, true
		}
		return OppositeRole(tx.CreatorRole), true
	}
	return "", false
}

// OtherParty возвращает идентификатор второго участника сделки.
func (t *Transaction) OtherParty(actorID uuid.UUID) (uuid.UUID, bool) {
	if actorID == t.CreatorID {
		if t.CounterpartyID == nil {
			return uuid.Nil, false
		}
		return *t.CounterpartyID, true
	}
	if t.CounterpartyID != nil && actorID == *t.CounterpartyID {
		return t.CreatorID, true
	}
	return uuid.Nil, false
}

// Parties возвращает идентификаторы обоих участников (второй может отсутствовать).
func (t *Transaction) Parties() []uuid.UUID {
	parties := []uuid.UUID{t.CreatorID}
	if t.CounterpartyID != nil {
		parties = append(parties, *t.CounterpartyID)
	}
	return parties
}

// IsTerminalStatus сообщает, достигла ли сделка конечного состояния.
func IsTerminalStatus(status string) bool {
	switch status {
	case TransactionStatusCompleted, TransactionStatusCancelled, TransactionStatusFailed:
		return true
	}
	return false
}

// DeliveryDetails — типизированные данные доставки, которые покупатель
// передаёт перед оплатой. Версионируем документ, чтобы не зависеть от
// нетипизированного JSON.
type DeliveryDetails struct {
	Version       int    `json:"version"`
	Method        string `json:"method"` // courier | pickup | digital
	RecipientName string `json:"recipient_name,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Address       string `json:"address,omitempty"`
	City          string `json:"city,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	Country       string `json:"country,omitempty"`
	Comment       string `json:"comment,omitempty"`
}

// ShippingDetails — данные отправки, которые продавец передаёт после оплаты.
type ShippingDetails struct {
	Version           int        `json:"version"`
	Carrier           string     `json:"carrier,omitempty"`
	TrackingNumber    string     `json:"tracking_number,omitempty"`
	TrackingURL       string     `json:"tracking_url,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	Comment           string     `json:"comment,omitempty"`
}

// Value сериализует детали доставки в jsonb.
func (d DeliveryDetails) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan десериализует детали доставки из jsonb.
func (d *DeliveryDetails) Scan(src interface{}) error {
	return scanJSON(src, d)
}

// Value сериализует детали отправки в jsonb.
func (s ShippingDetails) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan десериализует детали отправки из jsonb.
func (s *ShippingDetails) Scan(src interface{}) error {
	return scanJSON(src, s)
}

func scanJSON(src, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("models: неподдерживаемый тип jsonb: %T", src)
	}
}
