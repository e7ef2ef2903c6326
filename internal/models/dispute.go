package models

import (
	"time"

	"github.com/google/uuid"
)

// Статусы спора
const (
	DisputeStatusOpen     = "open"
	DisputeStatusInReview = "in_review"
	DisputeStatusResolved = "resolved"
	DisputeStatusClosed   = "closed"
)

// Типы спора
const (
	DisputeTypePayment  = "payment"
	DisputeTypeDelivery = "delivery"
	DisputeTypeQuality  = "quality"
	DisputeTypeFraud    = "fraud"
	DisputeTypeOther    = "other"
)

// Приоритеты спора
const (
	DisputePriorityLow    = "low"
	DisputePriorityMedium = "medium"
	DisputePriorityHigh   = "high"
	DisputePriorityUrgent = "urgent"
)

// Dispute — спор по сделке. Пока спор открыт или на рассмотрении,
// по сделке не может существовать второго активного спора.
type Dispute struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	TransactionID   uuid.UUID  `db:"transaction_id" json:"transaction_id"`
	RaisedBy        uuid.UUID  `db:"raised_by" json:"raised_by"`
	RaisedAgainst   uuid.UUID  `db:"raised_against" json:"raised_against"`
	DisputeType     string     `db:"dispute_type" json:"dispute_type"`
	Reason          string     `db:"reason" json:"reason"`
	Description     string     `db:"description" json:"description"`
	Priority        string     `db:"priority" json:"priority"`
	Status          string     `db:"status" json:"status"`
	Resolution      *string    `db:"resolution" json:"resolution,omitempty"`
	ResolutionNotes *string    `db:"resolution_notes" json:"resolution_notes,omitempty"`
	ResolvedBy      *uuid.UUID `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// IsParty проверяет, является ли пользователь стороной спора.
func (d *Dispute) IsParty(userID uuid.UUID) bool {
	return userID == d.RaisedBy || userID == d.RaisedAgainst
}

// OtherParty возвращает вторую сторону спора.
func (d *Dispute) OtherParty(userID uuid.UUID) uuid.UUID {
	if userID == d.RaisedBy {
		return d.RaisedAgainst
	}
	return d.RaisedBy
}

// IsActive сообщает, считается ли спор активным (блокирует новые споры
// и переводит сделку в disputed).
func (d *Dispute) IsActive() bool {
	return d.Status == DisputeStatusOpen || d.Status == DisputeStatusInReview
}

// Типы файлов доказательств
const (
	EvidenceFileTypeImage    = "image"
	EvidenceFileTypeDocument = "document"
	EvidenceFileTypeVideo    = "video"
	EvidenceFileTypeAudio    = "audio"
)

// Evidence — доказательство, приложенное к спору. Только добавляется,
// никогда не изменяется.
type Evidence struct {
	ID          uuid.UUID `db:"id" json:"id"`
	DisputeID   uuid.UUID `db:"dispute_id" json:"dispute_id"`
	UploadedBy  uuid.UUID `db:"uploaded_by" json:"uploaded_by"`
	FileName    string    `db:"file_name" json:"file_name"`
	FileType    string    `db:"file_type" json:"file_type"`
	FileURL     string    `db:"file_url" json:"file_url"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Типы отправителей сообщений в споре
const (
	SenderTypeUser   = "user"
	SenderTypeSystem = "system"
)

// Sender — помеченный вариант отправителя сообщения: участник спора либо
// система. Системные сообщения не привязаны к пользователю, поэтому
// магической строки вместо идентификатора не существует.
type Sender struct {
	Type   string     `json:"type"`
	UserID *uuid.UUID `json:"user_id,omitempty"`
}

// UserSender создаёт отправителя-участника.
func UserSender(id uuid.UUID) Sender {
	return Sender{Type: SenderTypeUser, UserID: &id}
}

// SystemSender создаёт системного отправителя.
func SystemSender() Sender {
	return Sender{Type: SenderTypeSystem}
}

// IsSystem сообщает, отправлено ли сообщение системой.
func (s Sender) IsSystem() bool {
	return s.Type == SenderTypeSystem
}

// DisputeMessage — сообщение в споре, упорядочено по времени создания.
type DisputeMessage struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	DisputeID  uuid.UUID  `db:"dispute_id" json:"dispute_id"`
	SenderType string     `db:"sender_type" json:"sender_type"`
	SenderID   *uuid.UUID `db:"sender_id" json:"sender_id,omitempty"`
	Content    string     `db:"content" json:"content"`
	IsInternal bool       `db:"is_internal" json:"is_internal"`
	IsRead     bool       `db:"is_read" json:"is_read"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Sender собирает вариант отправителя из колонок БД.
func (m *DisputeMessage) Sender() Sender {
	return Sender{Type: m.SenderType, UserID: m.SenderID}
}
