package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/repository/common"
)

var (
	ErrDisputeNotFound       = errors.New("dispute not found")
	ErrActiveDisputeExists   = errors.New("active dispute already exists for this transaction")
	ErrDisputeStatusConflict = errors.New("dispute is not in an allowed status")
	ErrResolutionNotFound    = errors.New("resolution not found")
	ErrResolutionDecided     = errors.New("resolution already decided")
)

type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

// Create сохраняет спор. Частичный уникальный индекс по transaction_id для
// активных статусов гарантирует не более одного открытого спора на сделку
// даже при конкурентных вызовах.
func (r *DisputeRepository) Create(ctx context.Context, d *models.Dispute) error {
	query := `
		INSERT INTO disputes (transaction_id, raised_by, raised_against, dispute_type, reason, description, priority, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		d.TransactionID, d.RaisedBy, d.RaisedAgainst, d.DisputeType,
		d.Reason, d.Description, d.Priority, d.Status).
		Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return ErrActiveDisputeExists
	}
	return err
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return common.GetByID[models.Dispute](ctx, r.db, "disputes", id, ErrDisputeNotFound)
}

// GetActiveByTransaction возвращает открытый или рассматриваемый спор по сделке.
func (r *DisputeRepository) GetActiveByTransaction(ctx context.Context, txID uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := r.db.GetContext(ctx, &d, `
		SELECT * FROM disputes
		WHERE transaction_id = $1 AND status = ANY($2)
	`, txID, pq.Array([]string{models.DisputeStatusOpen, models.DisputeStatusInReview}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDisputeNotFound
	}
	return &d, err
}

func (r *DisputeRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := r.db.SelectContext(ctx, &disputes, `
		SELECT * FROM disputes
		WHERE raised_by = $1 OR raised_against = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return disputes, err
}

// SetStatus переводит спор в next из любого из состояний allowedFrom.
func (r *DisputeRepository) SetStatus(ctx context.Context, id uuid.UUID, allowedFrom []string, next string) (*models.Dispute, error) {
	var d models.Dispute
	err := r.db.GetContext(ctx, &d, `
		UPDATE disputes SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
		RETURNING *
	`, id, next, pq.Array(allowedFrom))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrDisputeStatusConflict
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Resolve закрепляет решение за спором. Guard по активным статусам
// гарантирует, что действие решения исполняется не более одного раза,
// даже если оба принятия пришли одновременно.
func (r *DisputeRepository) Resolve(ctx context.Context, id uuid.UUID, resolution, notes string, resolvedBy uuid.UUID, now time.Time) (*models.Dispute, error) {
	var d models.Dispute
	err := r.db.GetContext(ctx, &d, `
		UPDATE disputes
		SET status = $2, resolution = $3, resolution_notes = $4, resolved_by = $5, resolved_at = $6, updated_at = now()
		WHERE id = $1 AND status = ANY($7)
		RETURNING *
	`, id, models.DisputeStatusResolved, resolution, notes, resolvedBy, now,
		pq.Array([]string{models.DisputeStatusOpen, models.DisputeStatusInReview}))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrDisputeStatusConflict
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DisputeRepository) AddEvidence(ctx context.Context, e *models.Evidence) error {
	query := `
		INSERT INTO dispute_evidence (dispute_id, uploaded_by, file_name, file_type, file_url, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	return r.db.QueryRowContext(ctx, query,
		e.DisputeID, e.UploadedBy, e.FileName, e.FileType, e.FileURL, e.Description).
		Scan(&e.ID, &e.CreatedAt)
}

func (r *DisputeRepository) ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]models.Evidence, error) {
	var evidence []models.Evidence
	err := r.db.SelectContext(ctx, &evidence, `
		SELECT * FROM dispute_evidence WHERE dispute_id = $1 ORDER BY created_at
	`, disputeID)
	return evidence, err
}

func (r *DisputeRepository) AddMessage(ctx context.Context, m *models.DisputeMessage) error {
	query := `
		INSERT INTO dispute_messages (dispute_id, sender_type, sender_id, content, is_internal)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	return r.db.QueryRowContext(ctx, query,
		m.DisputeID, m.SenderType, m.SenderID, m.Content, m.IsInternal).
		Scan(&m.ID, &m.CreatedAt)
}

// ListMessages возвращает сообщения спора по порядку создания.
// Участники видят только неслужебные сообщения.
func (r *DisputeRepository) ListMessages(ctx context.Context, disputeID uuid.UUID, includeInternal bool) ([]models.DisputeMessage, error) {
	var messages []models.DisputeMessage
	query := `SELECT * FROM dispute_messages WHERE dispute_id = $1`
	if !includeInternal {
		query += ` AND is_internal = false`
	}
	query += ` ORDER BY created_at`
	err := r.db.SelectContext(ctx, &messages, query, disputeID)
	return messages, err
}

// MarkMessagesRead отмечает прочитанными все чужие сообщения спора.
func (r *DisputeRepository) MarkMessagesRead(ctx context.Context, disputeID, readerID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE dispute_messages SET is_read = true
		WHERE dispute_id = $1 AND is_read = false
		  AND (sender_id IS NULL OR sender_id <> $2)
	`, disputeID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *DisputeRepository) CreateResolution(ctx context.Context, res *models.DisputeResolution) error {
	query := `
		INSERT INTO dispute_resolutions (dispute_id, resolution_type, proposed_by, resolution, amount, reason, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	return r.db.QueryRowContext(ctx, query,
		res.DisputeID, res.ResolutionType, res.ProposedBy, res.Resolution,
		res.Amount, res.Reason, res.Status, res.ExpiresAt).
		Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)
}

func (r *DisputeRepository) GetResolutionByID(ctx context.Context, id uuid.UUID) (*models.DisputeResolution, error) {
	return common.GetByID[models.DisputeResolution](ctx, r.db, "dispute_resolutions", id, ErrResolutionNotFound)
}

func (r *DisputeRepository) ListResolutions(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeResolution, error) {
	var resolutions []models.DisputeResolution
	err := r.db.SelectContext(ctx, &resolutions, `
		SELECT * FROM dispute_resolutions WHERE dispute_id = $1 ORDER BY created_at
	`, disputeID)
	return resolutions, err
}

// decideResolution атомарно переводит решение из pending в принятое или
// отклонённое. Повторный вызов по уже решённой записи получает конфликт.
func (r *DisputeRepository) decideResolution(ctx context.Context, id uuid.UUID, next, byColumn string, userID uuid.UUID) (*models.DisputeResolution, error) {
	var res models.DisputeResolution
	err := r.db.GetContext(ctx, &res, `
		UPDATE dispute_resolutions
		SET status = $2, `+byColumn+` = $3, updated_at = now()
		WHERE id = $1 AND status = $4
		RETURNING *
	`, id, next, userID, models.ResolutionStatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetResolutionByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrResolutionDecided
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *DisputeRepository) AcceptResolution(ctx context.Context, id, userID uuid.UUID) (*models.DisputeResolution, error) {
	return r.decideResolution(ctx, id, models.ResolutionStatusAccepted, "accepted_by", userID)
}

func (r *DisputeRepository) RejectResolution(ctx context.Context, id, userID uuid.UUID) (*models.DisputeResolution, error) {
	return r.decideResolution(ctx, id, models.ResolutionStatusRejected, "rejected_by", userID)
}

// CountAcceptors возвращает число РАЗЛИЧНЫХ участников, принявших решения
// по спору. Правило взаимного принятия для mediation: считаются стороны,
// а не записи — два принятия одним участником остаются одним голосом.
func (r *DisputeRepository) CountAcceptors(ctx context.Context, disputeID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(DISTINCT accepted_by) FROM dispute_resolutions
		WHERE dispute_id = $1 AND status = $2
	`, disputeID, models.ResolutionStatusAccepted)
	return count, err
}

// MarkResolutionExpired помечает просроченное pending-решение. Уборка;
// корректность обеспечивается проверкой expires_at при чтении.
func (r *DisputeRepository) MarkResolutionExpired(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE dispute_resolutions SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3
	`, id, models.ResolutionStatusExpired, models.ResolutionStatusPending)
	return err
}
