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
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrInvitationUsed     = errors.New("invitation already used")
	ErrInvitationExpired  = errors.New("invitation expired")
	ErrCodeCollision      = errors.New("invitation code collision")
	ErrCounterpartyExists = errors.New("transaction already has a counterparty")
	ErrOwnInvitation      = errors.New("cannot join own transaction")
)

const pgUniqueViolation = "23505"

type InvitationRepository struct {
	db *sqlx.DB
}

func NewInvitationRepository(db *sqlx.DB) *InvitationRepository {
	return &InvitationRepository{db: db}
}

// Create сохраняет приглашение. Коллизия кода отражается как ErrCodeCollision,
// вызывающая сторона генерирует новый код и повторяет попытку.
func (r *InvitationRepository) Create(ctx context.Context, inv *models.Invitation) error {
	query := `
		INSERT INTO invitations (transaction_id, code, status, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query, inv.TransactionID, inv.Code, inv.Status, inv.ExpiresAt).
		Scan(&inv.ID, &inv.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return ErrCodeCollision
	}
	return err
}

func (r *InvitationRepository) GetByCode(ctx context.Context, code string) (*models.Invitation, error) {
	return common.GetByField[models.Invitation](ctx, r.db, "invitations", "code", code, ErrInvitationNotFound)
}

func (r *InvitationRepository) GetByTransactionID(ctx context.Context, txID uuid.UUID) (*models.Invitation, error) {
	return common.GetByField[models.Invitation](ctx, r.db, "invitations", "transaction_id", txID, ErrInvitationNotFound)
}

// Redeem атомарно погашает код и прикрепляет вторую сторону к сделке.
// Единственное место в системе с настоящей compare-and-swap семантикой:
// при гонке на одном коде ровно один вызов успевает, остальные получают
// типизированную ошибку. Оба UPDATE защищены guard-условиями и выполняются
// в одной транзакции; блокировка строки приглашения сериализует гонку.
func (r *InvitationRepository) Redeem(ctx context.Context, code string, joinerID uuid.UUID, now time.Time) (*models.Transaction, *models.Invitation, error) {
	var (
		updatedTx  models.Transaction
		updatedInv models.Invitation
	)

	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var inv models.Invitation
		err := tx.GetContext(ctx, &inv, `SELECT * FROM invitations WHERE code = $1 FOR UPDATE`, code)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvitationNotFound
		}
		if err != nil {
			return err
		}

		switch {
		case inv.Status == models.InvitationStatusUsed:
			return ErrInvitationUsed
		case inv.Status == models.InvitationStatusExpired, inv.IsExpired(now):
			// Истечение проверяем по времени: статус в БД может отставать.
			return ErrInvitationExpired
		case inv.Status != models.InvitationStatusActive:
			return ErrInvitationNotFound
		}

		var owner models.Transaction
		if err := tx.GetContext(ctx, &owner, `SELECT * FROM transactions WHERE id = $1 FOR UPDATE`, inv.TransactionID); err != nil {
			return err
		}
		if owner.CreatorID == joinerID {
			return ErrOwnInvitation
		}
		if owner.CounterpartyID != nil {
			return ErrCounterpartyExists
		}

		role := models.OppositeRole(owner.CreatorRole)
		err = tx.GetContext(ctx, &updatedTx, `
			UPDATE transactions
			SET counterparty_id = $2, counterparty_role = $3, status = $4, updated_at = now()
			WHERE id = $1 AND counterparty_id IS NULL AND status = $5
			RETURNING *
		`, owner.ID, joinerID, role, models.TransactionStatusActive, models.TransactionStatusPending)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCounterpartyExists
		}
		if err != nil {
			return err
		}

		err = tx.GetContext(ctx, &updatedInv, `
			UPDATE invitations
			SET status = $2, used_at = $3, used_by = $4
			WHERE id = $1 AND status = $5
			RETURNING *
		`, inv.ID, models.InvitationStatusUsed, now, joinerID, models.InvitationStatusActive)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvitationUsed
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return &updatedTx, &updatedInv, nil
}

// MarkExpired помечает просроченные активные приглашения. Для корректности
// не требуется (срок проверяется при чтении), используется только для
// фоновой уборки.
func (r *InvitationRepository) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE invitations SET status = $1
		WHERE status = $2 AND expires_at < $3
	`, models.InvitationStatusExpired, models.InvitationStatusActive, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
