package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/repository/common"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrStatusConflict возвращается, когда guard по статусу не прошёл:
	// строка существует, но находится не в одном из ожидаемых состояний.
	ErrStatusConflict = errors.New("transaction is not in an allowed status")
)

type TransactionRepository struct {
	db *sqlx.DB
}

func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, t *models.Transaction) error {
	query := `
		INSERT INTO transactions (description, currency, price, fee, total, creator_id, creator_role, use_courier, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	return r.db.QueryRowContext(ctx, query,
		t.Description, t.Currency, t.Price, t.Fee, t.Total,
		t.CreatorID, t.CreatorRole, t.UseCourier, t.Status).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return common.GetByID[models.Transaction](ctx, r.db, "transactions", id, ErrTransactionNotFound)
}

func (r *TransactionRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.SelectContext(ctx, &txs, `
		SELECT * FROM transactions
		WHERE creator_id = $1 OR counterparty_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	return txs, err
}

// transitionGuarded атомарно переводит сделку в next, если её текущий статус
// входит в allowedFrom, дополнительно применяя переданный фрагмент SET.
// Ровно один UPDATE со сравнением статуса — никаких блокировок в процессе.
func (r *TransactionRepository) transitionGuarded(ctx context.Context, id uuid.UUID, allowedFrom []string, next, extraSet string, args ...interface{}) (*models.Transaction, error) {
	query := `
		UPDATE transactions
		SET status = $2, updated_at = now()` + extraSet + `
		WHERE id = $1 AND status = ANY($3)
		RETURNING *
	`
	queryArgs := append([]interface{}{id, next, pq.Array(allowedFrom)}, args...)

	var t models.Transaction
	err := r.db.GetContext(ctx, &t, query, queryArgs...)
	if errors.Is(err, sql.ErrNoRows) {
		// Различаем отсутствие строки и непрошедший guard
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStatusConflict
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SetStatus переводит сделку в next из любого из состояний allowedFrom.
func (r *TransactionRepository) SetStatus(ctx context.Context, id uuid.UUID, allowedFrom []string, next string) (*models.Transaction, error) {
	return r.transitionGuarded(ctx, id, allowedFrom, next, "")
}

// SaveDeliveryDetails записывает данные доставки и переводит сделку дальше.
func (r *TransactionRepository) SaveDeliveryDetails(ctx context.Context, id uuid.UUID, details *models.DeliveryDetails, allowedFrom []string, next string) (*models.Transaction, error) {
	return r.transitionGuarded(ctx, id, allowedFrom, next, ", delivery_details = $4", details)
}

// RecordPayment фиксирует оплату покупателем.
func (r *TransactionRepository) RecordPayment(ctx context.Context, id uuid.UUID, method, reference string, allowedFrom []string, next string) (*models.Transaction, error) {
	return r.transitionGuarded(ctx, id, allowedFrom, next,
		", payment_method = $4, payment_reference = $5, paid_at = now()", method, reference)
}

// RecordShipment фиксирует отправку продавцом.
func (r *TransactionRepository) RecordShipment(ctx context.Context, id uuid.UUID, details *models.ShippingDetails, allowedFrom []string, next string) (*models.Transaction, error) {
	return r.transitionGuarded(ctx, id, allowedFrom, next,
		", shipping_details = $4, shipped_at = now()", details)
}

// Complete завершает сделку и освобождает средства.
func (r *TransactionRepository) Complete(ctx context.Context, id uuid.UUID, allowedFrom []string) (*models.Transaction, error) {
	return r.transitionGuarded(ctx, id, allowedFrom, models.TransactionStatusCompleted,
		", completed_at = now()")
}

// Cancel отменяет сделку из любого нетерминального состояния без спора.
func (r *TransactionRepository) Cancel(ctx context.Context, id uuid.UUID, allowedFrom []string) (*models.Transaction, error) {
	return r.transitionGuarded(ctx, id, allowedFrom, models.TransactionStatusCancelled,
		", cancelled_at = now()")
}
