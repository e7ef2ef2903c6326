package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jaevor/go-nanoid"

	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
)

// Сколько раз перегенерировать код при коллизии, прежде чем сдаться.
const maxCodeGenerationAttempts = 5

// InvitationRepository описывает взаимодействие с хранилищем приглашений.
type InvitationRepository interface {
	Create(ctx context.Context, inv *models.Invitation) error
	GetByCode(ctx context.Context, code string) (*models.Invitation, error)
	GetByTransactionID(ctx context.Context, txID uuid.UUID) (*models.Invitation, error)
	Redeem(ctx context.Context, code string, joinerID uuid.UUID, now time.Time) (*models.Transaction, *models.Invitation, error)
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
}

// InvitationService управляет одноразовыми кодами приглашений: генерация,
// просмотр и атомарное погашение.
type InvitationService struct {
	repo    InvitationRepository
	ttl     time.Duration
	newCode func() string
	now     func() time.Time
}

// NewInvitationService создаёт реестр приглашений.
func NewInvitationService(repo InvitationRepository, ttl time.Duration) (*InvitationService, error) {
	// 36-символьный алфавит, фиксированная длина 6
	generator, err := nanoid.CustomASCII(models.InvitationCodeAlphabet, models.InvitationCodeLength)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = models.InvitationTTL
	}
	return &InvitationService{
		repo:    repo,
		ttl:     ttl,
		newCode: generator,
		now:     time.Now,
	}, nil
}

// Generate выпускает приглашение для сделки. Коллизия кода крайне
// маловероятна, но уникальный индекс её ловит — тогда код перегенерируется.
func (s *InvitationService) Generate(ctx context.Context, transactionID uuid.UUID) (*models.Invitation, error) {
	for attempt := 0; attempt < maxCodeGenerationAttempts; attempt++ {
		inv := &models.Invitation{
			TransactionID: transactionID,
			Code:          s.newCode(),
			Status:        models.InvitationStatusActive,
			ExpiresAt:     s.now().Add(s.ttl),
		}

		err := s.repo.Create(ctx, inv)
		if errors.Is(err, repository.ErrCodeCollision) {
			continue
		}
		if err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось создать приглашение")
		}
		return inv, nil
	}
	return nil, apperror.New(apperror.ErrCodeInternal, "не удалось сгенерировать уникальный код приглашения")
}

// Lookup возвращает приглашение по коду для предпросмотра сделки.
// Видны только активные и непросроченные коды.
func (s *InvitationService) Lookup(ctx context.Context, code string) (*models.Invitation, error) {
	inv, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, apperror.ErrInvitationNotFound
	}
	if inv.Status != models.InvitationStatusActive || inv.IsExpired(s.now()) {
		return nil, apperror.ErrInvitationNotFound
	}
	return inv, nil
}

// Redeem атомарно погашает код и возвращает обновлённую сделку.
// При гонке на одном коде успевает ровно один вызов.
func (s *InvitationService) Redeem(ctx context.Context, code string, joinerID uuid.UUID) (*models.Transaction, *models.Invitation, error) {
	tx, inv, err := s.repo.Redeem(ctx, code, joinerID, s.now())
	switch {
	case err == nil:
		return tx, inv, nil
	case errors.Is(err, repository.ErrInvitationNotFound):
		return nil, nil, apperror.ErrInvitationNotFound
	case errors.Is(err, repository.ErrInvitationExpired):
		return nil, nil, apperror.New(apperror.ErrCodeExpired, "срок действия приглашения истёк")
	case errors.Is(err, repository.ErrInvitationUsed):
		return nil, nil, apperror.New(apperror.ErrCodeConflict, "приглашение уже использовано")
	case errors.Is(err, repository.ErrCounterpartyExists):
		return nil, nil, apperror.New(apperror.ErrCodeConflict, "к сделке уже присоединилась вторая сторона")
	case errors.Is(err, repository.ErrOwnInvitation):
		return nil, nil, apperror.New(apperror.ErrCodeForbidden, "нельзя присоединиться к собственной сделке")
	default:
		return nil, nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось погасить приглашение")
	}
}

// SweepExpired помечает просроченные приглашения (фоновая уборка).
func (s *InvitationService) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.MarkExpired(ctx, s.now())
}
