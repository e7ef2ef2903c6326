package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/events"
	"github.com/ignatzorin/escrow-backend/internal/metrics"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
	"github.com/ignatzorin/escrow-backend/internal/validation"
)

// Notifier — fan-out после успешной мутации: долговременное уведомление
// и доставка на живые сессии. Никогда не блокирует и не откатывает мутацию.
type Notifier interface {
	Notify(userID uuid.UUID, transactionID *uuid.UUID, ntype, title, message, priority string)
	Broadcast(userID uuid.UUID, event string, data any)
	BroadcastToParties(parties []uuid.UUID, event string, data any)
}

// TransactionRepository описывает хранилище сделок. Каждый переход —
// один атомарный compare-and-update по строке.
type TransactionRepository interface {
	Create(ctx context.Context, t *models.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error)
	SetStatus(ctx context.Context, id uuid.UUID, allowedFrom []string, next string) (*models.Transaction, error)
	SaveDeliveryDetails(ctx context.Context, id uuid.UUID, details *models.DeliveryDetails, allowedFrom []string, next string) (*models.Transaction, error)
	RecordPayment(ctx context.Context, id uuid.UUID, method, reference string, allowedFrom []string, next string) (*models.Transaction, error)
	RecordShipment(ctx context.Context, id uuid.UUID, details *models.ShippingDetails, allowedFrom []string, next string) (*models.Transaction, error)
	Complete(ctx context.Context, id uuid.UUID, allowedFrom []string) (*models.Transaction, error)
	Cancel(ctx context.Context, id uuid.UUID, allowedFrom []string) (*models.Transaction, error)
}

// InvitationRegistry — реестр одноразовых кодов приглашений.
type InvitationRegistry interface {
	Generate(ctx context.Context, transactionID uuid.UUID) (*models.Invitation, error)
	Lookup(ctx context.Context, code string) (*models.Invitation, error)
	Redeem(ctx context.Context, code string, joinerID uuid.UUID) (*models.Transaction, *models.Invitation, error)
}

// TransactionService — машина состояний жизненного цикла сделки.
type TransactionService struct {
	repo        TransactionRepository
	invitations InvitationRegistry
	notifier    Notifier
	publisher   events.Publisher
	metrics     *metrics.EscrowMetrics
}

// NewTransactionService создаёт сервис жизненного цикла сделок.
func NewTransactionService(repo TransactionRepository, invitations InvitationRegistry, notifier Notifier, publisher events.Publisher, m *metrics.EscrowMetrics) *TransactionService {
	return &TransactionService{
		repo:        repo,
		invitations: invitations,
		notifier:    notifier,
		publisher:   publisher,
		metrics:     m,
	}
}

// CreateTransactionInput — параметры создания сделки.
type CreateTransactionInput struct {
	Description string
	Currency    string
	Price       decimal.Decimal
	Fee         decimal.Decimal
	Total       decimal.Decimal
	UseCourier  bool
	CreatorRole string
	CreatorID   uuid.UUID
}

// CreateTransactionResult — созданная сделка вместе с кодом приглашения.
type CreateTransactionResult struct {
	Transaction *models.Transaction `json:"transaction"`
	Invitation  *models.Invitation  `json:"invitation"`
}

// Create создаёт сделку в состоянии pending и выпускает приглашение.
// Суммы проверяются заново, даже если клиент их уже посчитал:
// price, fee и total положительны и total = price + fee.
func (s *TransactionService) Create(ctx context.Context, input CreateTransactionInput) (*CreateTransactionResult, error) {
	if err := validation.ValidateDescription(input.Description); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateCurrency(input.Currency); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}
	if _, ok := models.ValidRoles[input.CreatorRole]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "роль создателя должна быть buyer или seller")
	}
	if !input.Price.IsPositive() || !input.Fee.IsPositive() || !input.Total.IsPositive() {
		return nil, apperror.New(apperror.ErrCodeValidation, "цена, комиссия и итог должны быть положительными")
	}
	if !input.Price.Add(input.Fee).Equal(input.Total) {
		return nil, apperror.New(apperror.ErrCodeValidation, "итог должен равняться цене плюс комиссия")
	}

	t := &models.Transaction{
		Description: input.Description,
		Currency:    input.Currency,
		Price:       input.Price,
		Fee:         input.Fee,
		Total:       input.Total,
		CreatorID:   input.CreatorID,
		CreatorRole: input.CreatorRole,
		UseCourier:  input.UseCourier,
		Status:      models.TransactionStatusPending,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось создать сделку")
	}

	inv, err := s.invitations.Generate(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.TransactionsCreatedTotal.WithLabelValues(t.Currency, t.CreatorRole).Inc()
	}
	s.notifier.Broadcast(t.CreatorID, events.EventTransactionCreated, t)
	events.PublishAsync(s.publisher, events.Event{
		Type:          events.EventTransactionCreated,
		TransactionID: t.ID.String(),
		Payload:       t,
	})

	return &CreateTransactionResult{Transaction: t, Invitation: inv}, nil
}

// Join присоединяет вторую сторону по коду приглашения. Код гасится
// атомарно: при гонке успевает ровно один участник.
func (s *TransactionService) Join(ctx context.Context, code string, joinerID uuid.UUID) (*models.Transaction, error) {
	t, _, err := s.invitations.Redeem(ctx, code, joinerID)
	if err != nil {
		if s.metrics != nil {
			s.metrics.InvitationRedeemTotal.WithLabelValues(redeemOutcome(err)).Inc()
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.InvitationRedeemTotal.WithLabelValues("success").Inc()
		s.metrics.TransactionsJoinedTotal.WithLabelValues(t.Currency).Inc()
	}
	s.notifier.Notify(t.CreatorID, &t.ID, "transaction_joined",
		"Вторая сторона присоединилась",
		"К вашей сделке присоединился участник, сделка активна",
		models.NotificationPriorityNormal)
	s.notifier.BroadcastToParties(t.Parties(), events.EventTransactionJoined, t)
	events.PublishAsync(s.publisher, events.Event{
		Type:          events.EventTransactionJoined,
		TransactionID: t.ID.String(),
		Payload:       t,
	})

	return t, nil
}

// LookupInvitation возвращает сделку по активному коду для предпросмотра.
func (s *TransactionService) LookupInvitation(ctx context.Context, code string) (*models.Transaction, *models.Invitation, error) {
	inv, err := s.invitations.Lookup(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	t, err := s.repo.GetByID(ctx, inv.TransactionID)
	if err != nil {
		return nil, nil, apperror.ErrTransactionNotFound
	}
	return t, inv, nil
}

// requireRole загружает сделку и проверяет, что участник действует
// в требуемой роли. Роль выводится единственной функцией EffectiveRole.
func (s *TransactionService) requireRole(ctx context.Context, txID, actorID uuid.UUID, role string) (*models.Transaction, error) {
	t, err := s.repo.GetByID(ctx, txID)
	if err != nil {
		return nil, apperror.ErrTransactionNotFound
	}

	effective, isParty := models.EffectiveRole(t, actorID)
	if !isParty || effective != role {
		return nil, apperror.ErrForbidden
	}
	return t, nil
}

// SubmitDeliveryDetails — покупатель передаёт данные доставки,
// сделка переходит к ожиданию оплаты.
func (s *TransactionService) SubmitDeliveryDetails(ctx context.Context, txID, actorID uuid.UUID, details *models.DeliveryDetails) (*models.Transaction, error) {
	t, err := s.requireRole(ctx, txID, actorID, models.RoleBuyer)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.SaveDeliveryDetails(ctx, txID, details,
		[]string{models.TransactionStatusActive}, models.TransactionStatusWaitingForPayment)
	if err != nil {
		return nil, mapTransitionErr(err)
	}

	if sellerID, ok := sellerOf(t); ok {
		s.notifier.Notify(sellerID, &t.ID, "delivery_details_submitted",
			"Данные доставки получены",
			"Покупатель указал данные доставки, ожидается оплата",
			models.NotificationPriorityNormal)
	}
	s.fanoutUpdated(updated)
	return updated, nil
}

// ConfirmPayment — покупатель подтверждает оплату, средства попадают
// в escrow. Для курьерских сделок следующий шаг — отправка продавцом.
func (s *TransactionService) ConfirmPayment(ctx context.Context, txID, actorID uuid.UUID, method, reference string) (*models.Transaction, error) {
	t, err := s.requireRole(ctx, txID, actorID, models.RoleBuyer)
	if err != nil {
		return nil, err
	}

	allowedFrom := []string{models.TransactionStatusActive, models.TransactionStatusWaitingForPayment}
	next := models.TransactionStatusPaymentMade
	if t.UseCourier {
		allowedFrom = []string{models.TransactionStatusWaitingForPayment}
		next = models.TransactionStatusWaitingForShipment
	}

	updated, err := s.repo.RecordPayment(ctx, txID, method, reference, allowedFrom, next)
	if err != nil {
		return nil, mapTransitionErr(err)
	}

	if sellerID, ok := sellerOf(t); ok {
		s.notifier.Notify(sellerID, &t.ID, "payment_received",
			"Оплата получена",
			"Средства покупателя зачислены в escrow",
			models.NotificationPriorityHigh)
	}
	s.fanoutUpdated(updated)
	return updated, nil
}

// SubmitShippingDetails — продавец подтверждает отправку товара.
func (s *TransactionService) SubmitShippingDetails(ctx context.Context, txID, actorID uuid.UUID, details *models.ShippingDetails) (*models.Transaction, error) {
	t, err := s.requireRole(ctx, txID, actorID, models.RoleSeller)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.RecordShipment(ctx, txID, details,
		[]string{models.TransactionStatusWaitingForShipment}, models.TransactionStatusWaitingForBuyerConfirm)
	if err != nil {
		return nil, mapTransitionErr(err)
	}

	if buyerID, ok := buyerOf(t); ok {
		s.notifier.Notify(buyerID, &t.ID, "shipment_submitted",
			"Товар отправлен",
			"Продавец отправил товар, подтвердите получение",
			models.NotificationPriorityNormal)
	}
	s.fanoutUpdated(updated)
	return updated, nil
}

// ConfirmReceipt — покупатель подтверждает получение, сделка завершается
// и средства освобождаются продавцу.
func (s *TransactionService) ConfirmReceipt(ctx context.Context, txID, actorID uuid.UUID) (*models.Transaction, error) {
	t, err := s.requireRole(ctx, txID, actorID, models.RoleBuyer)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.Complete(ctx, txID,
		[]string{models.TransactionStatusWaitingForBuyerConfirm})
	if err != nil {
		return nil, mapTransitionErr(err)
	}

	if s.metrics != nil {
		s.metrics.TransactionsCompletedTotal.WithLabelValues(updated.Currency).Inc()
	}
	if sellerID, ok := sellerOf(t); ok {
		s.notifier.Notify(sellerID, &t.ID, "funds_released",
			"Средства освобождены",
			"Покупатель подтвердил получение, средства переведены вам",
			models.NotificationPriorityHigh)
	}
	s.fanoutUpdated(updated)
	return updated, nil
}

// cancellableStatuses — все состояния до завершения, из которых возможна
// отмена. Сделка в споре отменяется только через разрешение спора.
var cancellableStatuses = []string{
	models.TransactionStatusPending,
	models.TransactionStatusActive,
	models.TransactionStatusWaitingForPayment,
	models.TransactionStatusPaymentMade,
	models.TransactionStatusWaitingForShipment,
	models.TransactionStatusWaitingForBuyerConfirm,
}

// Cancel отменяет сделку по инициативе любого из участников.
func (s *TransactionService) Cancel(ctx context.Context, txID, actorID uuid.UUID, reason string) (*models.Transaction, error) {
	t, err := s.repo.GetByID(ctx, txID)
	if err != nil {
		return nil, apperror.ErrTransactionNotFound
	}
	if _, isParty := models.EffectiveRole(t, actorID); !isParty {
		return nil, apperror.ErrForbidden
	}
	if err := validation.ValidateReason(reason); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}

	updated, err := s.repo.Cancel(ctx, txID, cancellableStatuses)
	if err != nil {
		return nil, mapTransitionErr(err)
	}

	if s.metrics != nil {
		s.metrics.TransactionsCancelledTotal.WithLabelValues(updated.Currency).Inc()
	}
	if otherID, ok := t.OtherParty(actorID); ok {
		s.notifier.Notify(otherID, &t.ID, "transaction_cancelled",
			"Сделка отменена",
			"Сделка отменена второй стороной: "+reason,
			models.NotificationPriorityHigh)
	}
	s.fanoutUpdated(updated)
	return updated, nil
}

// Get возвращает сделку, доступна она только её участникам.
func (s *TransactionService) Get(ctx context.Context, txID, actorID uuid.UUID) (*models.Transaction, error) {
	t, err := s.repo.GetByID(ctx, txID)
	if err != nil {
		return nil, apperror.ErrTransactionNotFound
	}
	if _, isParty := models.EffectiveRole(t, actorID); !isParty {
		return nil, apperror.ErrForbidden
	}
	return t, nil
}

// List возвращает сделки пользователя.
func (s *TransactionService) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	limit, offset = clampPagination(limit, offset)
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func (s *TransactionService) fanoutUpdated(t *models.Transaction) {
	s.notifier.BroadcastToParties(t.Parties(), events.EventTransactionUpdated, t)
	events.PublishAsync(s.publisher, events.Event{
		Type:          events.EventTransactionUpdated,
		TransactionID: t.ID.String(),
		Payload:       t,
	})
}

// redeemOutcome — метка исхода погашения для метрик.
func redeemOutcome(err error) string {
	switch apperror.Code(err) {
	case apperror.ErrCodeNotFound:
		return "not_found"
	case apperror.ErrCodeExpired:
		return "expired"
	case apperror.ErrCodeConflict:
		return "conflict"
	case apperror.ErrCodeForbidden:
		return "forbidden"
	default:
		return "error"
	}
}

// mapTransitionErr переводит ошибки guard-переходов в ошибки API.
func mapTransitionErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrTransactionNotFound):
		return apperror.ErrTransactionNotFound
	case errors.Is(err, repository.ErrStatusConflict):
		return apperror.New(apperror.ErrCodeInvalidTransition, "операция недопустима в текущем состоянии сделки")
	default:
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось обновить сделку")
	}
}

func buyerOf(t *models.Transaction) (uuid.UUID, bool) {
	return partyWithRole(t, models.RoleBuyer)
}

func sellerOf(t *models.Transaction) (uuid.UUID, bool) {
	return partyWithRole(t, models.RoleSeller)
}

func partyWithRole(t *models.Transaction, role string) (uuid.UUID, bool) {
	if t.CreatorRole == role {
		return t.CreatorID, true
	}
	if t.CounterpartyID != nil {
		return *t.CounterpartyID, true
	}
	return uuid.Nil, false
}
