package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/events"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/metrics"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
	"github.com/ignatzorin/escrow-backend/internal/repository"
	"github.com/ignatzorin/escrow-backend/internal/validation"
)

// DisputeRepository описывает хранилище споров, доказательств, переписки
// и предложений о разрешении.
type DisputeRepository interface {
	Create(ctx context.Context, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetActiveByTransaction(ctx context.Context, txID uuid.UUID) (*models.Dispute, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error)
	SetStatus(ctx context.Context, id uuid.UUID, allowedFrom []string, next string) (*models.Dispute, error)
	Resolve(ctx context.Context, id uuid.UUID, resolution, notes string, resolvedBy uuid.UUID, now time.Time) (*models.Dispute, error)
	AddEvidence(ctx context.Context, e *models.Evidence) error
	ListEvidence(ctx context.Context, disputeID uuid.UUID) ([]models.Evidence, error)
	AddMessage(ctx context.Context, m *models.DisputeMessage) error
	ListMessages(ctx context.Context, disputeID uuid.UUID, includeInternal bool) ([]models.DisputeMessage, error)
	MarkMessagesRead(ctx context.Context, disputeID, readerID uuid.UUID) (int64, error)
	CreateResolution(ctx context.Context, res *models.DisputeResolution) error
	GetResolutionByID(ctx context.Context, id uuid.UUID) (*models.DisputeResolution, error)
	ListResolutions(ctx context.Context, disputeID uuid.UUID) ([]models.DisputeResolution, error)
	AcceptResolution(ctx context.Context, id, userID uuid.UUID) (*models.DisputeResolution, error)
	RejectResolution(ctx context.Context, id, userID uuid.UUID) (*models.DisputeResolution, error)
	CountAcceptors(ctx context.Context, disputeID uuid.UUID) (int, error)
	MarkResolutionExpired(ctx context.Context, id uuid.UUID) error
}

// DisputeService ведёт спор от открытия до применения решения к сделке.
type DisputeService struct {
	repo      DisputeRepository
	txRepo    TransactionRepository
	notifier  Notifier
	publisher events.Publisher
	metrics   *metrics.EscrowMetrics
	ttl       time.Duration
	now       func() time.Time
}

// NewDisputeService создаёт сервис споров.
func NewDisputeService(repo DisputeRepository, txRepo TransactionRepository, notifier Notifier, publisher events.Publisher, m *metrics.EscrowMetrics, resolutionTTL time.Duration) *DisputeService {
	if resolutionTTL <= 0 {
		resolutionTTL = models.ResolutionTTL
	}
	return &DisputeService{
		repo:      repo,
		txRepo:    txRepo,
		notifier:  notifier,
		publisher: publisher,
		metrics:   m,
		ttl:       resolutionTTL,
		now:       time.Now,
	}
}

// CreateDisputeInput — параметры открытия спора.
type CreateDisputeInput struct {
	TransactionID uuid.UUID
	RaisedBy      uuid.UUID
	DisputeType   string
	Reason        string
	Description   string
	Priority      string
}

// CreateDispute открывает спор по сделке и переводит её в disputed.
// Второй активный спор по той же сделке невозможен.
func (s *DisputeService) CreateDispute(ctx context.Context, input CreateDisputeInput) (*models.Dispute, error) {
	if _, ok := models.ValidDisputeTypes[input.DisputeType]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный тип спора")
	}
	if input.Priority == "" {
		input.Priority = models.DisputePriorityMedium
	}
	if _, ok := models.ValidDisputePriorities[input.Priority]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный приоритет спора")
	}
	if err := validation.ValidateReason(input.Reason); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateDescription(input.Description); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}

	t, err := s.txRepo.GetByID(ctx, input.TransactionID)
	if err != nil {
		return nil, apperror.ErrTransactionNotFound
	}
	if _, isParty := models.EffectiveRole(t, input.RaisedBy); !isParty {
		return nil, apperror.ErrForbidden
	}
	if t.CounterpartyID == nil {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition, "нельзя открыть спор по сделке без второй стороны")
	}
	if models.IsTerminalStatus(t.Status) {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition, "нельзя открыть спор по завершённой сделке")
	}

	raisedAgainst, _ := t.OtherParty(input.RaisedBy)
	d := &models.Dispute{
		TransactionID: input.TransactionID,
		RaisedBy:      input.RaisedBy,
		RaisedAgainst: raisedAgainst,
		DisputeType:   input.DisputeType,
		Reason:        input.Reason,
		Description:   input.Description,
		Priority:      input.Priority,
		Status:        models.DisputeStatusOpen,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		if errors.Is(err, repository.ErrActiveDisputeExists) {
			return nil, apperror.New(apperror.ErrCodeConflict, "по сделке уже открыт спор")
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось открыть спор")
	}

	// Перевод сделки в disputed — best effort: если статус успел измениться,
	// спор всё равно открыт и будет разрешён по текущему состоянию.
	// Подписчикам уходит обновлённая строка, а не снимок до перевода.
	if updated, err := s.txRepo.SetStatus(ctx, t.ID, cancellableStatuses, models.TransactionStatusDisputed); err != nil {
		if !errors.Is(err, repository.ErrStatusConflict) {
			logger.WithComponent("disputes").WithError(err).
				WithField("transaction_id", t.ID).
				Error("не удалось перевести сделку в disputed")
		}
	} else {
		t = updated
	}

	if s.metrics != nil {
		s.metrics.DisputesOpenedTotal.WithLabelValues(d.DisputeType, d.Priority).Inc()
	}
	s.notifier.Notify(raisedAgainst, &t.ID, "dispute_opened",
		"Открыт спор",
		"Вторая сторона открыла спор по сделке: "+d.Reason,
		models.NotificationPriorityHigh)
	s.notifier.BroadcastToParties(t.Parties(), events.EventTransactionUpdated, t)
	events.PublishAsync(s.publisher, events.Event{
		Type:          events.EventDisputeOpened,
		TransactionID: t.ID.String(),
		DisputeID:     d.ID.String(),
		Payload:       d,
	})

	return d, nil
}

// GetDispute возвращает спор его участнику.
func (s *DisputeService) GetDispute(ctx context.Context, disputeID, actorID uuid.UUID) (*models.Dispute, error) {
	return s.requireParty(ctx, disputeID, actorID)
}

// ListUserDisputes возвращает споры, в которых пользователь участвует.
func (s *DisputeService) ListUserDisputes(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	limit, offset = clampPagination(limit, offset)
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func (s *DisputeService) requireParty(ctx context.Context, disputeID, actorID uuid.UUID) (*models.Dispute, error) {
	d, err := s.repo.GetByID(ctx, disputeID)
	if err != nil {
		return nil, apperror.ErrDisputeNotFound
	}
	if !d.IsParty(actorID) {
		return nil, apperror.ErrForbidden
	}
	return d, nil
}

func (s *DisputeService) requireActiveParty(ctx context.Context, disputeID, actorID uuid.UUID) (*models.Dispute, error) {
	d, err := s.requireParty(ctx, disputeID, actorID)
	if err != nil {
		return nil, err
	}
	if !d.IsActive() {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition, "спор уже разрешён или закрыт")
	}
	return d, nil
}

// AddEvidence прикладывает файл-доказательство к активному спору. Тип файла
// определяется по содержимому, не по расширению.
func (s *DisputeService) AddEvidence(ctx context.Context, disputeID, actorID uuid.UUID, fileName, fileURL string, description *string, head []byte) (*models.Evidence, error) {
	d, err := s.requireActiveParty(ctx, disputeID, actorID)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateFileName(fileName); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}

	e := &models.Evidence{
		DisputeID:   disputeID,
		UploadedBy:  actorID,
		FileName:    fileName,
		FileType:    detectEvidenceType(head),
		FileURL:     fileURL,
		Description: description,
	}
	if err := s.repo.AddEvidence(ctx, e); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сохранить доказательство")
	}

	// Служебная отметка в переписке спора для модераторов
	sender := models.SystemSender()
	if err := s.repo.AddMessage(ctx, &models.DisputeMessage{
		DisputeID:  disputeID,
		SenderType: sender.Type,
		SenderID:   sender.UserID,
		Content:    "Загружено доказательство: " + fileName,
		IsInternal: true,
	}); err != nil {
		logger.WithComponent("disputes").WithError(err).Error("не удалось записать служебное сообщение")
	}

	s.notifier.Notify(d.OtherParty(actorID), &d.TransactionID, "dispute_evidence_added",
		"Новое доказательство",
		"В спор добавлено доказательство: "+fileName,
		models.NotificationPriorityNormal)
	return e, nil
}

// ListEvidence возвращает доказательства спора его участнику.
func (s *DisputeService) ListEvidence(ctx context.Context, disputeID, actorID uuid.UUID) ([]models.Evidence, error) {
	if _, err := s.requireParty(ctx, disputeID, actorID); err != nil {
		return nil, err
	}
	return s.repo.ListEvidence(ctx, disputeID)
}

// AddMessage отправляет сообщение в переписку активного спора.
func (s *DisputeService) AddMessage(ctx context.Context, disputeID, actorID uuid.UUID, content string) (*models.DisputeMessage, error) {
	d, err := s.requireActiveParty(ctx, disputeID, actorID)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateMessage(content); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}

	sender := models.UserSender(actorID)
	m := &models.DisputeMessage{
		DisputeID:  disputeID,
		SenderType: sender.Type,
		SenderID:   sender.UserID,
		Content:    content,
	}
	if err := s.repo.AddMessage(ctx, m); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось отправить сообщение")
	}

	s.notifier.Broadcast(d.OtherParty(actorID), events.EventNewMessage, m)
	return m, nil
}

// ListMessages возвращает переписку спора. Участники не видят служебных
// сообщений.
func (s *DisputeService) ListMessages(ctx context.Context, disputeID, actorID uuid.UUID) ([]models.DisputeMessage, error) {
	if _, err := s.requireParty(ctx, disputeID, actorID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, disputeID, false)
}

// MarkMessagesRead отмечает прочитанными все входящие сообщения спора
// и сообщает об этом второй стороне.
func (s *DisputeService) MarkMessagesRead(ctx context.Context, disputeID, actorID uuid.UUID) (int64, error) {
	d, err := s.requireParty(ctx, disputeID, actorID)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.MarkMessagesRead(ctx, disputeID, actorID)
	if err != nil {
		return 0, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось отметить сообщения")
	}
	if n > 0 {
		s.notifier.Broadcast(d.OtherParty(actorID), events.EventConversationRead, map[string]any{
			"dispute_id": disputeID,
			"reader_id":  actorID,
		})
	}
	return n, nil
}

// ProposeResolutionInput — параметры предложения о разрешении.
type ProposeResolutionInput struct {
	DisputeID      uuid.UUID
	ProposedBy     uuid.UUID
	ResolutionType string
	Resolution     string
	Amount         *decimal.Decimal
	Reason         string
}

// ProposeResolution выдвигает предложение о разрешении активного спора.
// Сумма частичного возврата хранится в самом предложении и является
// источником истины при его применении.
func (s *DisputeService) ProposeResolution(ctx context.Context, input ProposeResolutionInput) (*models.DisputeResolution, error) {
	if _, ok := models.ValidResolutionTypes[input.ResolutionType]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный тип разрешения")
	}
	if _, ok := models.ValidResolutions[input.Resolution]; !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, "неизвестный вариант решения")
	}
	if err := validation.ValidateReason(input.Reason); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}

	d, err := s.requireActiveParty(ctx, input.DisputeID, input.ProposedBy)
	if err != nil {
		return nil, err
	}

	if input.Resolution == models.ResolutionRefundPartial {
		if input.Amount == nil || !input.Amount.IsPositive() {
			return nil, apperror.New(apperror.ErrCodeValidation, "для частичного возврата нужна положительная сумма")
		}
		t, err := s.txRepo.GetByID(ctx, d.TransactionID)
		if err != nil {
			return nil, apperror.ErrTransactionNotFound
		}
		if input.Amount.GreaterThan(t.Price) {
			return nil, apperror.New(apperror.ErrCodeValidation, "сумма возврата не может превышать цену сделки")
		}
	} else {
		input.Amount = nil
	}

	res := &models.DisputeResolution{
		DisputeID:      input.DisputeID,
		ResolutionType: input.ResolutionType,
		ProposedBy:     input.ProposedBy,
		Resolution:     input.Resolution,
		Amount:         input.Amount,
		Reason:         input.Reason,
		Status:         models.ResolutionStatusPending,
		ExpiresAt:      s.now().Add(s.ttl),
	}
	if err := s.repo.CreateResolution(ctx, res); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось создать предложение")
	}

	s.notifier.Notify(d.OtherParty(input.ProposedBy), &d.TransactionID, "resolution_proposed",
		"Предложено разрешение спора",
		"Вторая сторона предложила разрешение: "+input.Resolution,
		models.NotificationPriorityHigh)
	return res, nil
}

// ListResolutions возвращает предложения по спору его участнику.
func (s *DisputeService) ListResolutions(ctx context.Context, disputeID, actorID uuid.UUID) ([]models.DisputeResolution, error) {
	if _, err := s.requireParty(ctx, disputeID, actorID); err != nil {
		return nil, err
	}
	return s.repo.ListResolutions(ctx, disputeID)
}

// AcceptResolution принимает предложение. Для mediation спор разрешается
// только после принятых предложений от обеих сторон; в остальных типах
// достаточно принятия второй стороной. Гонка двух одновременных принятий
// разрешается compare-and-update в хранилище: действие к сделке
// применяется ровно один раз.
func (s *DisputeService) AcceptResolution(ctx context.Context, resolutionID, actorID uuid.UUID) (*models.DisputeResolution, error) {
	res, err := s.repo.GetResolutionByID(ctx, resolutionID)
	if err != nil {
		return nil, apperror.ErrResolutionNotFound
	}
	d, err := s.requireActiveParty(ctx, res.DisputeID, actorID)
	if err != nil {
		return nil, err
	}

	if res.IsExpired(s.now()) {
		if err := s.repo.MarkResolutionExpired(ctx, resolutionID); err != nil {
			logger.WithComponent("disputes").WithError(err).Error("не удалось пометить предложение просроченным")
		}
		return nil, apperror.New(apperror.ErrCodeExpired, "срок действия предложения истёк")
	}
	if res.ResolutionType != models.ResolutionTypeMediation && res.ProposedBy == actorID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "нельзя принять собственное предложение")
	}

	accepted, err := s.repo.AcceptResolution(ctx, resolutionID, actorID)
	if err != nil {
		return nil, mapResolutionErr(err)
	}

	if accepted.ResolutionType == models.ResolutionTypeMediation {
		// Взаимное принятие: нужны голоса двух различных сторон. Повторные
		// принятия одного участника (в том числе собственных предложений)
		// не приближают спор к разрешению.
		count, err := s.repo.CountAcceptors(ctx, d.ID)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось проверить взаимное принятие")
		}
		if count < 2 {
			// Первая сторона приняла, ждём вторую; сделка не меняется
			s.notifier.Notify(d.OtherParty(actorID), &d.TransactionID, "resolution_accepted",
				"Предложение принято",
				"Вторая сторона приняла предложение, требуется ваше подтверждение",
				models.NotificationPriorityHigh)
			return accepted, nil
		}
	}

	s.resolveDispute(ctx, d, accepted, actorID)
	return accepted, nil
}

// RejectResolution отклоняет ожидающее предложение. Просроченное
// предложение отклонить нельзя — оно помечается expired, как и при принятии.
func (s *DisputeService) RejectResolution(ctx context.Context, resolutionID, actorID uuid.UUID) (*models.DisputeResolution, error) {
	res, err := s.repo.GetResolutionByID(ctx, resolutionID)
	if err != nil {
		return nil, apperror.ErrResolutionNotFound
	}
	d, err := s.requireActiveParty(ctx, res.DisputeID, actorID)
	if err != nil {
		return nil, err
	}

	if res.IsExpired(s.now()) {
		if err := s.repo.MarkResolutionExpired(ctx, resolutionID); err != nil {
			logger.WithComponent("disputes").WithError(err).Error("не удалось пометить предложение просроченным")
		}
		return nil, apperror.New(apperror.ErrCodeExpired, "срок действия предложения истёк")
	}

	rejected, err := s.repo.RejectResolution(ctx, resolutionID, actorID)
	if err != nil {
		return nil, mapResolutionErr(err)
	}

	s.notifier.Notify(d.OtherParty(actorID), &d.TransactionID, "resolution_rejected",
		"Предложение отклонено",
		"Вторая сторона отклонила предложение о разрешении",
		models.NotificationPriorityNormal)
	return rejected, nil
}

// resolveDispute закрепляет решение за спором и применяет его к сделке.
func (s *DisputeService) resolveDispute(ctx context.Context, d *models.Dispute, res *models.DisputeResolution, resolvedBy uuid.UUID) {
	resolved, err := s.repo.Resolve(ctx, d.ID, res.Resolution, res.Reason, resolvedBy, s.now())
	if err != nil {
		// Спор уже разрешён конкурентным принятием — действие не повторяем
		if !errors.Is(err, repository.ErrDisputeStatusConflict) {
			logger.WithComponent("disputes").WithError(err).
				WithField("dispute_id", d.ID).
				Error("не удалось разрешить спор")
		}
		return
	}

	s.applyResolution(ctx, resolved, res)

	if s.metrics != nil {
		s.metrics.DisputesResolvedTotal.WithLabelValues(res.Resolution, res.ResolutionType).Inc()
	}
	for _, userID := range []uuid.UUID{resolved.RaisedBy, resolved.RaisedAgainst} {
		s.notifier.Notify(userID, &resolved.TransactionID, "dispute_resolved",
			"Спор разрешён",
			"Спор разрешён: "+res.Resolution,
			models.NotificationPriorityHigh)
	}
	events.PublishAsync(s.publisher, events.Event{
		Type:          events.EventDisputeResolved,
		TransactionID: resolved.TransactionID.String(),
		DisputeID:     resolved.ID.String(),
		Payload:       resolved,
	})
}

// applyResolution переводит сделку в финальное состояние по варианту
// решения. При частичном возврате сумма остаётся в записи предложения.
func (s *DisputeService) applyResolution(ctx context.Context, d *models.Dispute, res *models.DisputeResolution) {
	var next string
	switch res.Resolution {
	case models.ResolutionRefundFull:
		next = models.TransactionStatusFailed
	case models.ResolutionRefundPartial, models.ResolutionReleasePayment:
		next = models.TransactionStatusCompleted
	case models.ResolutionNoAction:
		return
	default:
		return
	}

	t, err := s.txRepo.SetStatus(ctx, d.TransactionID,
		[]string{models.TransactionStatusDisputed}, next)
	if err != nil {
		if !errors.Is(err, repository.ErrStatusConflict) {
			logger.WithComponent("disputes").WithError(err).
				WithField("transaction_id", d.TransactionID).
				Error("не удалось применить решение к сделке")
		}
		return
	}

	if s.metrics != nil && next == models.TransactionStatusFailed {
		s.metrics.TransactionsFailedTotal.WithLabelValues(t.Currency).Inc()
	}
	s.notifier.BroadcastToParties(t.Parties(), events.EventTransactionUpdated, t)
	events.PublishAsync(s.publisher, events.Event{
		Type:          events.EventTransactionUpdated,
		TransactionID: t.ID.String(),
		Payload:       t,
	})
}

// MarkInReview берёт открытый спор на рассмотрение.
func (s *DisputeService) MarkInReview(ctx context.Context, disputeID, actorID uuid.UUID) (*models.Dispute, error) {
	if _, err := s.requireParty(ctx, disputeID, actorID); err != nil {
		return nil, err
	}
	d, err := s.repo.SetStatus(ctx, disputeID,
		[]string{models.DisputeStatusOpen}, models.DisputeStatusInReview)
	if err != nil {
		return nil, mapDisputeStatusErr(err)
	}
	return d, nil
}

// CloseDispute закрывает разрешённый спор.
func (s *DisputeService) CloseDispute(ctx context.Context, disputeID, actorID uuid.UUID) (*models.Dispute, error) {
	if _, err := s.requireParty(ctx, disputeID, actorID); err != nil {
		return nil, err
	}
	d, err := s.repo.SetStatus(ctx, disputeID,
		[]string{models.DisputeStatusResolved}, models.DisputeStatusClosed)
	if err != nil {
		return nil, mapDisputeStatusErr(err)
	}

	s.notifier.Notify(d.OtherParty(actorID), &d.TransactionID, "dispute_closed",
		"Спор закрыт",
		"Спор по сделке закрыт",
		models.NotificationPriorityLow)
	return d, nil
}

func mapDisputeStatusErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrDisputeNotFound):
		return apperror.ErrDisputeNotFound
	case errors.Is(err, repository.ErrDisputeStatusConflict):
		return apperror.New(apperror.ErrCodeInvalidTransition, "операция недопустима в текущем состоянии спора")
	default:
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось обновить спор")
	}
}

func mapResolutionErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrResolutionNotFound):
		return apperror.ErrResolutionNotFound
	case errors.Is(err, repository.ErrResolutionDecided):
		return apperror.New(apperror.ErrCodeConflict, "предложение уже принято или отклонено")
	default:
		return apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось обновить предложение")
	}
}

// detectEvidenceType определяет категорию файла по первым байтам.
func detectEvidenceType(head []byte) string {
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return models.EvidenceFileTypeDocument
	}
	switch kind.MIME.Type {
	case "image":
		return models.EvidenceFileTypeImage
	case "video":
		return models.EvidenceFileTypeVideo
	case "audio":
		return models.EvidenceFileTypeAudio
	default:
		return models.EvidenceFileTypeDocument
	}
}
