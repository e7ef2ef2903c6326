package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-backend/internal/events"
	"github.com/ignatzorin/escrow-backend/internal/goroutine"
	"github.com/ignatzorin/escrow-backend/internal/logger"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/pkg/apperror"
)

// ConnectionRegistry — реестр живых соединений, ключ — пользователь.
// Внедряется явно, что позволяет подменять его в тестах и выносить
// доставку на общий pub/sub при нескольких инстансах.
type ConnectionRegistry interface {
	BroadcastToUser(userID uuid.UUID, event string, data any) error
}

// NotificationRepository описывает взаимодействие сервиса с хранилищем уведомлений.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error)
	ListActivity(ctx context.Context, userID uuid.UUID, transactionID *uuid.UUID, limit, offset int) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, id uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

// NotificationService — fan-out жизненного цикла: долговременная запись
// уведомления плюс доставка на живые сессии. Вызывается после успешной
// мутации; сбой здесь логируется и никогда не откатывает мутацию.
type NotificationService struct {
	repo     NotificationRepository
	registry ConnectionRegistry
}

// NewNotificationService создаёт новый сервис уведомлений.
func NewNotificationService(repo NotificationRepository, registry ConnectionRegistry) *NotificationService {
	return &NotificationService{repo: repo, registry: registry}
}

// Notify асинхронно сохраняет уведомление и доставляет его получателю.
// Доставка at-least-once: клиент обязан быть идемпотентным к повторам.
func (s *NotificationService) Notify(userID uuid.UUID, transactionID *uuid.UUID, ntype, title, message, priority string) {
	goroutine.SafeGo(func() {
		notification := &models.Notification{
			UserID:        userID,
			TransactionID: transactionID,
			Type:          ntype,
			Title:         title,
			Message:       message,
			Priority:      priority,
		}

		if err := s.repo.Create(context.Background(), notification); err != nil {
			logger.WithComponent("notifications").WithError(err).
				Error("не удалось сохранить уведомление")
			// Запись не удалась, но живую доставку всё равно пробуем
		}

		s.Broadcast(userID, events.EventNotification, notification)
	})
}

// Broadcast доставляет событие на все сессии пользователя, не дожидаясь
// результата. Ошибка доставки логируется и игнорируется.
func (s *NotificationService) Broadcast(userID uuid.UUID, event string, data any) {
	if s.registry == nil {
		return
	}
	if err := s.registry.BroadcastToUser(userID, event, data); err != nil {
		logger.WithComponent("notifications").WithError(err).
			WithField("event", event).
			Error("не удалось доставить событие")
	}
}

// BroadcastToParties доставляет событие обеим сторонам сделки или спора.
func (s *NotificationService) BroadcastToParties(parties []uuid.UUID, event string, data any) {
	for _, userID := range parties {
		s.Broadcast(userID, event, data)
	}
}

// ListNotifications возвращает список уведомлений пользователя.
func (s *NotificationService) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	limit, offset = clampPagination(limit, offset)
	return s.repo.List(ctx, userID, limit, offset, unreadOnly)
}

// ListActivity возвращает ленту активности пользователя — производное
// read-only представление поверх сохранённых уведомлений.
func (s *NotificationService) ListActivity(ctx context.Context, userID uuid.UUID, transactionID *uuid.UUID, limit, offset int) ([]models.Notification, error) {
	limit, offset = clampPagination(limit, offset)
	return s.repo.ListActivity(ctx, userID, transactionID, limit, offset)
}

// MarkAsRead отмечает уведомление как прочитанное.
func (s *NotificationService) MarkAsRead(ctx context.Context, id, userID uuid.UUID) error {
	notification, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return apperror.ErrNotificationNotFound
	}

	if notification.UserID != userID {
		return apperror.New(apperror.ErrCodeForbidden, "у вас нет прав на это уведомление")
	}

	return s.repo.MarkAsRead(ctx, id)
}

// MarkAllAsRead отмечает все уведомления пользователя как прочитанные.
func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	return s.repo.MarkAllAsRead(ctx, userID)
}

// CountUnread возвращает количество непрочитанных уведомлений.
func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

func clampPagination(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
