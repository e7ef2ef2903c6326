package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EscrowMetrics содержит все метрики сделок и споров
type EscrowMetrics struct {
	// Сделки по стадиям жизненного цикла
	TransactionsCreatedTotal   *prometheus.CounterVec
	TransactionsJoinedTotal    *prometheus.CounterVec
	TransactionsCompletedTotal *prometheus.CounterVec
	TransactionsCancelledTotal *prometheus.CounterVec
	TransactionsFailedTotal    *prometheus.CounterVec

	// Приглашения
	InvitationRedeemTotal *prometheus.CounterVec

	// Споры
	DisputesOpenedTotal   *prometheus.CounterVec
	DisputesResolvedTotal *prometheus.CounterVec

	// Доставка событий
	FanoutDeliveryFailures prometheus.Counter
}

// NewEscrowMetrics создает новый экземпляр метрик
func NewEscrowMetrics() *EscrowMetrics {
	return &EscrowMetrics{
		TransactionsCreatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_transactions_created_total",
				Help: "Общее количество созданных сделок",
			},
			[]string{"currency", "creator_role"},
		),
		TransactionsJoinedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_transactions_joined_total",
				Help: "Общее количество сделок с присоединившейся второй стороной",
			},
			[]string{"currency"},
		),
		TransactionsCompletedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_transactions_completed_total",
				Help: "Общее количество завершённых сделок",
			},
			[]string{"currency"},
		),
		TransactionsCancelledTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_transactions_cancelled_total",
				Help: "Общее количество отменённых сделок",
			},
			[]string{"currency"},
		),
		TransactionsFailedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_transactions_failed_total",
				Help: "Общее количество сделок, завершившихся возвратом",
			},
			[]string{"currency"},
		),
		InvitationRedeemTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_invitation_redeem_total",
				Help: "Попытки погашения кодов приглашений по исходам",
			},
			[]string{"outcome"},
		),
		DisputesOpenedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_disputes_opened_total",
				Help: "Общее количество открытых споров",
			},
			[]string{"dispute_type", "priority"},
		),
		DisputesResolvedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_disputes_resolved_total",
				Help: "Разрешённые споры по вариантам решения",
			},
			[]string{"resolution", "resolution_type"},
		),
		FanoutDeliveryFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "escrow_fanout_delivery_failures_total",
				Help: "Сбои доставки событий клиентам (не влияют на мутации)",
			},
		),
	}
}
