package service

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Уровни верификации личности
const (
	VerificationBasic    = "basic"
	VerificationEnhanced = "enhanced"
	VerificationPremium  = "premium"
)

// Категории риска товара
const (
	CategoryRiskLow    = "low"
	CategoryRiskMedium = "medium"
	CategoryRiskHigh   = "high"
)

// Способы доставки
const (
	DeliveryDigital  = "digital_delivery"
	DeliveryPickup   = "pickup"
	DeliveryShipping = "shipping"
)

// Способы оплаты
const (
	PaymentBankTransfer = "bank_transfer"
	PaymentCard         = "card"
	PaymentCrypto       = "crypto"
)

// Уровни риска
const (
	RiskLevelLow      = "low"
	RiskLevelMedium   = "medium"
	RiskLevelHigh     = "high"
	RiskLevelVeryHigh = "very_high"
)

// Базовая комиссия и границы итоговой комиссии, в процентах.
const (
	baseFeePercent = 1.5
	minFeePercent  = 0.5
	maxFeePercent  = 5.0
)

// TransactionHistory — агрегаты прошлых сделок пользователя.
type TransactionHistory struct {
	TotalTransactions int     `json:"total_transactions"`
	SuccessRate       float64 `json:"success_rate"`
	DisputeRate       float64 `json:"dispute_rate"`
}

// FeeFactors — входные факторы риска для расчёта комиссии.
type FeeFactors struct {
	Amount                        decimal.Decimal     `json:"amount"`
	VerificationLevel             string              `json:"verification_level"`
	CounterpartyVerificationLevel string              `json:"counterparty_verification_level"`
	TrustScore                    float64             `json:"trust_score"`
	CounterpartyTrustScore        float64             `json:"counterparty_trust_score"`
	History                       *TransactionHistory `json:"history,omitempty"`
	CategoryRisk                  string              `json:"category_risk"`
	DeliveryMethod                string              `json:"delivery_method"`
	PaymentMethod                 string              `json:"payment_method"`
}

// FeeComponent — один вклад в корректировку риска.
type FeeComponent struct {
	Factor string  `json:"factor"`
	Delta  float64 `json:"delta"`
	Detail string  `json:"detail"`
}

// FeeResult — результат расчёта: комиссия в процентах и разбор по факторам.
type FeeResult struct {
	BaseFee         float64        `json:"base_fee"`
	RiskAdjustment  float64        `json:"risk_adjustment"`
	TotalFee        float64        `json:"total_fee"`
	Breakdown       []FeeComponent `json:"breakdown"`
	RiskLevel       string         `json:"risk_level"`
	Recommendations []string       `json:"recommendations"`
}

// FeeService — чистый калькулятор комиссии по факторам риска.
// Никакого состояния не несёт.
type FeeService struct{}

func NewFeeService() *FeeService {
	return &FeeService{}
}

// CalculateFee считает комиссию: базовые 1.5% плюс сумма взвешенных дельт
// (multiplier - 1) по каждому измерению риска. Итог зажимается в
// [0.5%, 5.0%]; уровень риска определяется по сырой сумме дельт до зажима.
func (s *FeeService) CalculateFee(factors FeeFactors) *FeeResult {
	var breakdown []FeeComponent

	addComponent := func(factor string, multiplier, weight float64, detail string) float64 {
		delta := (multiplier - 1) * weight
		breakdown = append(breakdown, FeeComponent{Factor: factor, Delta: delta, Detail: detail})
		return delta
	}

	adjustment := 0.0

	amountMultiplier, amountBracket := amountRisk(factors.Amount)
	adjustment += addComponent("amount", amountMultiplier, 1.0, amountBracket)

	adjustment += addComponent("verification", verificationRisk(factors.VerificationLevel), 0.5,
		"уровень верификации "+orUnknown(factors.VerificationLevel))
	adjustment += addComponent("counterparty_verification", verificationRisk(factors.CounterpartyVerificationLevel), 0.3,
		"уровень верификации второй стороны "+orUnknown(factors.CounterpartyVerificationLevel))

	adjustment += addComponent("trust_score", trustRisk(factors.TrustScore), 0.3,
		fmt.Sprintf("рейтинг доверия %.0f", factors.TrustScore))
	adjustment += addComponent("counterparty_trust_score", trustRisk(factors.CounterpartyTrustScore), 0.2,
		fmt.Sprintf("рейтинг доверия второй стороны %.0f", factors.CounterpartyTrustScore))

	historyDelta, historyDetail := historyRisk(factors.History)
	breakdown = append(breakdown, FeeComponent{Factor: "history", Delta: historyDelta, Detail: historyDetail})
	adjustment += historyDelta

	adjustment += addComponent("category", categoryRisk(factors.CategoryRisk), 1.0,
		"категория риска "+orUnknown(factors.CategoryRisk))
	adjustment += addComponent("delivery", deliveryRisk(factors.DeliveryMethod), 1.0,
		"способ доставки "+orUnknown(factors.DeliveryMethod))
	adjustment += addComponent("payment", paymentRisk(factors.PaymentMethod), 1.0,
		"способ оплаты "+orUnknown(factors.PaymentMethod))

	total := clamp(baseFeePercent+adjustment, minFeePercent, maxFeePercent)
	riskLevel := riskLevelFor(adjustment)

	return &FeeResult{
		BaseFee:         baseFeePercent,
		RiskAdjustment:  adjustment,
		TotalFee:        total,
		Breakdown:       breakdown,
		RiskLevel:       riskLevel,
		Recommendations: recommendations(factors, riskLevel),
	}
}

func amountRisk(amount decimal.Decimal) (float64, string) {
	switch {
	case amount.LessThan(decimal.NewFromInt(100)):
		return 0.8, "сумма до 100"
	case amount.LessThanOrEqual(decimal.NewFromInt(1000)):
		return 1.0, "сумма 100–1000"
	case amount.LessThanOrEqual(decimal.NewFromInt(10000)):
		return 1.3, "сумма 1000–10000"
	default:
		return 1.8, "сумма свыше 10000"
	}
}

func verificationRisk(level string) float64 {
	switch level {
	case VerificationBasic:
		return 1.5
	case VerificationPremium:
		return 0.7
	default:
		return 1.0
	}
}

func trustRisk(score float64) float64 {
	switch {
	case score < 30:
		return 1.4
	case score > 70:
		return 0.8
	default:
		return 1.0
	}
}

// historyRisk — аддитивные надбавки: история не мультипликатор,
// а набор независимых штрафов.
func historyRisk(h *TransactionHistory) (float64, string) {
	if h == nil {
		return 0.2, "история сделок отсутствует"
	}

	delta := 0.0
	if h.SuccessRate < 70 {
		delta += 0.3
	} else if h.SuccessRate < 90 {
		delta += 0.1
	}
	if h.DisputeRate > 10 {
		delta += 0.4
	} else if h.DisputeRate > 5 {
		delta += 0.2
	}
	if h.TotalTransactions < 5 {
		delta += 0.2
	}
	return delta, fmt.Sprintf("сделок %d, успешных %.0f%%, споров %.0f%%",
		h.TotalTransactions, h.SuccessRate, h.DisputeRate)
}

func categoryRisk(category string) float64 {
	switch category {
	case CategoryRiskLow:
		return 0.8
	case CategoryRiskHigh:
		return 1.3
	default:
		return 1.0
	}
}

func deliveryRisk(method string) float64 {
	switch method {
	case DeliveryDigital:
		return 0.7
	case DeliveryShipping:
		return 1.2
	default:
		return 1.0
	}
}

func paymentRisk(method string) float64 {
	switch method {
	case PaymentBankTransfer:
		return 0.9
	case PaymentCrypto:
		return 1.1
	default:
		return 1.0
	}
}

func riskLevelFor(adjustment float64) string {
	switch {
	case adjustment < 0.2:
		return RiskLevelLow
	case adjustment < 0.5:
		return RiskLevelMedium
	case adjustment < 1.0:
		return RiskLevelHigh
	default:
		return RiskLevelVeryHigh
	}
}

func recommendations(factors FeeFactors, riskLevel string) []string {
	var recs []string
	if factors.VerificationLevel == VerificationBasic {
		recs = append(recs, "Пройдите расширенную верификацию, чтобы снизить комиссию")
	}
	if factors.TrustScore < 50 {
		recs = append(recs, "Низкий рейтинг доверия: завершайте сделки без споров, чтобы его поднять")
	}
	if factors.Amount.GreaterThan(decimal.NewFromInt(10000)) {
		recs = append(recs, "Крупная сумма: рассмотрите разбиение на несколько сделок")
	}
	if factors.CategoryRisk == CategoryRiskHigh {
		recs = append(recs, "Категория повышенного риска: приложите подробное описание и фотографии")
	}
	if factors.DeliveryMethod == DeliveryShipping {
		recs = append(recs, "Отправка почтой: используйте трек-номер и страхование")
	}
	if riskLevel == RiskLevelHigh || riskLevel == RiskLevelVeryHigh {
		recs = append(recs, "Высокий уровень риска: внимательно проверьте вторую сторону перед оплатой")
	}
	return recs
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func orUnknown(s string) string {
	if s == "" {
		return "не указан"
	}
	return s
}
