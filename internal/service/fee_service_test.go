package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFeeService_CalculateFee_HighRiskProfile(t *testing.T) {
	svc := NewFeeService()

	result := svc.CalculateFee(FeeFactors{
		Amount:                        decimal.NewFromInt(20000),
		VerificationLevel:             VerificationBasic,
		CounterpartyVerificationLevel: VerificationBasic,
		TrustScore:                    20,
		CounterpartyTrustScore:        20,
		History:                       nil,
		CategoryRisk:                  CategoryRiskHigh,
		DeliveryMethod:                DeliveryShipping,
		PaymentMethod:                 PaymentCrypto,
	})

	// 0.8 + 0.25 + 0.15 + 0.12 + 0.08 + 0.2 + 0.3 + 0.2 + 0.1 = 2.2
	assert.InDelta(t, 2.2, result.RiskAdjustment, 0.0001)
	assert.InDelta(t, 3.7, result.TotalFee, 0.0001)
	assert.Equal(t, RiskLevelVeryHigh, result.RiskLevel)
	assert.NotEmpty(t, result.Recommendations)
	assert.Len(t, result.Breakdown, 9)
}

func TestFeeService_CalculateFee_LowRiskProfile(t *testing.T) {
	svc := NewFeeService()

	result := svc.CalculateFee(FeeFactors{
		Amount:                        decimal.NewFromInt(500),
		VerificationLevel:             VerificationPremium,
		CounterpartyVerificationLevel: VerificationPremium,
		TrustScore:                    80,
		CounterpartyTrustScore:        80,
		History:                       &TransactionHistory{TotalTransactions: 20, SuccessRate: 98, DisputeRate: 1},
		CategoryRisk:                  CategoryRiskLow,
		DeliveryMethod:                DeliveryDigital,
		PaymentMethod:                 PaymentBankTransfer,
	})

	assert.InDelta(t, -0.94, result.RiskAdjustment, 0.0001)
	assert.InDelta(t, 0.56, result.TotalFee, 0.0001)
	assert.Equal(t, RiskLevelLow, result.RiskLevel)
}

func TestFeeService_CalculateFee_ClampedToMinimum(t *testing.T) {
	svc := NewFeeService()

	result := svc.CalculateFee(FeeFactors{
		Amount:                        decimal.NewFromInt(50),
		VerificationLevel:             VerificationPremium,
		CounterpartyVerificationLevel: VerificationPremium,
		TrustScore:                    90,
		CounterpartyTrustScore:        90,
		History:                       &TransactionHistory{TotalTransactions: 50, SuccessRate: 100, DisputeRate: 0},
		CategoryRisk:                  CategoryRiskLow,
		DeliveryMethod:                DeliveryDigital,
		PaymentMethod:                 PaymentBankTransfer,
	})

	// Сырая сумма уводит комиссию ниже пола, итог зажимается на 0.5%
	assert.InDelta(t, -1.14, result.RiskAdjustment, 0.0001)
	assert.InDelta(t, 0.5, result.TotalFee, 0.0001)
	// Уровень риска считается по сырой сумме дельт, не по зажатой комиссии
	assert.Equal(t, RiskLevelLow, result.RiskLevel)
}

func TestFeeService_CalculateFee_TotalAlwaysWithinBounds(t *testing.T) {
	svc := NewFeeService()

	amounts := []int64{10, 100, 1000, 10000, 100000}
	verifications := []string{VerificationBasic, VerificationEnhanced, VerificationPremium, ""}
	trustScores := []float64{0, 29, 30, 70, 71, 100}
	categories := []string{CategoryRiskLow, CategoryRiskMedium, CategoryRiskHigh, ""}
	histories := []*TransactionHistory{
		nil,
		{TotalTransactions: 1, SuccessRate: 50, DisputeRate: 20},
		{TotalTransactions: 100, SuccessRate: 100, DisputeRate: 0},
	}

	for _, amount := range amounts {
		for _, verification := range verifications {
			for _, trust := range trustScores {
				for _, category := range categories {
					for _, history := range histories {
						result := svc.CalculateFee(FeeFactors{
							Amount:                        decimal.NewFromInt(amount),
							VerificationLevel:             verification,
							CounterpartyVerificationLevel: verification,
							TrustScore:                    trust,
							CounterpartyTrustScore:        trust,
							History:                       history,
							CategoryRisk:                  category,
							DeliveryMethod:                DeliveryShipping,
							PaymentMethod:                 PaymentCrypto,
						})
						assert.GreaterOrEqual(t, result.TotalFee, 0.5)
						assert.LessOrEqual(t, result.TotalFee, 5.0)
					}
				}
			}
		}
	}
}

func TestFeeService_CalculateFee_AmountBrackets(t *testing.T) {
	tests := []struct {
		amount     int64
		multiplier float64
	}{
		{50, 0.8},
		{100, 1.0},
		{1000, 1.0},
		{1001, 1.3},
		{10000, 1.3},
		{10001, 1.8},
	}

	for _, tt := range tests {
		multiplier, _ := amountRisk(decimal.NewFromInt(tt.amount))
		assert.Equal(t, tt.multiplier, multiplier, "сумма %d", tt.amount)
	}
}

func TestFeeService_CalculateFee_HistoryPenalties(t *testing.T) {
	// Отсутствие истории — фиксированная надбавка
	delta, _ := historyRisk(nil)
	assert.InDelta(t, 0.2, delta, 0.0001)

	// Плохая история складывается из независимых штрафов
	delta, _ = historyRisk(&TransactionHistory{TotalTransactions: 2, SuccessRate: 60, DisputeRate: 15})
	assert.InDelta(t, 0.3+0.4+0.2, delta, 0.0001)

	// Средняя история
	delta, _ = historyRisk(&TransactionHistory{TotalTransactions: 10, SuccessRate: 85, DisputeRate: 7})
	assert.InDelta(t, 0.1+0.2, delta, 0.0001)
}

func TestFeeService_CalculateFee_Deterministic(t *testing.T) {
	svc := NewFeeService()
	factors := FeeFactors{
		Amount:            decimal.NewFromInt(2500),
		VerificationLevel: VerificationEnhanced,
		TrustScore:        55,
		CategoryRisk:      CategoryRiskMedium,
		DeliveryMethod:    DeliveryPickup,
		PaymentMethod:     PaymentCard,
	}

	first := svc.CalculateFee(factors)
	second := svc.CalculateFee(factors)
	assert.Equal(t, first, second)
}
