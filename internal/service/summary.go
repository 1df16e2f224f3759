package service

import (
	"github.com/pickupdrop/checkout/internal/constants"
	"github.com/pickupdrop/checkout/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SummaryInput 金额摘要计算输入，缺省字段按零值处理
type SummaryInput struct {
	Cart      []models.CartItem
	Delivery  *models.LocationFee
	Pickup    *models.LocationFee
	UseSame   bool
	Discounts []models.DiscountRecord
	Promotion *models.DiscountRecord
}

// CalculateSummary 计算结算金额摘要。
// 每种折扣都按商品小计独立计算后求和，不在折后余额上叠乘；总额不小于 0。
func CalculateSummary(input SummaryInput) *models.OrderSummary {
	subtotal := decimal.Zero
	for _, item := range input.Cart {
		if item.Quantity <= 0 {
			continue
		}
		subtotal = subtotal.Add(item.UnitPrice.Decimal.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	deliveryFee := locationFee(input.Delivery)
	pickupFee := locationFee(input.Pickup)
	if input.UseSame {
		pickupFee = deliveryFee
	}

	applied := make([]models.AppliedDiscount, 0, len(constants.DiscountKindOrder))
	discountSum := decimal.Zero
	for _, kind := range constants.DiscountKindOrder {
		record, ok := pickDiscount(kind, input.Discounts, input.Promotion)
		if !ok {
			continue
		}
		percentage := clampPercentage(record.Percentage)
		amount := subtotal.Mul(percentage).Div(hundred)
		discountSum = discountSum.Add(amount)
		applied = append(applied, models.AppliedDiscount{
			Kind:       kind,
			Percentage: percentage,
			Amount:     models.NewMoneyFromDecimal(amount),
			Record:     record,
		})
	}

	totalBefore := subtotal.Add(deliveryFee).Add(pickupFee)
	total := totalBefore.Sub(discountSum)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return &models.OrderSummary{
		Subtotal:             models.NewMoneyFromDecimal(subtotal),
		DeliveryFee:          models.NewMoneyFromDecimal(deliveryFee),
		PickupFee:            models.NewMoneyFromDecimal(pickupFee),
		Discounts:            applied,
		TotalBeforeDiscounts: models.NewMoneyFromDecimal(totalBefore),
		Total:                models.NewMoneyFromDecimal(total),
	}
}

func locationFee(location *models.LocationFee) decimal.Decimal {
	if location == nil || location.Fee.IsNegative() {
		return decimal.Zero
	}
	return location.Fee.Decimal
}

// pickDiscount 每种类型取第一条可用记录，活动促销单独传入时优先
func pickDiscount(kind string, records []models.DiscountRecord, promotion *models.DiscountRecord) (models.DiscountRecord, bool) {
	if kind == constants.DiscountKindPromotion && promotion != nil {
		record := *promotion
		record.Kind = constants.DiscountKindPromotion
		record.Eligible = true
		return record, true
	}
	for _, record := range records {
		if record.Kind == kind && record.Eligible {
			return record, true
		}
	}
	return models.DiscountRecord{}, false
}

func clampPercentage(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}
