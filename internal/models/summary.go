package models

import "github.com/shopspring/decimal"

// OrderSummary 结算金额摘要（派生视图，不单独持久化）
type OrderSummary struct {
	Subtotal             Money             `json:"subtotal"`
	DeliveryFee          Money             `json:"delivery_fee"`
	PickupFee            Money             `json:"pickup_fee"`
	Discounts            []AppliedDiscount `json:"discounts"`
	TotalBeforeDiscounts Money             `json:"total_before_discounts"`
	Total                Money             `json:"total"`
}

// DiscountTotal 所有折扣金额之和
func (s *OrderSummary) DiscountTotal() decimal.Decimal {
	if s == nil {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, item := range s.Discounts {
		sum = sum.Add(item.Amount.Decimal)
	}
	return sum
}

// DiscountByKind 按类型查找已计算的折扣
func (s *OrderSummary) DiscountByKind(kind string) (AppliedDiscount, bool) {
	if s == nil {
		return AppliedDiscount{}, false
	}
	for _, item := range s.Discounts {
		if item.Kind == kind {
			return item, true
		}
	}
	return AppliedDiscount{}, false
}
