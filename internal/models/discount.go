package models

import "github.com/shopspring/decimal"

// DiscountRecord 可用折扣记录
type DiscountRecord struct {
	ID             string          `json:"id,omitempty"`
	Kind           string          `json:"kind"`
	Percentage     decimal.Decimal `json:"percentage"`
	Eligible       bool            `json:"eligible"`
	PointsRedeemed *int            `json:"points_redeemed,omitempty"`
	PromotionID    string          `json:"promotion_id,omitempty"`
	PromotionCode  string          `json:"promotion_code,omitempty"`
}

// AppliedDiscount 摘要中已计算的单项折扣
type AppliedDiscount struct {
	Kind       string          `json:"kind"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     Money           `json:"amount"`
	Record     DiscountRecord  `json:"-"`
}

// DiscountPayload 下单请求中的折扣条目
type DiscountPayload struct {
	Type           string          `json:"type"`
	Percentage     decimal.Decimal `json:"percentage"`
	Amount         Money           `json:"amount"`
	DiscountID     string          `json:"discount_id,omitempty"`
	PointsRedeemed *int            `json:"points_redeemed,omitempty"`
	PromotionID    string          `json:"promotion_id,omitempty"`
	PromotionCode  string          `json:"promotion_code,omitempty"`
}
