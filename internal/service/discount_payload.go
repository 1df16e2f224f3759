package service

import (
	"github.com/pickupdrop/checkout/internal/constants"
	"github.com/pickupdrop/checkout/internal/models"
)

// DiscountEligibility 折扣类型到是否可用的映射
type DiscountEligibility map[string]bool

// EligibilityFromRecords 从折扣记录推导可用性，活动促销存在即视为可用
func EligibilityFromRecords(records []models.DiscountRecord, promotion *models.DiscountRecord) DiscountEligibility {
	eligibility := DiscountEligibility{}
	for _, record := range records {
		if record.Eligible {
			eligibility[record.Kind] = true
		}
	}
	if promotion != nil {
		eligibility[constants.DiscountKindPromotion] = true
	}
	return eligibility
}

// BuildDiscountPayload 构造下单请求的折扣数组。
// 金额为零或不可用的折扣被跳过；没有任何折扣时返回 nil，序列化为 null。
func BuildDiscountPayload(summary *models.OrderSummary, eligibility DiscountEligibility) []models.DiscountPayload {
	if summary == nil {
		return nil
	}
	var payload []models.DiscountPayload
	for _, kind := range constants.DiscountKindOrder {
		if !eligibility[kind] {
			continue
		}
		applied, ok := summary.DiscountByKind(kind)
		if !ok || !applied.Amount.IsPositive() {
			continue
		}
		entry := models.DiscountPayload{
			Type:       kind,
			Percentage: applied.Percentage,
			Amount:     applied.Amount,
		}
		switch kind {
		case constants.DiscountKindRedeemedPoints:
			entry.DiscountID = applied.Record.ID
			entry.PointsRedeemed = applied.Record.PointsRedeemed
		case constants.DiscountKindPromotion:
			entry.PromotionID = applied.Record.PromotionID
			entry.PromotionCode = applied.Record.PromotionCode
		default:
			entry.DiscountID = applied.Record.ID
		}
		payload = append(payload, entry)
	}
	return payload
}
