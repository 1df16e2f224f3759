package response

import "fmt"

// messages 错误消息表，key 与前端文案保持一致
var messages = map[string]string{
	"error.bad_request":                "invalid request",
	"error.session_required":           "checkout session is required",
	"error.session_tokens_invalid":     "access and refresh tokens are required",
	"error.auth_expired":               "your session has expired, please sign in again",
	"error.cart_empty":                 "your cart is empty",
	"error.delivery_location_required": "please choose a delivery location",
	"error.pickup_location_required":   "please choose a pickup location",
	"error.phone_invalid":              "please enter a valid phone number",
	"error.validation_failed":          "please check the checkout form",
	"error.order_rejected":             "the order was rejected",
	"error.order_creation_ambiguous":   "we could not confirm your order, please check your orders",
	"error.order_reference_required":   "order reference is required",
	"error.order_not_found":            "order not found",
	"error.gateway_unavailable":        "payment is temporarily unavailable",
	"error.session_persist_failed":     "could not save your session, please try again",
	"error.pending_persist_failed":     "could not start payment, please check your orders",
	"error.network_failure":            "network error, please try again",
	"error.reconciliation_ambiguous":   "we could not confirm your payment yet",
	"error.checkout_state_failed":      "could not load checkout state",
	"error.checkout_submit_failed":     "could not place the order",
	"error.order_fetch_failed":         "could not fetch the order",
	"error.rate_limited":               "too many requests, please retry in %d seconds",
}

// Message 按 key 获取错误消息，未登记时返回 key 本身
func Message(key string) string {
	if msg, ok := messages[key]; ok {
		return msg
	}
	return key
}

// Messagef 按 key 获取并格式化错误消息
func Messagef(key string, args ...interface{}) string {
	return fmt.Sprintf(Message(key), args...)
}
