package public

import (
	"errors"

	"github.com/pickupdrop/checkout/internal/backend"
	handlershared "github.com/pickupdrop/checkout/internal/http/handlers/shared"
	"github.com/pickupdrop/checkout/internal/http/response"
	"github.com/pickupdrop/checkout/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	key    string
}

func matchMappedError(err error, rules []mappedHandlerError, fallbackCode int, fallbackKey string) (int, string, bool) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			return rule.code, rule.key, true
		}
	}
	return fallbackCode, fallbackKey, false
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackKey string) {
	respondWithMappedErrorData(c, err, rules, fallbackCode, fallbackKey, nil)
}

// respondWithMappedErrorData 已知错误不记录原始错误，未知错误按兜底码返回并记录日志
func respondWithMappedErrorData(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackKey string, data interface{}) {
	code, key, matched := matchMappedError(err, rules, fallbackCode, fallbackKey)
	if matched {
		handlershared.RequestLog(c).Warnw("handler_checkout_error", "key", key, "error", err)
		err = nil
	}
	handlershared.RespondErrorWithData(c, code, key, err, data)
}

func concatMappedHandlerErrors(groups ...[]mappedHandlerError) []mappedHandlerError {
	total := 0
	for _, group := range groups {
		total += len(group)
	}
	result := make([]mappedHandlerError, 0, total)
	for _, group := range groups {
		result = append(result, group...)
	}
	return result
}

var checkoutCommonErrorRules = []mappedHandlerError{
	{target: service.ErrSessionRequired, code: response.CodeBadRequest, key: "error.session_required"},
	{target: service.ErrAuthExpired, code: response.CodeUnauthorized, key: "error.auth_expired"},
	{target: service.ErrSessionPersistFailed, code: response.CodeInternal, key: "error.session_persist_failed"},
	{target: service.ErrNetworkFailure, code: response.CodeBadGateway, key: "error.network_failure"},
}

var checkoutValidationErrorRules = []mappedHandlerError{
	{target: service.ErrCartEmpty, code: response.CodeBadRequest, key: "error.cart_empty"},
	{target: service.ErrDeliveryLocationRequired, code: response.CodeBadRequest, key: "error.delivery_location_required"},
	{target: service.ErrPickupLocationRequired, code: response.CodeBadRequest, key: "error.pickup_location_required"},
	{target: service.ErrPhoneInvalid, code: response.CodeBadRequest, key: "error.phone_invalid"},
	{target: service.ErrValidationFailure, code: response.CodeBadRequest, key: "error.validation_failed"},
}

var checkoutSubmitErrorRules = []mappedHandlerError{
	{target: service.ErrOrderRejected, code: response.CodeBadRequest, key: "error.order_rejected"},
	{target: service.ErrOrderCreationAmbiguous, code: response.CodeConflict, key: "error.order_creation_ambiguous"},
	{target: service.ErrGatewayUnavailable, code: response.CodeServiceUnavailable, key: "error.gateway_unavailable"},
	{target: service.ErrPendingPersistFailed, code: response.CodeInternal, key: "error.pending_persist_failed"},
}

var orderStatusErrorRules = []mappedHandlerError{
	{target: service.ErrOrderReferenceRequired, code: response.CodeBadRequest, key: "error.order_reference_required"},
	{target: backend.ErrNotFound, code: response.CodeNotFound, key: "error.order_not_found"},
}

var sessionErrorRules = []mappedHandlerError{
	{target: service.ErrValidationFailure, code: response.CodeBadRequest, key: "error.session_tokens_invalid"},
}

func respondCheckoutError(c *gin.Context, err error) {
	respondWithMappedError(c, err, concatMappedHandlerErrors(checkoutCommonErrorRules, checkoutValidationErrorRules), response.CodeInternal, "error.checkout_state_failed")
}

func respondSubmitError(c *gin.Context, err error, data interface{}) {
	rules := concatMappedHandlerErrors(checkoutCommonErrorRules, checkoutValidationErrorRules, checkoutSubmitErrorRules)
	respondWithMappedErrorData(c, err, rules, response.CodeInternal, "error.checkout_submit_failed", data)
}

func respondSessionError(c *gin.Context, err error) {
	respondWithMappedError(c, err, sessionErrorRules, response.CodeInternal, "error.checkout_state_failed")
}

func respondOrderStatusError(c *gin.Context, err error) {
	respondWithMappedError(c, err, concatMappedHandlerErrors(checkoutCommonErrorRules, orderStatusErrorRules), response.CodeInternal, "error.order_fetch_failed")
}
